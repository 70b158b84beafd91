package models

import "time"

// ClassStatus is the catalog lifecycle of a class offering.
type ClassStatus string

const (
	ClassStatusPending  ClassStatus = "PENDING"
	ClassStatusApproved ClassStatus = "APPROVED"
	ClassStatusRejected ClassStatus = "REJECTED"
)

// Class represents a purchasable course offering with a fixed seat pool.
// AvailableSeats plus TotalEnrolled stays constant for the lifetime of a
// class; enrollment consumes seats and never drives AvailableSeats negative.
type Class struct {
	ID             string      `db:"id" json:"id"`
	Title          string      `db:"title" json:"title"`
	Description    string      `db:"description" json:"description"`
	ImageURL       string      `db:"image_url" json:"image_url"`
	Price          float64     `db:"price" json:"price"`
	TeacherEmail   string      `db:"teacher_email" json:"teacher_email"`
	TeacherName    string      `db:"teacher_name" json:"teacher_name"`
	Status         ClassStatus `db:"status" json:"status"`
	AvailableSeats int         `db:"available_seats" json:"available_seats"`
	TotalEnrolled  int         `db:"total_enrolled" json:"total_enrolled"`
	CreatedAt      time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time   `db:"updated_at" json:"updated_at"`
}

// ClassFilter defines filter criteria for listing classes.
type ClassFilter struct {
	Status       ClassStatus
	TeacherEmail string
	Search       string
	Page         int
	PageSize     int
	SortBy       string
	SortOrder    string
}
