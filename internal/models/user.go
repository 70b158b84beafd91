package models

import "time"

// UserRole represents the available roles for the RBAC system.
type UserRole string

const (
	RoleAdmin   UserRole = "ADMIN"
	RoleTeacher UserRole = "TEACHER"
	RoleStudent UserRole = "STUDENT"
)

// ApplicationStatus tracks the teacher application embedded in a user record.
type ApplicationStatus string

const (
	ApplicationNone     ApplicationStatus = "NONE"
	ApplicationPending  ApplicationStatus = "PENDING"
	ApplicationApproved ApplicationStatus = "APPROVED"
	ApplicationRejected ApplicationStatus = "REJECTED"
)

// User represents an application user stored in the users table.
// The teacher application lives on the user row so that approval can flip
// role and application status in a single update.
type User struct {
	ID           string     `db:"id" json:"id"`
	Email        string     `db:"email" json:"email"`
	PasswordHash string     `db:"password_hash" json:"-"`
	FullName     string     `db:"full_name" json:"full_name"`
	PhotoURL     string     `db:"photo_url" json:"photo_url"`
	Role         UserRole   `db:"role" json:"role"`
	Active       bool       `db:"active" json:"active"`
	LastLogin    *time.Time `db:"last_login" json:"last_login,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`

	ApplicationStatus     ApplicationStatus `db:"application_status" json:"application_status"`
	ApplicationTitle      *string           `db:"application_title" json:"application_title,omitempty"`
	ApplicationCategory   *string           `db:"application_category" json:"application_category,omitempty"`
	ApplicationExperience *string           `db:"application_experience" json:"application_experience,omitempty"`
	AppliedAt             *time.Time        `db:"applied_at" json:"applied_at,omitempty"`
}

// UserFilter captures filtering criteria for listing users.
type UserFilter struct {
	Role              *UserRole
	ApplicationStatus *ApplicationStatus
	Search            string
	Page              int
	PageSize          int
	SortBy            string
	SortOrder         string
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
