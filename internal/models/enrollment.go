package models

import "time"

// EnrollmentStatus is the persisted state of an enrollment. Only completed
// enrollments are ever written; there is no partial or pending record.
type EnrollmentStatus string

const (
	EnrollmentStatusCompleted EnrollmentStatus = "COMPLETED"
)

// Enrollment is the durable record that a student has paid for and joined a
// class. Exactly one row exists per (class, student) pair and every row maps
// to exactly one successful gateway charge.
type Enrollment struct {
	ID           string           `db:"id" json:"id"`
	ClassID      string           `db:"class_id" json:"class_id"`
	StudentEmail string           `db:"student_email" json:"student_email"`
	PaymentRef   string           `db:"payment_ref" json:"payment_ref"`
	AmountCents  int64            `db:"amount_cents" json:"amount_cents"`
	Status       EnrollmentStatus `db:"status" json:"status"`
	EnrolledAt   time.Time        `db:"enrolled_at" json:"enrolled_at"`
	ReceiptPath  *string          `db:"receipt_path" json:"-"`
}

// EnrollmentDetail enriches Enrollment with class info for dashboards.
type EnrollmentDetail struct {
	Enrollment
	ClassTitle  string  `db:"class_title" json:"class_title"`
	ClassImage  string  `db:"class_image" json:"class_image"`
	TeacherName string  `db:"teacher_name" json:"teacher_name"`
	Price       float64 `db:"price" json:"price"`
}

// EnrollmentFilter provides filters for listing enrollments.
type EnrollmentFilter struct {
	ClassID      string
	StudentEmail string
	TeacherEmail string
	Page         int
	PageSize     int
	SortBy       string
	SortOrder    string
}

// PaymentOrphan records a gateway charge that succeeded but whose enrollment
// write failed. Rows exist solely for manual reconciliation and are never
// retried automatically.
type PaymentOrphan struct {
	ID           string    `db:"id" json:"id"`
	ClassID      string    `db:"class_id" json:"class_id"`
	StudentEmail string    `db:"student_email" json:"student_email"`
	PaymentRef   string    `db:"payment_ref" json:"payment_ref"`
	AmountCents  int64     `db:"amount_cents" json:"amount_cents"`
	Reason       string    `db:"reason" json:"reason"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}
