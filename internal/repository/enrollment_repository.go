package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/mentorium-app/mentorium-api/internal/models"
)

// Sentinel errors surfaced by the enrollment write path. The service layer
// maps these onto the distinct checkout outcomes.
var (
	// ErrDuplicateEnrollment indicates a row already exists for the
	// (class, student) pair.
	ErrDuplicateEnrollment = errors.New("enrollment already exists for class and student")
	// ErrNoSeats indicates the seat pool was exhausted before the write.
	ErrNoSeats = errors.New("class has no available seats")
)

// EnrollmentRepository handles persistence of enrollments and payment orphans.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

const enrollmentColumns = `id, class_id, student_email, payment_ref, amount_cents, status, enrolled_at, receipt_path`

// CreateCompleted writes the enrollment record and consumes a seat from the
// class pool in a single transaction, so the caller observes one verdict.
// A unique violation on (class_id, student_email) or on payment_ref maps to
// ErrDuplicateEnrollment; an exhausted seat pool maps to ErrNoSeats.
func (r *EnrollmentRepository) CreateCompleted(ctx context.Context, enrollment *models.Enrollment) error {
	if enrollment.ID == "" {
		enrollment.ID = uuid.NewString()
	}
	if enrollment.EnrolledAt.IsZero() {
		enrollment.EnrolledAt = time.Now().UTC()
	}
	enrollment.Status = models.EnrollmentStatusCompleted

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin enrollment tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	const seatQuery = `UPDATE classes SET available_seats = available_seats - 1, total_enrolled = total_enrolled + 1, updated_at = $2
        WHERE id = $1 AND available_seats > 0`
	res, err := tx.ExecContext(ctx, seatQuery, enrollment.ClassID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("reserve seat: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reserve seat result: %w", err)
	}
	if affected == 0 {
		return ErrNoSeats
	}

	const insertQuery = `INSERT INTO enrollments (id, class_id, student_email, payment_ref, amount_cents, status, enrolled_at)
        VALUES (:id, :class_id, :student_email, :payment_ref, :amount_cents, :status, :enrolled_at)`
	if _, err := tx.NamedExecContext(ctx, insertQuery, enrollment); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateEnrollment
		}
		return fmt.Errorf("create enrollment: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit enrollment tx: %w", err)
	}
	return nil
}

// Exists checks whether an enrollment exists for the (class, student) pair.
func (r *EnrollmentRepository) Exists(ctx context.Context, classID, studentEmail string) (bool, error) {
	const query = `SELECT 1 FROM enrollments WHERE class_id = $1 AND student_email = $2 LIMIT 1`
	var exists int
	if err := r.db.GetContext(ctx, &exists, query, classID, studentEmail); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check enrollment: %w", err)
	}
	return true, nil
}

// FindByID returns an enrollment by its ID.
func (r *EnrollmentRepository) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	query := fmt.Sprintf(`SELECT %s FROM enrollments WHERE id = $1 LIMIT 1`, enrollmentColumns)
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find enrollment by id: %w", err)
	}
	return &enrollment, nil
}

// FindByClassAndStudent returns the enrollment held by a student for a class.
func (r *EnrollmentRepository) FindByClassAndStudent(ctx context.Context, classID, studentEmail string) (*models.Enrollment, error) {
	query := fmt.Sprintf(`SELECT %s FROM enrollments WHERE class_id = $1 AND student_email = $2 LIMIT 1`, enrollmentColumns)
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, classID, studentEmail); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find enrollment by class and student: %w", err)
	}
	return &enrollment, nil
}

// FindByPaymentRef returns the enrollment recorded for a gateway charge.
func (r *EnrollmentRepository) FindByPaymentRef(ctx context.Context, paymentRef string) (*models.Enrollment, error) {
	query := fmt.Sprintf(`SELECT %s FROM enrollments WHERE payment_ref = $1 LIMIT 1`, enrollmentColumns)
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, paymentRef); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find enrollment by payment ref: %w", err)
	}
	return &enrollment, nil
}

// ListByStudent returns the classes a student already holds, with class info.
func (r *EnrollmentRepository) ListByStudent(ctx context.Context, studentEmail string) ([]models.EnrollmentDetail, error) {
	const query = `SELECT e.id, e.class_id, e.student_email, e.payment_ref, e.amount_cents, e.status, e.enrolled_at, e.receipt_path,
        c.title AS class_title, c.image_url AS class_image, c.teacher_name, c.price
        FROM enrollments e
        JOIN classes c ON c.id = e.class_id
        WHERE e.student_email = $1
        ORDER BY e.enrolled_at DESC`
	var enrollments []models.EnrollmentDetail
	if err := r.db.SelectContext(ctx, &enrollments, query, studentEmail); err != nil {
		return nil, fmt.Errorf("list student enrollments: %w", err)
	}
	return enrollments, nil
}

// List returns enrollments filtered by the provided criteria.
func (r *EnrollmentRepository) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	base := `FROM enrollments e JOIN classes c ON c.id = e.class_id`
	var conditions []string
	var args []interface{}

	if filter.ClassID != "" {
		conditions = append(conditions, fmt.Sprintf("e.class_id = $%d", len(args)+1))
		args = append(args, filter.ClassID)
	}
	if filter.StudentEmail != "" {
		conditions = append(conditions, fmt.Sprintf("e.student_email = $%d", len(args)+1))
		args = append(args, filter.StudentEmail)
	}
	if filter.TeacherEmail != "" {
		conditions = append(conditions, fmt.Sprintf("c.teacher_email = $%d", len(args)+1))
		args = append(args, filter.TeacherEmail)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]string{
		"enrolled_at": "e.enrolled_at",
		"amount":      "e.amount_cents",
		"class_title": "c.title",
	}
	orderBy := allowedSorts[filter.SortBy]
	if orderBy == "" {
		orderBy = "e.enrolled_at"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT e.id, e.class_id, e.student_email, e.payment_ref, e.amount_cents, e.status, e.enrolled_at, e.receipt_path,
        c.title AS class_title, c.image_url AS class_image, c.teacher_name, c.price
        %s ORDER BY %s %s LIMIT %d OFFSET %d`, base+clause, orderBy, order, size, offset)

	var enrollments []models.EnrollmentDetail
	if err := r.db.SelectContext(ctx, &enrollments, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list enrollments: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count enrollments: %w", err)
	}
	return enrollments, total, nil
}

// UpdateReceiptPath stores the relative path of the generated receipt.
func (r *EnrollmentRepository) UpdateReceiptPath(ctx context.Context, id, path string) error {
	const query = `UPDATE enrollments SET receipt_path = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, path); err != nil {
		return fmt.Errorf("update receipt path: %w", err)
	}
	return nil
}

// CreateOrphan records a succeeded charge whose enrollment write failed.
func (r *EnrollmentRepository) CreateOrphan(ctx context.Context, orphan *models.PaymentOrphan) error {
	if orphan.ID == "" {
		orphan.ID = uuid.NewString()
	}
	if orphan.CreatedAt.IsZero() {
		orphan.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO payment_orphans (id, class_id, student_email, payment_ref, amount_cents, reason, created_at)
        VALUES (:id, :class_id, :student_email, :payment_ref, :amount_cents, :reason, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, orphan); err != nil {
		if isUniqueViolation(err) {
			// Same charge already flagged; reconciliation needs one row.
			return nil
		}
		return fmt.Errorf("create payment orphan: %w", err)
	}
	return nil
}

// ListOrphans returns orphaned payments for the reconciliation view.
func (r *EnrollmentRepository) ListOrphans(ctx context.Context) ([]models.PaymentOrphan, error) {
	const query = `SELECT id, class_id, student_email, payment_ref, amount_cents, reason, created_at FROM payment_orphans ORDER BY created_at DESC`
	var orphans []models.PaymentOrphan
	if err := r.db.SelectContext(ctx, &orphans, query); err != nil {
		return nil, fmt.Errorf("list payment orphans: %w", err)
	}
	return orphans, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
