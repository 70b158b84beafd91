package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/mentorium-app/mentorium-api/internal/models"
	"github.com/mentorium-app/mentorium-api/internal/repository"
	"github.com/mentorium-app/mentorium-api/pkg/config"
	appErrors "github.com/mentorium-app/mentorium-api/pkg/errors"
)

type enrollmentRepository interface {
	CreateCompleted(ctx context.Context, enrollment *models.Enrollment) error
	Exists(ctx context.Context, classID, studentEmail string) (bool, error)
	FindByID(ctx context.Context, id string) (*models.Enrollment, error)
	FindByClassAndStudent(ctx context.Context, classID, studentEmail string) (*models.Enrollment, error)
	ListByStudent(ctx context.Context, studentEmail string) ([]models.EnrollmentDetail, error)
	List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error)
	CreateOrphan(ctx context.Context, orphan *models.PaymentOrphan) error
	ListOrphans(ctx context.Context) ([]models.PaymentOrphan, error)
}

type receiptEnqueuer interface {
	EnqueueReceipt(enrollmentID string) error
}

type catalogInvalidator interface {
	InvalidateCatalog(ctx context.Context)
}

// EnrollmentService owns the enrollment ledger: the pre-payment guard, the
// post-payment recorder, and the student's enrolled-classes view.
type EnrollmentService struct {
	repo     enrollmentRepository
	receipts receiptEnqueuer
	catalog  catalogInvalidator
	cfg      config.CheckoutConfig
	logger   *zap.Logger
}

// NewEnrollmentService constructs EnrollmentService. The receipt enqueuer and
// catalog invalidator are optional; without them enrollments simply have no
// receipt and cached catalog pages age out on their TTL.
func NewEnrollmentService(repo enrollmentRepository, receipts receiptEnqueuer, catalog catalogInvalidator, cfg config.CheckoutConfig, logger *zap.Logger) *EnrollmentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EnrollmentService{repo: repo, receipts: receipts, catalog: catalog, cfg: cfg, logger: logger}
}

// AssertNotEnrolled reports ErrAlreadyEnrolled when the student holds the
// class, and fails closed: if the check itself errors, enrollment-dependent
// actions must not proceed, so the error propagates instead of defaulting
// to "not enrolled".
func (s *EnrollmentService) AssertNotEnrolled(ctx context.Context, classID, studentEmail string) error {
	enrolled, err := s.repo.Exists(ctx, classID, studentEmail)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to verify enrollment status")
	}
	if enrolled {
		return appErrors.ErrAlreadyEnrolled
	}
	return nil
}

// RecordPaid writes the enrollment for a charge the gateway has already
// captured. It is idempotent on the (class, student) pair and on the payment
// reference: a duplicate write reports the existing enrollment as success.
// Any other failure files a payment orphan so support can reconcile the
// charge; the money is never touched again from here.
func (s *EnrollmentService) RecordPaid(ctx context.Context, classID, studentEmail, paymentRef string, amountCents int64) (*models.Enrollment, error) {
	recordCtx := ctx
	if s.cfg.RecordTimeout > 0 {
		var cancel context.CancelFunc
		recordCtx, cancel = context.WithTimeout(ctx, s.cfg.RecordTimeout)
		defer cancel()
	}

	enrollment := &models.Enrollment{
		ClassID:      classID,
		StudentEmail: studentEmail,
		PaymentRef:   paymentRef,
		AmountCents:  amountCents,
	}
	err := s.repo.CreateCompleted(recordCtx, enrollment)
	if err == nil {
		s.logger.Info("enrollment recorded",
			zap.String("enrollment_id", enrollment.ID),
			zap.String("class_id", classID),
			zap.String("payment_ref", paymentRef))
		s.enqueueReceipt(enrollment.ID)
		// A seat was consumed; cached catalog pages now overstate it.
		if s.catalog != nil {
			s.catalog.InvalidateCatalog(ctx)
		}
		return enrollment, nil
	}

	if errors.Is(err, repository.ErrDuplicateEnrollment) {
		// The charge landed on an enrollment that already exists. Report
		// the existing row; this outcome is a success for the student.
		existing, findErr := s.repo.FindByClassAndStudent(ctx, classID, studentEmail)
		if findErr != nil {
			existing = enrollment
		}
		s.logger.Info("duplicate enrollment write treated as success",
			zap.String("class_id", classID),
			zap.String("student_email", studentEmail))
		return existing, appErrors.ErrAlreadyEnrolled
	}

	// Seats exhausted after capture, a timeout, or a database fault: the
	// charge exists with no enrollment. File the orphan and surface the
	// terminal outcome. No retry happens here; retrying could double-charge.
	reason := "enrollment write failed"
	if errors.Is(err, repository.ErrNoSeats) {
		reason = "seat pool exhausted after payment capture"
	}
	s.fileOrphan(classID, studentEmail, paymentRef, amountCents, reason, err)
	return nil, appErrors.ErrPaymentOrphaned
}

func (s *EnrollmentService) fileOrphan(classID, studentEmail, paymentRef string, amountCents int64, reason string, cause error) {
	s.logger.Error("payment captured without enrollment",
		zap.String("class_id", classID),
		zap.String("student_email", studentEmail),
		zap.String("payment_ref", paymentRef),
		zap.String("reason", reason),
		zap.Error(cause))

	// Detached context: the orphan row must land even if the request
	// context already expired.
	orphanCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.repo.CreateOrphan(orphanCtx, &models.PaymentOrphan{
		ClassID:      classID,
		StudentEmail: studentEmail,
		PaymentRef:   paymentRef,
		AmountCents:  amountCents,
		Reason:       reason,
	}); err != nil {
		s.logger.Error("failed to record payment orphan", zap.String("payment_ref", paymentRef), zap.Error(err))
	}
}

func (s *EnrollmentService) enqueueReceipt(enrollmentID string) {
	if s.receipts == nil {
		return
	}
	if err := s.receipts.EnqueueReceipt(enrollmentID); err != nil {
		s.logger.Warn("failed to enqueue receipt", zap.String("enrollment_id", enrollmentID), zap.Error(err))
	}
}

// ListByStudent returns the student's enrolled classes, newest first.
func (s *EnrollmentService) ListByStudent(ctx context.Context, studentEmail string) ([]models.EnrollmentDetail, error) {
	enrollments, err := s.repo.ListByStudent(ctx, studentEmail)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrolled classes")
	}
	if enrollments == nil {
		enrollments = []models.EnrollmentDetail{}
	}
	return enrollments, nil
}

// List returns enrollments with pagination metadata for admin views.
func (s *EnrollmentService) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, *models.Pagination, error) {
	enrollments, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	return enrollments, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Get returns a single enrollment.
func (s *EnrollmentService) Get(ctx context.Context, id string) (*models.Enrollment, error) {
	enrollment, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	return enrollment, nil
}

// ListOrphans returns captured charges with no enrollment for reconciliation.
func (s *EnrollmentService) ListOrphans(ctx context.Context) ([]models.PaymentOrphan, error) {
	orphans, err := s.repo.ListOrphans(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list payment orphans")
	}
	if orphans == nil {
		orphans = []models.PaymentOrphan{}
	}
	return orphans, nil
}
