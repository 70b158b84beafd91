package service

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/mentorium-app/mentorium-api/internal/models"
	"github.com/mentorium-app/mentorium-api/pkg/config"
	appErrors "github.com/mentorium-app/mentorium-api/pkg/errors"
	"github.com/mentorium-app/mentorium-api/pkg/jobs"
	"github.com/mentorium-app/mentorium-api/pkg/receipt"
	"github.com/mentorium-app/mentorium-api/pkg/storage"
)

type receiptEnrollmentReader interface {
	FindByID(ctx context.Context, id string) (*models.Enrollment, error)
	UpdateReceiptPath(ctx context.Context, id, path string) error
}

type receiptClassReader interface {
	FindByID(ctx context.Context, id string) (*models.Class, error)
}

type receiptStore interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
	Exists(filename string) bool
}

type receiptRenderer interface {
	Render(rec receipt.Receipt) ([]byte, error)
}

type receiptMetrics interface {
	ObserveReceiptRender(duration time.Duration)
}

// ReceiptService renders payment receipts as PDFs in the background and
// hands out short-lived signed download links.
type ReceiptService struct {
	enrollments receiptEnrollmentReader
	classes     receiptClassReader
	store       receiptStore
	renderer    receiptRenderer
	signer      *storage.SignedURLSigner
	metrics     receiptMetrics
	currency    string
	queue       *jobs.Queue
	logger      *zap.Logger
}

// NewReceiptService constructs ReceiptService and its worker queue.
func NewReceiptService(enrollments receiptEnrollmentReader, classes receiptClassReader, store receiptStore, renderer receiptRenderer, signer *storage.SignedURLSigner, metrics receiptMetrics, cfg config.ReceiptsConfig, currency string, logger *zap.Logger) *ReceiptService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if currency == "" {
		currency = "usd"
	}
	s := &ReceiptService{
		enrollments: enrollments,
		classes:     classes,
		store:       store,
		renderer:    renderer,
		signer:      signer,
		metrics:     metrics,
		currency:    currency,
		logger:      logger,
	}
	s.queue = jobs.NewQueue("receipts", s.handleJob, jobs.QueueConfig{
		Workers:    cfg.WorkerConcurrency,
		MaxRetries: cfg.WorkerRetries,
		Logger:     logger,
	})
	return s
}

// Start begins background receipt generation.
func (s *ReceiptService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains the worker pool.
func (s *ReceiptService) Stop() {
	s.queue.Stop()
}

// EnqueueReceipt schedules PDF generation for an enrollment.
func (s *ReceiptService) EnqueueReceipt(enrollmentID string) error {
	return s.queue.Enqueue(jobs.Job{
		ID:      enrollmentID,
		Type:    "receipt.generate",
		Payload: enrollmentID,
	})
}

func (s *ReceiptService) handleJob(ctx context.Context, job jobs.Job) error {
	enrollmentID, ok := job.Payload.(string)
	if !ok {
		s.logger.Error("receipt job carries unexpected payload", zap.String("job_id", job.ID))
		return nil
	}
	return s.Generate(ctx, enrollmentID)
}

// Generate renders and stores the receipt for an enrollment. Rendering is
// idempotent; a receipt that already exists on disk is left untouched.
func (s *ReceiptService) Generate(ctx context.Context, enrollmentID string) error {
	enrollment, err := s.enrollments.FindByID(ctx, enrollmentID)
	if err != nil {
		return fmt.Errorf("load enrollment for receipt: %w", err)
	}
	if enrollment.ReceiptPath != nil && s.store.Exists(*enrollment.ReceiptPath) {
		return nil
	}

	class, err := s.classes.FindByID(ctx, enrollment.ClassID)
	if err != nil {
		return fmt.Errorf("load class for receipt: %w", err)
	}

	started := time.Now()
	data, err := s.renderer.Render(receipt.Receipt{
		EnrollmentID: enrollment.ID,
		ClassTitle:   class.Title,
		Instructor:   class.TeacherName,
		StudentEmail: enrollment.StudentEmail,
		PaymentRef:   enrollment.PaymentRef,
		AmountCents:  enrollment.AmountCents,
		Currency:     s.currency,
		EnrolledAt:   enrollment.EnrolledAt,
	})
	if err != nil {
		return fmt.Errorf("render receipt: %w", err)
	}
	if s.metrics != nil {
		s.metrics.ObserveReceiptRender(time.Since(started))
	}

	relPath := fmt.Sprintf("%s/%s.pdf", enrollment.EnrolledAt.UTC().Format("2006/01"), enrollment.ID)
	if _, err := s.store.Save(relPath, data); err != nil {
		return fmt.Errorf("store receipt: %w", err)
	}
	if err := s.enrollments.UpdateReceiptPath(ctx, enrollment.ID, relPath); err != nil {
		return fmt.Errorf("record receipt path: %w", err)
	}

	s.logger.Info("receipt generated", zap.String("enrollment_id", enrollment.ID), zap.String("path", relPath))
	return nil
}

// SignedURL returns a download token for the enrollment's receipt. Only the
// enrolled student or an admin may request one; if the PDF is missing it is
// generated inline.
func (s *ReceiptService) SignedURL(ctx context.Context, requesterEmail string, requesterRole models.UserRole, enrollmentID string) (string, time.Time, error) {
	enrollment, err := s.enrollments.FindByID(ctx, enrollmentID)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", time.Time{}, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return "", time.Time{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	if enrollment.StudentEmail != requesterEmail && requesterRole != models.RoleAdmin {
		return "", time.Time{}, appErrors.Clone(appErrors.ErrForbidden, "receipt belongs to another student")
	}

	if enrollment.ReceiptPath == nil || !s.store.Exists(*enrollment.ReceiptPath) {
		if err := s.Generate(ctx, enrollmentID); err != nil {
			return "", time.Time{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to generate receipt")
		}
		enrollment, err = s.enrollments.FindByID(ctx, enrollmentID)
		if err != nil || enrollment.ReceiptPath == nil {
			return "", time.Time{}, appErrors.Clone(appErrors.ErrInternal, "receipt is not available")
		}
	}

	token, expiresAt, err := s.signer.Generate(enrollment.ID, *enrollment.ReceiptPath)
	if err != nil {
		return "", time.Time{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign receipt link")
	}
	return token, expiresAt, nil
}

// OpenByToken validates a signed token and opens the underlying PDF.
func (s *ReceiptService) OpenByToken(token string) (*os.File, error) {
	_, relPath, _, err := s.signer.Parse(token)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid or expired receipt link")
	}
	file, err := s.store.Open(relPath)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "receipt file not found")
	}
	return file, nil
}
