package service

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/mentorium-app/mentorium-api/internal/gateway"
	"github.com/mentorium-app/mentorium-api/internal/models"
	"github.com/mentorium-app/mentorium-api/pkg/config"
	appErrors "github.com/mentorium-app/mentorium-api/pkg/errors"
)

type enrollmentRecorder interface {
	AssertNotEnrolled(ctx context.Context, classID, studentEmail string) error
	RecordPaid(ctx context.Context, classID, studentEmail, paymentRef string, amountCents int64) (*models.Enrollment, error)
}

type submitLocker interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key string) error
}

type intentForgetter interface {
	ForgetIntent(ctx context.Context, classID, studentEmail string)
}

type checkoutMetrics interface {
	ObserveCheckout(outcome models.CheckoutOutcome)
}

// ConfirmPaymentRequest carries the confirmation submit.
type ConfirmPaymentRequest struct {
	ClassID       string `json:"class_id" validate:"required"`
	IntentID      string `json:"intent_id" validate:"required"`
	PaymentMethod string `json:"payment_method" validate:"required"`
}

// CheckoutService drives a payment confirmation to exactly one terminal
// outcome. Each (class, student) pair holds one attempt at a time, guarded
// in-process and with a cross-instance lock, and the enrollment recorder
// runs at most once per captured charge.
type CheckoutService struct {
	gateway   paymentGateway
	recorder  enrollmentRecorder
	locks     submitLocker
	intents   intentForgetter
	classes   classCatalogReader
	metrics   checkoutMetrics
	cfg       config.CheckoutConfig
	validator *validator.Validate
	logger    *zap.Logger

	mu       sync.Mutex
	attempts map[string]*CheckoutStateMachine
}

// NewCheckoutService constructs CheckoutService.
func NewCheckoutService(gw paymentGateway, recorder enrollmentRecorder, locks submitLocker, intents intentForgetter, classes classCatalogReader, metrics checkoutMetrics, cfg config.CheckoutConfig, validate *validator.Validate, logger *zap.Logger) *CheckoutService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CheckoutService{
		gateway:   gw,
		recorder:  recorder,
		locks:     locks,
		intents:   intents,
		classes:   classes,
		metrics:   metrics,
		cfg:       cfg,
		validator: validate,
		logger:    logger,
		attempts:  make(map[string]*CheckoutStateMachine),
	}
}

func (s *CheckoutService) attempt(classID, studentEmail string) *CheckoutStateMachine {
	key := classID + ":" + studentEmail
	s.mu.Lock()
	defer s.mu.Unlock()
	fsm, ok := s.attempts[key]
	if !ok {
		fsm = NewCheckoutStateMachine()
		s.attempts[key] = fsm
	}
	return fsm
}

func (s *CheckoutService) clearAttempt(classID, studentEmail string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.attempts, classID+":"+studentEmail)
}

func submitLockKey(classID, studentEmail string) string {
	return fmt.Sprintf("checkout:lock:%s:%s", classID, studentEmail)
}

// ConfirmPayment submits the payment method against the intent and settles
// the checkout. Every return path is one of the four terminal outcomes or a
// rejection that leaves no charge behind.
func (s *CheckoutService) ConfirmPayment(ctx context.Context, studentEmail string, req ConfirmPaymentRequest) (*models.CheckoutResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid confirmation payload")
	}

	fsm := s.attempt(req.ClassID, studentEmail)
	if err := fsm.BeginSubmit(); err != nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "a payment for this class is already being processed")
	}

	lockKey := submitLockKey(req.ClassID, studentEmail)
	acquired, err := s.locks.AcquireLock(ctx, lockKey, s.cfg.SubmitLockTTL)
	if err != nil {
		s.failAttempt(fsm, req.ClassID, studentEmail)
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to serialise checkout")
	}
	if !acquired {
		s.failAttempt(fsm, req.ClassID, studentEmail)
		return nil, appErrors.Clone(appErrors.ErrConflict, "a payment for this class is already being processed")
	}
	defer func() {
		if err := s.locks.ReleaseLock(context.WithoutCancel(ctx), lockKey); err != nil {
			s.logger.Warn("failed to release checkout lock", zap.String("key", lockKey), zap.Error(err))
		}
	}()

	// Last look before money moves. Fail-closed: an inconclusive check
	// aborts the submit with the intent unconsumed.
	if err := s.recorder.AssertNotEnrolled(ctx, req.ClassID, studentEmail); err != nil {
		if appErrors.HasCode(err, appErrors.ErrAlreadyEnrolled) {
			s.failAttempt(fsm, req.ClassID, studentEmail)
			s.intents.ForgetIntent(ctx, req.ClassID, studentEmail)
			return s.settle(models.CheckoutResult{
				Outcome: models.OutcomeAlreadyEnrolled,
				Message: "you are already enrolled in this class",
			}), nil
		}
		s.failAttempt(fsm, req.ClassID, studentEmail)
		return nil, err
	}

	// The caller only names an intent ID; the intent itself must be the one
	// opened for this class, this student and the class's current price.
	// Verified against the gateway record before any money moves.
	if err := s.verifyIntentBinding(ctx, studentEmail, req); err != nil {
		s.failAttempt(fsm, req.ClassID, studentEmail)
		return nil, err
	}

	if err := fsm.BeginConfirm(); err != nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "a payment for this class is already being processed")
	}

	intent, err := s.gateway.ConfirmIntent(ctx, req.IntentID, req.PaymentMethod)
	if err != nil {
		s.failAttempt(fsm, req.ClassID, studentEmail)
		if appErrors.HasCode(err, appErrors.ErrPaymentDeclined) {
			return s.settle(models.CheckoutResult{
				Outcome: models.OutcomeDeclined,
				Message: appErrors.FromError(err).Message,
			}), nil
		}
		return nil, err
	}
	if intent.Status != gateway.IntentStatusSucceeded {
		s.failAttempt(fsm, req.ClassID, studentEmail)
		return s.settle(models.CheckoutResult{
			Outcome: models.OutcomeDeclined,
			Message: fmt.Sprintf("payment was not completed (status %s)", intent.Status),
		}), nil
	}

	// The charge is captured. From here the recorder runs exactly once and
	// its verdict is final; nothing below resubmits the payment.
	enrollment, recordErr := s.recorder.RecordPaid(ctx, req.ClassID, studentEmail, intent.ID, intent.AmountCents)

	if err := fsm.Succeed(); err != nil {
		s.logger.Error("checkout state drift after capture", zap.String("intent_id", intent.ID), zap.Error(err))
	}
	s.clearAttempt(req.ClassID, studentEmail)
	s.intents.ForgetIntent(ctx, req.ClassID, studentEmail)

	switch {
	case recordErr == nil:
		return s.settle(models.CheckoutResult{
			Outcome:      models.OutcomeEnrolled,
			EnrollmentID: enrollment.ID,
			PaymentRef:   intent.ID,
			Message:      "enrollment confirmed",
		}), nil
	case appErrors.HasCode(recordErr, appErrors.ErrAlreadyEnrolled):
		result := models.CheckoutResult{
			Outcome:    models.OutcomeAlreadyEnrolled,
			PaymentRef: intent.ID,
			Message:    "you are already enrolled in this class",
		}
		if enrollment != nil {
			result.EnrollmentID = enrollment.ID
		}
		return s.settle(result), nil
	default:
		return s.settle(models.CheckoutResult{
			Outcome:    models.OutcomePaymentOrphaned,
			PaymentRef: intent.ID,
			Message:    appErrors.ErrPaymentOrphaned.Message,
		}), nil
	}
}

// verifyIntentBinding checks the named intent against the gateway record:
// it must carry this class and student in its metadata and its amount must
// equal the class's current price in minor units.
func (s *CheckoutService) verifyIntentBinding(ctx context.Context, studentEmail string, req ConfirmPaymentRequest) error {
	intent, err := s.gateway.RetrieveIntent(ctx, req.IntentID)
	if err != nil {
		return err
	}
	if intent.Metadata["class_id"] != req.ClassID || intent.Metadata["student_email"] != studentEmail {
		s.logger.Warn("intent submitted against a foreign checkout",
			zap.String("intent_id", req.IntentID),
			zap.String("class_id", req.ClassID),
			zap.String("student_email", studentEmail))
		return appErrors.Clone(appErrors.ErrIntentMismatch, "payment intent does not belong to this checkout")
	}

	class, err := s.classes.Get(ctx, req.ClassID)
	if err != nil {
		if err == sql.ErrNoRows {
			return appErrors.Clone(appErrors.ErrNotFound, "class not found")
		}
		return err
	}
	expected, err := ToMinorUnits(class.Price)
	if err != nil {
		return err
	}
	if intent.AmountCents != expected {
		s.logger.Warn("intent amount no longer matches class price",
			zap.String("intent_id", req.IntentID),
			zap.Int64("intent_amount", intent.AmountCents),
			zap.Int64("expected_amount", expected))
		return appErrors.Clone(appErrors.ErrIntentMismatch, "payment intent amount does not match the class price; request a new intent")
	}
	return nil
}

// failAttempt settles the state machine in failed and drops it from the
// attempt map. A fresh machine admits a resubmit exactly as a failed one
// does, and evicting keeps the map bounded to in-flight attempts.
func (s *CheckoutService) failAttempt(fsm *CheckoutStateMachine, classID, studentEmail string) {
	if err := fsm.Fail(); err != nil {
		s.logger.Warn("checkout state drift", zap.Error(err))
	}
	s.clearAttempt(classID, studentEmail)
}

func (s *CheckoutService) settle(result models.CheckoutResult) *models.CheckoutResult {
	if s.metrics != nil {
		s.metrics.ObserveCheckout(result.Outcome)
	}
	s.logger.Info("checkout settled",
		zap.String("outcome", string(result.Outcome)),
		zap.String("payment_ref", result.PaymentRef))
	return &result
}
