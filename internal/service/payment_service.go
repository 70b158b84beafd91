package service

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/mentorium-app/mentorium-api/internal/gateway"
	"github.com/mentorium-app/mentorium-api/internal/models"
	"github.com/mentorium-app/mentorium-api/pkg/config"
	appErrors "github.com/mentorium-app/mentorium-api/pkg/errors"
)

// ToMinorUnits converts a decimal class price into the gateway's integer
// minor units. Every charge amount in the system passes through here; no
// other code multiplies prices.
func ToMinorUnits(price float64) (int64, error) {
	if price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return 0, appErrors.ErrInvalidAmount
	}
	cents := math.Round(price * 100)
	if cents < 1 || cents > math.MaxInt64 {
		return 0, appErrors.ErrInvalidAmount
	}
	return int64(cents), nil
}

type paymentGateway interface {
	CreateIntent(ctx context.Context, amountCents int64, currency string, metadata map[string]string) (*gateway.Intent, error)
	RetrieveIntent(ctx context.Context, intentID string) (*gateway.Intent, error)
	ConfirmIntent(ctx context.Context, intentID, paymentMethod string) (*gateway.Intent, error)
}

type intentCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

type enrollmentGuard interface {
	AssertNotEnrolled(ctx context.Context, classID, studentEmail string) error
}

type classCatalogReader interface {
	Get(ctx context.Context, id string) (*models.Class, error)
}

// CreateIntentRequest describes a payment intent creation payload.
type CreateIntentRequest struct {
	ClassID string `json:"class_id" validate:"required"`
}

// PaymentService prepares gateway payment intents for checkout. It enforces
// the enrollment precondition before any money is touched and reuses a
// pending intent when the student retries the checkout page.
type PaymentService struct {
	gateway   paymentGateway
	cache     intentCache
	guard     enrollmentGuard
	classes   classCatalogReader
	cfg       config.CheckoutConfig
	currency  string
	validator *validator.Validate
	logger    *zap.Logger
}

// NewPaymentService constructs PaymentService.
func NewPaymentService(gw paymentGateway, cache intentCache, guard enrollmentGuard, classes classCatalogReader, cfg config.CheckoutConfig, currency string, validate *validator.Validate, logger *zap.Logger) *PaymentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if currency == "" {
		currency = "usd"
	}
	return &PaymentService{gateway: gw, cache: cache, guard: guard, classes: classes, cfg: cfg, currency: currency, validator: validate, logger: logger}
}

func pendingIntentKey(classID, studentEmail string) string {
	return fmt.Sprintf("payment:intent:%s:%s", classID, studentEmail)
}

// CreateIntent returns a payment intent for the student's checkout of the
// given class. Calling it again before confirmation returns the same intent
// instead of registering a second charge.
func (s *PaymentService) CreateIntent(ctx context.Context, studentEmail string, req CreateIntentRequest) (*models.PaymentIntent, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payment intent payload")
	}

	class, err := s.classes.Get(ctx, req.ClassID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "class not found")
		}
		return nil, err
	}
	if class.Status != models.ClassStatusApproved {
		return nil, appErrors.ErrClassNotOpen
	}
	if class.AvailableSeats <= 0 {
		return nil, appErrors.ErrClassFull
	}

	// Enrollment check runs before the gateway sees the charge. Any failure
	// here blocks intent creation; the guard never assumes "not enrolled".
	if err := s.guard.AssertNotEnrolled(ctx, req.ClassID, studentEmail); err != nil {
		return nil, err
	}

	amountCents, err := ToMinorUnits(class.Price)
	if err != nil {
		s.logger.Error("class has unchargeable price",
			zap.String("class_id", class.ID),
			zap.Float64("price", class.Price))
		return nil, err
	}

	key := pendingIntentKey(req.ClassID, studentEmail)
	var pending models.PaymentIntent
	if err := s.cache.Get(ctx, key, &pending); err == nil && pending.AmountCents == amountCents {
		return &pending, nil
	}

	intent, err := s.gateway.CreateIntent(ctx, amountCents, s.currency, map[string]string{
		"class_id":      req.ClassID,
		"student_email": studentEmail,
	})
	if err != nil {
		return nil, err
	}

	result := &models.PaymentIntent{
		GatewayIntentID: intent.ID,
		ClientSecret:    intent.ClientSecret,
		ClassID:         req.ClassID,
		StudentEmail:    studentEmail,
		AmountCents:     amountCents,
		Currency:        s.currency,
		CreatedAt:       time.Now().UTC(),
	}
	if err := s.cache.Set(ctx, key, result, s.cfg.PendingIntentTTL); err != nil {
		// Reuse is an optimisation; the checkout still works without it.
		s.logger.Warn("failed to cache pending intent", zap.String("class_id", req.ClassID), zap.Error(err))
	}

	s.logger.Info("payment intent created",
		zap.String("intent_id", intent.ID),
		zap.String("class_id", req.ClassID),
		zap.Int64("amount_cents", amountCents))
	return result, nil
}

// ForgetIntent drops the cached pending intent after checkout resolves.
func (s *PaymentService) ForgetIntent(ctx context.Context, classID, studentEmail string) {
	if err := s.cache.Delete(ctx, pendingIntentKey(classID, studentEmail)); err != nil {
		s.logger.Warn("failed to drop pending intent", zap.String("class_id", classID), zap.Error(err))
	}
}
