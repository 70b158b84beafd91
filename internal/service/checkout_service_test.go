package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mentorium-app/mentorium-api/internal/gateway"
	"github.com/mentorium-app/mentorium-api/internal/models"
	"github.com/mentorium-app/mentorium-api/pkg/config"
	appErrors "github.com/mentorium-app/mentorium-api/pkg/errors"
)

type mockGateway struct {
	mu             sync.Mutex
	confirmCalls   int
	confirmResult  *gateway.Intent
	confirmErr     error
	confirmBlock   chan struct{}
	retrieveResult *gateway.Intent
	retrieveErr    error
}

func (m *mockGateway) CreateIntent(ctx context.Context, amountCents int64, currency string, metadata map[string]string) (*gateway.Intent, error) {
	return &gateway.Intent{ID: "pi_new", ClientSecret: "secret", AmountCents: amountCents, Currency: currency}, nil
}

func (m *mockGateway) RetrieveIntent(ctx context.Context, intentID string) (*gateway.Intent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.retrieveErr != nil {
		return nil, m.retrieveErr
	}
	if m.retrieveResult != nil {
		return m.retrieveResult, nil
	}
	return pendingIntent(intentID, "class-1", "student@example.com", 4999), nil
}

func pendingIntent(id, classID, studentEmail string, amountCents int64) *gateway.Intent {
	return &gateway.Intent{
		ID:          id,
		AmountCents: amountCents,
		Status:      "requires_confirmation",
		Metadata:    map[string]string{"class_id": classID, "student_email": studentEmail},
	}
}

func (m *mockGateway) ConfirmIntent(ctx context.Context, intentID, paymentMethod string) (*gateway.Intent, error) {
	m.mu.Lock()
	m.confirmCalls++
	block := m.confirmBlock
	m.mu.Unlock()
	if block != nil {
		<-block
	}
	if m.confirmErr != nil {
		return nil, m.confirmErr
	}
	return m.confirmResult, nil
}

func (m *mockGateway) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.confirmCalls
}

type mockRecorder struct {
	mu          sync.Mutex
	assertErr   error
	recordCalls int
	enrollment  *models.Enrollment
	recordErr   error
}

func (m *mockRecorder) AssertNotEnrolled(ctx context.Context, classID, studentEmail string) error {
	return m.assertErr
}

func (m *mockRecorder) RecordPaid(ctx context.Context, classID, studentEmail, paymentRef string, amountCents int64) (*models.Enrollment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recordCalls++
	return m.enrollment, m.recordErr
}

func (m *mockRecorder) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recordCalls
}

type mockLocks struct {
	mu       sync.Mutex
	held     map[string]bool
	acquired []string
	released []string
	denyAll  bool
	err      error
}

func (m *mockLocks) AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	if m.denyAll {
		return false, nil
	}
	if m.held == nil {
		m.held = make(map[string]bool)
	}
	if m.held[key] {
		return false, nil
	}
	m.held[key] = true
	m.acquired = append(m.acquired, key)
	return true, nil
}

func (m *mockLocks) ReleaseLock(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.held, key)
	m.released = append(m.released, key)
	return nil
}

type mockIntents struct {
	mu        sync.Mutex
	forgotten []string
}

func (m *mockIntents) ForgetIntent(ctx context.Context, classID, studentEmail string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.forgotten = append(m.forgotten, classID+":"+studentEmail)
}

type mockCheckoutMetrics struct {
	mu       sync.Mutex
	outcomes []models.CheckoutOutcome
}

func (m *mockCheckoutMetrics) ObserveCheckout(outcome models.CheckoutOutcome) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, outcome)
}

func newCheckoutService(gw *mockGateway, recorder *mockRecorder, locks *mockLocks) (*CheckoutService, *mockIntents, *mockCheckoutMetrics) {
	intents := &mockIntents{}
	metrics := &mockCheckoutMetrics{}
	classes := &mockClassCatalog{classes: map[string]*models.Class{"class-1": approvedClass()}}
	cfg := config.CheckoutConfig{SubmitLockTTL: time.Minute, RecordTimeout: time.Second}
	return NewCheckoutService(gw, recorder, locks, intents, classes, metrics, cfg, nil, nil), intents, metrics
}

func confirmRequest() ConfirmPaymentRequest {
	return ConfirmPaymentRequest{ClassID: "class-1", IntentID: "pi_123", PaymentMethod: "pm_card"}
}

func TestConfirmPaymentEnrolls(t *testing.T) {
	gw := &mockGateway{confirmResult: &gateway.Intent{ID: "pi_123", AmountCents: 4999, Status: gateway.IntentStatusSucceeded}}
	recorder := &mockRecorder{enrollment: &models.Enrollment{ID: "enr-1", PaymentRef: "pi_123"}}
	locks := &mockLocks{}
	svc, intents, metrics := newCheckoutService(gw, recorder, locks)

	result, err := svc.ConfirmPayment(context.Background(), "student@example.com", confirmRequest())
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeEnrolled, result.Outcome)
	assert.Equal(t, "enr-1", result.EnrollmentID)
	assert.Equal(t, "pi_123", result.PaymentRef)
	assert.Equal(t, 1, recorder.calls())
	assert.Equal(t, []string{"class-1:student@example.com"}, intents.forgotten)
	assert.Equal(t, []models.CheckoutOutcome{models.OutcomeEnrolled}, metrics.outcomes)
	assert.Len(t, locks.released, 1)
}

func TestConfirmPaymentAlreadyEnrolledSkipsGateway(t *testing.T) {
	gw := &mockGateway{}
	recorder := &mockRecorder{assertErr: appErrors.ErrAlreadyEnrolled}
	locks := &mockLocks{}
	svc, _, _ := newCheckoutService(gw, recorder, locks)

	result, err := svc.ConfirmPayment(context.Background(), "student@example.com", confirmRequest())
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeAlreadyEnrolled, result.Outcome)
	// No charge may happen for an already-enrolled student.
	assert.Equal(t, 0, gw.calls())
	assert.Equal(t, 0, recorder.calls())
}

func TestConfirmPaymentGuardFailureBlocksSubmit(t *testing.T) {
	gw := &mockGateway{}
	recorder := &mockRecorder{assertErr: appErrors.Wrap(errors.New("db down"), appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to verify enrollment status")}
	locks := &mockLocks{}
	svc, _, _ := newCheckoutService(gw, recorder, locks)

	_, err := svc.ConfirmPayment(context.Background(), "student@example.com", confirmRequest())
	require.Error(t, err)
	assert.Equal(t, 0, gw.calls())
}

func TestConfirmPaymentDeclinedAllowsRetry(t *testing.T) {
	gw := &mockGateway{confirmErr: appErrors.Clone(appErrors.ErrPaymentDeclined, "Your card was declined.")}
	recorder := &mockRecorder{}
	locks := &mockLocks{}
	svc, _, _ := newCheckoutService(gw, recorder, locks)

	result, err := svc.ConfirmPayment(context.Background(), "student@example.com", confirmRequest())
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeDeclined, result.Outcome)
	assert.Equal(t, "Your card was declined.", result.Message)
	assert.Equal(t, 0, recorder.calls())

	// The attempt reset to failed; a corrected resubmission goes through.
	gw.confirmErr = nil
	gw.confirmResult = &gateway.Intent{ID: "pi_123", AmountCents: 4999, Status: gateway.IntentStatusSucceeded}
	recorder.enrollment = &models.Enrollment{ID: "enr-1"}
	retry, err := svc.ConfirmPayment(context.Background(), "student@example.com", confirmRequest())
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeEnrolled, retry.Outcome)
}

func TestConfirmPaymentOrphanedCharge(t *testing.T) {
	gw := &mockGateway{confirmResult: &gateway.Intent{ID: "pi_123", AmountCents: 4999, Status: gateway.IntentStatusSucceeded}}
	recorder := &mockRecorder{recordErr: appErrors.ErrPaymentOrphaned}
	locks := &mockLocks{}
	svc, _, metrics := newCheckoutService(gw, recorder, locks)

	result, err := svc.ConfirmPayment(context.Background(), "student@example.com", confirmRequest())
	require.NoError(t, err)
	assert.Equal(t, models.OutcomePaymentOrphaned, result.Outcome)
	assert.Equal(t, "pi_123", result.PaymentRef)
	// The charge is final; exactly one record attempt, no retry.
	assert.Equal(t, 1, recorder.calls())
	assert.Equal(t, 1, gw.calls())
	assert.Equal(t, []models.CheckoutOutcome{models.OutcomePaymentOrphaned}, metrics.outcomes)
}

func TestConfirmPaymentDuplicateRecordIsSuccess(t *testing.T) {
	gw := &mockGateway{confirmResult: &gateway.Intent{ID: "pi_123", AmountCents: 4999, Status: gateway.IntentStatusSucceeded}}
	recorder := &mockRecorder{enrollment: &models.Enrollment{ID: "enr-1"}, recordErr: appErrors.ErrAlreadyEnrolled}
	locks := &mockLocks{}
	svc, _, _ := newCheckoutService(gw, recorder, locks)

	result, err := svc.ConfirmPayment(context.Background(), "student@example.com", confirmRequest())
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeAlreadyEnrolled, result.Outcome)
	assert.Equal(t, "enr-1", result.EnrollmentID)
}

func TestConfirmPaymentRejectsConcurrentSubmit(t *testing.T) {
	release := make(chan struct{})
	gw := &mockGateway{
		confirmResult: &gateway.Intent{ID: "pi_123", AmountCents: 4999, Status: gateway.IntentStatusSucceeded},
		confirmBlock:  release,
	}
	recorder := &mockRecorder{enrollment: &models.Enrollment{ID: "enr-1"}}
	locks := &mockLocks{}
	svc, _, _ := newCheckoutService(gw, recorder, locks)

	firstDone := make(chan *models.CheckoutResult, 1)
	go func() {
		result, err := svc.ConfirmPayment(context.Background(), "student@example.com", confirmRequest())
		require.NoError(t, err)
		firstDone <- result
	}()

	// Wait for the first submit to reach the gateway.
	require.Eventually(t, func() bool { return gw.calls() == 1 }, time.Second, 5*time.Millisecond)

	_, err := svc.ConfirmPayment(context.Background(), "student@example.com", confirmRequest())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)

	close(release)
	result := <-firstDone
	assert.Equal(t, models.OutcomeEnrolled, result.Outcome)
	assert.Equal(t, 1, recorder.calls())
}

func TestConfirmPaymentLockDenied(t *testing.T) {
	gw := &mockGateway{}
	recorder := &mockRecorder{}
	locks := &mockLocks{denyAll: true}
	svc, _, _ := newCheckoutService(gw, recorder, locks)

	_, err := svc.ConfirmPayment(context.Background(), "student@example.com", confirmRequest())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
	assert.Equal(t, 0, gw.calls())
}

func TestConfirmPaymentRejectsIntentForAnotherClass(t *testing.T) {
	// An intent opened for a 1-dollar class must not settle a pricier one.
	gw := &mockGateway{retrieveResult: pendingIntent("pi_cheap", "bargain-class", "student@example.com", 100)}
	recorder := &mockRecorder{}
	locks := &mockLocks{}
	svc, _, _ := newCheckoutService(gw, recorder, locks)

	req := ConfirmPaymentRequest{ClassID: "class-1", IntentID: "pi_cheap", PaymentMethod: "pm_card"}
	_, err := svc.ConfirmPayment(context.Background(), "student@example.com", req)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrIntentMismatch.Code, appErrors.FromError(err).Code)
	// Rejected before any money moved.
	assert.Equal(t, 0, gw.calls())
	assert.Equal(t, 0, recorder.calls())
}

func TestConfirmPaymentRejectsIntentForAnotherStudent(t *testing.T) {
	gw := &mockGateway{retrieveResult: pendingIntent("pi_123", "class-1", "other@example.com", 4999)}
	recorder := &mockRecorder{}
	locks := &mockLocks{}
	svc, _, _ := newCheckoutService(gw, recorder, locks)

	_, err := svc.ConfirmPayment(context.Background(), "student@example.com", confirmRequest())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrIntentMismatch.Code, appErrors.FromError(err).Code)
	assert.Equal(t, 0, gw.calls())
}

func TestConfirmPaymentRejectsStaleAmount(t *testing.T) {
	// Bound to the right checkout, but the class has been repriced since the
	// intent was opened. The student must request a fresh intent.
	gw := &mockGateway{retrieveResult: pendingIntent("pi_123", "class-1", "student@example.com", 3999)}
	recorder := &mockRecorder{}
	locks := &mockLocks{}
	svc, _, _ := newCheckoutService(gw, recorder, locks)

	_, err := svc.ConfirmPayment(context.Background(), "student@example.com", confirmRequest())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrIntentMismatch.Code, appErrors.FromError(err).Code)
	assert.Equal(t, 0, gw.calls())
	assert.Equal(t, 0, recorder.calls())
}

func TestFailedAttemptsEvictedFromMap(t *testing.T) {
	gw := &mockGateway{confirmErr: appErrors.Clone(appErrors.ErrPaymentDeclined, "Your card was declined.")}
	recorder := &mockRecorder{}
	locks := &mockLocks{}
	svc, _, _ := newCheckoutService(gw, recorder, locks)

	for i := 0; i < 3; i++ {
		result, err := svc.ConfirmPayment(context.Background(), "student@example.com", confirmRequest())
		require.NoError(t, err)
		assert.Equal(t, models.OutcomeDeclined, result.Outcome)
	}

	// Settled attempts must not accumulate; only in-flight ones live here.
	svc.mu.Lock()
	remaining := len(svc.attempts)
	svc.mu.Unlock()
	assert.Equal(t, 0, remaining)
}

func TestConfirmPaymentNotCompletedStatusIsDeclined(t *testing.T) {
	gw := &mockGateway{confirmResult: &gateway.Intent{ID: "pi_123", Status: gateway.IntentStatusRequiresAction}}
	recorder := &mockRecorder{}
	locks := &mockLocks{}
	svc, _, _ := newCheckoutService(gw, recorder, locks)

	result, err := svc.ConfirmPayment(context.Background(), "student@example.com", confirmRequest())
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeDeclined, result.Outcome)
	assert.Equal(t, 0, recorder.calls())
}
