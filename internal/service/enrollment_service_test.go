package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mentorium-app/mentorium-api/internal/models"
	"github.com/mentorium-app/mentorium-api/internal/repository"
	"github.com/mentorium-app/mentorium-api/pkg/config"
	appErrors "github.com/mentorium-app/mentorium-api/pkg/errors"
)

type mockEnrollmentRepo struct {
	existing   map[string]*models.Enrollment
	existsErr  error
	createErr  error
	created    []*models.Enrollment
	orphans    []*models.PaymentOrphan
	orphanErr  error
	listResult []models.EnrollmentDetail
	listErr    error
}

func enrollmentKey(classID, studentEmail string) string {
	return classID + ":" + studentEmail
}

func (m *mockEnrollmentRepo) CreateCompleted(ctx context.Context, enrollment *models.Enrollment) error {
	if m.createErr != nil {
		return m.createErr
	}
	if _, ok := m.existing[enrollmentKey(enrollment.ClassID, enrollment.StudentEmail)]; ok {
		return repository.ErrDuplicateEnrollment
	}
	if enrollment.ID == "" {
		enrollment.ID = "enr-generated"
	}
	enrollment.Status = models.EnrollmentStatusCompleted
	enrollment.EnrolledAt = time.Now().UTC()
	m.created = append(m.created, enrollment)
	return nil
}

func (m *mockEnrollmentRepo) Exists(ctx context.Context, classID, studentEmail string) (bool, error) {
	if m.existsErr != nil {
		return false, m.existsErr
	}
	_, ok := m.existing[enrollmentKey(classID, studentEmail)]
	return ok, nil
}

func (m *mockEnrollmentRepo) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	for _, e := range m.existing {
		if e.ID == id {
			cp := *e
			return &cp, nil
		}
	}
	for _, e := range m.created {
		if e.ID == id {
			cp := *e
			return &cp, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockEnrollmentRepo) FindByClassAndStudent(ctx context.Context, classID, studentEmail string) (*models.Enrollment, error) {
	if e, ok := m.existing[enrollmentKey(classID, studentEmail)]; ok {
		cp := *e
		return &cp, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockEnrollmentRepo) ListByStudent(ctx context.Context, studentEmail string) ([]models.EnrollmentDetail, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.listResult, nil
}

func (m *mockEnrollmentRepo) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	if m.listErr != nil {
		return nil, 0, m.listErr
	}
	return m.listResult, len(m.listResult), nil
}

func (m *mockEnrollmentRepo) CreateOrphan(ctx context.Context, orphan *models.PaymentOrphan) error {
	if m.orphanErr != nil {
		return m.orphanErr
	}
	m.orphans = append(m.orphans, orphan)
	return nil
}

func (m *mockEnrollmentRepo) ListOrphans(ctx context.Context) ([]models.PaymentOrphan, error) {
	out := make([]models.PaymentOrphan, 0, len(m.orphans))
	for _, o := range m.orphans {
		out = append(out, *o)
	}
	return out, nil
}

type mockReceiptQueue struct {
	enqueued []string
	err      error
}

func (m *mockReceiptQueue) EnqueueReceipt(enrollmentID string) error {
	if m.err != nil {
		return m.err
	}
	m.enqueued = append(m.enqueued, enrollmentID)
	return nil
}

type mockCatalogInvalidator struct {
	calls int
}

func (m *mockCatalogInvalidator) InvalidateCatalog(ctx context.Context) {
	m.calls++
}

func newEnrollmentService(repo *mockEnrollmentRepo, receipts *mockReceiptQueue) *EnrollmentService {
	var enqueuer receiptEnqueuer
	if receipts != nil {
		enqueuer = receipts
	}
	return NewEnrollmentService(repo, enqueuer, nil, config.CheckoutConfig{RecordTimeout: time.Second}, nil)
}

func TestAssertNotEnrolledPasses(t *testing.T) {
	repo := &mockEnrollmentRepo{existing: map[string]*models.Enrollment{}}
	svc := newEnrollmentService(repo, nil)

	err := svc.AssertNotEnrolled(context.Background(), "class-1", "student@example.com")
	require.NoError(t, err)
}

func TestAssertNotEnrolledDetectsExisting(t *testing.T) {
	repo := &mockEnrollmentRepo{existing: map[string]*models.Enrollment{
		enrollmentKey("class-1", "student@example.com"): {ID: "enr-1", ClassID: "class-1", StudentEmail: "student@example.com"},
	}}
	svc := newEnrollmentService(repo, nil)

	err := svc.AssertNotEnrolled(context.Background(), "class-1", "student@example.com")
	require.True(t, appErrors.HasCode(err, appErrors.ErrAlreadyEnrolled))
}

func TestAssertNotEnrolledFailsClosed(t *testing.T) {
	repo := &mockEnrollmentRepo{existsErr: errors.New("connection reset")}
	svc := newEnrollmentService(repo, nil)

	// An inconclusive check must block, never report "not enrolled".
	err := svc.AssertNotEnrolled(context.Background(), "class-1", "student@example.com")
	require.Error(t, err)
	assert.False(t, appErrors.HasCode(err, appErrors.ErrAlreadyEnrolled))
}

func TestRecordPaidWritesEnrollmentAndQueuesReceipt(t *testing.T) {
	repo := &mockEnrollmentRepo{existing: map[string]*models.Enrollment{}}
	receipts := &mockReceiptQueue{}
	svc := newEnrollmentService(repo, receipts)

	enrollment, err := svc.RecordPaid(context.Background(), "class-1", "student@example.com", "pi_123", 4999)
	require.NoError(t, err)
	require.NotNil(t, enrollment)
	assert.Equal(t, models.EnrollmentStatusCompleted, enrollment.Status)
	assert.Equal(t, int64(4999), enrollment.AmountCents)
	require.Len(t, repo.created, 1)
	assert.Equal(t, []string{enrollment.ID}, receipts.enqueued)
	assert.Empty(t, repo.orphans)
}

func TestRecordPaidInvalidatesCatalogOnSeatConsumption(t *testing.T) {
	repo := &mockEnrollmentRepo{existing: map[string]*models.Enrollment{}}
	catalog := &mockCatalogInvalidator{}
	svc := NewEnrollmentService(repo, nil, catalog, config.CheckoutConfig{RecordTimeout: time.Second}, nil)

	enrollment, err := svc.RecordPaid(context.Background(), "class-1", "student@example.com", "pi_123", 4999)
	require.NoError(t, err)
	// The cached seat counts are stale the moment the row lands.
	assert.Equal(t, 1, catalog.calls)

	// A duplicate write consumes no seat; the cache stays untouched.
	repo.existing[enrollmentKey("class-1", "student@example.com")] = enrollment
	_, err = svc.RecordPaid(context.Background(), "class-1", "student@example.com", "pi_456", 4999)
	require.True(t, appErrors.HasCode(err, appErrors.ErrAlreadyEnrolled))
	assert.Equal(t, 1, catalog.calls)
}

func TestRecordPaidDuplicateReportsExistingEnrollment(t *testing.T) {
	existing := &models.Enrollment{ID: "enr-1", ClassID: "class-1", StudentEmail: "student@example.com", PaymentRef: "pi_old"}
	repo := &mockEnrollmentRepo{existing: map[string]*models.Enrollment{
		enrollmentKey("class-1", "student@example.com"): existing,
	}}
	svc := newEnrollmentService(repo, nil)

	enrollment, err := svc.RecordPaid(context.Background(), "class-1", "student@example.com", "pi_123", 4999)
	require.True(t, appErrors.HasCode(err, appErrors.ErrAlreadyEnrolled))
	require.NotNil(t, enrollment)
	assert.Equal(t, "enr-1", enrollment.ID)
	// Duplicate resolution is a success path; no orphan, no new row.
	assert.Empty(t, repo.orphans)
	assert.Empty(t, repo.created)
}

func TestRecordPaidFilesOrphanOnWriteFailure(t *testing.T) {
	repo := &mockEnrollmentRepo{createErr: errors.New("disk on fire")}
	svc := newEnrollmentService(repo, nil)

	enrollment, err := svc.RecordPaid(context.Background(), "class-1", "student@example.com", "pi_123", 4999)
	require.True(t, appErrors.HasCode(err, appErrors.ErrPaymentOrphaned))
	assert.Nil(t, enrollment)
	require.Len(t, repo.orphans, 1)
	assert.Equal(t, "pi_123", repo.orphans[0].PaymentRef)
	assert.Equal(t, int64(4999), repo.orphans[0].AmountCents)
}

func TestRecordPaidFilesOrphanWhenSeatsExhausted(t *testing.T) {
	repo := &mockEnrollmentRepo{createErr: repository.ErrNoSeats}
	svc := newEnrollmentService(repo, nil)

	_, err := svc.RecordPaid(context.Background(), "class-1", "student@example.com", "pi_123", 4999)
	require.True(t, appErrors.HasCode(err, appErrors.ErrPaymentOrphaned))
	require.Len(t, repo.orphans, 1)
	assert.Contains(t, repo.orphans[0].Reason, "seat pool exhausted")
}

func TestListByStudentReturnsEmptySlice(t *testing.T) {
	repo := &mockEnrollmentRepo{}
	svc := newEnrollmentService(repo, nil)

	enrollments, err := svc.ListByStudent(context.Background(), "student@example.com")
	require.NoError(t, err)
	require.NotNil(t, enrollments)
	assert.Empty(t, enrollments)
}
