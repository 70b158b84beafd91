package service

import (
	"context"
	"database/sql"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/mentorium-app/mentorium-api/internal/models"
	appErrors "github.com/mentorium-app/mentorium-api/pkg/errors"
)

type applicationRepository interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	SubmitApplication(ctx context.Context, email, title, category, experience string, appliedAt time.Time) (bool, error)
	ApproveApplication(ctx context.Context, email string) (bool, error)
	RejectApplication(ctx context.Context, email string) (bool, error)
	ListByApplicationStatus(ctx context.Context, status models.ApplicationStatus, page, pageSize int) ([]models.User, int, error)
}

// ApplyTeacherRequest carries a teacher application submit.
type ApplyTeacherRequest struct {
	Title      string `json:"title" validate:"required,min=3,max=200"`
	Category   string `json:"category" validate:"required,min=2,max=100"`
	Experience string `json:"experience" validate:"required,max=2000"`
}

// TeacherApplicationService runs the teach-on-platform workflow. An
// application moves none to pending to approved or rejected; a rejected
// applicant may reapply, and approval promotes the account to teacher in the
// same write that settles the application.
type TeacherApplicationService struct {
	repo      applicationRepository
	validator *validator.Validate
	logger    *zap.Logger
}

// NewTeacherApplicationService constructs TeacherApplicationService.
func NewTeacherApplicationService(repo applicationRepository, validate *validator.Validate, logger *zap.Logger) *TeacherApplicationService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TeacherApplicationService{repo: repo, validator: validate, logger: logger}
}

// Apply submits or resubmits a teacher application for the given account.
func (s *TeacherApplicationService) Apply(ctx context.Context, email string, req ApplyTeacherRequest) (*models.User, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid application payload")
	}

	user, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "account not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load account")
	}
	if user.Role != models.RoleStudent {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "only student accounts can apply to teach")
	}

	ok, err := s.repo.SubmitApplication(ctx, email, req.Title, req.Category, req.Experience, time.Now().UTC())
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to submit application")
	}
	if !ok {
		// The guarded update matched no row: a pending or approved
		// application already exists.
		return nil, appErrors.Clone(appErrors.ErrConflict, "an application is already under review")
	}

	s.logger.Info("teacher application submitted", zap.String("email", email))
	return s.repo.FindByEmail(ctx, email)
}

// Status returns the caller's current application state.
func (s *TeacherApplicationService) Status(ctx context.Context, email string) (*models.User, error) {
	user, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "account not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load account")
	}
	return user, nil
}

// Approve settles a pending application and promotes the account. The role
// flip and the status change are one atomic write, so a session refreshed
// mid-approval never sees a teacher with a pending application or the
// reverse.
func (s *TeacherApplicationService) Approve(ctx context.Context, email string) (*models.User, error) {
	ok, err := s.repo.ApproveApplication(ctx, email)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to approve application")
	}
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "no pending application to approve")
	}
	s.logger.Info("teacher application approved", zap.String("email", email))
	return s.repo.FindByEmail(ctx, email)
}

// Reject settles a pending application as rejected. The applicant keeps the
// student role and may reapply.
func (s *TeacherApplicationService) Reject(ctx context.Context, email string) (*models.User, error) {
	ok, err := s.repo.RejectApplication(ctx, email)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reject application")
	}
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "no pending application to reject")
	}
	s.logger.Info("teacher application rejected", zap.String("email", email))
	return s.repo.FindByEmail(ctx, email)
}

// ListPending returns applications awaiting review, newest first.
func (s *TeacherApplicationService) ListPending(ctx context.Context, page, pageSize int) ([]models.User, *models.Pagination, error) {
	users, total, err := s.repo.ListByApplicationStatus(ctx, models.ApplicationPending, page, pageSize)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list applications")
	}
	if users == nil {
		users = []models.User{}
	}
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	return users, &models.Pagination{Page: page, PageSize: pageSize, TotalCount: total}, nil
}
