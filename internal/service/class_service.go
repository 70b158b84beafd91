package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/mentorium-app/mentorium-api/internal/models"
	"github.com/mentorium-app/mentorium-api/pkg/config"
	appErrors "github.com/mentorium-app/mentorium-api/pkg/errors"
)

type classRepository interface {
	FindByID(ctx context.Context, id string) (*models.Class, error)
	List(ctx context.Context, filter models.ClassFilter) ([]models.Class, int, error)
	Create(ctx context.Context, class *models.Class) error
	Update(ctx context.Context, class *models.Class) error
	UpdateStatus(ctx context.Context, id string, status models.ClassStatus) error
}

type catalogCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

// CreateClassRequest describes a new class offering.
type CreateClassRequest struct {
	Title          string  `json:"title" validate:"required,min=3,max=200"`
	Description    string  `json:"description" validate:"max=2000"`
	ImageURL       string  `json:"image_url" validate:"omitempty,url"`
	Price          float64 `json:"price" validate:"required,gt=0"`
	AvailableSeats int     `json:"available_seats" validate:"required,gt=0"`
}

// UpdateClassRequest describes instructor-editable fields.
type UpdateClassRequest struct {
	Title       string  `json:"title" validate:"required,min=3,max=200"`
	Description string  `json:"description" validate:"max=2000"`
	ImageURL    string  `json:"image_url" validate:"omitempty,url"`
	Price       float64 `json:"price" validate:"required,gt=0"`
}

type cachedCatalogPage struct {
	Classes    []models.Class     `json:"classes"`
	Pagination *models.Pagination `json:"pagination"`
}

// ClassService owns the class catalog: the public approved listing, teacher
// submissions, and the admin approval lifecycle.
type ClassService struct {
	repo      classRepository
	cache     catalogCache
	cfg       config.CatalogConfig
	validator *validator.Validate
	logger    *zap.Logger
}

// NewClassService constructs ClassService.
func NewClassService(repo classRepository, cache catalogCache, cfg config.CatalogConfig, validate *validator.Validate, logger *zap.Logger) *ClassService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ClassService{repo: repo, cache: cache, cfg: cfg, validator: validate, logger: logger}
}

// Get returns a class by ID. Used by checkout as the price source.
func (s *ClassService) Get(ctx context.Context, id string) (*models.Class, error) {
	class, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, sql.ErrNoRows
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class")
	}
	return class, nil
}

// GetApproved returns a class only if it is live in the catalog.
func (s *ClassService) GetApproved(ctx context.Context, id string) (*models.Class, error) {
	class, err := s.Get(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "class not found")
		}
		return nil, err
	}
	if class.Status != models.ClassStatusApproved {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "class not found")
	}
	return class, nil
}

// ListApproved returns the public catalog of approved classes. Pages are
// cached briefly; enrollment writes invalidate the cache so seat counts
// stay honest.
func (s *ClassService) ListApproved(ctx context.Context, filter models.ClassFilter) ([]models.Class, *models.Pagination, error) {
	filter.Status = models.ClassStatusApproved

	key := ""
	if s.cfg.CacheEnabled && s.cache != nil {
		key = fmt.Sprintf("catalog:classes:%d:%d:%s:%s:%s", filter.Page, filter.PageSize, filter.SortBy, filter.SortOrder, filter.Search)
		var cached cachedCatalogPage
		if err := s.cache.Get(ctx, key, &cached); err == nil {
			return cached.Classes, cached.Pagination, nil
		}
	}

	classes, pagination, err := s.list(ctx, filter)
	if err != nil {
		return nil, nil, err
	}

	if key != "" {
		if err := s.cache.Set(ctx, key, cachedCatalogPage{Classes: classes, Pagination: pagination}, s.cfg.CacheTTL); err != nil {
			s.logger.Warn("failed to cache catalog page", zap.Error(err))
		}
	}
	return classes, pagination, nil
}

// List returns classes without a status restriction, for admin review and
// teacher dashboards.
func (s *ClassService) List(ctx context.Context, filter models.ClassFilter) ([]models.Class, *models.Pagination, error) {
	return s.list(ctx, filter)
}

func (s *ClassService) list(ctx context.Context, filter models.ClassFilter) ([]models.Class, *models.Pagination, error) {
	classes, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list classes")
	}
	if classes == nil {
		classes = []models.Class{}
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	return classes, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Create submits a new class offering into pending review.
func (s *ClassService) Create(ctx context.Context, teacherEmail, teacherName string, req CreateClassRequest) (*models.Class, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid class payload")
	}
	if _, err := ToMinorUnits(req.Price); err != nil {
		return nil, err
	}

	class := &models.Class{
		Title:          req.Title,
		Description:    req.Description,
		ImageURL:       req.ImageURL,
		Price:          req.Price,
		TeacherEmail:   teacherEmail,
		TeacherName:    teacherName,
		Status:         models.ClassStatusPending,
		AvailableSeats: req.AvailableSeats,
	}
	if err := s.repo.Create(ctx, class); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create class")
	}
	s.logger.Info("class submitted for review", zap.String("class_id", class.ID), zap.String("teacher", teacherEmail))
	return class, nil
}

// Update edits an offering. Only the owning teacher may edit, and the seat
// counters are untouched by design.
func (s *ClassService) Update(ctx context.Context, requesterEmail, id string, req UpdateClassRequest) (*models.Class, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid class payload")
	}
	if _, err := ToMinorUnits(req.Price); err != nil {
		return nil, err
	}

	class, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "class not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class")
	}
	if class.TeacherEmail != requesterEmail {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the owning teacher can edit this class")
	}

	class.Title = req.Title
	class.Description = req.Description
	class.ImageURL = req.ImageURL
	class.Price = req.Price
	if err := s.repo.Update(ctx, class); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update class")
	}
	s.invalidateCatalog(ctx)
	return class, nil
}

// UpdateStatus transitions a class through the review lifecycle.
func (s *ClassService) UpdateStatus(ctx context.Context, id string, status models.ClassStatus) (*models.Class, error) {
	switch status {
	case models.ClassStatusApproved, models.ClassStatusRejected:
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "status must be approved or rejected")
	}

	class, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "class not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class")
	}
	if class.Status != models.ClassStatusPending {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "class review is already settled")
	}

	if err := s.repo.UpdateStatus(ctx, id, status); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update class status")
	}
	class.Status = status
	s.invalidateCatalog(ctx)
	s.logger.Info("class review settled", zap.String("class_id", id), zap.String("status", string(status)))
	return class, nil
}

// InvalidateCatalog drops cached catalog pages. Enrollment calls this after
// consuming a seat.
func (s *ClassService) InvalidateCatalog(ctx context.Context) {
	s.invalidateCatalog(ctx)
}

func (s *ClassService) invalidateCatalog(ctx context.Context) {
	if !s.cfg.CacheEnabled || s.cache == nil {
		return
	}
	if err := s.cache.DeleteByPattern(ctx, "catalog:classes:*"); err != nil {
		s.logger.Warn("failed to invalidate catalog cache", zap.Error(err))
	}
}
