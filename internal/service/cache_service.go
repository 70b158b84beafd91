package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	appErrors "github.com/mentorium-app/mentorium-api/pkg/errors"
)

// CacheRepository abstracts persistence for cached payloads and locks.
type CacheRepository interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	DeleteByPattern(ctx context.Context, pattern string) error
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key string) error
}

// CacheService fronts the Redis repository for the catalog cache, pending
// payment intents, and checkout locks, recording hit metrics as it goes.
// With caching disabled every read misses and every write is a no-op, which
// keeps the callers oblivious.
type CacheService struct {
	repo    CacheRepository
	metrics *MetricsService
	logger  *zap.Logger
	enabled bool
}

// NewCacheService constructs a cache service.
func NewCacheService(repo CacheRepository, metrics *MetricsService, logger *zap.Logger, enabled bool) *CacheService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheService{repo: repo, metrics: metrics, logger: logger, enabled: enabled}
}

// Enabled indicates whether caching is active.
func (s *CacheService) Enabled() bool {
	return s != nil && s.enabled && s.repo != nil
}

// Get retrieves a cached entry, reporting ErrCacheMiss when absent.
func (s *CacheService) Get(ctx context.Context, key string, dest interface{}) error {
	if !s.Enabled() {
		return appErrors.ErrCacheMiss
	}
	err := s.repo.Get(ctx, key, dest)
	if err != nil {
		if s.metrics != nil {
			s.metrics.RecordCacheOperation(false)
		}
		if !errors.Is(err, appErrors.ErrCacheMiss) {
			s.logger.Warn("cache read failed", zap.String("key", key), zap.Error(err))
			return appErrors.ErrCacheMiss
		}
		return err
	}
	if s.metrics != nil {
		s.metrics.RecordCacheOperation(true)
	}
	return nil
}

// Set stores a value with the provided TTL.
func (s *CacheService) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if !s.Enabled() {
		return nil
	}
	return s.repo.Set(ctx, key, value, ttl)
}

// Delete removes a single cached entry.
func (s *CacheService) Delete(ctx context.Context, key string) error {
	if !s.Enabled() {
		return nil
	}
	return s.repo.Delete(ctx, key)
}

// DeleteByPattern removes cached entries matching the pattern.
func (s *CacheService) DeleteByPattern(ctx context.Context, pattern string) error {
	if !s.Enabled() {
		return nil
	}
	return s.repo.DeleteByPattern(ctx, pattern)
}

// AcquireLock takes the cross-instance checkout lock. When caching is off
// the in-process attempt guard is the only serialisation, so the lock is
// granted unconditionally.
func (s *CacheService) AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if !s.Enabled() {
		return true, nil
	}
	return s.repo.AcquireLock(ctx, key, ttl)
}

// ReleaseLock drops a lock taken with AcquireLock.
func (s *CacheService) ReleaseLock(ctx context.Context, key string) error {
	if !s.Enabled() {
		return nil
	}
	return s.repo.ReleaseLock(ctx, key)
}
