// Package settings owns the system-wide settings row and its cache.
package settings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"qtech-backend/internal/logging"
	"qtech-backend/internal/models"
	"qtech-backend/internal/queue"
)

const DefaultTTL = 10 * time.Minute

// Source is the durable settings row.
type Source interface {
	LoadSettings(ctx context.Context) (models.SystemSettings, error)
	SaveSettings(ctx context.Context, s models.SystemSettings) error
}

type Service struct {
	source   Source
	cache    Cache
	ttl      time.Duration
	validate *validator.Validate
	log      zerolog.Logger
}

var _ queue.SettingsProvider = (*Service)(nil)

func NewService(source Source, cache Cache, ttl time.Duration) *Service {
	if cache == nil {
		cache = NewMemoryCache()
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Service{
		source:   source,
		cache:    cache,
		ttl:      ttl,
		validate: validator.New(),
		log:      logging.With("settings"),
	}
}

// Current returns the cached settings, loading them on a miss. A store
// without a settings row yields the defaults.
func (s *Service) Current(ctx context.Context) (models.SystemSettings, error) {
	cached, err := s.cache.Get(ctx)
	if err == nil {
		return cached, nil
	}
	if !errors.Is(err, ErrCacheMiss) {
		s.log.Warn().Err(err).Msg("settings cache read failed")
	}

	current, err := s.source.LoadSettings(ctx)
	if errors.Is(err, queue.ErrNotFound) {
		current, err = models.DefaultSettings(), nil
	}
	if err != nil {
		return models.SystemSettings{}, err
	}

	if err := s.cache.Set(ctx, current, s.ttl); err != nil {
		s.log.Warn().Err(err).Msg("settings cache write failed")
	}
	return current, nil
}

// ValidationError reports settings that fail their constraints.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string { return "invalid settings: " + e.Err.Error() }
func (e *ValidationError) Unwrap() error { return e.Err }

// Update validates and persists next, then drops the cached copy.
func (s *Service) Update(ctx context.Context, next models.SystemSettings) (models.SystemSettings, error) {
	if err := s.validate.Struct(next); err != nil {
		return models.SystemSettings{}, &ValidationError{Err: err}
	}
	if err := s.source.SaveSettings(ctx, next); err != nil {
		return models.SystemSettings{}, fmt.Errorf("save settings: %w", err)
	}
	if err := s.cache.Invalidate(ctx); err != nil {
		s.log.Warn().Err(err).Msg("settings cache invalidation failed")
	}
	s.log.Info().Bool("maintenance", next.SystemMaintenanceMode).Int("max_queue_per_user", next.MaxQueuePerUser).Msg("settings updated")
	return next, nil
}
