package repository

import (
	"context"
	"errors"
	"fmt"

	"LiveTicks/internal/domain/models"
	domrepo "LiveTicks/internal/domain/repository"
	"LiveTicks/pkg/cache"
)

// Keys under which the series and the settings are persisted.
const (
	SeriesKey   = "liveticks_data_cache"
	SettingsKey = "liveticks_settings"
)

// SnapshotCache persists the series and settings in a cache.Service.
type SnapshotCache struct {
	c cache.Service
}

// NewSnapshotCache creates a SnapshotStore backed by c.
func NewSnapshotCache(c cache.Service) domrepo.SnapshotStore {
	return &SnapshotCache{c: c}
}

func (s *SnapshotCache) SaveSeries(ctx context.Context, points []models.DataPoint) error {
	if points == nil {
		points = []models.DataPoint{}
	}
	if err := s.c.Set(ctx, SeriesKey, points, 0); err != nil {
		return fmt.Errorf("save series: %w", err)
	}
	return nil
}

// LoadSeries returns nil without error when nothing was saved.
func (s *SnapshotCache) LoadSeries(ctx context.Context) ([]models.DataPoint, error) {
	var points []models.DataPoint
	if err := s.c.Get(ctx, SeriesKey, &points); err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return nil, nil
		}
		return nil, fmt.Errorf("load series: %w", err)
	}
	return points, nil
}

func (s *SnapshotCache) ClearSeries(ctx context.Context) error {
	if err := s.c.Delete(ctx, SeriesKey); err != nil {
		return fmt.Errorf("clear series: %w", err)
	}
	return nil
}

func (s *SnapshotCache) SaveSettings(ctx context.Context, settings models.AppSettings) error {
	if err := s.c.Set(ctx, SettingsKey, settings, 0); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}

// LoadSettings returns nil without error when nothing was saved.
func (s *SnapshotCache) LoadSettings(ctx context.Context) (*models.AppSettings, error) {
	var settings models.AppSettings
	if err := s.c.Get(ctx, SettingsKey, &settings); err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return nil, nil
		}
		return nil, fmt.Errorf("load settings: %w", err)
	}
	return &settings, nil
}
