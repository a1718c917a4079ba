// Package repositories contains the data access layer. Each repository is an
// interface with a GORM-backed implementation so that handlers and services
// can be tested against in-memory fakes.
package repositories

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/episensor/app-template/internal/db"
)

// SettingsRepository stores named runtime settings. Values are opaque to the
// repository; the API layer reads and writes them as raw JSON.
type SettingsRepository interface {
	Get(ctx context.Context, key string) (*db.Setting, error)
	Set(ctx context.Context, key, value string) error
	All(ctx context.Context) ([]db.Setting, error)
	Delete(ctx context.Context, key string) error
}

// gormSettingsRepository is the GORM-backed implementation of
// SettingsRepository.
type gormSettingsRepository struct {
	database *gorm.DB
}

// NewSettingsRepository creates a new SettingsRepository backed by GORM.
func NewSettingsRepository(database *gorm.DB) SettingsRepository {
	return &gormSettingsRepository{database: database}
}

// Get retrieves a single setting by its exact key.
func (r *gormSettingsRepository) Get(ctx context.Context, key string) (*db.Setting, error) {
	var s db.Setting
	err := r.database.WithContext(ctx).First(&s, "key = ?", key).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

// Set upserts a setting. On conflict (key already exists) the value and
// updated_at are overwritten. This avoids a read-before-write on every save.
func (r *gormSettingsRepository) Set(ctx context.Context, key, value string) error {
	s := db.Setting{Key: key, Value: value}
	return r.database.WithContext(ctx).
		Save(&s).Error
}

// All retrieves every setting ordered by key.
func (r *gormSettingsRepository) All(ctx context.Context) ([]db.Setting, error) {
	var settings []db.Setting
	err := r.database.WithContext(ctx).
		Order("key").
		Find(&settings).Error
	if err != nil {
		return nil, err
	}
	return settings, nil
}

// Delete removes a setting by key. Silently succeeds if the key is absent
// (idempotent delete is the expected contract for configuration cleanup).
func (r *gormSettingsRepository) Delete(ctx context.Context, key string) error {
	return r.database.WithContext(ctx).
		Delete(&db.Setting{}, "key = ?", key).Error
}
