package repository

import (
	"context"
	"time"

	"botmarket-backend/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PlatformConfigRepository defines the interface for platform config rows
type PlatformConfigRepository interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value, updatedBy string) error
}

// platformConfigRepository implements PlatformConfigRepository
type platformConfigRepository struct {
	db *gorm.DB
}

// NewPlatformConfigRepository creates a new PlatformConfigRepository instance
func NewPlatformConfigRepository(db *gorm.DB) PlatformConfigRepository {
	return &platformConfigRepository{db: db}
}

// Get returns the stored value for a config key; gorm.ErrRecordNotFound
// when the key was never set
func (r *platformConfigRepository) Get(ctx context.Context, key string) (string, error) {
	var row models.PlatformConfig
	err := r.db.WithContext(ctx).Where("config_key = ?", key).First(&row).Error
	if err != nil {
		return "", err
	}
	return row.ConfigValue, nil
}

// Set upserts a config row, recording who changed it
func (r *platformConfigRepository) Set(ctx context.Context, key, value, updatedBy string) error {
	row := models.PlatformConfig{
		ConfigKey:   key,
		ConfigValue: value,
		UpdatedBy:   updatedBy,
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "config_key"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"config_value": value,
				"updated_by":   updatedBy,
				"updated_at":   time.Now(),
			}),
		}).
		Create(&row).Error
}
