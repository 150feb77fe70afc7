package repository

import (
	"context"
	"time"

	"botmarket-backend/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TokenRepository defines the interface for the payment token registry
type TokenRepository interface {
	// SetSupported upserts the membership flag. Setting an existing value
	// again is a no-op that still succeeds (idempotent registry).
	SetSupported(ctx context.Context, address string, supported bool) error
	IsSupported(ctx context.Context, address string) (bool, error)
	List(ctx context.Context) ([]*models.SupportedToken, error)
}

// tokenRepository implements TokenRepository
type tokenRepository struct {
	db *gorm.DB
}

// NewTokenRepository creates a new TokenRepository instance
func NewTokenRepository(db *gorm.DB) TokenRepository {
	return &tokenRepository{db: db}
}

// SetSupported upserts the registry row for a token
func (r *tokenRepository) SetSupported(ctx context.Context, address string, supported bool) error {
	token := models.SupportedToken{
		Address:   address,
		Supported: supported,
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "address"}},
			DoUpdates: clause.Assignments(map[string]interface{}{"supported": supported, "updated_at": time.Now()}),
		}).
		Create(&token).Error
}

// IsSupported reads the membership flag; an absent row reads as false
// without inserting anything
func (r *tokenRepository) IsSupported(ctx context.Context, address string) (bool, error) {
	var token models.SupportedToken
	err := r.db.WithContext(ctx).Where("address = ?", address).First(&token).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return false, nil
		}
		return false, err
	}
	return token.Supported, nil
}

// List returns every token the registry has ever known
func (r *tokenRepository) List(ctx context.Context) ([]*models.SupportedToken, error) {
	var tokens []*models.SupportedToken
	err := r.db.WithContext(ctx).Order("created_at ASC").Find(&tokens).Error
	return tokens, err
}
