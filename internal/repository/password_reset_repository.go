package repository

import (
	"context"
	"errors"
	"time"

	"github.com/sandeepkv93/reading-diary/internal/domain"

	"gorm.io/gorm"
)

type PasswordResetTokenRepository interface {
	Create(ctx context.Context, token *domain.PasswordResetToken) error
	InvalidateActiveByUser(ctx context.Context, userID uint, now time.Time) error
	FindActiveByHash(ctx context.Context, hash string, now time.Time) (*domain.PasswordResetToken, error)
	Redeem(ctx context.Context, tokenID, userID uint, passwordHash string, now time.Time) error
}

type GormPasswordResetTokenRepository struct {
	db *gorm.DB
}

func NewPasswordResetTokenRepository(db *gorm.DB) PasswordResetTokenRepository {
	return &GormPasswordResetTokenRepository{db: db}
}

func (r *GormPasswordResetTokenRepository) Create(ctx context.Context, token *domain.PasswordResetToken) error {
	return r.db.WithContext(ctx).Create(token).Error
}

func (r *GormPasswordResetTokenRepository) InvalidateActiveByUser(ctx context.Context, userID uint, now time.Time) error {
	return r.db.WithContext(ctx).Model(&domain.PasswordResetToken{}).
		Where("user_id = ? AND used_at IS NULL AND expires_at > ?", userID, now).
		Updates(map[string]any{"used_at": now, "updated_at": now}).Error
}

func (r *GormPasswordResetTokenRepository) FindActiveByHash(ctx context.Context, hash string, now time.Time) (*domain.PasswordResetToken, error) {
	var token domain.PasswordResetToken
	err := r.db.WithContext(ctx).
		Where("token_hash = ? AND used_at IS NULL AND expires_at > ?", hash, now).
		First(&token).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrResetTokenNotFound
		}
		return nil, err
	}
	return &token, nil
}

// Redeem marks the token used and stores the new password hash in one
// transaction. A concurrent second redeemer sees ErrResetTokenNotFound, and a
// failed password write leaves the token active.
func (r *GormPasswordResetTokenRepository) Redeem(ctx context.Context, tokenID, userID uint, passwordHash string, now time.Time) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&domain.PasswordResetToken{}).
			Where("id = ? AND user_id = ? AND used_at IS NULL", tokenID, userID).
			Updates(map[string]any{"used_at": now, "updated_at": now})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrResetTokenNotFound
		}
		res = tx.Model(&domain.User{}).Where("id = ?", userID).
			Updates(map[string]any{"password_hash": passwordHash, "updated_at": now})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrUserNotFound
		}
		return nil
	})
}
