package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sandeepkv93/reading-diary/internal/domain"

	"gorm.io/gorm"
)

//go:generate mockgen -source=user_repository.go -destination=gomock/user_repository_mock.go -package=gomock

type UserRepository interface {
	Create(ctx context.Context, user *domain.User) error
	FindByEmail(ctx context.Context, email string) (*domain.User, error)
	FindByID(ctx context.Context, id uint) (*domain.User, error)
	SetVerificationCode(ctx context.Context, id uint, code string) error
	ClearVerificationCode(ctx context.Context, id uint) error
	UpdatePasswordHash(ctx context.Context, id uint, hash string) error
	SetAvatarKey(ctx context.Context, id uint, key string) error
}

type GormUserRepository struct{ db *gorm.DB }

func NewUserRepository(db *gorm.DB) UserRepository { return &GormUserRepository{db: db} }

// NormalizeEmail is applied on every write and lookup so uniqueness is case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Create inserts without a pre-read; the unique index on email is the only arbiter.
func (r *GormUserRepository) Create(ctx context.Context, user *domain.User) error {
	user.Email = NormalizeEmail(user.Email)
	if err := r.db.WithContext(ctx).Create(user).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateEmail
		}
		return err
	}
	return nil
}

func (r *GormUserRepository) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	var u domain.User
	err := r.db.WithContext(ctx).Where("email = ?", NormalizeEmail(email)).First(&u).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (r *GormUserRepository) FindByID(ctx context.Context, id uint) (*domain.User, error) {
	var u domain.User
	if err := r.db.WithContext(ctx).First(&u, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (r *GormUserRepository) SetVerificationCode(ctx context.Context, id uint, code string) error {
	return r.updateColumns(ctx, id, map[string]any{"verification_code": code})
}

func (r *GormUserRepository) ClearVerificationCode(ctx context.Context, id uint) error {
	return r.updateColumns(ctx, id, map[string]any{"verification_code": nil})
}

func (r *GormUserRepository) UpdatePasswordHash(ctx context.Context, id uint, hash string) error {
	return r.updateColumns(ctx, id, map[string]any{"password_hash": hash})
}

func (r *GormUserRepository) SetAvatarKey(ctx context.Context, id uint, key string) error {
	return r.updateColumns(ctx, id, map[string]any{"avatar_key": key})
}

func (r *GormUserRepository) updateColumns(ctx context.Context, id uint, values map[string]any) error {
	values["updated_at"] = time.Now().UTC()
	res := r.db.WithContext(ctx).Model(&domain.User{}).Where("id = ?", id).Updates(values)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}
