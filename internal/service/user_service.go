package service

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/sandeepkv93/reading-diary/internal/domain"
	"github.com/sandeepkv93/reading-diary/internal/observability"
	"github.com/sandeepkv93/reading-diary/internal/repository"
)

type UserService struct {
	users   repository.UserRepository
	storage StorageService
	logger  *slog.Logger
}

func NewUserService(users repository.UserRepository, storage StorageService, logger *slog.Logger) *UserService {
	if storage == nil {
		storage = DisabledStorageService{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &UserService{users: users, storage: storage, logger: logger}
}

func (s *UserService) GetByID(ctx context.Context, id uint) (*domain.User, error) {
	return s.users.FindByID(ctx, id)
}

// UploadAvatar stores the new object, points the user at it, then removes the
// previous object. A failed cleanup only leaves an orphan behind.
func (s *UserService) UploadAvatar(ctx context.Context, userID uint, file io.Reader, size int64) (*domain.User, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	key, err := s.storage.UploadAvatar(ctx, userID, file, size)
	if err != nil {
		observability.RecordUserProfileEvent(ctx, "avatar_upload", "error")
		return nil, err
	}
	if err := s.users.SetAvatarKey(ctx, userID, key); err != nil {
		observability.RecordUserProfileEvent(ctx, "avatar_upload", "error")
		return nil, err
	}
	previous := user.AvatarKey
	user.AvatarKey = key
	if previous != "" && previous != key {
		if err := s.storage.DeleteAvatar(ctx, userID, previous); err != nil {
			s.logger.WarnContext(ctx, "delete previous avatar failed", "user_id", userID, "key", previous, "error", err)
		}
	}
	observability.RecordUserProfileEvent(ctx, "avatar_upload", "success")
	return user, nil
}

// AvatarURL is empty when the user has no avatar or storage is off.
func (s *UserService) AvatarURL(ctx context.Context, user *domain.User) (string, error) {
	if user == nil || user.AvatarKey == "" {
		return "", nil
	}
	u, err := s.storage.GenerateAvatarURL(ctx, user.AvatarKey)
	if errors.Is(err, ErrAvatarStorageDisabled) {
		return "", nil
	}
	return u, err
}
