package service

import (
	"context"
	"io"

	"github.com/sandeepkv93/reading-diary/internal/domain"
	"github.com/sandeepkv93/reading-diary/internal/repository"
)

type AuthServiceInterface interface {
	Signup(ctx context.Context, in SignupInput, sessionToken string) (*AuthResult, error)
	Login(ctx context.Context, email, password, sessionToken, ip string) (*AuthResult, error)
	Verify(ctx context.Context, sessionToken, code, password, ip string) (*AuthResult, error)
	Logout(ctx context.Context, sessionToken string) error
	CurrentUser(ctx context.Context, sess *domain.Session) (*domain.User, error)
	ForgotPassword(ctx context.Context, email, ip string) error
	ResetPassword(ctx context.Context, token, newPassword string) error
}

type SessionLoader interface {
	Load(ctx context.Context, token string) (*domain.Session, error)
}

type DiaryServiceInterface interface {
	SaveStory(ctx context.Context, userID uint, genre, content string) (*domain.Story, error)
	GetStory(ctx context.Context, userID uint) (*domain.Story, error)
	AppendEntry(ctx context.Context, userID uint, genre, content string) (*domain.DiaryEntry, error)
	ListEntries(ctx context.Context, userID uint, req repository.PageRequest) (repository.PageResult[domain.DiaryEntry], error)
}

type UserServiceInterface interface {
	GetByID(ctx context.Context, id uint) (*domain.User, error)
	UploadAvatar(ctx context.Context, userID uint, file io.Reader, size int64) (*domain.User, error)
	AvatarURL(ctx context.Context, user *domain.User) (string, error)
}
