package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sandeepkv93/reading-diary/internal/domain"
)

func TestPasswordResetTokenRepositoryLifecycle(t *testing.T) {
	db := newRepositoryDBForTest(t)
	repo := NewPasswordResetTokenRepository(db)
	users := NewUserRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := users.Create(ctx, &domain.User{Name: "Ana", Email: "ana@x.com", PasswordHash: "before"}); err != nil {
		t.Fatalf("create user: %v", err)
	}

	old := &domain.PasswordResetToken{UserID: 1, TokenHash: "old", ExpiresAt: now.Add(time.Hour)}
	if err := repo.Create(ctx, old); err != nil {
		t.Fatalf("create old: %v", err)
	}
	if err := repo.InvalidateActiveByUser(ctx, 1, now); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if _, err := repo.FindActiveByHash(ctx, "old", now); !errors.Is(err, ErrResetTokenNotFound) {
		t.Fatalf("expected invalidated token to be gone, got %v", err)
	}

	fresh := &domain.PasswordResetToken{UserID: 1, TokenHash: "fresh", ExpiresAt: now.Add(time.Hour)}
	if err := repo.Create(ctx, fresh); err != nil {
		t.Fatalf("create fresh: %v", err)
	}
	found, err := repo.FindActiveByHash(ctx, "fresh", now)
	if err != nil {
		t.Fatalf("find fresh: %v", err)
	}
	if err := repo.Redeem(ctx, found.ID, 1, "after", now); err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if err := repo.Redeem(ctx, found.ID, 1, "again", now); !errors.Is(err, ErrResetTokenNotFound) {
		t.Fatalf("expected second redeem to fail, got %v", err)
	}
	user, err := users.FindByID(ctx, 1)
	if err != nil {
		t.Fatalf("find user: %v", err)
	}
	if user.PasswordHash != "after" {
		t.Fatalf("expected password hash from first redeem, got %q", user.PasswordHash)
	}
}

func TestPasswordResetTokenRepositoryRedeemRollsBackWhenPasswordWriteFails(t *testing.T) {
	repo := NewPasswordResetTokenRepository(newRepositoryDBForTest(t))
	ctx := context.Background()
	now := time.Now().UTC()

	// No user row exists for the token, so the password write matches nothing.
	if err := repo.Create(ctx, &domain.PasswordResetToken{UserID: 42, TokenHash: "orphan", ExpiresAt: now.Add(time.Hour)}); err != nil {
		t.Fatalf("create: %v", err)
	}
	found, err := repo.FindActiveByHash(ctx, "orphan", now)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if err := repo.Redeem(ctx, found.ID, 42, "after", now); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
	if _, err := repo.FindActiveByHash(ctx, "orphan", now); err != nil {
		t.Fatalf("expected token to stay active after failed redeem, got %v", err)
	}
}

func TestPasswordResetTokenRepositoryIgnoresExpired(t *testing.T) {
	repo := NewPasswordResetTokenRepository(newRepositoryDBForTest(t))
	ctx := context.Background()
	now := time.Now().UTC()

	if err := repo.Create(ctx, &domain.PasswordResetToken{UserID: 1, TokenHash: "stale", ExpiresAt: now.Add(-time.Minute)}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := repo.FindActiveByHash(ctx, "stale", now); !errors.Is(err, ErrResetTokenNotFound) {
		t.Fatalf("expected expired token to be rejected, got %v", err)
	}
}
