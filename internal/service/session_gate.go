package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/sandeepkv93/reading-diary/internal/domain"
	"github.com/sandeepkv93/reading-diary/internal/observability"
	"github.com/sandeepkv93/reading-diary/internal/repository"
	"github.com/sandeepkv93/reading-diary/internal/security"
)

const sessionTokenBytes = 32

// SessionGate owns the Anonymous -> PendingVerification -> Authenticated
// transitions. Callers hold raw tokens; the store only ever sees their hash.
// Every transition issues a new token and drops the old row.
type SessionGate struct {
	store repository.SessionStore
	ttl   time.Duration
	now   func() time.Time
}

func NewSessionGate(store repository.SessionStore, ttl time.Duration) *SessionGate {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &SessionGate{store: store, ttl: ttl, now: time.Now}
}

// Load resolves a raw token. Unknown, empty, and expired tokens all come back
// as repository.ErrSessionNotFound, which callers treat as Anonymous.
func (g *SessionGate) Load(ctx context.Context, token string) (*domain.Session, error) {
	if token == "" {
		return nil, repository.ErrSessionNotFound
	}
	return g.store.FindByTokenHash(ctx, security.HashToken(token), g.now().UTC())
}

func (g *SessionGate) BeginPending(ctx context.Context, oldToken string, userID uint, email string) (string, *domain.Session, error) {
	token, sess, err := g.rotate(ctx, oldToken, func(s *domain.Session) {
		s.PendingID = &userID
		s.PendingEmail = email
	})
	observability.RecordSessionEvent(ctx, "begin_pending", outcomeOf(err))
	return token, sess, err
}

func (g *SessionGate) Authenticate(ctx context.Context, oldToken string, userID uint) (string, *domain.Session, error) {
	token, sess, err := g.rotate(ctx, oldToken, func(s *domain.Session) {
		s.UserID = &userID
	})
	observability.RecordSessionEvent(ctx, "authenticate", outcomeOf(err))
	return token, sess, err
}

// End removes the session row. Ending an unknown token is not an error.
func (g *SessionGate) End(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	err := g.store.DeleteByTokenHash(ctx, security.HashToken(token))
	if errors.Is(err, repository.ErrSessionNotFound) {
		err = nil
	}
	observability.RecordSessionEvent(ctx, "end", outcomeOf(err))
	return err
}

func (g *SessionGate) PruneExpired(ctx context.Context) (int64, error) {
	n, err := g.store.DeleteExpired(ctx, g.now().UTC())
	if err != nil {
		observability.RecordSessionEvent(ctx, "prune", "error")
		return 0, err
	}
	observability.RecordSessionPruned(ctx, n)
	return n, nil
}

func (g *SessionGate) rotate(ctx context.Context, oldToken string, apply func(*domain.Session)) (string, *domain.Session, error) {
	if err := g.End(ctx, oldToken); err != nil {
		return "", nil, err
	}
	token, err := security.RandomToken(sessionTokenBytes)
	if err != nil {
		return "", nil, err
	}
	now := g.now().UTC()
	sess := &domain.Session{
		ID:         uuid.NewString(),
		TokenHash:  security.HashToken(token),
		ExpiresAt:  now.Add(g.ttl),
		LastSeenAt: &now,
	}
	apply(sess)
	if err := g.store.Create(ctx, sess); err != nil {
		return "", nil, err
	}
	return token, sess, nil
}

func outcomeOf(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
