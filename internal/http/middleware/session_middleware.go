package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/sandeepkv93/reading-diary/internal/domain"
	"github.com/sandeepkv93/reading-diary/internal/observability"
	"github.com/sandeepkv93/reading-diary/internal/repository"
	"github.com/sandeepkv93/reading-diary/internal/security"
	"github.com/sandeepkv93/reading-diary/internal/service"
)

type contextKey string

const sessionContextKey contextKey = "session"

// SessionContext is what LoadSession resolved for the request. Token is the
// verified raw token and is empty for anonymous visitors.
type SessionContext struct {
	Token   string
	Session *domain.Session
	User    *domain.User
}

func (sc SessionContext) State() domain.SessionState { return sc.Session.State() }

type CurrentUserResolver interface {
	CurrentUser(ctx context.Context, sess *domain.Session) (*domain.User, error)
}

// LoadSession resolves the signed session cookie. It never rejects: a bad
// signature, an expired row or a store failure all degrade to anonymous.
func LoadSession(sessions service.SessionLoader, users CurrentUserResolver, signer *security.TokenSigner) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			sc, outcome := resolveSession(ctx, r, sessions, users, signer)
			observability.RecordSessionLoad(ctx, outcome)
			annotateRequestLog(ctx, "session_state", string(sc.State()))
			if uid, ok := sc.Session.CurrentUserID(); ok {
				annotateRequestLog(ctx, "user_id", strconv.FormatUint(uint64(uid), 10))
			}
			next.ServeHTTP(w, r.WithContext(WithSession(ctx, sc)))
		})
	}
}

func resolveSession(ctx context.Context, r *http.Request, sessions service.SessionLoader, users CurrentUserResolver, signer *security.TokenSigner) (SessionContext, string) {
	raw := security.GetCookie(r, security.SessionCookieName)
	if raw == "" {
		return SessionContext{}, "no_cookie"
	}
	token, err := signer.Verify(raw)
	if err != nil {
		return SessionContext{}, "bad_signature"
	}
	sess, err := sessions.Load(ctx, token)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return SessionContext{}, "unknown"
		}
		slog.WarnContext(ctx, "session load failed", "error", err)
		return SessionContext{}, "error"
	}
	sc := SessionContext{Token: token, Session: sess}
	if !sess.IsAuthenticated() {
		return sc, string(sess.State())
	}
	user, err := users.CurrentUser(ctx, sess)
	if err != nil {
		if !errors.Is(err, service.ErrNotAuthenticated) {
			slog.WarnContext(ctx, "session user lookup failed", "error", err)
		}
		// Keep the token so logout and the next transition still clean the row up.
		return SessionContext{Token: token}, "orphaned"
	}
	sc.User = user
	return sc, string(sess.State())
}

// WithSession stores sc on ctx the way LoadSession does.
func WithSession(ctx context.Context, sc SessionContext) context.Context {
	return context.WithValue(ctx, sessionContextKey, sc)
}

func SessionFromContext(ctx context.Context) (SessionContext, bool) {
	sc, ok := ctx.Value(sessionContextKey).(SessionContext)
	return sc, ok
}

// RequireAuthenticated sends anonymous and pending visitors to /login.
func RequireAuthenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sc, _ := SessionFromContext(r.Context())
		if sc.User == nil || !sc.Session.IsAuthenticated() {
			status := http.StatusSeeOther
			if r.Method == http.MethodGet || r.Method == http.MethodHead {
				status = http.StatusFound
			}
			http.Redirect(w, r, "/login", status)
			return
		}
		next.ServeHTTP(w, r)
	})
}
