package handler

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/sandeepkv93/reading-diary/internal/domain"
	"github.com/sandeepkv93/reading-diary/internal/http/middleware"
	"github.com/sandeepkv93/reading-diary/internal/http/view"
	"github.com/sandeepkv93/reading-diary/internal/security"
)

const testSecret = "abcdefghijklmnopqrstuvwxyz123456"

func newViewsForTest(t *testing.T) *view.Renderer {
	t.Helper()
	v, err := view.New()
	if err != nil {
		t.Fatalf("views: %v", err)
	}
	return v
}

func formRequest(method, target string, form url.Values) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.RemoteAddr = "203.0.113.5:4000"
	return req
}

func withSession(req *http.Request, sc middleware.SessionContext) *http.Request {
	return req.WithContext(middleware.WithSession(req.Context(), sc))
}

func pendingSession(token string, userID uint) middleware.SessionContext {
	return middleware.SessionContext{
		Token:   token,
		Session: &domain.Session{ID: "pending", PendingID: &userID, PendingEmail: "a@x.com"},
	}
}

func authenticatedSession(token string, user *domain.User) middleware.SessionContext {
	uid := user.ID
	return middleware.SessionContext{
		Token:   token,
		Session: &domain.Session{ID: "auth", UserID: &uid, ExpiresAt: time.Now().Add(time.Hour)},
		User:    user,
	}
}

func cookieNamed(rr *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rr.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func signerForTest() *security.TokenSigner { return security.NewTokenSigner(testSecret) }
