package handler

import (
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/sandeepkv93/reading-diary/internal/http/middleware"
	"github.com/sandeepkv93/reading-diary/internal/http/view"
	"github.com/sandeepkv93/reading-diary/internal/service"
)

const (
	msgInternal  = "Something went wrong. Please try again."
	msgThrottled = "Too many attempts. Please wait a moment and try again."
)

// basePage seeds every view with the CSRF token and the signed-in user.
func basePage(r *http.Request, title string) view.Page {
	p := view.Page{Title: title, CSRFToken: middleware.CSRFTokenFromContext(r.Context())}
	if sc, ok := middleware.SessionFromContext(r.Context()); ok {
		p.User = sc.User
	}
	return p
}

func sessionOf(r *http.Request) middleware.SessionContext {
	sc, _ := middleware.SessionFromContext(r.Context())
	return sc
}

// currentUserID is only called behind RequireAuthenticated.
func currentUserID(r *http.Request) (uint, bool) {
	sc := sessionOf(r)
	if sc.User == nil {
		return 0, false
	}
	return sc.User.ID, true
}

// inputMessage returns the user-facing text of a validation error.
func inputMessage(err error) (string, bool) {
	var inErr *service.InputError
	if errors.As(err, &inErr) {
		return capitalize(inErr.Message) + ".", true
	}
	return "", false
}

func throttled(w http.ResponseWriter, err error) bool {
	var te *service.ThrottledError
	if !errors.As(err, &te) {
		return errors.Is(err, service.ErrAuthThrottled)
	}
	seconds := int(te.RetryAfter.Round(time.Second).Seconds())
	if seconds < 1 {
		seconds = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(seconds))
	return true
}

func capitalize(s string) string {
	if s == "" || s[0] < 'a' || s[0] > 'z' {
		return s
	}
	return string(s[0]-'a'+'A') + s[1:]
}

// clientIP reads RemoteAddr after chi's RealIP has rewritten it.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func formatID(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}
