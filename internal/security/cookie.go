package security

import (
	"net/http"
	"strings"
	"time"
)

const (
	SessionCookieName = "diary_session"
	CSRFCookieName    = "csrf_token"
)

type CookieManager struct {
	Domain   string
	Secure   bool
	SameSite http.SameSite
}

// NewCookieManager maps the configured SameSite name, defaulting to lax.
// Browsers drop SameSite=None cookies that are not Secure, so none forces it.
func NewCookieManager(domain string, secure bool, sameSite string) *CookieManager {
	mode := http.SameSiteLaxMode
	switch strings.ToLower(strings.TrimSpace(sameSite)) {
	case "strict":
		mode = http.SameSiteStrictMode
	case "none":
		mode = http.SameSiteNoneMode
		secure = true
	}
	return &CookieManager{Domain: domain, Secure: secure, SameSite: mode}
}

func (m *CookieManager) SetSessionCookie(w http.ResponseWriter, value string, ttl time.Duration) {
	http.SetCookie(w, m.cookie(SessionCookieName, value, int(ttl.Seconds()), true))
}

// SetCSRFCookie is readable by scripts so forms can echo it back.
func (m *CookieManager) SetCSRFCookie(w http.ResponseWriter, value string, ttl time.Duration) {
	http.SetCookie(w, m.cookie(CSRFCookieName, value, int(ttl.Seconds()), false))
}

func (m *CookieManager) ClearSessionCookies(w http.ResponseWriter) {
	http.SetCookie(w, m.cookie(SessionCookieName, "", -1, true))
	http.SetCookie(w, m.cookie(CSRFCookieName, "", -1, false))
}

func (m *CookieManager) cookie(name, value string, maxAge int, httpOnly bool) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   m.Domain,
		MaxAge:   maxAge,
		HttpOnly: httpOnly,
		Secure:   m.Secure,
		SameSite: m.SameSite,
	}
}

func GetCookie(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}
