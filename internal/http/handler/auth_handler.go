package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sandeepkv93/reading-diary/internal/http/response"
	"github.com/sandeepkv93/reading-diary/internal/http/view"
	"github.com/sandeepkv93/reading-diary/internal/observability"
	"github.com/sandeepkv93/reading-diary/internal/security"
	"github.com/sandeepkv93/reading-diary/internal/service"
)

// AuthPolicy carries the config switches that change what the auth pages show.
type AuthPolicy struct {
	SessionTTL            time.Duration
	RevealUnknownEmail    bool
	VerifyRequirePassword bool
}

type AuthHandler struct {
	authSvc service.AuthServiceInterface
	views   *view.Renderer
	cookies *security.CookieManager
	signer  *security.TokenSigner
	policy  AuthPolicy
}

func NewAuthHandler(authSvc service.AuthServiceInterface, views *view.Renderer, cookies *security.CookieManager, signer *security.TokenSigner, policy AuthPolicy) *AuthHandler {
	return &AuthHandler{authSvc: authSvc, views: views, cookies: cookies, signer: signer, policy: policy}
}

func (h *AuthHandler) SignupForm(w http.ResponseWriter, r *http.Request) {
	if sessionOf(r).User != nil {
		response.SeeOther(w, r, "/dashboard")
		return
	}
	h.views.Render(w, r, http.StatusOK, "signup", basePage(r, "Create account"))
}

func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := "success"
	defer func() {
		observability.RecordAuthRequestDuration(r.Context(), "signup", status, time.Since(start))
	}()

	in := service.SignupInput{
		Name:     r.PostFormValue("name"),
		Email:    r.PostFormValue("email"),
		Password: r.PostFormValue("password"),
	}
	page := basePage(r, "Create account")
	page.Form = map[string]string{"name": in.Name, "email": in.Email}

	result, err := h.authSvc.Signup(r.Context(), in, sessionOf(r).Token)
	if err != nil {
		status = "failure"
		switch {
		case errors.Is(err, service.ErrDuplicateEmail):
			observability.Audit(r, observability.AuditInput{EventName: "auth.signup", Action: "signup", Outcome: "failure", Reason: "duplicate_email"})
			page.Error = "Email already exists."
			h.views.Render(w, r, http.StatusConflict, "signup", page)
		case errors.Is(err, service.ErrWeakPassword):
			page.Error = "Please choose a password."
			h.views.Render(w, r, http.StatusBadRequest, "signup", page)
		default:
			if msg, ok := inputMessage(err); ok {
				page.Error = msg
				h.views.Render(w, r, http.StatusBadRequest, "signup", page)
				return
			}
			slog.ErrorContext(r.Context(), "signup failed", "error", err)
			page.Error = msgInternal
			h.views.Render(w, r, http.StatusInternalServerError, "signup", page)
		}
		return
	}

	observability.Audit(r, observability.AuditInput{
		EventName: "auth.signup", ActorUserID: formatID(result.User.ID),
		TargetType: "user", TargetID: formatID(result.User.ID),
		Action: "signup", Outcome: "success",
	})
	if result.Token != "" {
		h.setSession(w, result.Token)
		response.SeeOther(w, r, "/dashboard")
		return
	}
	response.SeeOther(w, r, "/login?created=1")
}

func (h *AuthHandler) LoginForm(w http.ResponseWriter, r *http.Request) {
	if sessionOf(r).User != nil {
		response.SeeOther(w, r, "/dashboard")
		return
	}
	page := basePage(r, "Log in")
	switch {
	case r.URL.Query().Get("created") != "":
		page.Notice = "Account created. Please log in."
	case r.URL.Query().Get("reset") != "":
		page.Notice = "Password updated. Please log in."
	}
	h.views.Render(w, r, http.StatusOK, "login", page)
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := "success"
	defer func() {
		observability.RecordAuthRequestDuration(r.Context(), "login", status, time.Since(start))
	}()

	email := r.PostFormValue("email")
	page := basePage(r, "Log in")
	page.Form = map[string]string{"email": email}

	result, err := h.authSvc.Login(r.Context(), email, r.PostFormValue("password"), sessionOf(r).Token, clientIP(r))
	if err != nil {
		status = "failure"
		switch {
		case throttled(w, err):
			observability.Audit(r, observability.AuditInput{EventName: "auth.login", Action: "login", Outcome: "failure", Reason: "throttled"})
			page.Error = msgThrottled
			h.views.Render(w, r, http.StatusTooManyRequests, "login", page)
		case errors.Is(err, service.ErrEmailNotFound):
			observability.Audit(r, observability.AuditInput{EventName: "auth.login", Action: "login", Outcome: "failure", Reason: "unknown_email"})
			page.Error = "Invalid email or password."
			if h.policy.RevealUnknownEmail {
				page.Error = "Email not found."
			}
			h.views.Render(w, r, http.StatusUnauthorized, "login", page)
		case errors.Is(err, service.ErrInvalidCredentials), errors.Is(err, service.ErrWeakPassword):
			observability.Audit(r, observability.AuditInput{EventName: "auth.login", Action: "login", Outcome: "failure", Reason: "invalid_credentials"})
			page.Error = "Invalid email or password."
			h.views.Render(w, r, http.StatusUnauthorized, "login", page)
		default:
			if msg, ok := inputMessage(err); ok {
				page.Error = msg
				h.views.Render(w, r, http.StatusBadRequest, "login", page)
				return
			}
			slog.ErrorContext(r.Context(), "login failed", "error", err)
			page.Error = msgInternal
			h.views.Render(w, r, http.StatusInternalServerError, "login", page)
		}
		return
	}

	observability.Audit(r, observability.AuditInput{
		EventName: "auth.login", ActorUserID: formatID(result.User.ID),
		TargetType: "user", TargetID: formatID(result.User.ID),
		Action: "login", Outcome: "pending_verification",
	})
	h.setSession(w, result.Token)
	response.SeeOther(w, r, "/verify")
}

func (h *AuthHandler) VerifyForm(w http.ResponseWriter, r *http.Request) {
	sc := sessionOf(r)
	if sc.User != nil {
		response.SeeOther(w, r, "/dashboard")
		return
	}
	if !sc.Session.IsPending() {
		response.SeeOther(w, r, "/login")
		return
	}
	page := basePage(r, "Verify")
	page.RequirePassword = h.policy.VerifyRequirePassword
	h.views.Render(w, r, http.StatusOK, "verify", page)
}

func (h *AuthHandler) Verify(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := "success"
	defer func() {
		observability.RecordAuthRequestDuration(r.Context(), "verify", status, time.Since(start))
	}()

	page := basePage(r, "Verify")
	page.RequirePassword = h.policy.VerifyRequirePassword

	result, err := h.authSvc.Verify(r.Context(), sessionOf(r).Token, r.PostFormValue("code"), r.PostFormValue("password"), clientIP(r))
	if err != nil {
		status = "failure"
		switch {
		case errors.Is(err, service.ErrNoPendingVerification):
			response.SeeOther(w, r, "/login")
		case throttled(w, err):
			observability.Audit(r, observability.AuditInput{EventName: "auth.verify", Action: "verify", Outcome: "failure", Reason: "throttled"})
			page.Error = msgThrottled
			h.views.Render(w, r, http.StatusTooManyRequests, "verify", page)
		case errors.Is(err, service.ErrInvalidCode), errors.Is(err, service.ErrInvalidCredentials):
			observability.Audit(r, observability.AuditInput{EventName: "auth.verify", Action: "verify", Outcome: "failure", Reason: "invalid_code"})
			page.Error = "Invalid code or password."
			h.views.Render(w, r, http.StatusUnauthorized, "verify", page)
		default:
			slog.ErrorContext(r.Context(), "verify failed", "error", err)
			page.Error = msgInternal
			h.views.Render(w, r, http.StatusInternalServerError, "verify", page)
		}
		return
	}

	observability.Audit(r, observability.AuditInput{
		EventName: "auth.verify", ActorUserID: formatID(result.User.ID),
		TargetType: "session", TargetID: result.Session.ID,
		Action: "verify", Outcome: "success",
	})
	h.setSession(w, result.Token)
	response.SeeOther(w, r, "/dashboard")
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := "success"
	defer func() {
		observability.RecordAuthRequestDuration(r.Context(), "logout", status, time.Since(start))
	}()

	sc := sessionOf(r)
	if err := h.authSvc.Logout(r.Context(), sc.Token); err != nil {
		status = "failure"
		slog.WarnContext(r.Context(), "logout failed to end session", "error", err)
	}
	actor := ""
	if sc.User != nil {
		actor = formatID(sc.User.ID)
	}
	observability.Audit(r, observability.AuditInput{EventName: "auth.logout", ActorUserID: actor, Action: "logout", Outcome: status})
	h.cookies.ClearSessionCookies(w)
	response.SeeOther(w, r, "/")
}

func (h *AuthHandler) ForgotForm(w http.ResponseWriter, r *http.Request) {
	h.views.Render(w, r, http.StatusOK, "forgot", basePage(r, "Reset password"))
}

func (h *AuthHandler) Forgot(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := "success"
	defer func() {
		observability.RecordAuthRequestDuration(r.Context(), "password_forgot", status, time.Since(start))
	}()

	page := basePage(r, "Reset password")
	err := h.authSvc.ForgotPassword(r.Context(), r.PostFormValue("email"), clientIP(r))
	if err != nil {
		status = "failure"
		if throttled(w, err) {
			page.Error = msgThrottled
			h.views.Render(w, r, http.StatusTooManyRequests, "forgot", page)
			return
		}
		if msg, ok := inputMessage(err); ok {
			page.Error = msg
			h.views.Render(w, r, http.StatusBadRequest, "forgot", page)
			return
		}
		slog.ErrorContext(r.Context(), "password forgot failed", "error", err)
		page.Error = msgInternal
		h.views.Render(w, r, http.StatusInternalServerError, "forgot", page)
		return
	}
	observability.Audit(r, observability.AuditInput{EventName: "auth.password.forgot", Action: "password_forgot", Outcome: "accepted"})
	page.Notice = "If an account exists for that email, a reset link is on its way."
	h.views.Render(w, r, http.StatusOK, "forgot", page)
}

func (h *AuthHandler) ResetForm(w http.ResponseWriter, r *http.Request) {
	page := basePage(r, "Choose a new password")
	page.ResetToken = strings.TrimSpace(r.URL.Query().Get("token"))
	if page.ResetToken == "" {
		page.Error = "This reset link is invalid or has expired."
		h.views.Render(w, r, http.StatusBadRequest, "reset", page)
		return
	}
	h.views.Render(w, r, http.StatusOK, "reset", page)
}

func (h *AuthHandler) Reset(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := "success"
	defer func() {
		observability.RecordAuthRequestDuration(r.Context(), "password_reset", status, time.Since(start))
	}()

	token := strings.TrimSpace(r.PostFormValue("token"))
	page := basePage(r, "Choose a new password")
	page.ResetToken = token

	err := h.authSvc.ResetPassword(r.Context(), token, r.PostFormValue("new_password"))
	if err != nil {
		status = "failure"
		switch {
		case errors.Is(err, service.ErrInvalidResetToken):
			observability.Audit(r, observability.AuditInput{EventName: "auth.password.reset", Action: "password_reset", Outcome: "failure", Reason: "invalid_token"})
			page.Error = "This reset link is invalid or has expired."
			h.views.Render(w, r, http.StatusBadRequest, "reset", page)
		case errors.Is(err, service.ErrWeakPassword):
			page.Error = "Please choose a password."
			h.views.Render(w, r, http.StatusBadRequest, "reset", page)
		default:
			slog.ErrorContext(r.Context(), "password reset failed", "error", err)
			page.Error = msgInternal
			h.views.Render(w, r, http.StatusInternalServerError, "reset", page)
		}
		return
	}
	observability.Audit(r, observability.AuditInput{EventName: "auth.password.reset", Action: "password_reset", Outcome: "success"})
	response.SeeOther(w, r, "/login?reset=1")
}

func (h *AuthHandler) setSession(w http.ResponseWriter, token string) {
	if token == "" {
		return
	}
	h.cookies.SetSessionCookie(w, h.signer.Sign(token), h.policy.SessionTTL)
}
