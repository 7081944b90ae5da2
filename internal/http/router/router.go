package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/sandeepkv93/reading-diary/internal/health"
	"github.com/sandeepkv93/reading-diary/internal/http/handler"
	"github.com/sandeepkv93/reading-diary/internal/http/middleware"
	"github.com/sandeepkv93/reading-diary/internal/http/response"
	"github.com/sandeepkv93/reading-diary/internal/security"
	"github.com/sandeepkv93/reading-diary/internal/service"
)

const (
	defaultBodyLimit = 1 << 20
	avatarBodyLimit  = 6 << 20
)

type Dependencies struct {
	AuthHandler   *handler.AuthHandler
	DiaryHandler  *handler.DiaryHandler
	UserHandler   *handler.UserHandler
	Sessions      service.SessionLoader
	Users         middleware.CurrentUserResolver
	Signer        *security.TokenSigner
	Cookies       *security.CookieManager
	CSRFTTL       time.Duration
	GlobalLimiter RateLimiterFunc
	AuthLimiter   RateLimiterFunc
	WriteLimiter  RateLimiterFunc
	Readiness     *health.ProbeRunner
	EnableOTel    bool
}

type RateLimiterFunc func(http.Handler) http.Handler

func passthrough(next http.Handler) http.Handler { return next }

func orPassthrough(mw RateLimiterFunc) func(http.Handler) http.Handler {
	if mw == nil {
		return passthrough
	}
	return mw
}

func NewRouter(dep Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.StructuredRequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.SecurityHeaders)

	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		ready, results := dep.Readiness.Ready(r.Context())
		if ready {
			response.JSON(w, r, http.StatusOK, map[string]any{"status": "ready", "checks": results})
			return
		}
		response.Error(w, r, http.StatusServiceUnavailable, "DEPENDENCY_UNREADY", "dependencies are not ready", map[string]any{"checks": results})
	})

	authLimiter := orPassthrough(dep.AuthLimiter)
	writeLimiter := orPassthrough(dep.WriteLimiter)

	r.Group(func(r chi.Router) {
		r.Use(orPassthrough(dep.GlobalLimiter))
		r.Use(middleware.LoadSession(dep.Sessions, dep.Users, dep.Signer))

		// Avatar bodies get their own larger limit; nesting it under the
		// default one would cap them at 1MB.
		r.With(middleware.BodyLimit(avatarBodyLimit), middleware.RequireAuthenticated, writeLimiter, middleware.CSRF(dep.Cookies, dep.CSRFTTL)).
			Post("/profile/avatar", dep.UserHandler.UploadAvatar)

		r.Group(func(r chi.Router) {
			r.Use(middleware.BodyLimit(defaultBodyLimit))
			r.Use(middleware.CSRF(dep.Cookies, dep.CSRFTTL))

			r.Get("/", dep.AuthHandler.SignupForm)
			r.Get("/signup", dep.AuthHandler.SignupForm)
			r.With(authLimiter).Post("/", dep.AuthHandler.Signup)
			r.With(authLimiter).Post("/signup", dep.AuthHandler.Signup)
			r.Get("/login", dep.AuthHandler.LoginForm)
			r.With(authLimiter).Post("/login", dep.AuthHandler.Login)
			r.Get("/verify", dep.AuthHandler.VerifyForm)
			r.With(authLimiter).Post("/verify", dep.AuthHandler.Verify)
			r.Get("/logout", dep.AuthHandler.Logout)
			r.Post("/logout", dep.AuthHandler.Logout)

			r.Route("/password", func(r chi.Router) {
				r.Get("/forgot", dep.AuthHandler.ForgotForm)
				r.With(authLimiter).Post("/forgot", dep.AuthHandler.Forgot)
				r.Get("/reset", dep.AuthHandler.ResetForm)
				r.With(authLimiter).Post("/reset", dep.AuthHandler.Reset)
			})

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireAuthenticated)
				r.Get("/dashboard", dep.DiaryHandler.Dashboard)
				r.Get("/profile", dep.UserHandler.Profile)
				r.Get("/story", dep.DiaryHandler.StoryForm)
				r.With(writeLimiter).Post("/story", dep.DiaryHandler.SaveStory)
				r.Get("/diary", dep.DiaryHandler.DiaryList)
				r.With(writeLimiter).Post("/diary", dep.DiaryHandler.AppendEntry)
			})
		})
	})

	var h http.Handler = r
	if dep.EnableOTel {
		h = otelhttp.NewHandler(r, "http.server")
	}
	return h
}
