package router

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/sandeepkv93/reading-diary/internal/config"
	"github.com/sandeepkv93/reading-diary/internal/database"
	"github.com/sandeepkv93/reading-diary/internal/health"
	"github.com/sandeepkv93/reading-diary/internal/http/handler"
	"github.com/sandeepkv93/reading-diary/internal/http/middleware"
	"github.com/sandeepkv93/reading-diary/internal/http/view"
	"github.com/sandeepkv93/reading-diary/internal/mail"
	"github.com/sandeepkv93/reading-diary/internal/repository"
	"github.com/sandeepkv93/reading-diary/internal/security"
	"github.com/sandeepkv93/reading-diary/internal/service"
)

type diaryApp struct {
	server *httptest.Server
	client *http.Client
	users  repository.UserRepository
}

func newDiaryAppForTest(t *testing.T) *diaryApp {
	t.Helper()
	dsn := fmt.Sprintf("file:router_%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), database.GormConfig(logger.Silent))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	cfg := &config.Config{
		AuthSignupPolicy:          config.SignupPolicyLoginRequired,
		AuthVerifyRequirePassword: true,
		AuthClearCodeOnVerify:     true,
		MailFrom:                  "diary@example.com",
		MailDeliveryTimeout:       time.Second,
		PasswordResetTokenTTL:     15 * time.Minute,
		PasswordResetBaseURL:      "http://localhost/password/reset",
		SessionTTL:                time.Hour,
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	users := repository.NewUserRepository(db)
	gate := service.NewSessionGate(repository.NewGormSessionStore(db), cfg.SessionTTL)
	dispatcher := service.NewDeliveryDispatcher(mail.NewLogSender(log), cfg, log)
	t.Cleanup(func() { _ = dispatcher.Close(context.Background()) })
	authSvc := service.NewAuthService(cfg, users, repository.NewPasswordResetTokenRepository(db), security.DigestHasher{},
		service.NewCodeIssuer(users, service.RandomCodeGenerator{}), dispatcher, gate, service.NewAuthAbuseGuard(cfg, nil), log)
	diarySvc := service.NewDiaryService(repository.NewStoryRepository(db), repository.NewDiaryEntryRepository(db), nil, log)
	userSvc := service.NewUserService(users, nil, log)

	views, err := view.New()
	if err != nil {
		t.Fatalf("views: %v", err)
	}
	cookies := security.NewCookieManager("", false, "lax")
	signer := security.NewTokenSigner("abcdefghijklmnopqrstuvwxyz123456")

	h := NewRouter(Dependencies{
		AuthHandler:  handler.NewAuthHandler(authSvc, views, cookies, signer, handler.AuthPolicy{SessionTTL: cfg.SessionTTL, VerifyRequirePassword: true}),
		DiaryHandler: handler.NewDiaryHandler(diarySvc, views),
		UserHandler:  handler.NewUserHandler(userSvc, views, false),
		Sessions:     gate,
		Users:        authSvc,
		Signer:       signer,
		Cookies:      cookies,
		CSRFTTL:      cfg.SessionTTL,
		AuthLimiter:  middleware.NewRateLimiter(100, time.Minute, "auth").Middleware(),
		Readiness:    health.NewProbeRunner(time.Second, 0, health.NewDBChecker(db), health.NewSchemaChecker(db)),
	})
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	jar, _ := cookiejar.New(nil)
	return &diaryApp{server: srv, client: &http.Client{Jar: jar}, users: users}
}

func (a *diaryApp) csrf(t *testing.T) string {
	t.Helper()
	u, _ := url.Parse(a.server.URL)
	for _, c := range a.client.Jar.Cookies(u) {
		if c.Name == security.CSRFCookieName {
			return c.Value
		}
	}
	t.Fatal("no csrf cookie in jar")
	return ""
}

func (a *diaryApp) get(t *testing.T, path string) (*http.Response, string) {
	t.Helper()
	resp, err := a.client.Get(a.server.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp, string(body)
}

func (a *diaryApp) post(t *testing.T, path string, form url.Values) (*http.Response, string) {
	t.Helper()
	form.Set(middleware.CSRFFormField, a.csrf(t))
	resp, err := a.client.PostForm(a.server.URL+path, form)
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp, string(body)
}

func TestSignupLoginVerifyDiaryFlow(t *testing.T) {
	app := newDiaryAppForTest(t)

	if resp, _ := app.get(t, "/signup"); resp.StatusCode != http.StatusOK {
		t.Fatalf("signup form: %d", resp.StatusCode)
	}
	resp, body := app.post(t, "/signup", url.Values{"name": {"Ana"}, "email": {"a@x.com"}, "password": {"pw1"}})
	if resp.Request.URL.Path != "/login" || !strings.Contains(body, "Account created") {
		t.Fatalf("expected login page after signup, got %s", resp.Request.URL)
	}

	resp, body = app.post(t, "/signup", url.Values{"name": {"Ana"}, "email": {"a@x.com"}, "password": {"pw1"}})
	if resp.StatusCode != http.StatusConflict || !strings.Contains(body, "Email already exists.") {
		t.Fatalf("expected duplicate rejection, got %d", resp.StatusCode)
	}

	if resp, _ := app.get(t, "/dashboard"); resp.Request.URL.Path != "/login" {
		t.Fatalf("expected anonymous dashboard to land on login, got %s", resp.Request.URL.Path)
	}

	resp, _ = app.post(t, "/login", url.Values{"email": {"a@x.com"}, "password": {"pw1"}})
	if resp.Request.URL.Path != "/verify" || resp.StatusCode != http.StatusOK {
		t.Fatalf("expected verify page, got %d %s", resp.StatusCode, resp.Request.URL.Path)
	}
	if resp, _ := app.get(t, "/dashboard"); resp.Request.URL.Path != "/login" {
		t.Fatalf("pending session must not reach dashboard, got %s", resp.Request.URL.Path)
	}

	user, err := app.users.FindByEmail(context.Background(), "a@x.com")
	if err != nil || !user.HasPendingCode() {
		t.Fatalf("expected stored code, err=%v", err)
	}
	wrong := "000000"
	if *user.VerificationCode == wrong {
		wrong = "111111"
	}
	resp, body = app.post(t, "/verify", url.Values{"code": {wrong}, "password": {"pw1"}})
	if resp.StatusCode != http.StatusUnauthorized || !strings.Contains(body, "Invalid code or password.") {
		t.Fatalf("expected code mismatch, got %d", resp.StatusCode)
	}
	resp, body = app.post(t, "/verify", url.Values{"code": {*user.VerificationCode}, "password": {"pw1"}})
	if resp.Request.URL.Path != "/dashboard" || !strings.Contains(body, "Welcome, Ana") {
		t.Fatalf("expected dashboard after verify, got %s", resp.Request.URL.Path)
	}

	resp, body = app.post(t, "/story", url.Values{"story": {"It was a dark and stormy night"}})
	if resp.Request.URL.Path != "/story" || !strings.Contains(body, "It was a dark and stormy night") {
		t.Fatalf("expected saved story, got %s", resp.Request.URL.Path)
	}
	_, body = app.post(t, "/story", url.Values{"story": {"A second draft"}})
	if strings.Contains(body, "stormy night") || !strings.Contains(body, "A second draft") {
		t.Fatal("expected story to be replaced")
	}

	_, body = app.post(t, "/diary", url.Values{"content": {"finished dune"}, "genre": {"Sci-Fi"}})
	if !strings.Contains(body, "finished dune") || !strings.Contains(body, "sci-fi") {
		t.Fatal("expected diary entry in log")
	}

	resp, _ = app.get(t, "/logout")
	if resp.Request.URL.Path != "/" {
		t.Fatalf("expected entry point after logout, got %s", resp.Request.URL.Path)
	}
	if resp, _ := app.get(t, "/story"); resp.Request.URL.Path != "/login" {
		t.Fatalf("expected logged out story to land on login, got %s", resp.Request.URL.Path)
	}
}

func TestVerifyWithoutPendingRedirectsToLogin(t *testing.T) {
	app := newDiaryAppForTest(t)
	app.get(t, "/login")

	resp, _ := app.post(t, "/verify", url.Values{"code": {"123456"}})
	if resp.Request.URL.Path != "/login" {
		t.Fatalf("expected redirect to login, got %s", resp.Request.URL.Path)
	}
}

func TestPostWithoutCSRFIsForbidden(t *testing.T) {
	app := newDiaryAppForTest(t)
	resp, err := app.client.PostForm(app.server.URL+"/login", url.Values{"email": {"a@x.com"}})
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
}

func TestHealthEndpoints(t *testing.T) {
	app := newDiaryAppForTest(t)

	resp, body := app.get(t, "/health/live")
	if resp.StatusCode != http.StatusOK || !strings.Contains(body, `"status":"ok"`) {
		t.Fatalf("unexpected live response %d %s", resp.StatusCode, body)
	}

	resp, body = app.get(t, "/health/ready")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected ready, got %d %s", resp.StatusCode, body)
	}
	var env struct {
		Data struct {
			Checks []health.CheckResult `json:"checks"`
		} `json:"data"`
	}
	if err := json.Unmarshal([]byte(body), &env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(env.Data.Checks) != 2 {
		t.Fatalf("expected db and schema checks, got %+v", env.Data.Checks)
	}
	if resp.Header.Get("X-Content-Type-Options") != "nosniff" {
		t.Fatal("expected security headers on probes")
	}
}
