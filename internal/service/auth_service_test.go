package service

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"go.uber.org/mock/gomock"

	"github.com/sandeepkv93/reading-diary/internal/config"
	"github.com/sandeepkv93/reading-diary/internal/domain"
	"github.com/sandeepkv93/reading-diary/internal/repository"
	"github.com/sandeepkv93/reading-diary/internal/security"
)

type authServiceFixture struct {
	cfg      *config.Config
	auth     *AuthService
	gate     *SessionGate
	users    *userRepoState
	resets   *resetRepoState
	delivery *recordingDelivery
	codes    *sequenceCodeGenerator
}

func newAuthServiceFixture(t *testing.T, mutate func(*config.Config)) *authServiceFixture {
	t.Helper()
	cfg := &config.Config{
		AuthSignupPolicy:          config.SignupPolicyLoginRequired,
		AuthVerifyRequirePassword: true,
		AuthClearCodeOnVerify:     true,
		MailFrom:                  "diary@example.com",
		PasswordResetTokenTTL:     15 * time.Minute,
		PasswordResetBaseURL:      "http://localhost:8080/password/reset",
		SessionTTL:                time.Hour,
	}
	if mutate != nil {
		mutate(cfg)
	}

	db := newServiceDBForTest(t)
	ctrl := gomock.NewController(t)
	users := newUserRepoState()
	resets := newResetRepoState(users)
	usersMock := newMockUserRepository(ctrl, users)
	codes := &sequenceCodeGenerator{codes: []string{"482913"}}
	delivery := newRecordingDelivery()
	gate := NewSessionGate(repository.NewGormSessionStore(db), cfg.SessionTTL)

	auth := NewAuthService(
		cfg,
		usersMock,
		resets,
		security.DigestHasher{},
		NewCodeIssuer(usersMock, codes),
		delivery,
		gate,
		NewAuthAbuseGuard(cfg, nil),
		discardLogger(),
	)
	return &authServiceFixture{cfg: cfg, auth: auth, gate: gate, users: users, resets: resets, delivery: delivery, codes: codes}
}

func (fx *authServiceFixture) signup(t *testing.T, name, email, password string) *domain.User {
	t.Helper()
	res, err := fx.auth.Signup(context.Background(), SignupInput{Name: name, Email: email, Password: password}, "")
	if err != nil {
		t.Fatalf("signup %s: %v", email, err)
	}
	return res.User
}

func TestAuthServiceSignupLoginVerifyFlow(t *testing.T) {
	fx := newAuthServiceFixture(t, nil)
	ctx := context.Background()

	signup, err := fx.auth.Signup(ctx, SignupInput{Name: "Ana", Email: "ana@x.io", Password: "pw1"}, "")
	if err != nil {
		t.Fatalf("signup: %v", err)
	}
	if signup.Token != "" || signup.Session != nil {
		t.Fatal("expected signup without auto login to leave the session alone")
	}
	if signup.User.PasswordHash == "pw1" || signup.User.VerificationCode != nil {
		t.Fatalf("unexpected stored user %+v", signup.User)
	}

	login, err := fx.auth.Login(ctx, "ana@x.io", "pw1", "", "10.0.0.1")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if login.Token == "" || !login.Session.IsPending() {
		t.Fatalf("expected pending session, got %+v", login.Session)
	}
	if got := fx.delivery.codeFor("ana@x.io"); got != "482913" {
		t.Fatalf("expected delivered code 482913, got %q", got)
	}
	if got := fx.users.code(signup.User.ID); got != "482913" {
		t.Fatalf("expected stored code 482913, got %q", got)
	}
	if _, err := fx.auth.CurrentUser(ctx, login.Session); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("expected pending session to be unauthenticated, got %v", err)
	}

	verified, err := fx.auth.Verify(ctx, login.Token, "482913", "pw1", "10.0.0.1")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if verified.Token == "" || verified.Token == login.Token {
		t.Fatal("expected verify to rotate the session token")
	}
	if !verified.Session.IsAuthenticated() {
		t.Fatalf("expected authenticated session, got %s", verified.Session.State())
	}
	if _, err := fx.gate.Load(ctx, login.Token); !errors.Is(err, repository.ErrSessionNotFound) {
		t.Fatalf("expected pending token to be gone, got %v", err)
	}
	if got := fx.users.code(signup.User.ID); got != "" {
		t.Fatalf("expected code cleared after verify, got %q", got)
	}

	current, err := fx.auth.CurrentUser(ctx, verified.Session)
	if err != nil {
		t.Fatalf("current user: %v", err)
	}
	if current.Name != "Ana" || current.Email != "ana@x.io" {
		t.Fatalf("unexpected current user %+v", current)
	}
}

func TestAuthServiceSignupMatrix(t *testing.T) {
	t.Run("missing name", func(t *testing.T) {
		fx := newAuthServiceFixture(t, nil)
		_, err := fx.auth.Signup(context.Background(), SignupInput{Name: "  ", Email: "a@x.io", Password: "pw"}, "")
		if err == nil || !strings.Contains(err.Error(), "name is required") {
			t.Fatalf("expected name required error, got %v", err)
		}
	})

	t.Run("invalid email", func(t *testing.T) {
		fx := newAuthServiceFixture(t, nil)
		_, err := fx.auth.Signup(context.Background(), SignupInput{Name: "A", Email: "not-an-email", Password: "pw"}, "")
		if err == nil || !strings.Contains(err.Error(), "invalid email") {
			t.Fatalf("expected invalid email error, got %v", err)
		}
	})

	t.Run("empty password", func(t *testing.T) {
		fx := newAuthServiceFixture(t, nil)
		_, err := fx.auth.Signup(context.Background(), SignupInput{Name: "A", Email: "a@x.io", Password: ""}, "")
		if !errors.Is(err, ErrWeakPassword) {
			t.Fatalf("expected ErrWeakPassword, got %v", err)
		}
	})

	t.Run("duplicate email ignores case", func(t *testing.T) {
		fx := newAuthServiceFixture(t, nil)
		fx.signup(t, "Ana", "ana@x.io", "pw1")
		_, err := fx.auth.Signup(context.Background(), SignupInput{Name: "Other", Email: " ANA@x.io ", Password: "pw2"}, "")
		if !errors.Is(err, ErrDuplicateEmail) {
			t.Fatalf("expected ErrDuplicateEmail, got %v", err)
		}
	})

	t.Run("auto login authenticates immediately", func(t *testing.T) {
		fx := newAuthServiceFixture(t, func(cfg *config.Config) {
			cfg.AuthSignupPolicy = config.SignupPolicyAutoLogin
		})
		res, err := fx.auth.Signup(context.Background(), SignupInput{Name: "Ana", Email: "ana@x.io", Password: "pw1"}, "")
		if err != nil {
			t.Fatalf("signup: %v", err)
		}
		if res.Token == "" || !res.Session.IsAuthenticated() {
			t.Fatalf("expected authenticated session, got %+v", res.Session)
		}
		if uid, ok := res.Session.CurrentUserID(); !ok || uid != res.User.ID {
			t.Fatalf("expected session for user %d, got %d", res.User.ID, uid)
		}
	})
}

func TestAuthServiceLoginFailures(t *testing.T) {
	fx := newAuthServiceFixture(t, nil)
	ctx := context.Background()
	user := fx.signup(t, "Ana", "ana@x.io", "pw1")

	if _, err := fx.auth.Login(ctx, "missing@x.io", "pw1", "", "10.0.0.1"); !errors.Is(err, ErrEmailNotFound) {
		t.Fatalf("expected ErrEmailNotFound, got %v", err)
	}
	if _, err := fx.auth.Login(ctx, "ana@x.io", "wrong", "", "10.0.0.1"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if got := fx.users.code(user.ID); got != "" {
		t.Fatalf("expected no code issued on failed login, got %q", got)
	}
	if got := fx.delivery.codeFor("ana@x.io"); got != "" {
		t.Fatalf("expected nothing delivered, got %q", got)
	}
}

func TestAuthServiceVerifyMismatchKeepsPendingSession(t *testing.T) {
	fx := newAuthServiceFixture(t, nil)
	ctx := context.Background()
	fx.signup(t, "Ana", "ana@x.io", "pw1")

	login, err := fx.auth.Login(ctx, "ana@x.io", "pw1", "", "10.0.0.1")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	if _, err := fx.auth.Verify(ctx, login.Token, "000000", "pw1", "10.0.0.1"); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("expected ErrInvalidCode, got %v", err)
	}
	if _, err := fx.auth.Verify(ctx, login.Token, "482913", "wrong", "10.0.0.1"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}

	sess, err := fx.gate.Load(ctx, login.Token)
	if err != nil {
		t.Fatalf("load pending session: %v", err)
	}
	if !sess.IsPending() || sess.PendingEmail != "ana@x.io" {
		t.Fatalf("expected unchanged pending session, got %+v", sess)
	}

	if _, err := fx.auth.Verify(ctx, login.Token, " 482913 ", "pw1", "10.0.0.1"); err != nil {
		t.Fatalf("expected retry with the right code to succeed, got %v", err)
	}
}

func TestAuthServiceVerifyRequiresPendingSession(t *testing.T) {
	fx := newAuthServiceFixture(t, func(cfg *config.Config) {
		cfg.AuthSignupPolicy = config.SignupPolicyAutoLogin
	})
	ctx := context.Background()

	if _, err := fx.auth.Verify(ctx, "", "482913", "pw1", ""); !errors.Is(err, ErrNoPendingVerification) {
		t.Fatalf("expected ErrNoPendingVerification for anonymous, got %v", err)
	}
	res, err := fx.auth.Signup(ctx, SignupInput{Name: "Ana", Email: "ana@x.io", Password: "pw1"}, "")
	if err != nil {
		t.Fatalf("signup: %v", err)
	}
	if _, err := fx.auth.Verify(ctx, res.Token, "482913", "pw1", ""); !errors.Is(err, ErrNoPendingVerification) {
		t.Fatalf("expected ErrNoPendingVerification for authenticated session, got %v", err)
	}
}

func TestAuthServiceVerifyPolicies(t *testing.T) {
	t.Run("password not required", func(t *testing.T) {
		fx := newAuthServiceFixture(t, func(cfg *config.Config) {
			cfg.AuthVerifyRequirePassword = false
		})
		ctx := context.Background()
		fx.signup(t, "Ana", "ana@x.io", "pw1")
		login, err := fx.auth.Login(ctx, "ana@x.io", "pw1", "", "")
		if err != nil {
			t.Fatalf("login: %v", err)
		}
		if _, err := fx.auth.Verify(ctx, login.Token, "482913", "", ""); err != nil {
			t.Fatalf("verify without password: %v", err)
		}
	})

	t.Run("code kept when clearing is off", func(t *testing.T) {
		fx := newAuthServiceFixture(t, func(cfg *config.Config) {
			cfg.AuthClearCodeOnVerify = false
		})
		ctx := context.Background()
		user := fx.signup(t, "Ana", "ana@x.io", "pw1")
		login, err := fx.auth.Login(ctx, "ana@x.io", "pw1", "", "")
		if err != nil {
			t.Fatalf("login: %v", err)
		}
		if _, err := fx.auth.Verify(ctx, login.Token, "482913", "pw1", ""); err != nil {
			t.Fatalf("verify: %v", err)
		}
		if got := fx.users.code(user.ID); got != "482913" {
			t.Fatalf("expected code to survive verify, got %q", got)
		}
	})

	t.Run("only the latest code verifies", func(t *testing.T) {
		fx := newAuthServiceFixture(t, nil)
		fx.codes.codes = []string{"111111", "222222"}
		ctx := context.Background()
		fx.signup(t, "Ana", "ana@x.io", "pw1")

		first, err := fx.auth.Login(ctx, "ana@x.io", "pw1", "", "")
		if err != nil {
			t.Fatalf("first login: %v", err)
		}
		second, err := fx.auth.Login(ctx, "ana@x.io", "pw1", first.Token, "")
		if err != nil {
			t.Fatalf("second login: %v", err)
		}
		if _, err := fx.gate.Load(ctx, first.Token); !errors.Is(err, repository.ErrSessionNotFound) {
			t.Fatalf("expected first pending token rotated away, got %v", err)
		}
		if _, err := fx.auth.Verify(ctx, second.Token, "111111", "pw1", ""); !errors.Is(err, ErrInvalidCode) {
			t.Fatalf("expected stale code rejected, got %v", err)
		}
		if _, err := fx.auth.Verify(ctx, second.Token, "222222", "pw1", ""); err != nil {
			t.Fatalf("verify latest code: %v", err)
		}
	})
}

func TestAuthServiceLogout(t *testing.T) {
	fx := newAuthServiceFixture(t, func(cfg *config.Config) {
		cfg.AuthSignupPolicy = config.SignupPolicyAutoLogin
	})
	ctx := context.Background()

	res, err := fx.auth.Signup(ctx, SignupInput{Name: "Ana", Email: "ana@x.io", Password: "pw1"}, "")
	if err != nil {
		t.Fatalf("signup: %v", err)
	}
	if err := fx.auth.Logout(ctx, res.Token); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := fx.gate.Load(ctx, res.Token); !errors.Is(err, repository.ErrSessionNotFound) {
		t.Fatalf("expected session removed, got %v", err)
	}
	if err := fx.auth.Logout(ctx, res.Token); err != nil {
		t.Fatalf("expected repeated logout to be a no-op, got %v", err)
	}
	if _, err := fx.auth.CurrentUser(ctx, nil); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated for anonymous, got %v", err)
	}
}

func TestAuthServicePasswordReset(t *testing.T) {
	fx := newAuthServiceFixture(t, nil)
	ctx := context.Background()
	fx.signup(t, "Ana", "ana@x.io", "pw1")

	if err := fx.auth.ForgotPassword(ctx, "nobody@x.io", "10.0.0.1"); err != nil {
		t.Fatalf("expected silent success for unknown email, got %v", err)
	}
	if _, ok := fx.delivery.lastMessage(); ok {
		t.Fatal("expected no mail for unknown email")
	}

	if err := fx.auth.ForgotPassword(ctx, "ana@x.io", "10.0.0.1"); err != nil {
		t.Fatalf("forgot: %v", err)
	}
	stale := resetTokenFromMail(t, fx.delivery)
	if err := fx.auth.ForgotPassword(ctx, "ana@x.io", "10.0.0.1"); err != nil {
		t.Fatalf("forgot again: %v", err)
	}
	token := resetTokenFromMail(t, fx.delivery)

	if err := fx.auth.ResetPassword(ctx, stale, "pw2"); !errors.Is(err, ErrInvalidResetToken) {
		t.Fatalf("expected superseded token rejected, got %v", err)
	}
	if err := fx.auth.ResetPassword(ctx, token, ""); !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("expected ErrWeakPassword, got %v", err)
	}
	if err := fx.auth.ResetPassword(ctx, token, "pw2"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if err := fx.auth.ResetPassword(ctx, token, "pw3"); !errors.Is(err, ErrInvalidResetToken) {
		t.Fatalf("expected single-use token, got %v", err)
	}

	if _, err := fx.auth.Login(ctx, "ana@x.io", "pw1", "", ""); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected old password rejected, got %v", err)
	}
	if _, err := fx.auth.Login(ctx, "ana@x.io", "pw2", "", ""); err != nil {
		t.Fatalf("login with new password: %v", err)
	}
}

func TestAuthServicePasswordResetKeepsTokenWhenPasswordWriteFails(t *testing.T) {
	fx := newAuthServiceFixture(t, nil)
	ctx := context.Background()
	fx.signup(t, "Ana", "ana@x.io", "pw1")

	if err := fx.auth.ForgotPassword(ctx, "ana@x.io", "10.0.0.1"); err != nil {
		t.Fatalf("forgot: %v", err)
	}
	token := resetTokenFromMail(t, fx.delivery)

	writeErr := errors.New("database is locked")
	fx.resets.failPasswordWrites(writeErr)
	if err := fx.auth.ResetPassword(ctx, token, "pw2"); !errors.Is(err, writeErr) {
		t.Fatalf("expected write failure, got %v", err)
	}
	if _, err := fx.auth.Login(ctx, "ana@x.io", "pw1", "", ""); err != nil {
		t.Fatalf("expected old password to survive failed reset: %v", err)
	}

	fx.resets.failPasswordWrites(nil)
	if err := fx.auth.ResetPassword(ctx, token, "pw2"); err != nil {
		t.Fatalf("expected token to stay usable after failed write, got %v", err)
	}
	if _, err := fx.auth.Login(ctx, "ana@x.io", "pw2", "", ""); err != nil {
		t.Fatalf("login with new password: %v", err)
	}
}

func TestAuthServiceThrottlesRepeatedLoginFailures(t *testing.T) {
	fx := newAuthServiceFixture(t, func(cfg *config.Config) {
		cfg.AuthAbuseProtectionEnabled = true
		cfg.AuthAbuseFreeAttempts = 1
		cfg.AuthAbuseBaseDelay = time.Minute
		cfg.AuthAbuseMultiplier = 2
		cfg.AuthAbuseMaxDelay = time.Hour
		cfg.AuthAbuseResetWindow = time.Hour
	})
	ctx := context.Background()
	fx.signup(t, "Ana", "ana@x.io", "pw1")

	for i := 0; i < 2; i++ {
		if _, err := fx.auth.Login(ctx, "ana@x.io", "wrong", "", "10.0.0.1"); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: expected ErrInvalidCredentials, got %v", i, err)
		}
	}
	_, err := fx.auth.Login(ctx, "ana@x.io", "pw1", "", "10.0.0.1")
	if !errors.Is(err, ErrAuthThrottled) {
		t.Fatalf("expected ErrAuthThrottled, got %v", err)
	}
	var throttled *ThrottledError
	if !errors.As(err, &throttled) || throttled.RetryAfter <= 0 || throttled.RetryAfter > time.Minute {
		t.Fatalf("expected retry-after within a minute, got %v", err)
	}
}

func resetTokenFromMail(t *testing.T, d *recordingDelivery) string {
	t.Helper()
	msg, ok := d.lastMessage()
	if !ok {
		t.Fatal("expected a reset message")
	}
	if msg.To != "ana@x.io" || msg.From != "diary@example.com" {
		t.Fatalf("unexpected reset message envelope %+v", msg)
	}
	for _, field := range strings.Fields(msg.Text) {
		if !strings.HasPrefix(field, "http://") {
			continue
		}
		u, err := url.Parse(field)
		if err != nil {
			t.Fatalf("parse reset link: %v", err)
		}
		if token := u.Query().Get("token"); token != "" {
			return token
		}
	}
	t.Fatalf("no reset link in %q", msg.Text)
	return ""
}
