package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sandeepkv93/reading-diary/internal/config"
	"github.com/sandeepkv93/reading-diary/internal/domain"
	diarymail "github.com/sandeepkv93/reading-diary/internal/mail"
	"github.com/sandeepkv93/reading-diary/internal/observability"
	"github.com/sandeepkv93/reading-diary/internal/repository"
	"github.com/sandeepkv93/reading-diary/internal/security"
)

const (
	maxNameLength     = 120
	maxPasswordLength = 1024
	resetTokenBytes   = 32
)

var (
	ErrDuplicateEmail        = repository.ErrDuplicateEmail
	ErrEmailNotFound         = errors.New("email not found")
	ErrInvalidCredentials    = errors.New("invalid credentials")
	ErrInvalidCode           = errors.New("invalid verification code")
	ErrNoPendingVerification = errors.New("no pending verification")
	ErrNotAuthenticated      = errors.New("not authenticated")
	ErrWeakPassword          = errors.New("password does not meet policy requirements")
	ErrInvalidResetToken     = errors.New("invalid or expired password reset token")
	ErrAuthThrottled         = errors.New("too many attempts")
	ErrInvalidInput          = errors.New("invalid input")
)

// InputError is a validation failure whose message is safe to show the user.
type InputError struct {
	Message string
	kind    error
}

func invalidInput(msg string) error { return &InputError{Message: msg} }

func (e *InputError) Error() string { return e.Message }

func (e *InputError) Is(target error) bool {
	return target == ErrInvalidInput || (e.kind != nil && target == e.kind)
}

// ThrottledError carries the cooldown the abuse guard imposed.
type ThrottledError struct {
	RetryAfter time.Duration
}

func (e *ThrottledError) Error() string {
	return fmt.Sprintf("too many attempts, retry after %s", e.RetryAfter.Round(time.Second))
}

func (e *ThrottledError) Is(target error) bool { return target == ErrAuthThrottled }

type SignupInput struct {
	Name     string
	Email    string
	Password string
}

// AuthResult reports the session after a transition. Token is the new raw
// session token whenever the session rotated, and empty otherwise.
type AuthResult struct {
	User    *domain.User
	Session *domain.Session
	Token   string
}

type AuthService struct {
	cfg      *config.Config
	users    repository.UserRepository
	resets   repository.PasswordResetTokenRepository
	hasher   security.PasswordHasher
	issuer   *CodeIssuer
	delivery CodeDelivery
	gate     *SessionGate
	guard    AuthAbuseGuard
	logger   *slog.Logger
	now      func() time.Time
}

func NewAuthService(
	cfg *config.Config,
	users repository.UserRepository,
	resets repository.PasswordResetTokenRepository,
	hasher security.PasswordHasher,
	issuer *CodeIssuer,
	delivery CodeDelivery,
	gate *SessionGate,
	guard AuthAbuseGuard,
	logger *slog.Logger,
) *AuthService {
	if guard == nil {
		guard = NoopAuthAbuseGuard{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthService{
		cfg:      cfg,
		users:    users,
		resets:   resets,
		hasher:   hasher,
		issuer:   issuer,
		delivery: delivery,
		gate:     gate,
		guard:    guard,
		logger:   logger,
		now:      time.Now,
	}
}

func (s *AuthService) Signup(ctx context.Context, in SignupInput, sessionToken string) (*AuthResult, error) {
	name := strings.TrimSpace(in.Name)
	email := repository.NormalizeEmail(in.Email)
	if name == "" {
		return nil, invalidInput("name is required")
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return nil, invalidInput("name is too long")
	}
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	if err := validatePassword(in.Password); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	user := &domain.User{Name: name, Email: email, PasswordHash: hash}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			observability.RecordAuthFlowEvent(ctx, "signup", "duplicate")
			return nil, ErrDuplicateEmail
		}
		observability.RecordAuthFlowEvent(ctx, "signup", "error")
		return nil, err
	}

	res := &AuthResult{User: user}
	if s.cfg.AuthSignupPolicy == config.SignupPolicyAutoLogin {
		token, sess, err := s.gate.Authenticate(ctx, sessionToken, user.ID)
		if err != nil {
			observability.RecordAuthFlowEvent(ctx, "signup", "error")
			return nil, err
		}
		res.Session, res.Token = sess, token
	}
	observability.RecordAuthFlowEvent(ctx, "signup", "success")
	return res, nil
}

// Login checks the credentials, issues a fresh code, and moves the session to
// PendingVerification. Delivery runs in the background; its failure does not
// fail the login.
func (s *AuthService) Login(ctx context.Context, email, password, sessionToken, ip string) (*AuthResult, error) {
	email = repository.NormalizeEmail(email)
	if err := s.checkGuard(ctx, AuthAbuseScopeLogin, email, ip); err != nil {
		observability.RecordAuthFlowEvent(ctx, "login", "throttled")
		return nil, err
	}

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			s.registerFailure(ctx, AuthAbuseScopeLogin, email, ip)
			observability.RecordAuthFlowEvent(ctx, "login", "unknown_email")
			return nil, ErrEmailNotFound
		}
		return nil, err
	}
	ok, err := s.hasher.Verify(user.PasswordHash, password)
	if err != nil || !ok {
		s.registerFailure(ctx, AuthAbuseScopeLogin, email, ip)
		observability.RecordAuthFlowEvent(ctx, "login", "invalid_credentials")
		return nil, ErrInvalidCredentials
	}
	s.resetGuard(ctx, AuthAbuseScopeLogin, email, ip)

	code, err := s.issuer.Issue(ctx, user)
	if err != nil {
		observability.RecordAuthFlowEvent(ctx, "login", "error")
		return nil, fmt.Errorf("issue verification code: %w", err)
	}
	s.delivery.DispatchCode(ctx, user.Email, code)

	token, sess, err := s.gate.BeginPending(ctx, sessionToken, user.ID, user.Email)
	if err != nil {
		observability.RecordAuthFlowEvent(ctx, "login", "error")
		return nil, err
	}
	observability.RecordAuthFlowEvent(ctx, "login", "success")
	return &AuthResult{User: user, Session: sess, Token: token}, nil
}

// Verify completes a pending login. Any mismatch leaves the pending session
// exactly as it was so the user can retry with the same code.
func (s *AuthService) Verify(ctx context.Context, sessionToken, code, password, ip string) (*AuthResult, error) {
	sess, err := s.gate.Load(ctx, sessionToken)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return nil, ErrNoPendingVerification
		}
		return nil, err
	}
	if !sess.IsPending() {
		return nil, ErrNoPendingVerification
	}
	if err := s.checkGuard(ctx, AuthAbuseScopeVerify, sess.PendingEmail, ip); err != nil {
		observability.RecordAuthFlowEvent(ctx, "verify", "throttled")
		return nil, err
	}

	user, err := s.users.FindByID(ctx, *sess.PendingID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrNoPendingVerification
		}
		return nil, err
	}

	if s.cfg.AuthVerifyRequirePassword {
		ok, err := s.hasher.Verify(user.PasswordHash, password)
		if err != nil || !ok {
			s.registerFailure(ctx, AuthAbuseScopeVerify, sess.PendingEmail, ip)
			observability.RecordAuthFlowEvent(ctx, "verify", "invalid_credentials")
			return nil, ErrInvalidCredentials
		}
	}
	if !codeMatches(user.VerificationCode, code) {
		s.registerFailure(ctx, AuthAbuseScopeVerify, sess.PendingEmail, ip)
		observability.RecordAuthFlowEvent(ctx, "verify", "invalid_code")
		return nil, ErrInvalidCode
	}
	s.resetGuard(ctx, AuthAbuseScopeVerify, sess.PendingEmail, ip)

	if s.cfg.AuthClearCodeOnVerify {
		if err := s.users.ClearVerificationCode(ctx, user.ID); err != nil {
			return nil, fmt.Errorf("clear verification code: %w", err)
		}
		user.VerificationCode = nil
	}
	token, authed, err := s.gate.Authenticate(ctx, sessionToken, user.ID)
	if err != nil {
		observability.RecordAuthFlowEvent(ctx, "verify", "error")
		return nil, err
	}
	observability.RecordAuthFlowEvent(ctx, "verify", "success")
	return &AuthResult{User: user, Session: authed, Token: token}, nil
}

func (s *AuthService) Logout(ctx context.Context, sessionToken string) error {
	if err := s.gate.End(ctx, sessionToken); err != nil {
		observability.RecordAuthFlowEvent(ctx, "logout", "error")
		return err
	}
	observability.RecordAuthFlowEvent(ctx, "logout", "success")
	return nil
}

// CurrentUser returns the authenticated user. Pending sessions are not logged in.
func (s *AuthService) CurrentUser(ctx context.Context, sess *domain.Session) (*domain.User, error) {
	userID, ok := sess.CurrentUserID()
	if !ok {
		return nil, ErrNotAuthenticated
	}
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrNotAuthenticated
		}
		return nil, err
	}
	return user, nil
}

// ForgotPassword succeeds silently for unknown addresses.
func (s *AuthService) ForgotPassword(ctx context.Context, email, ip string) error {
	email = repository.NormalizeEmail(email)
	if err := validateEmail(email); err != nil {
		return err
	}
	if err := s.checkGuard(ctx, AuthAbuseScopeForgot, email, ip); err != nil {
		observability.RecordAuthFlowEvent(ctx, "password_forgot", "throttled")
		return err
	}
	s.registerFailure(ctx, AuthAbuseScopeForgot, email, ip)

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			observability.RecordAuthFlowEvent(ctx, "password_forgot", "unknown_email")
			return nil
		}
		return err
	}

	now := s.now().UTC()
	if err := s.resets.InvalidateActiveByUser(ctx, user.ID, now); err != nil {
		return err
	}
	rawToken, err := security.RandomToken(resetTokenBytes)
	if err != nil {
		return err
	}
	ttl := s.cfg.PasswordResetTokenTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	if err := s.resets.Create(ctx, &domain.PasswordResetToken{
		UserID:    user.ID,
		TokenHash: security.HashToken(rawToken),
		ExpiresAt: now.Add(ttl),
	}); err != nil {
		return err
	}

	link, err := buildResetURL(s.cfg.PasswordResetBaseURL, rawToken)
	if err != nil {
		return err
	}
	s.delivery.Dispatch(ctx, diarymail.PasswordResetMessage(s.cfg.MailFrom, user.Email, link))
	observability.RecordAuthFlowEvent(ctx, "password_forgot", "success")
	return nil
}

// ResetPassword redeems a reset token for the new password hash. The token
// stays usable if the password write fails. Sessions are left alone.
func (s *AuthService) ResetPassword(ctx context.Context, rawToken, newPassword string) error {
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return ErrInvalidResetToken
	}
	if err := validatePassword(newPassword); err != nil {
		return err
	}

	now := s.now().UTC()
	token, err := s.resets.FindActiveByHash(ctx, security.HashToken(rawToken), now)
	if err != nil {
		if errors.Is(err, repository.ErrResetTokenNotFound) {
			observability.RecordAuthFlowEvent(ctx, "password_reset", "invalid_token")
			return ErrInvalidResetToken
		}
		return err
	}
	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.resets.Redeem(ctx, token.ID, token.UserID, hash, now); err != nil {
		if errors.Is(err, repository.ErrResetTokenNotFound) {
			return ErrInvalidResetToken
		}
		return err
	}
	observability.RecordAuthFlowEvent(ctx, "password_reset", "success")
	return nil
}

func (s *AuthService) checkGuard(ctx context.Context, scope AuthAbuseScope, identity, ip string) error {
	retryAfter, err := s.guard.Check(ctx, scope, identity, ip)
	if err != nil {
		// Guard outages must not lock users out.
		s.logger.WarnContext(ctx, "auth abuse guard check failed", "scope", string(scope), "error", err)
		return nil
	}
	if retryAfter > 0 {
		return &ThrottledError{RetryAfter: retryAfter}
	}
	return nil
}

func (s *AuthService) registerFailure(ctx context.Context, scope AuthAbuseScope, identity, ip string) {
	if _, err := s.guard.RegisterFailure(ctx, scope, identity, ip); err != nil {
		s.logger.WarnContext(ctx, "auth abuse guard update failed", "scope", string(scope), "error", err)
	}
}

func (s *AuthService) resetGuard(ctx context.Context, scope AuthAbuseScope, identity, ip string) {
	if err := s.guard.Reset(ctx, scope, identity, ip); err != nil {
		s.logger.WarnContext(ctx, "auth abuse guard reset failed", "scope", string(scope), "error", err)
	}
}

func codeMatches(stored *string, submitted string) bool {
	if stored == nil || *stored == "" {
		return false
	}
	submitted = strings.TrimSpace(submitted)
	return subtle.ConstantTimeCompare([]byte(*stored), []byte(submitted)) == 1
}

func buildResetURL(base, token string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid PASSWORD_RESET_BASE_URL: %w", err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func validateEmail(email string) error {
	if email == "" {
		return invalidInput("email is required")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return invalidInput("invalid email")
	}
	return nil
}

// validatePassword only bounds the input; any non-empty password is accepted.
func validatePassword(password string) error {
	if password == "" || len(password) > maxPasswordLength {
		return ErrWeakPassword
	}
	return nil
}
