package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/mock/gomock"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/sandeepkv93/reading-diary/internal/database"
	"github.com/sandeepkv93/reading-diary/internal/domain"
	"github.com/sandeepkv93/reading-diary/internal/mail"
	"github.com/sandeepkv93/reading-diary/internal/repository"
	repogomock "github.com/sandeepkv93/reading-diary/internal/repository/gomock"
)

func newServiceDBForTest(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:svc_%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), database.GormConfig(logger.Silent))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type userRepoState struct {
	mu     sync.Mutex
	nextID uint
	byID   map[uint]*domain.User
}

func newUserRepoState() *userRepoState {
	return &userRepoState{nextID: 1, byID: map[uint]*domain.User{}}
}

func (s *userRepoState) Create(_ context.Context, user *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user.Email = repository.NormalizeEmail(user.Email)
	for _, u := range s.byID {
		if u.Email == user.Email {
			return repository.ErrDuplicateEmail
		}
	}
	user.ID = s.nextID
	s.nextID++
	cp := *user
	s.byID[user.ID] = &cp
	return nil
}

func (s *userRepoState) FindByEmail(_ context.Context, email string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	email = repository.NormalizeEmail(email)
	for _, u := range s.byID {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, repository.ErrUserNotFound
}

func (s *userRepoState) FindByID(_ context.Context, id uint) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[id]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *userRepoState) update(id uint, fn func(*domain.User)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[id]
	if !ok {
		return repository.ErrUserNotFound
	}
	fn(u)
	return nil
}

func (s *userRepoState) SetVerificationCode(_ context.Context, id uint, code string) error {
	return s.update(id, func(u *domain.User) { u.VerificationCode = &code })
}

func (s *userRepoState) ClearVerificationCode(_ context.Context, id uint) error {
	return s.update(id, func(u *domain.User) { u.VerificationCode = nil })
}

func (s *userRepoState) UpdatePasswordHash(_ context.Context, id uint, hash string) error {
	return s.update(id, func(u *domain.User) { u.PasswordHash = hash })
}

func (s *userRepoState) SetAvatarKey(_ context.Context, id uint, key string) error {
	return s.update(id, func(u *domain.User) { u.AvatarKey = key })
}

func (s *userRepoState) code(id uint) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[id]
	if !ok || u.VerificationCode == nil {
		return ""
	}
	return *u.VerificationCode
}

func newMockUserRepository(ctrl *gomock.Controller, state *userRepoState) *repogomock.MockUserRepository {
	m := repogomock.NewMockUserRepository(ctrl)
	m.EXPECT().Create(gomock.Any(), gomock.Any()).AnyTimes().DoAndReturn(state.Create)
	m.EXPECT().FindByEmail(gomock.Any(), gomock.Any()).AnyTimes().DoAndReturn(state.FindByEmail)
	m.EXPECT().FindByID(gomock.Any(), gomock.Any()).AnyTimes().DoAndReturn(state.FindByID)
	m.EXPECT().SetVerificationCode(gomock.Any(), gomock.Any(), gomock.Any()).AnyTimes().DoAndReturn(state.SetVerificationCode)
	m.EXPECT().ClearVerificationCode(gomock.Any(), gomock.Any()).AnyTimes().DoAndReturn(state.ClearVerificationCode)
	m.EXPECT().UpdatePasswordHash(gomock.Any(), gomock.Any(), gomock.Any()).AnyTimes().DoAndReturn(state.UpdatePasswordHash)
	m.EXPECT().SetAvatarKey(gomock.Any(), gomock.Any(), gomock.Any()).AnyTimes().DoAndReturn(state.SetAvatarKey)
	return m
}

// resetRepoState keeps reset tokens next to userRepoState so Redeem can write
// the password through the same in-memory users.
type resetRepoState struct {
	mu        sync.Mutex
	nextID    uint
	byID      map[uint]*domain.PasswordResetToken
	users     *userRepoState
	failWrite error
}

func newResetRepoState(users *userRepoState) *resetRepoState {
	return &resetRepoState{nextID: 1, byID: map[uint]*domain.PasswordResetToken{}, users: users}
}

func (s *resetRepoState) Create(_ context.Context, token *domain.PasswordResetToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	token.ID = s.nextID
	s.nextID++
	cp := *token
	s.byID[token.ID] = &cp
	return nil
}

func (s *resetRepoState) InvalidateActiveByUser(_ context.Context, userID uint, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tok := range s.byID {
		if tok.UserID == userID && tok.UsedAt == nil && tok.ExpiresAt.After(now) {
			used := now
			tok.UsedAt = &used
		}
	}
	return nil
}

func (s *resetRepoState) FindActiveByHash(_ context.Context, hash string, now time.Time) (*domain.PasswordResetToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tok := range s.byID {
		if tok.TokenHash == hash && tok.UsedAt == nil && tok.ExpiresAt.After(now) {
			cp := *tok
			return &cp, nil
		}
	}
	return nil, repository.ErrResetTokenNotFound
}

func (s *resetRepoState) Redeem(ctx context.Context, tokenID, userID uint, passwordHash string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.byID[tokenID]
	if !ok || tok.UserID != userID || tok.UsedAt != nil {
		return repository.ErrResetTokenNotFound
	}
	if s.failWrite != nil {
		return s.failWrite
	}
	if err := s.users.UpdatePasswordHash(ctx, userID, passwordHash); err != nil {
		return err
	}
	used := now
	tok.UsedAt = &used
	return nil
}

func (s *resetRepoState) failPasswordWrites(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWrite = err
}

type sequenceCodeGenerator struct {
	mu    sync.Mutex
	codes []string
}

func (g *sequenceCodeGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	code := g.codes[0]
	if len(g.codes) > 1 {
		g.codes = g.codes[1:]
	}
	return code
}

// recordingDelivery captures what would have been mailed.
type recordingDelivery struct {
	mu       sync.Mutex
	codes    map[string]string
	messages []mail.Message
}

func newRecordingDelivery() *recordingDelivery {
	return &recordingDelivery{codes: map[string]string{}}
}

func (d *recordingDelivery) Dispatch(_ context.Context, msg mail.Message) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.messages = append(d.messages, msg)
}

func (d *recordingDelivery) DispatchCode(_ context.Context, email, code string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.codes[email] = code
}

func (d *recordingDelivery) codeFor(email string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.codes[email]
}

func (d *recordingDelivery) lastMessage() (mail.Message, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.messages) == 0 {
		return mail.Message{}, false
	}
	return d.messages[len(d.messages)-1], true
}
