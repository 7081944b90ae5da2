package repository

import (
	"errors"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

var (
	ErrDuplicateEmail     = errors.New("email already exists")
	ErrUserNotFound       = errors.New("user not found")
	ErrSessionNotFound    = errors.New("session not found")
	ErrStoryNotFound      = errors.New("story not found")
	ErrResetTokenNotFound = errors.New("password reset token not found")
)

// isUniqueViolation recognises duplicate-key failures from either dialect.
// TranslateError covers drivers gorm knows about; the pgconn check catches
// connections that bypass the translator (pre-opened *sql.DB, pgx stdlib).
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.UniqueViolation
	}
	return false
}
