package service

import (
	"context"
	"math/rand/v2"
	"strconv"

	"github.com/sandeepkv93/reading-diary/internal/domain"
	"github.com/sandeepkv93/reading-diary/internal/repository"
)

const (
	minVerificationCode = 100000
	maxVerificationCode = 999999
)

type CodeGenerator interface {
	Generate() string
}

// RandomCodeGenerator draws uniformly from [100000, 999999]. It is not a
// cryptographic source; codes are short-lived and overwritten on every login.
type RandomCodeGenerator struct{}

func (RandomCodeGenerator) Generate() string {
	return strconv.Itoa(minVerificationCode + rand.IntN(maxVerificationCode-minVerificationCode+1))
}

type CodeIssuer struct {
	users repository.UserRepository
	gen   CodeGenerator
}

func NewCodeIssuer(users repository.UserRepository, gen CodeGenerator) *CodeIssuer {
	if gen == nil {
		gen = RandomCodeGenerator{}
	}
	return &CodeIssuer{users: users, gen: gen}
}

// Issue stores a fresh code on the user row, replacing any previous one, so
// only the latest code can ever verify.
func (i *CodeIssuer) Issue(ctx context.Context, user *domain.User) (string, error) {
	code := i.gen.Generate()
	if err := i.users.SetVerificationCode(ctx, user.ID, code); err != nil {
		return "", err
	}
	user.VerificationCode = &code
	return code, nil
}
