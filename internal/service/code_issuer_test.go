package service

import (
	"context"
	"strconv"
	"testing"

	"go.uber.org/mock/gomock"

	"github.com/sandeepkv93/reading-diary/internal/domain"
)

func TestRandomCodeGeneratorRange(t *testing.T) {
	gen := RandomCodeGenerator{}
	for i := 0; i < 1000; i++ {
		code := gen.Generate()
		n, err := strconv.Atoi(code)
		if err != nil {
			t.Fatalf("code %q is not numeric: %v", code, err)
		}
		if n < minVerificationCode || n > maxVerificationCode || len(code) != 6 {
			t.Fatalf("code %q out of range", code)
		}
	}
}

func TestCodeIssuerOverwritesPreviousCode(t *testing.T) {
	ctrl := gomock.NewController(t)
	users := newUserRepoState()
	issuer := NewCodeIssuer(newMockUserRepository(ctrl, users), &sequenceCodeGenerator{codes: []string{"111111", "222222"}})
	ctx := context.Background()

	user := &domain.User{Name: "Ana", Email: "ana@x.io"}
	if err := users.Create(ctx, user); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := issuer.Issue(ctx, user); err != nil {
		t.Fatalf("first issue: %v", err)
	}
	code, err := issuer.Issue(ctx, user)
	if err != nil {
		t.Fatalf("second issue: %v", err)
	}
	if code != "222222" || users.code(user.ID) != "222222" || !user.HasPendingCode() {
		t.Fatalf("expected latest code stored, got %q / %q", code, users.code(user.ID))
	}
}
