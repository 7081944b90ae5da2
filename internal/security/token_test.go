package security

import (
	"errors"
	"testing"
)

func TestRandomTokenIsUniqueAndSized(t *testing.T) {
	a, err := RandomToken(32)
	if err != nil {
		t.Fatalf("random token: %v", err)
	}
	b, _ := RandomToken(32)
	if len(a) != 64 || a == b {
		t.Fatalf("unexpected tokens %q %q", a, b)
	}
	if HashToken(a) == a || HashToken(a) != HashToken(a) {
		t.Fatal("hash token must be deterministic and differ from input")
	}
}

func TestTokenSignerRoundTripAndTamper(t *testing.T) {
	signer := NewTokenSigner("0123456789abcdef0123456789abcdef")
	signed := signer.Sign("abc123")

	token, err := signer.Verify(signed)
	if err != nil || token != "abc123" {
		t.Fatalf("expected verify success, token=%q err=%v", token, err)
	}

	for _, bad := range []string{"", "abc123", "abc123.", ".sig", "abc124" + signed[len("abc123"):]} {
		if _, err := signer.Verify(bad); !errors.Is(err, ErrInvalidSignedToken) {
			t.Fatalf("expected ErrInvalidSignedToken for %q, got %v", bad, err)
		}
	}

	other := NewTokenSigner("another-secret-another-secret-xx")
	if _, err := other.Verify(signed); !errors.Is(err, ErrInvalidSignedToken) {
		t.Fatalf("expected signature from another secret to fail, got %v", err)
	}
}
