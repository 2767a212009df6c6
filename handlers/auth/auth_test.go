package auth

import (
	"errors"
	"testing"
	"time"

	"tomoboard-server/core"

	"github.com/golang-jwt/jwt/v5"
)

func TestSignParse_RoundTrip(t *testing.T) {
	v := NewVerifier("test-secret")
	profile := core.UserProfile{ID: "u1", Username: "alice", FirstName: "Alice", Avatar: "a.png"}

	token, err := v.Sign(profile, time.Hour)
	if err != nil {
		t.Fatalf("Sign() error: %v", err)
	}

	claims, err := v.Parse(token)
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if got := claims.Profile(); got != profile {
		t.Errorf("Profile() = %+v, want %+v", got, profile)
	}
}

func TestParse_Missing(t *testing.T) {
	v := NewVerifier("test-secret")
	if _, err := v.Parse(""); !errors.Is(err, ErrMissingToken) {
		t.Errorf("Parse(\"\") error = %v, want ErrMissingToken", err)
	}
}

func TestParse_WrongSecret(t *testing.T) {
	token, err := NewVerifier("one").Sign(core.UserProfile{ID: "u1"}, time.Hour)
	if err != nil {
		t.Fatalf("Sign() error: %v", err)
	}

	if _, err := NewVerifier("two").Parse(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Parse() error = %v, want ErrInvalidToken", err)
	}
}

func TestParse_Expired(t *testing.T) {
	v := NewVerifier("test-secret")
	token, err := v.Sign(core.UserProfile{ID: "u1"}, -time.Minute)
	if err != nil {
		t.Fatalf("Sign() error: %v", err)
	}

	if _, err := v.Parse(token); err == nil {
		t.Error("Parse() accepted an expired token")
	}
}

func TestParse_RejectsNoneAlgorithm(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodNone, AppClaims{UserID: "u1"})
	signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("SignedString() error: %v", err)
	}

	if _, err := NewVerifier("test-secret").Parse(signed); err == nil {
		t.Error("Parse() accepted an unsigned token")
	}
}

func TestParse_SubjectFallback(t *testing.T) {
	v := NewVerifier("test-secret")
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, AppClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "u9"},
	})
	signed, err := token.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("SignedString() error: %v", err)
	}

	claims, err := v.Parse(signed)
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if got := claims.Profile(); got.ID != "u9" || got.Username != "u9" {
		t.Errorf("Profile() = %+v, want id and username u9", got)
	}
}

func TestParse_NoUserID(t *testing.T) {
	v := NewVerifier("test-secret")
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, AppClaims{Username: "ghost"})
	signed, _ := token.SignedString([]byte("test-secret"))

	if _, err := v.Parse(signed); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Parse() error = %v, want ErrInvalidToken", err)
	}
}
