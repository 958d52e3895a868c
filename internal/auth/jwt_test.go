package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/sakif/snippet-vault/internal/apperror"
)

const testSecret = "test-secret-at-least-16-chars!!"

// newTestTokenService creates a TokenService with a fixed secret and a clock
// the test controls.
func newTestTokenService(t *testing.T, now *time.Time) *TokenService {
	t.Helper()
	ts, err := NewTokenService(testSecret, WithTTL(time.Hour), WithClock(func() time.Time { return *now }))
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	return ts
}

func TestNewTokenService(t *testing.T) {
	tests := []struct {
		name    string
		secret  string
		options []TokenOption
		wantErr bool
	}{
		{"short secret", "short", nil, true},
		{"exactly 16 chars", "this-is-16-chars", nil, false},
		{"zero ttl", testSecret, []TokenOption{WithTTL(0)}, true},
		{"custom ttl", testSecret, []TokenOption{WithTTL(time.Minute)}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTokenService(tt.secret, tt.options...)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewTokenService() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestGenerate_RejectsEmptyOwner(t *testing.T) {
	now := time.Now()
	ts := newTestTokenService(t, &now)

	if _, err := ts.Generate(""); err == nil {
		t.Fatal("Generate(\"\") should fail")
	}
}

func TestValidate_RoundTrip(t *testing.T) {
	now := time.Now()
	ts := newTestTokenService(t, &now)

	token, err := ts.Generate("owner-123")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if strings.Count(token, ".") != 2 {
		t.Errorf("token %q does not look like a JWT", token)
	}

	owner, err := ts.Validate(token)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if owner != "owner-123" {
		t.Errorf("Validate() = %q, want %q", owner, "owner-123")
	}
}

func TestValidate_Expired(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ts := newTestTokenService(t, &now)

	token, err := ts.Generate("owner-123")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	now = now.Add(2 * time.Hour)
	_, err = ts.Validate(token)
	if !errors.Is(err, apperror.ErrUnauthorized) {
		t.Fatalf("Validate() error = %v, want ErrUnauthorized", err)
	}
	if !strings.Contains(err.Error(), "expired") {
		t.Errorf("Validate() error = %q, want it to mention expiry", err)
	}
}

func TestValidate_Rejects(t *testing.T) {
	now := time.Now()
	ts := newTestTokenService(t, &now)

	other, err := NewTokenService("a-completely-different-secret")
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	foreign, _ := other.Generate("owner-123")

	wrongIssuer, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "owner-123",
		Issuer:    "someone-else",
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
	}).SignedString([]byte(testSecret))

	noExpiry, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject: "owner-123",
		Issuer:  Issuer,
	}).SignedString([]byte(testSecret))

	unsigned, _ := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Subject:   "owner-123",
		Issuer:    Issuer,
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)

	noSubject, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    Issuer,
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
	}).SignedString([]byte(testSecret))

	tests := map[string]string{
		"garbage":        "not.a.jwt",
		"empty":          "",
		"foreign secret": foreign,
		"wrong issuer":   wrongIssuer,
		"no expiry":      noExpiry,
		"alg none":       unsigned,
		"no subject":     noSubject,
	}

	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			owner, err := ts.Validate(token)
			if !errors.Is(err, apperror.ErrUnauthorized) {
				t.Errorf("Validate() = (%q, %v), want ErrUnauthorized", owner, err)
			}
		})
	}
}
