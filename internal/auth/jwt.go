// Package auth establishes who the owner of a request is.
//
// SESSION FLOW:
//  1. /auth/github/login redirects to GitHub with a random state cookie
//  2. GitHub calls back /auth/github/callback with a code
//  3. The server exchanges the code for the GitHub profile and upserts the user
//  4. A signed session token carrying the user ID is set as an HttpOnly cookie
//  5. Middleware validates the token on every /api request and stores the
//     owner ID in the request context
//
// The owner ID in the token's "sub" claim is the only identity the snippet
// layers ever see. It is passed explicitly from the handler down into the
// service, the cache and the store.
//
// TOKEN STRUCTURE:
//
//	HEADER.PAYLOAD.SIGNATURE
//	- Header: {"alg":"HS256","typ":"JWT"}
//	- Payload: {"sub":"<owner id>","iss":"snippet-vault","exp":...}
//	- Signature: HMAC-SHA256(header+"."+payload, secret)
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/sakif/snippet-vault/internal/apperror"
)

const (
	// Issuer is written to and required in every session token.
	Issuer = "snippet-vault"

	// DefaultSessionTTL is how long a session token stays valid.
	DefaultSessionTTL = 24 * time.Hour

	minSecretLength = 16
)

// TokenService signs and verifies session tokens.
type TokenService struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// TokenOption configures a TokenService.
type TokenOption func(*TokenService)

// WithTTL overrides DefaultSessionTTL.
func WithTTL(ttl time.Duration) TokenOption {
	return func(s *TokenService) { s.ttl = ttl }
}

// WithClock replaces time.Now when issuing and validating tokens.
func WithClock(now func() time.Time) TokenOption {
	return func(s *TokenService) { s.now = now }
}

// NewTokenService creates a TokenService with the given secret.
// In production use at least 32 bytes of random data:
// JWT_SECRET=$(openssl rand -hex 32)
func NewTokenService(secret string, options ...TokenOption) (*TokenService, error) {
	if len(secret) < minSecretLength {
		return nil, fmt.Errorf("auth: JWT secret must be at least %d characters", minSecretLength)
	}
	s := &TokenService{
		secret: []byte(secret),
		ttl:    DefaultSessionTTL,
		now:    time.Now,
	}
	for _, option := range options {
		option(s)
	}
	if s.ttl <= 0 {
		return nil, errors.New("auth: session TTL must be positive")
	}
	return s, nil
}

// TTL is the lifetime of tokens issued by s. Handlers use it as the cookie
// max age.
func (s *TokenService) TTL() time.Duration { return s.ttl }

// Generate issues a session token for owner.
func (s *TokenService) Generate(owner string) (string, error) {
	if owner == "" {
		return "", errors.New("auth: cannot issue a token without an owner")
	}

	now := s.now()
	c := jwt.RegisteredClaims{
		Subject:   owner,
		Issuer:    Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing token: %w", err)
	}
	return signed, nil
}

// Validate verifies a session token and returns the owner it was issued
// for. Every failure is an apperror.ErrUnauthorized.
//
// The parser pins HS256 so a token claiming "alg":"none" (or an asymmetric
// algorithm keyed with our secret) is rejected before the signature check.
func (s *TokenService) Validate(tokenStr string) (string, error) {
	var c jwt.RegisteredClaims
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&c,
		func(*jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", apperror.Unauthorized("session expired")
		}
		return "", &apperror.AppError{
			Err:     apperror.ErrUnauthorized,
			Message: "invalid session token",
			Cause:   err,
		}
	}
	if !token.Valid || c.Subject == "" {
		return "", apperror.Unauthorized("session token has no owner")
	}

	return c.Subject, nil
}
