package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sakif/snippet-vault/internal/auth"
	"github.com/sakif/snippet-vault/internal/model"
	"github.com/sakif/snippet-vault/internal/repository"
)

// Evictor drops an owner's cached state. *cache.Cache implements it.
type Evictor interface {
	Evict(owner string)
}

// AuthService orchestrates sign-in and sign-out:
//
//	AuthHandler (HTTP) → AuthService → UserRepository (DB)
//	                                 ↘ TokenService (JWT)
//	                                 ↘ Evictor (snippet cache)
//
// It doesn't set cookies or read requests; that's the handler's job.
type AuthService struct {
	users  repository.UserRepository
	tokens *auth.TokenService
	cache  Evictor
	logger *slog.Logger
}

// NewAuthService creates an AuthService.
func NewAuthService(users repository.UserRepository, tokens *auth.TokenService, cache Evictor, logger *slog.Logger) *AuthService {
	return &AuthService{
		users:  users,
		tokens: tokens,
		cache:  cache,
		logger: logger,
	}
}

// AuthResult bundles the signed-in user and their session token.
type AuthResult struct {
	User  *model.User
	Token string
}

// LoginOrRegisterGitHub upserts the user behind a GitHub profile and issues
// a session token for them. The GitHub ID is stable, so a returning user
// keeps their internal ID (and with it, their snippets) even after renaming
// their GitHub account.
func (s *AuthService) LoginOrRegisterGitHub(ctx context.Context, ghUser *auth.GitHubUser) (*AuthResult, error) {
	if ghUser == nil {
		return nil, errors.New("service/auth: GitHub user must not be nil")
	}

	user := &model.User{
		GitHubID:  ghUser.ID,
		Login:     ghUser.Login,
		Email:     ghUser.Email,
		AvatarURL: ghUser.AvatarURL,
	}
	if err := s.users.Upsert(ctx, user); err != nil {
		return nil, fmt.Errorf("service/auth: upserting user (githubID=%d): %w", ghUser.ID, err)
	}

	token, err := s.tokens.Generate(user.ID)
	if err != nil {
		return nil, fmt.Errorf("service/auth: generating token for user %s: %w", user.ID, err)
	}

	s.logger.Info("user signed in",
		slog.String("owner", user.ID),
		slog.String("login", user.Login),
	)

	return &AuthResult{User: user, Token: token}, nil
}

// SessionTTL is how long a token issued by LoginOrRegisterGitHub stays
// valid.
func (s *AuthService) SessionTTL() time.Duration {
	return s.tokens.TTL()
}

// SignOut tears down the owner's cached snippets. Any fetch still in flight
// for them is cancelled and its result dropped, so nothing read under the
// old session lands in a later one. Signing out an owner with no cache
// entry is a no-op.
func (s *AuthService) SignOut(owner string) {
	if owner == "" {
		return
	}
	s.cache.Evict(owner)
	s.logger.Info("user signed out", slog.String("owner", owner))
}

// GetUserByID returns the user record behind an owner ID (for /api/me).
func (s *AuthService) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	if err := repository.RequireOwner(id); err != nil {
		return nil, err
	}

	user, err := s.users.GetUserByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("service/auth: fetching user %s: %w", id, err)
	}
	return user, nil
}
