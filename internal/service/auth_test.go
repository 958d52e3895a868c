package service

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/sakif/snippet-vault/internal/apperror"
	"github.com/sakif/snippet-vault/internal/auth"
	"github.com/sakif/snippet-vault/internal/cache"
	"github.com/sakif/snippet-vault/internal/model"
	"github.com/sakif/snippet-vault/internal/repository"
	"github.com/sakif/snippet-vault/internal/repository/memory"
)

// recordingEvictor remembers which owners were evicted.
type recordingEvictor struct {
	evicted []string
}

func (r *recordingEvictor) Evict(owner string) { r.evicted = append(r.evicted, owner) }

type failingUsers struct {
	memory.Users
	err error
}

func (f *failingUsers) Upsert(context.Context, *model.User) error { return f.err }

func newTestAuthService(t *testing.T, users repository.UserRepository, ev Evictor) *AuthService {
	t.Helper()
	ts, err := auth.NewTokenService("test-secret-at-least-16-chars!!")
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	return NewAuthService(users, ts, ev, slog.New(slog.DiscardHandler))
}

func TestLoginOrRegisterGitHub_NewUser(t *testing.T) {
	svc := newTestAuthService(t, memory.NewUsers(nil), &recordingEvictor{})

	result, err := svc.LoginOrRegisterGitHub(context.Background(), &auth.GitHubUser{
		ID:        42,
		Login:     "octocat",
		Email:     "octocat@github.com",
		AvatarURL: "https://avatars.githubusercontent.com/u/42",
	})
	if err != nil {
		t.Fatalf("LoginOrRegisterGitHub() error = %v", err)
	}
	if result.User.ID == "" {
		t.Error("User.ID should be set after upsert")
	}
	if result.Token == "" {
		t.Error("Token should be issued")
	}

	owner, err := svc.tokens.Validate(result.Token)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if owner != result.User.ID {
		t.Errorf("token owner = %q, want %q", owner, result.User.ID)
	}
}

func TestLoginOrRegisterGitHub_ReturningUserKeepsID(t *testing.T) {
	svc := newTestAuthService(t, memory.NewUsers(nil), &recordingEvictor{})
	ctx := context.Background()

	first, err := svc.LoginOrRegisterGitHub(ctx, &auth.GitHubUser{ID: 99, Login: "old-login"})
	if err != nil {
		t.Fatalf("first login: %v", err)
	}
	second, err := svc.LoginOrRegisterGitHub(ctx, &auth.GitHubUser{ID: 99, Login: "new-login"})
	if err != nil {
		t.Fatalf("second login: %v", err)
	}

	if second.User.ID != first.User.ID {
		t.Errorf("returning user got a new ID: %q != %q", second.User.ID, first.User.ID)
	}
	if second.User.Login != "new-login" {
		t.Errorf("Login = %q, want %q", second.User.Login, "new-login")
	}
}

func TestLoginOrRegisterGitHub_Errors(t *testing.T) {
	svc := newTestAuthService(t, memory.NewUsers(nil), &recordingEvictor{})
	if _, err := svc.LoginOrRegisterGitHub(context.Background(), nil); err == nil {
		t.Error("nil GitHub user should fail")
	}

	dbErr := errors.New("database is on fire")
	svc = newTestAuthService(t, &failingUsers{err: dbErr}, &recordingEvictor{})
	_, err := svc.LoginOrRegisterGitHub(context.Background(), &auth.GitHubUser{ID: 1, Login: "user"})
	if !errors.Is(err, dbErr) {
		t.Errorf("error = %v, want it to wrap the repository error", err)
	}
}

func TestSignOut_EvictsOwner(t *testing.T) {
	ev := &recordingEvictor{}
	svc := newTestAuthService(t, memory.NewUsers(nil), ev)

	svc.SignOut("owner-1")
	svc.SignOut("")

	if len(ev.evicted) != 1 || ev.evicted[0] != "owner-1" {
		t.Errorf("evicted = %v, want [owner-1]", ev.evicted)
	}
}

func TestSignOut_DropsCachedSnippets(t *testing.T) {
	store := memory.New(nil)
	c := cache.New(store)
	svc := newTestAuthService(t, memory.NewUsers(nil), c)
	ctx := context.Background()

	if _, err := store.Insert(ctx, "owner-1", model.Draft{Title: "t", Code: "c"}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := c.EnsureFresh("owner-1").Wait(ctx); err != nil {
		t.Fatalf("EnsureFresh: %v", err)
	}

	svc.SignOut("owner-1")

	if c.Len() != 0 {
		t.Errorf("cache still holds %d entries after sign-out", c.Len())
	}
}

func TestGetUserByID(t *testing.T) {
	svc := newTestAuthService(t, memory.NewUsers(nil), &recordingEvictor{})
	ctx := context.Background()

	result, err := svc.LoginOrRegisterGitHub(ctx, &auth.GitHubUser{ID: 7, Login: "findme"})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}

	user, err := svc.GetUserByID(ctx, result.User.ID)
	if err != nil {
		t.Fatalf("GetUserByID() error = %v", err)
	}
	if user.Login != "findme" {
		t.Errorf("Login = %q, want %q", user.Login, "findme")
	}

	if _, err := svc.GetUserByID(ctx, ""); !errors.Is(err, apperror.ErrUnauthorized) {
		t.Errorf("empty id: error = %v, want ErrUnauthorized", err)
	}
	if _, err := svc.GetUserByID(ctx, "missing"); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("unknown id: error = %v, want ErrNotFound", err)
	}
}
