package memory

import (
	"context"
	"sync"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/snippet-vault/internal/apperror"
	"github.com/sakif/snippet-vault/internal/model"
	"github.com/sakif/snippet-vault/internal/repository"
)

var _ repository.UserRepository = (*Users)(nil)

// Users keeps accounts in memory, keyed by internal ID. The zero value is
// not usable; call NewUsers.
type Users struct {
	mu       sync.RWMutex
	byID     map[string]model.User
	byGitHub map[int64]string
	now      func() time.Time
}

// NewUsers returns an empty Users. A nil clock means time.Now.
func NewUsers(now func() time.Time) *Users {
	if now == nil {
		now = time.Now
	}
	return &Users{
		byID:     make(map[string]model.User),
		byGitHub: make(map[int64]string),
		now:      now,
	}
}

// Upsert creates the user on first sight of their GitHub ID and refreshes
// the profile fields afterwards. user is updated in place.
func (u *Users) Upsert(_ context.Context, user *model.User) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	now := u.now().UTC()
	if id, ok := u.byGitHub[user.GitHubID]; ok {
		existing := u.byID[id]
		existing.Login = user.Login
		existing.Email = user.Email
		existing.AvatarURL = user.AvatarURL
		existing.UpdatedAt = now
		u.byID[id] = existing
		*user = existing
		return nil
	}

	user.ID = xid.New().String()
	user.CreatedAt = now
	user.UpdatedAt = now
	u.byID[user.ID] = *user
	u.byGitHub[user.GitHubID] = user.ID
	return nil
}

func (u *Users) GetUserByID(_ context.Context, id string) (*model.User, error) {
	u.mu.RLock()
	defer u.mu.RUnlock()

	user, ok := u.byID[id]
	if !ok {
		return nil, apperror.NotFound("user", id)
	}
	return &user, nil
}
