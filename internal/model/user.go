package model

import "time"

// User represents a registered user account. User.ID is the owner
// identifier every snippet operation is scoped to.
//
// We use GitHub OAuth as the identity provider, so the primary external
// identifier is the GitHub user ID. Our own internal string ID (xid) keeps
// snippet ownership independent of a third-party's numbering scheme.
//
// Email may be empty: GitHub hides it when the user has made it private.
type User struct {
	ID        string    `json:"id"        db:"id"`
	GitHubID  int64     `json:"githubId"  db:"github_id"`
	Login     string    `json:"login"     db:"login"`
	Email     string    `json:"email"     db:"email"`
	AvatarURL string    `json:"avatarUrl" db:"avatar_url"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}
