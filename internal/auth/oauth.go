package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	jsoniter "github.com/json-iterator/go"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
)

const defaultGitHubUserURL = "https://api.github.com/user"

// GitHubUser is the part of GitHub's /user response we keep.
type GitHubUser struct {
	ID        int64  `json:"id"`
	Login     string `json:"login"`
	Email     string `json:"email"` // empty when hidden in GitHub settings
	AvatarURL string `json:"avatar_url"`
}

// IdentityProvider is the OAuth login the auth handler drives. GitHubProvider
// is the production implementation.
type IdentityProvider interface {
	AuthURL(state string) string
	Exchange(ctx context.Context, code string) (*GitHubUser, error)
}

var _ IdentityProvider = (*GitHubProvider)(nil)

// GitHubProvider runs the GitHub Authorization Code flow with
// golang.org/x/oauth2.
//
// The code-for-token exchange happens server-to-server with the client
// secret, so the GitHub access token never reaches the browser. It is used
// once to read the profile and then dropped: the app keeps only its own
// session token.
type GitHubProvider struct {
	config  *oauth2.Config
	userURL string
}

// GitHubOption configures a GitHubProvider.
type GitHubOption func(*GitHubProvider)

// WithEndpoint points the provider at a different OAuth server and profile
// URL. Used against GitHub Enterprise and in tests.
func WithEndpoint(endpoint oauth2.Endpoint, userURL string) GitHubOption {
	return func(p *GitHubProvider) {
		p.config.Endpoint = endpoint
		p.userURL = userURL
	}
}

// NewGitHubProvider creates a GitHubProvider. callbackURL must match the
// "Authorization callback URL" of the GitHub OAuth App exactly, e.g.
// "http://localhost:8080/auth/github/callback".
func NewGitHubProvider(clientID, clientSecret, callbackURL string, options ...GitHubOption) *GitHubProvider {
	p := &GitHubProvider{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  callbackURL,
			Scopes:       []string{"read:user", "user:email"},
			Endpoint:     github.Endpoint,
		},
		userURL: defaultGitHubUserURL,
	}
	for _, option := range options {
		option(p)
	}
	return p
}

// AuthURL returns the GitHub authorization URL. state must be random per
// login attempt and checked on the callback (CSRF protection).
func (p *GitHubProvider) AuthURL(state string) string {
	return p.config.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

// Exchange trades an authorization code for the user's GitHub profile.
func (p *GitHubProvider) Exchange(ctx context.Context, code string) (*GitHubUser, error) {
	if code == "" {
		return nil, errors.New("auth: missing OAuth code")
	}

	token, err := p.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("auth: exchanging OAuth code: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userURL, nil)
	if err != nil {
		return nil, fmt.Errorf("auth: building GitHub profile request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := p.config.Client(ctx, token).Do(req)
	if err != nil {
		return nil, fmt.Errorf("auth: calling GitHub profile API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("auth: GitHub profile API returned status %d", resp.StatusCode)
	}

	var user GitHubUser
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, fmt.Errorf("auth: decoding GitHub profile: %w", err)
	}
	if user.ID == 0 {
		return nil, errors.New("auth: GitHub returned a profile without an ID")
	}

	return &user, nil
}
