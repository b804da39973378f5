// internal/auth/oauth.go

// Package auth handles the GitHub OAuth authorization-code flow.
package auth

import (
	"context"

	"golang.org/x/oauth2"
	githuboauth "golang.org/x/oauth2/github"
)

// Scopes requested from GitHub: private repo read, profile, and org
// membership listing.
var scopes = []string{"repo", "user", "read:org"}

// OAuth wraps the oauth2 configuration for the GitHub provider.
type OAuth struct {
	cfg *oauth2.Config
}

// New creates the OAuth flow configuration.
func New(clientID, clientSecret, callbackURL string) *OAuth {
	return &OAuth{
		cfg: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  callbackURL,
			Scopes:       scopes,
			Endpoint:     githuboauth.Endpoint,
		},
	}
}

// AuthURL returns the GitHub authorization page URL for the given state.
func (o *OAuth) AuthURL(state string) string {
	return o.cfg.AuthCodeURL(state)
}

// Exchange trades an authorization code for an access token.
func (o *OAuth) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	return o.cfg.Exchange(ctx, code)
}
