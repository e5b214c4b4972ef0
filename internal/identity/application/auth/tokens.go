// Package auth holds the signed-in user's credentials and issues
// authenticated backend requests on their behalf.
package auth

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

// ErrNoRefresh is returned when the credentials cannot be refreshed.
var ErrNoRefresh = errors.New("credentials cannot be refreshed")

// Tokens holds a bearer token and, when an OAuth client is configured,
// refreshes it with the refresh token.
type Tokens struct {
	mu     sync.Mutex
	config *oauth2.Config
	token  *oauth2.Token
}

// NewStaticTokens wraps a fixed access token.
func NewStaticTokens(accessToken string) *Tokens {
	return &Tokens{token: &oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"}}
}

// NewRefreshingTokens refreshes through the token endpoint of cfg.
func NewRefreshingTokens(cfg *oauth2.Config, token *oauth2.Token) *Tokens {
	return &Tokens{config: cfg, token: token}
}

// OAuthConfig builds a config used only to refresh tokens.
func OAuthConfig(clientID, clientSecret, tokenURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: tokenURL},
	}
}

// CanRefresh reports whether ForceRefresh can succeed.
func (t *Tokens) CanRefresh() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.config != nil && t.token != nil && t.token.RefreshToken != ""
}

// Token returns a valid token, refreshing it first if it has expired.
func (t *Tokens) Token(ctx context.Context) (*oauth2.Token, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.token == nil {
		return nil, errors.New("no credentials")
	}
	if t.config == nil || t.token.Valid() {
		return t.token, nil
	}
	return t.refreshLocked(ctx)
}

// ForceRefresh exchanges the refresh token for a new access token even if
// the current one has not expired yet.
func (t *Tokens) ForceRefresh(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.config == nil || t.token == nil || t.token.RefreshToken == "" {
		return ErrNoRefresh
	}
	expired := *t.token
	expired.Expiry = time.Now().Add(-time.Minute)
	t.token = &expired
	_, err := t.refreshLocked(ctx)
	return err
}

func (t *Tokens) refreshLocked(ctx context.Context) (*oauth2.Token, error) {
	token, err := t.config.TokenSource(ctx, t.token).Token()
	if err != nil {
		return nil, err
	}
	t.token = token
	return token, nil
}
