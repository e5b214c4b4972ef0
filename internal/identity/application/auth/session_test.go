package auth_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/felixgeelhaar/billcycle/internal/billing/domain"
	"github.com/felixgeelhaar/billcycle/internal/identity/application/auth"
)

// recordingDoer answers 401 for any token listed in rejected.
type recordingDoer struct {
	mu       sync.Mutex
	bearers  []string
	rejected map[string]bool
}

func (d *recordingDoer) Do(_ context.Context, _, _ string, _ any, bearer string) (json.RawMessage, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.bearers = append(d.bearers, bearer)
	if d.rejected[bearer] {
		return nil, domain.NewServerRejection(http.StatusUnauthorized, "Token expired.")
	}
	return json.RawMessage(`{"ok": true}`), nil
}

func newTokenServer(t *testing.T, accessToken string) (*httptest.Server, *int) {
	t.Helper()
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.Form.Get("grant_type"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  accessToken,
			"refresh_token": "refresh-2",
			"token_type":    "Bearer",
			"expires_in":    3600,
		})
	}))
	t.Cleanup(server.Close)
	return server, &calls
}

func TestSession_SignInSignOut(t *testing.T) {
	session := auth.NewSession(&recordingDoer{}, nil)

	_, ok := session.CurrentUserID()
	assert.False(t, ok)

	_, err := session.AuthorizedRequest(context.Background(), http.MethodGet, "/subscriptions/details", nil)
	assert.True(t, domain.IsValidation(err))

	require.NoError(t, session.SignIn("user-1", auth.NewStaticTokens("token")))
	userID, ok := session.CurrentUserID()
	assert.True(t, ok)
	assert.Equal(t, "user-1", userID)

	session.SignOut()
	_, ok = session.CurrentUserID()
	assert.False(t, ok)

	assert.True(t, domain.IsValidation(session.SignIn("", auth.NewStaticTokens("token"))))
	assert.True(t, domain.IsValidation(session.SignIn("user-1", nil)))
}

func TestSession_SendsBearer(t *testing.T) {
	doer := &recordingDoer{}
	session := auth.NewSession(doer, nil)
	require.NoError(t, session.SignIn("user-1", auth.NewStaticTokens("static-token")))

	raw, err := session.AuthorizedRequest(context.Background(), http.MethodGet, "/subscriptions/details", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok": true}`, string(raw))
	assert.Equal(t, []string{"static-token"}, doer.bearers)
}

func TestSession_RetriesOnceAfterRefresh(t *testing.T) {
	server, calls := newTokenServer(t, "fresh-token")
	doer := &recordingDoer{rejected: map[string]bool{"stale-token": true}}
	session := auth.NewSession(doer, nil)

	tokens := auth.NewRefreshingTokens(auth.OAuthConfig("client", "secret", server.URL), &oauth2.Token{
		AccessToken:  "stale-token",
		RefreshToken: "refresh-1",
		Expiry:       time.Now().Add(time.Hour),
	})
	require.NoError(t, session.SignIn("user-1", tokens))

	_, err := session.AuthorizedRequest(context.Background(), http.MethodPost, "/billing/pay", map[string]string{"billId": "b1"})

	require.NoError(t, err)
	assert.Equal(t, []string{"stale-token", "fresh-token"}, doer.bearers)
	assert.Equal(t, 1, *calls)
}

func TestSession_StaticTokenRejectionIsReturned(t *testing.T) {
	doer := &recordingDoer{rejected: map[string]bool{"static-token": true}}
	session := auth.NewSession(doer, nil)
	require.NoError(t, session.SignIn("user-1", auth.NewStaticTokens("static-token")))

	_, err := session.AuthorizedRequest(context.Background(), http.MethodGet, "/subscriptions/details", nil)

	assert.True(t, domain.IsServerRejection(err))
	assert.Equal(t, http.StatusUnauthorized, domain.RejectionStatus(err))
	assert.Len(t, doer.bearers, 1)
}

func TestTokens_RefreshesExpiredToken(t *testing.T) {
	server, calls := newTokenServer(t, "fresh-token")
	tokens := auth.NewRefreshingTokens(auth.OAuthConfig("client", "secret", server.URL), &oauth2.Token{
		AccessToken:  "expired",
		RefreshToken: "refresh-1",
		Expiry:       time.Now().Add(-time.Hour),
	})

	token, err := tokens.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fresh-token", token.AccessToken)
	assert.Equal(t, 1, *calls)
	assert.True(t, tokens.CanRefresh())
}

func TestTokens_ForceRefreshWithoutConfig(t *testing.T) {
	tokens := auth.NewStaticTokens("static")
	assert.False(t, tokens.CanRefresh())
	assert.ErrorIs(t, tokens.ForceRefresh(context.Background()), auth.ErrNoRefresh)
}
