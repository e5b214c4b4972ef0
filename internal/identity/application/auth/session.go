package auth

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/felixgeelhaar/billcycle/internal/billing/domain"
	"github.com/felixgeelhaar/billcycle/pkg/observability"
)

// Doer sends one backend request with the given bearer token.
type Doer interface {
	Do(ctx context.Context, method, path string, body any, bearer string) (json.RawMessage, error)
}

// Session is the signed-in user's view of the backend.
type Session struct {
	client Doer
	logger *slog.Logger

	mu     sync.RWMutex
	userID string
	tokens *Tokens
}

// NewSession creates a signed-out session.
func NewSession(client Doer, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{client: client, logger: logger}
}

// SignIn sets the acting user and their credentials.
func (s *Session) SignIn(userID string, tokens *Tokens) error {
	if userID == "" {
		return domain.NewValidationError("user id required")
	}
	if tokens == nil {
		return domain.NewValidationError("credentials required")
	}
	s.mu.Lock()
	s.userID = userID
	s.tokens = tokens
	s.mu.Unlock()

	s.logger.Info("signed in", observability.UserIDKey, userID)
	return nil
}

// SignOut forgets the acting user.
func (s *Session) SignOut() {
	s.mu.Lock()
	s.userID = ""
	s.tokens = nil
	s.mu.Unlock()
}

// CurrentUserID returns the signed-in user.
func (s *Session) CurrentUserID() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID, s.userID != ""
}

// AuthorizedRequest sends the request with the user's bearer token. A 401
// is retried once after refreshing the token.
func (s *Session) AuthorizedRequest(ctx context.Context, method, path string, body any) (json.RawMessage, error) {
	s.mu.RLock()
	userID, tokens := s.userID, s.tokens
	s.mu.RUnlock()
	if userID == "" || tokens == nil {
		return nil, domain.NewValidationError("sign in to continue")
	}
	ctx = observability.WithUserID(ctx, userID)

	token, err := tokens.Token(ctx)
	if err != nil {
		return nil, domain.NewTransientError(err, "refresh access token")
	}

	raw, err := s.client.Do(ctx, method, path, body, token.AccessToken)
	if domain.RejectionStatus(err) != http.StatusUnauthorized || !tokens.CanRefresh() {
		return raw, err
	}

	s.logger.InfoContext(ctx, "access token rejected, refreshing")
	if rerr := tokens.ForceRefresh(ctx); rerr != nil {
		s.logger.WarnContext(ctx, "token refresh failed", observability.ErrorKey, rerr)
		return nil, err
	}
	token, terr := tokens.Token(ctx)
	if terr != nil {
		return nil, err
	}
	return s.client.Do(ctx, method, path, body, token.AccessToken)
}
