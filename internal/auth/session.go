package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

// ErrUnauthenticated is returned when no valid session backs the token
var ErrUnauthenticated = errors.New("unauthenticated")

// Identity is the resolved caller of an authenticated connection
type Identity struct {
	ID   string `json:"id"`
	Role string `json:"role"`
}

// Verifier resolves a session token into an identity
type Verifier interface {
	Verify(ctx context.Context, token string) (*Identity, error)
}

// SessionVerifier resolves tokens against the session records the web
// application's auth layer writes to Redis.
type SessionVerifier struct {
	client *redis.Client
	prefix string
	logger *logrus.Logger
}

func NewSessionVerifier(client *redis.Client, prefix string, logger *logrus.Logger) *SessionVerifier {
	return &SessionVerifier{
		client: client,
		prefix: prefix,
		logger: logger,
	}
}

// Verify looks up the session record for token and returns its identity
func (v *SessionVerifier) Verify(ctx context.Context, token string) (*Identity, error) {
	if token == "" {
		return nil, ErrUnauthenticated
	}

	data, err := v.client.Get(ctx, v.prefix+token).Result()
	if err == redis.Nil {
		return nil, ErrUnauthenticated
	}
	if err != nil {
		return nil, fmt.Errorf("session lookup failed: %w", err)
	}

	var identity Identity
	if err := json.Unmarshal([]byte(data), &identity); err != nil {
		v.logger.WithError(err).Warn("Malformed session record")
		return nil, ErrUnauthenticated
	}

	if identity.ID == "" {
		return nil, ErrUnauthenticated
	}

	return &identity, nil
}

// TokenFromRequest extracts the session token from an upgrade request,
// checking the Authorization header first, then the token query parameter.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if strings.HasPrefix(h, "Bearer ") {
			return strings.TrimPrefix(h, "Bearer ")
		}
		return h
	}
	return r.URL.Query().Get("token")
}
