package identity

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
)

// Identity is the resolved caller of a command or a sync connection.
type Identity struct {
	UserID string `json:"user_id" yaml:"user_id"`
	Admin  bool   `json:"admin" yaml:"admin"`
}

// System is the actor used for automatic, policy-driven transitions.
var System = Identity{UserID: "system", Admin: true}

// ErrUnknownToken is returned when a token does not resolve to an identity.
var ErrUnknownToken = errors.New("unknown or expired token")

// Provider resolves an opaque credential to an identity.
type Provider interface {
	Resolve(ctx context.Context, token string) (Identity, error)
}

// TokenStore is an in-memory Provider backed by an expiring cache.
type TokenStore struct {
	tokens *cache.Cache
}

// NewTokenStore creates a store whose issued tokens expire after ttl.
func NewTokenStore(ttl time.Duration) *TokenStore {
	if ttl <= 0 {
		ttl = cache.NoExpiration
	}
	return &TokenStore{tokens: cache.New(ttl, 10*time.Minute)}
}

// Register binds a fixed token to an identity; it never expires.
func (s *TokenStore) Register(token string, id Identity) {
	s.tokens.Set(token, id, cache.NoExpiration)
}

// Issue creates a fresh random token for id using the store's default TTL.
func (s *TokenStore) Issue(id Identity) string {
	token := uuid.NewString()
	s.tokens.SetDefault(token, id)
	return token
}

// Revoke forgets a token.
func (s *TokenStore) Revoke(token string) {
	s.tokens.Delete(token)
}

// Resolve implements Provider.
func (s *TokenStore) Resolve(_ context.Context, token string) (Identity, error) {
	if token == "" {
		return Identity{}, ErrUnknownToken
	}
	v, ok := s.tokens.Get(token)
	if !ok {
		return Identity{}, ErrUnknownToken
	}
	return v.(Identity), nil
}
