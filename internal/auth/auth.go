package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"arenachat/internal/models"

	"github.com/c-pro/geche"
)

const DefaultTokenExpiry = 24 * time.Hour

var (
	ErrUnauthenticated = errors.New("invalid or expired credential")
)

// TokenStore persists minted bearer tokens so sessions survive restarts.
// Only the token hash ever reaches the store.
type TokenStore interface {
	UpsertToken(tokenHash string, identity models.Identity, expiresAt int64) error
	GetToken(tokenHash string) (models.Identity, int64, error)
	DeleteToken(tokenHash string) error
}

type Config struct {
	TokenExpiry time.Duration
}

func (c *Config) Validate() error {
	if c.TokenExpiry == 0 {
		c.TokenExpiry = DefaultTokenExpiry
	}
	if c.TokenExpiry < 0 {
		return errors.New("token expiry must be positive")
	}
	return nil
}

// Service is the adapter in front of the platform's auth system: the
// platform (or the -mint-token maintenance command) mints bearer tokens
// for already-authenticated identities, and connections present them at
// handshake time. Verified identities are cached with a TTL so the hot
// path stays off the store.
type Service struct {
	Config
	live  geche.Geche[string, cachedToken]
	store TokenStore
	now   func() time.Time
}

// cachedToken keeps the store's absolute expiry next to the identity so a
// cache hit cannot outlive the token itself.
type cachedToken struct {
	identity  models.Identity
	expiresAt int64
}

func NewService(ctx context.Context, config Config, store TokenStore) (*Service, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Service{
		Config: config,
		live:   geche.NewMapTTLCache[string, cachedToken](ctx, config.TokenExpiry, time.Minute),
		store:  store,
		now:    time.Now,
	}, nil
}

// Mint creates a bearer token for the given identity and persists its hash.
func (s *Service) Mint(identity models.Identity) (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	token := base64.RawURLEncoding.EncodeToString(b)

	hash := hashToken(token)
	expiresAt := s.now().Add(s.TokenExpiry).Unix()
	if err := s.store.UpsertToken(hash, identity, expiresAt); err != nil {
		return "", fmt.Errorf("failed to persist token: %w", err)
	}
	s.live.Set(hash, cachedToken{identity: identity, expiresAt: expiresAt})

	return token, nil
}

// Verify resolves a bearer token to its identity.
// Returns ErrUnauthenticated for unknown or expired tokens.
func (s *Service) Verify(token string) (models.Identity, error) {
	if token == "" {
		return models.Identity{}, ErrUnauthenticated
	}
	hash := hashToken(token)

	if cached, err := s.live.Get(hash); err == nil {
		if cached.expiresAt == 0 || s.now().Unix() < cached.expiresAt {
			return cached.identity, nil
		}
		_ = s.live.Del(hash)
		_ = s.store.DeleteToken(hash)
		return models.Identity{}, ErrUnauthenticated
	}

	identity, expiresAt, err := s.store.GetToken(hash)
	if err != nil {
		return models.Identity{}, ErrUnauthenticated
	}
	if expiresAt != 0 && s.now().Unix() >= expiresAt {
		_ = s.store.DeleteToken(hash)
		return models.Identity{}, ErrUnauthenticated
	}

	s.live.Set(hash, cachedToken{identity: identity, expiresAt: expiresAt})
	return identity, nil
}

// Revoke invalidates a token immediately.
func (s *Service) Revoke(token string) error {
	hash := hashToken(token)
	_ = s.live.Del(hash)
	return s.store.DeleteToken(hash)
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return base64.StdEncoding.EncodeToString(sum[:])
}
