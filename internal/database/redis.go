package database

import (
	"context"
	"crypto/rand"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// RedisClient wraps the redis client
type RedisClient struct {
	*redis.Client
	logger *logrus.Entry
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TLS      bool
}

// NewRedisClient creates a new Redis client
func NewRedisClient(cfg RedisConfig, logger *logrus.Entry) (*RedisClient, error) {
	opts := &redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if cfg.TLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("unable to ping Redis: %w", err)
	}

	logger.Info("Successfully connected to Redis")

	return &RedisClient{Client: client, logger: logger}, nil
}

// Close closes the Redis connection
func (r *RedisClient) Close() error {
	if r.Client != nil {
		r.logger.Info("Closing Redis connection")
		return r.Client.Close()
	}
	return nil
}

// Health checks the Redis connection health
func (r *RedisClient) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	return r.Ping(ctx).Err()
}

// TokenRevocationStore is the logout blocklist of token IDs (jti).
// Entries expire together with the token they revoke.
type TokenRevocationStore struct {
	client redis.Cmdable
}

// NewTokenRevocationStore creates a new revocation store
func NewTokenRevocationStore(client redis.Cmdable) *TokenRevocationStore {
	return &TokenRevocationStore{client: client}
}

// Revoke blocklists a token ID until expiresAt
func (s *TokenRevocationStore) Revoke(ctx context.Context, jti string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil
	}
	return s.client.Set(ctx, revokedKey(jti), "1", ttl).Err()
}

// IsRevoked reports whether a token ID is blocklisted
func (s *TokenRevocationStore) IsRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := s.client.Exists(ctx, revokedKey(jti)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check token revocation: %w", err)
	}
	return n > 0, nil
}

func revokedKey(jti string) string {
	return fmt.Sprintf("revoked:%s", jti)
}

// OAuthStateStore holds one-time OAuth state tokens
type OAuthStateStore struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewOAuthStateStore creates a new state store
func NewOAuthStateStore(client redis.Cmdable, ttl time.Duration) *OAuthStateStore {
	if ttl == 0 {
		ttl = 10 * time.Minute
	}
	return &OAuthStateStore{client: client, ttl: ttl}
}

// Issue generates a cryptographically secure state token and remembers it
func (s *OAuthStateStore) Issue(ctx context.Context) (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate state token: %w", err)
	}
	state := base64.URLEncoding.EncodeToString(b)

	if err := s.client.Set(ctx, stateKey(state), "1", s.ttl).Err(); err != nil {
		return "", fmt.Errorf("failed to store state token: %w", err)
	}
	return state, nil
}

// Consume reports whether state was issued and not yet used, and invalidates it
func (s *OAuthStateStore) Consume(ctx context.Context, state string) (bool, error) {
	if state == "" {
		return false, nil
	}
	_, err := s.client.GetDel(ctx, stateKey(state)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to consume state token: %w", err)
	}
	return true, nil
}

func stateKey(state string) string {
	return fmt.Sprintf("oauth_state:%s", state)
}
