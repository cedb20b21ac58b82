// Package redisctx keeps conversation contexts in Redis, letting Redis key
// expiry enforce the pending-state TTL instead of application-side sweeps.
package redisctx

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/kotonoha-app/kaiwa/internal/models"
)

const keyPrefix = "kaiwa:context:"

// Store implements store.ContextStore on a Redis backend.
type Store struct {
	client *redis.Client
	logger *zap.Logger
}

// New connects to Redis and verifies the connection.
func New(addr, password string, logger *zap.Logger) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           0,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	logger.Info("connected to redis", zap.String("addr", addr))
	return &Store{client: client, logger: logger}, nil
}

// NewWithClient wraps an existing client, used by tests with miniredis.
func NewWithClient(client *redis.Client, logger *zap.Logger) *Store {
	return &Store{client: client, logger: logger}
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.client.Close()
}

func contextKey(installationID string) string {
	return keyPrefix + installationID
}

// GetContext returns the stored context, or (nil, nil) when none exists or
// the key has expired.
func (s *Store) GetContext(ctx context.Context, installationID string) (*models.ConversationContext, error) {
	data, err := s.client.Get(ctx, contextKey(installationID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get context: %w", err)
	}

	var c models.ConversationContext
	if err := json.Unmarshal(data, &c); err != nil {
		// A corrupt value is unrecoverable; drop it so the conversation
		// can restart fresh rather than fail every turn.
		s.logger.Warn("dropping undecodable context",
			zap.String("installation_id", installationID),
			zap.Error(err),
		)
		s.client.Del(ctx, contextKey(installationID))
		return nil, nil
	}
	return &c, nil
}

// UpsertContext writes the context with a TTL matching its ExpiresAt.
func (s *Store) UpsertContext(ctx context.Context, c *models.ConversationContext) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode context: %w", err)
	}

	ttl := time.Until(c.ExpiresAt)
	if ttl <= 0 {
		// Already expired; storing it would be read back as absent anyway.
		return s.ClearContext(ctx, c.InstallationID)
	}

	if err := s.client.Set(ctx, contextKey(c.InstallationID), data, ttl).Err(); err != nil {
		return fmt.Errorf("set context: %w", err)
	}
	return nil
}

// ClearContext removes the context. Clearing an absent context is not an error.
func (s *Store) ClearContext(ctx context.Context, installationID string) error {
	if err := s.client.Del(ctx, contextKey(installationID)).Err(); err != nil {
		return fmt.Errorf("clear context: %w", err)
	}
	return nil
}
