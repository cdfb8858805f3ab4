// Package cache stores lightweight mailbox poll health in Valkey/Redis so
// operators can see it without querying the database.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultStatusTTL bounds how long a poll status survives without refresh.
const DefaultStatusTTL = 24 * time.Hour

// PollStatus is the snapshot written after every mailbox session.
type PollStatus struct {
	AccountID       string    `json:"account_id"`
	TenantID        string    `json:"tenant_id"`
	LastPollAt      time.Time `json:"last_poll_at"`
	LastStatus      string    `json:"last_status"`
	LastError       string    `json:"last_error"`
	MessagesFound   int       `json:"messages_found"`
	MessagesHandled int       `json:"messages_handled"`
	NextPollETA     time.Time `json:"next_poll_eta,omitempty"`
}

// StatusStore is what the orchestrator writes poll health to.
type StatusStore interface {
	SetStatus(ctx context.Context, status PollStatus) error
	GetStatus(ctx context.Context, accountID string) (*PollStatus, error)
}

// Config describes the Valkey/Redis connection.
type Config struct {
	Addrs        []string
	Password     string
	DB           int
	ClusterMode  bool
	KeyPrefix    string
	TTL          time.Duration
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// StatusCache is a StatusStore backed by go-redis.
type StatusCache struct {
	client redis.Cmdable
	closer func() error
	prefix string
	ttl    time.Duration
}

// NewStatusCache connects and pings the configured server or cluster.
func NewStatusCache(cfg Config) (*StatusCache, error) {
	if len(cfg.Addrs) == 0 {
		return nil, errors.New("valkey address is required")
	}

	var client redis.UniversalClient
	if cfg.ClusterMode {
		client = redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:        cfg.Addrs,
			Password:     cfg.Password,
			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		})
	} else {
		client = redis.NewClient(&redis.Options{
			Addr:         cfg.Addrs[0],
			Password:     cfg.Password,
			DB:           cfg.DB,
			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Valkey: %w", err)
	}

	c := NewStatusCacheFromClient(client, cfg.KeyPrefix, cfg.TTL)
	c.closer = client.Close
	return c, nil
}

// NewStatusCacheFromClient wraps an existing client.
func NewStatusCacheFromClient(client redis.Cmdable, prefix string, ttl time.Duration) *StatusCache {
	if ttl <= 0 {
		ttl = DefaultStatusTTL
	}
	return &StatusCache{client: client, prefix: prefix, ttl: ttl}
}

// Key returns the storage key of an account's poll status.
func (c *StatusCache) Key(accountID string) string {
	return c.prefix + "mail_poll_status:" + accountID
}

// SetStatus stores status under the account key.
func (c *StatusCache) SetStatus(ctx context.Context, status PollStatus) error {
	data, err := json.Marshal(status)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.Key(status.AccountID), data, c.ttl).Err()
}

// GetStatus returns the stored status or nil when none exists.
func (c *StatusCache) GetStatus(ctx context.Context, accountID string) (*PollStatus, error) {
	data, err := c.client.Get(ctx, c.Key(accountID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var status PollStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, fmt.Errorf("decode poll status: %w", err)
	}
	return &status, nil
}

// Close releases the connection pool when the cache owns it.
func (c *StatusCache) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer()
}
