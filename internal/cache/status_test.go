package cache

import (
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusKey(t *testing.T) {
	c := NewStatusCacheFromClient(redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"}), "gotrs:", 0)
	assert.Equal(t, "gotrs:mail_poll_status:acc-1", c.Key("acc-1"))
	assert.Equal(t, DefaultStatusTTL, c.ttl)
	require.NoError(t, c.Close(), "borrowed clients are not closed")
}

func TestNewStatusCacheRequiresAddress(t *testing.T) {
	_, err := NewStatusCache(Config{})
	require.Error(t, err)
}

func TestNewStatusCacheFailsWhenUnreachable(t *testing.T) {
	_, err := NewStatusCache(Config{Addrs: []string{"127.0.0.1:1"}, DialTimeout: 100 * time.Millisecond})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect to Valkey")
}
