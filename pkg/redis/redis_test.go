package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Alijeyrad/keystone_backend/config"
)

func TestOptions_Defaults(t *testing.T) {
	o := Options(config.RedisConfig{Addr: "cache:6379", DB: 2})

	assert.Equal(t, "cache:6379", o.Addr)
	assert.Equal(t, 2, o.DB)
	assert.Equal(t, 10, o.PoolSize)
	assert.Equal(t, 2, o.MinIdleConns)
	assert.Equal(t, 5*time.Second, o.DialTimeout)
	assert.Equal(t, 3*time.Second, o.ReadTimeout)
}

func TestOptions_Overrides(t *testing.T) {
	o := Options(config.RedisConfig{PoolSize: 40, ReadTimeoutSeconds: 1, WriteTimeoutSeconds: 7})

	assert.Equal(t, 40, o.PoolSize)
	assert.Equal(t, time.Second, o.ReadTimeout)
	assert.Equal(t, 7*time.Second, o.WriteTimeout)
}

func TestNewRedis_RequiresAddr(t *testing.T) {
	_, err := NewRedis(context.Background(), config.RedisConfig{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "addr is empty")
}
