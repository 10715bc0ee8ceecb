package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DEFAULT_DOMAIN", "scsr.io")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://scsr.io/", cfg.App.BaseURL)
	assert.EqualValues(t, 25, cfg.DB.MaxConns)
	assert.EqualValues(t, 5, cfg.DB.MinConns)
	assert.Equal(t, 100, cfg.Redis.PoolSize)
	assert.Equal(t, 10, cfg.Redis.MinIdleConns)
	assert.Equal(t, 60, cfg.Cache.TTLSeconds)
	assert.Equal(t, "./qr_codes", cfg.QR.Dir)
	assert.EqualValues(t, 10, cfg.RateLimit.RequestsPerSecond)
	assert.Equal(t, 20, cfg.RateLimit.BurstSize)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("DB_MAX_CONNS", "50")
	t.Setenv("DB_MIN_CONNS", "8")
	t.Setenv("REDIS_POOL_SIZE", "40")
	t.Setenv("REDIS_MIN_IDLE_CONNS", "4")
	t.Setenv("BASE_URL", "https://short.example.com/")

	cfg, err := Load()
	require.NoError(t, err)

	assert.EqualValues(t, 50, cfg.DB.MaxConns)
	assert.EqualValues(t, 8, cfg.DB.MinConns)
	assert.Equal(t, 40, cfg.Redis.PoolSize)
	assert.Equal(t, 4, cfg.Redis.MinIdleConns)
	assert.Equal(t, "https://short.example.com/", cfg.App.BaseURL)
}

func TestParseAPIKeys(t *testing.T) {
	keys, err := parseAPIKeys("key-a:1, key-b:2")
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"key-a": 1, "key-b": 2}, keys)

	keys, err = parseAPIKeys("")
	require.NoError(t, err)
	assert.Empty(t, keys)

	_, err = parseAPIKeys("no-account-id")
	assert.Error(t, err)

	_, err = parseAPIKeys("key:not-a-number")
	assert.Error(t, err)
}
