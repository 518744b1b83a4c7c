package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guido-cesarano/taskqueue/pkg/config"
)

func TestLoadFrom_Defaults(t *testing.T) {
	cfg, err := config.LoadFrom(map[string]string{})
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:6379", cfg.RedisAddr)
	assert.Equal(t, 0, cfg.RedisDB)
	assert.Equal(t, []string{"emails", "reports", "notifications"}, cfg.Queues)
	assert.Equal(t, 100*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, time.Second, cfg.PromoteInterval)
	assert.Equal(t, 30*time.Second, cfg.ShutdownGrace)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, ":8080", cfg.MetricsAddr)
	assert.Equal(t, ":8081", cfg.APIAddr)
	assert.Empty(t, cfg.APIKey)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "development", cfg.AppEnv)
}

func TestLoadFrom_Overrides(t *testing.T) {
	cfg, err := config.LoadFrom(map[string]string{
		"REDIS_ADDR":       "redis.internal:6380",
		"REDIS_PASSWORD":   "secret",
		"REDIS_DB":         "2",
		"KEY_PREFIX":       "staging:",
		"QUEUES":           "a,b",
		"POLL_INTERVAL":    "250ms",
		"PROMOTE_INTERVAL": "5s",
		"SHUTDOWN_GRACE":   "1m",
		"MAX_RETRIES":      "0",
		"API_KEY":          "k",
		"LOG_LEVEL":        "debug",
		"APP_ENV":          "production",
	})
	require.NoError(t, err)

	assert.Equal(t, "redis.internal:6380", cfg.RedisAddr)
	assert.Equal(t, "staging:", cfg.KeyPrefix)
	assert.Equal(t, []string{"a", "b"}, cfg.Queues)
	assert.Equal(t, 250*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, time.Minute, cfg.ShutdownGrace)
	assert.Equal(t, 0, cfg.MaxRetries)
	assert.Equal(t, "production", cfg.AppEnv)

	opts := cfg.RedisOptions()
	assert.Equal(t, "redis.internal:6380", opts.Addr)
	assert.Equal(t, "secret", opts.Password)
	assert.Equal(t, 2, opts.DB)
	assert.Equal(t, 3, opts.RetryAttempts)
}

func TestLoadFrom_ParseError(t *testing.T) {
	_, err := config.LoadFrom(map[string]string{"POLL_INTERVAL": "soon"})
	require.ErrorIs(t, err, config.ErrParsingConfig)
}

func TestLoadFrom_ValidationErrors(t *testing.T) {
	cases := map[string]map[string]string{
		"bad address":       {"REDIS_ADDR": "no-port"},
		"negative retries":  {"MAX_RETRIES": "-1"},
		"zero poll":         {"POLL_INTERVAL": "0s"},
		"unknown log level": {"LOG_LEVEL": "chatty"},
		"unknown env":       {"APP_ENV": "qa"},
		"empty queue name":  {"QUEUES": "a,,b"},
	}
	for name, environment := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := config.LoadFrom(environment)
			require.ErrorIs(t, err, config.ErrInvalidConfig)
		})
	}
}

func TestLoad_ReadsProcessEnvironment(t *testing.T) {
	t.Setenv("QUEUES", "only")
	t.Setenv("API_KEY", "from-env")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"only"}, cfg.Queues)
	assert.Equal(t, "from-env", cfg.APIKey)
}

func TestMustLoad_Panics(t *testing.T) {
	t.Setenv("APP_ENV", "qa")
	assert.Panics(t, func() { config.MustLoad() })
}
