// Package config loads process configuration from the environment.
//
// A .env file in the working directory is read first when present; variables already
// set in the environment take precedence over it.
package config

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/guido-cesarano/taskqueue/pkg/store"
	"github.com/joho/godotenv"
)

// Config holds the settings shared by the worker and the API server.
type Config struct {
	RedisAddr           string        `env:"REDIS_ADDR" envDefault:"127.0.0.1:6379" validate:"required,hostname_port"`
	RedisPassword       string        `env:"REDIS_PASSWORD"`
	RedisDB             int           `env:"REDIS_DB" envDefault:"0" validate:"min=0,max=15"`
	RedisRetryAttempts  int           `env:"REDIS_RETRY_ATTEMPTS" envDefault:"3" validate:"min=1"`
	RedisRetryInterval  time.Duration `env:"REDIS_RETRY_INTERVAL" envDefault:"2s" validate:"gte=0"`
	RedisConnectTimeout time.Duration `env:"REDIS_CONNECT_TIMEOUT" envDefault:"30s" validate:"gt=0"`
	KeyPrefix           string        `env:"KEY_PREFIX"`

	Queues          []string      `env:"QUEUES" envSeparator:"," envDefault:"emails,reports,notifications" validate:"min=1,dive,required"`
	PollInterval    time.Duration `env:"POLL_INTERVAL" envDefault:"100ms" validate:"gt=0"`
	PromoteInterval time.Duration `env:"PROMOTE_INTERVAL" envDefault:"1s" validate:"gt=0"`
	ShutdownGrace   time.Duration `env:"SHUTDOWN_GRACE" envDefault:"30s" validate:"gt=0"`
	MaxRetries      int           `env:"MAX_RETRIES" envDefault:"3" validate:"min=0,max=30"`

	MetricsAddr string `env:"METRICS_ADDR" envDefault:":8080" validate:"required"`
	APIAddr     string `env:"API_ADDR" envDefault:":8081" validate:"required"`
	APIKey      string `env:"API_KEY"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info" validate:"oneof=trace debug info warn error"`
	AppEnv   string `env:"APP_ENV" envDefault:"development" validate:"oneof=development production test"`
}

var (
	dotenvLoaded sync.Once
	validate     = validator.New(validator.WithRequiredStructEnabled())
)

// Load reads the .env file once, parses the environment and validates the result.
func Load() (Config, error) {
	dotenvLoaded.Do(func() {
		// The .env file is optional.
		_ = godotenv.Load()
	})
	return parse(env.Options{})
}

// LoadFrom parses the given variables instead of the process environment.
func LoadFrom(environment map[string]string) (Config, error) {
	return parse(env.Options{Environment: environment})
}

// MustLoad works like Load but panics if the configuration cannot be loaded.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load required configuration: %v", err))
	}
	return cfg
}

func parse(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, errors.Join(ErrParsingConfig, err)
	}
	if err := validate.Struct(cfg); err != nil {
		return Config{}, errors.Join(ErrInvalidConfig, err)
	}
	return cfg, nil
}

// RedisOptions returns the connection settings for store.Connect.
func (c Config) RedisOptions() store.RedisOptions {
	return store.RedisOptions{
		Addr:           c.RedisAddr,
		Password:       c.RedisPassword,
		DB:             c.RedisDB,
		RetryAttempts:  c.RedisRetryAttempts,
		RetryInterval:  c.RedisRetryInterval,
		ConnectTimeout: c.RedisConnectTimeout,
	}
}
