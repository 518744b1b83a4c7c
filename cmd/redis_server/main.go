// Package main runs an in-memory Redis (miniredis) for local development, so the
// worker and API server can be started without a real Redis.
package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/alicebob/miniredis/v2"
	"github.com/guido-cesarano/taskqueue/pkg/config"
	"github.com/guido-cesarano/taskqueue/pkg/logger"
)

func main() {
	cfg := config.MustLoad()
	logger.Configure(cfg.LogLevel, cfg.AppEnv)

	s := miniredis.NewMiniRedis()
	if cfg.RedisPassword != "" {
		s.RequireAuth(cfg.RedisPassword)
	}
	if err := s.StartAddr(cfg.RedisAddr); err != nil {
		logger.Log.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("Failed to start miniredis")
	}
	defer s.Close()

	logger.Log.Info().Str("addr", s.Addr()).Msg("MiniRedis server started")

	// Wait for interrupt signal to gracefully shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Log.Info().Msg("Shutting down MiniRedis...")
}
