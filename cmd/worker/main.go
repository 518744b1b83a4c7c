// Package main implements the task queue worker process.
// The worker serves the configured queues, dispatching tasks to the built-in handlers.
//
// Features:
//   - One worker loop per queue with graceful shutdown
//   - Prometheus metrics exposed on METRICS_ADDR (/metrics)
//   - Automatic retry with exponential backoff
//   - Background promoter for scheduled and retried tasks
//
// Usage:
//
//	go run ./cmd/worker
//
// Configuration is read from the environment (and .env), see pkg/config.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	kitprometheus "github.com/go-kit/kit/metrics/prometheus"
	"github.com/guido-cesarano/taskqueue/pkg/config"
	"github.com/guido-cesarano/taskqueue/pkg/logger"
	"github.com/guido-cesarano/taskqueue/pkg/metrics"
	"github.com/guido-cesarano/taskqueue/pkg/queue"
	"github.com/guido-cesarano/taskqueue/pkg/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const depthInterval = 5 * time.Second

var methodError = []string{"method", "error"}

// main wires configuration, Redis, the engine and the metrics server, then blocks
// until SIGINT/SIGTERM.
func main() {
	cfg := config.MustLoad()
	logger.Configure(cfg.LogLevel, cfg.AppEnv)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rdb, err := store.Connect(ctx, cfg.RedisOptions())
	if err != nil {
		logger.Log.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	storeReqCount := kitprometheus.NewCounterFrom(prometheus.CounterOpts{
		Namespace: "taskqueue",
		Subsystem: "store",
		Name:      "request_count",
		Help:      "store request count",
	}, methodError)
	storeReqDuration := kitprometheus.NewSummaryFrom(prometheus.SummaryOpts{
		Namespace: "taskqueue",
		Subsystem: "store",
		Name:      "request_duration",
		Help:      "store request duration in seconds",
	}, methodError)

	backend := store.NewInstrumentingBackend(storeReqCount, storeReqDuration, store.NewRedisBackend(rdb))
	taskStore := store.New(backend, store.WithKeyPrefix(cfg.KeyPrefix))

	registry := metrics.NewRegistry()
	prometheus.MustRegister(registry)
	instruments := newWorkerMetrics(prometheus.DefaultRegisterer)

	engine := queue.NewEngine(taskStore, registry,
		queue.WithPollInterval(cfg.PollInterval),
		queue.WithPromoteInterval(cfg.PromoteInterval),
		queue.WithShutdownGrace(cfg.ShutdownGrace),
		queue.WithMaxRetries(cfg.MaxRetries),
	)
	if err := registerHandlers(engine, instruments); err != nil {
		logger.Log.Fatal().Err(err).Msg("Failed to register handlers")
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Log.Info().Str("addr", cfg.MetricsAddr).Msg("Metrics server listening")
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log.Error().Err(err).Msg("Metrics server failed")
		}
	}()

	go instruments.collectQueueMetrics(ctx, engine, taskStore, cfg.Queues, depthInterval)

	engine.StartProcessing(ctx, cfg.Queues...)
	logger.Log.Info().Strs("queues", cfg.Queues).Msg("Worker started. Waiting for tasks...")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Log.Info().Str("signal", sig.String()).Msg("Shutting down worker...")

	if err := engine.StopProcessing(); err != nil {
		logger.Log.Warn().Err(err).Msg("Tasks still running at shutdown")
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = metricsServer.Shutdown(shutdownCtx)

	logSnapshots(registry)
	logger.Log.Info().Msg("goodbye")
}

// logSnapshots prints the final per-queue counters.
func logSnapshots(registry *metrics.Registry) {
	for queueName, s := range registry.SnapshotAll() {
		logger.Log.Info().
			Str("queue", queueName).
			Int64("enqueued", s.Enqueued).
			Int64("successful", s.Successful).
			Int64("failed", s.Failed).
			Int64("retried", s.Retried).
			Float64("avg_processing_ms", s.AverageProcessingTimeMs).
			Msg("Queue metrics")
	}
}
