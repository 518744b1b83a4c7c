// Package main implements the task queue HTTP API server.
// Producers use it to enqueue and schedule tasks; operators use it to inspect
// and cancel them.
//
// API Endpoints:
//
//	POST   /tasks                  - Enqueue a task
//	POST   /tasks/scheduled        - Schedule a task after a delay
//	GET    /tasks?status=PENDING   - List tasks in a status
//	GET    /tasks/{id}             - Fetch one task
//	DELETE /tasks/{id}             - Cancel a task
//	GET    /queues/{queue}/tasks   - List tasks waiting in a queue
//	GET    /scheduled?before=...   - List delayed tasks due before a time
//	POST   /recurring              - Register a cron-driven recurring task
//	GET    /recurring              - List recurring entries
//	DELETE /recurring/{id}         - Remove a recurring entry
//	GET    /stats                  - Queue sizes, delayed count and API-side enqueue counts
//
// Request Format (POST /tasks):
//
//	{
//	  "name": "email.send",
//	  "queue": "emails",
//	  "priority": 0,
//	  "payload": {
//	    "to": "user@example.com",
//	    "subject": "Hello"
//	  }
//	}
//
// Usage:
//
//	go run ./cmd/server
//
// The server listens on API_ADDR. When API_KEY is set every request must carry it
// in the X-API-Key header.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/guido-cesarano/taskqueue/pkg/config"
	"github.com/guido-cesarano/taskqueue/pkg/logger"
	"github.com/guido-cesarano/taskqueue/pkg/queue"
	"github.com/guido-cesarano/taskqueue/pkg/store"
)

// authMiddleware enforces API key authentication. An empty key disables it (dev mode).
func authMiddleware(requiredKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if requiredKey != "" && r.Header.Get("X-API-Key") != requiredKey {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// enableCORS adds CORS headers and answers preflight requests.
func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*") // Allow all origins for dev
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, X-API-Key")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requestLogger logs every request with zerolog.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		logger.Log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("Request served")
	})
}

// setupRouter builds the API router.
// CORS runs before auth so preflight requests never need a key.
func setupRouter(a *api, apiKey string) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(enableCORS)
	r.Use(authMiddleware(apiKey))

	r.Route("/tasks", func(r chi.Router) {
		r.Post("/", a.enqueue)
		r.Get("/", a.listByStatus)
		r.Post("/scheduled", a.schedule)
		r.Get("/{id}", a.getTask)
		r.Delete("/{id}", a.cancelTask)
	})
	r.Get("/queues/{queue}/tasks", a.listQueue)
	r.Get("/scheduled", a.listScheduled)
	r.Route("/recurring", func(r chi.Router) {
		r.Post("/", a.addRecurring)
		r.Get("/", a.listRecurring)
		r.Delete("/{id}", a.removeRecurring)
	})
	r.Get("/stats", a.stats)

	return r
}

// main initializes the engine and serves the API until SIGINT/SIGTERM.
// The engine runs no workers here; only the promoter and cron scheduler.
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

	taskStore := store.New(store.NewRedisBackend(rdb), store.WithKeyPrefix(cfg.KeyPrefix))
	engine := queue.NewEngine(taskStore, nil,
		queue.WithPromoteInterval(cfg.PromoteInterval),
		queue.WithShutdownGrace(cfg.ShutdownGrace),
		queue.WithMaxRetries(cfg.MaxRetries),
	)
	engine.StartProcessing(ctx)

	if cfg.APIKey == "" {
		logger.Log.Warn().Msg("API_KEY not set. Authentication disabled.")
	} else {
		logger.Log.Info().Msg("API Authentication enabled.")
	}

	a := &api{
		engine:   engine,
		delayed:  taskStore,
		queues:   cfg.Queues,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
	srv := &http.Server{
		Addr:              cfg.APIAddr,
		Handler:           setupRouter(a, cfg.APIKey),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Log.Info().Str("addr", cfg.APIAddr).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Log.Info().Msg("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Log.Error().Err(err).Msg("Server shutdown failed")
	}
	if err := engine.StopProcessing(); err != nil {
		logger.Log.Warn().Err(err).Msg("Engine did not stop cleanly")
	}
}
