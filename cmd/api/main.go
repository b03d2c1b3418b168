package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nikhilbhutani/promptvault/internal/api"
	"github.com/nikhilbhutani/promptvault/internal/api/handlers"
	"github.com/nikhilbhutani/promptvault/internal/api/middleware"
	"github.com/nikhilbhutani/promptvault/internal/audit"
	"github.com/nikhilbhutani/promptvault/internal/cache"
	"github.com/nikhilbhutani/promptvault/internal/config"
	"github.com/nikhilbhutani/promptvault/internal/database"
	"github.com/nikhilbhutani/promptvault/internal/llm"
	"github.com/nikhilbhutani/promptvault/internal/prompt"
	"github.com/nikhilbhutani/promptvault/internal/queue"
	"github.com/nikhilbhutani/promptvault/internal/webhook"
)

var webhookEvents = []string{
	prompt.EventPromptCreated,
	prompt.EventVersionCreated,
	prompt.EventVersionRestored,
	prompt.EventVersionDeleted,
	prompt.EventVersionUndeleted,
	prompt.EventVersionPurged,
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	health := map[string]handlers.Pinger{}
	opts := []prompt.Option{
		prompt.WithLogger(logger),
		prompt.WithConflictAttempts(uint(cfg.Versioning.ConflictRetries)),
	}

	// Redis backs the version cache and the delivery queue (optional)
	var tasks *queue.Client
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()

		if err := rdb.Ping(ctx).Err(); err != nil {
			slog.Warn("redis unavailable, running without cache or queue", "error", err)
		} else {
			c := cache.NewCache(rdb)
			health["redis"] = c
			opts = append(opts, prompt.WithCache(cache.NewVersionCache(c, cfg.Versioning.CacheTTL)))

			tasks = queue.NewClient(cfg.Redis)
			defer tasks.Close()
		}
	}

	gateway := llm.NewGateway(cfg.LLM)
	if llm.Configured(gateway) {
		opts = append(opts, prompt.WithChatClient(gateway))
	} else {
		slog.Warn("no LLM provider configured, prompt runs are disabled")
	}

	deps := api.Deps{Gateway: gateway, Health: health}

	var store prompt.Store
	switch cfg.Database.Driver {
	case config.DriverMemory:
		slog.Warn("using in-memory store, data is lost on restart")
		store = prompt.NewMemoryStore()
	default:
		pool, err := database.NewPool(ctx, cfg.Database)
		if err != nil {
			slog.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		health["database"] = pool

		if cfg.Database.AutoMigrate {
			if err := database.RunMigrations(ctx, pool); err != nil {
				slog.Error("migrations failed", "error", err)
				os.Exit(1)
			}
		}

		auditSvc := audit.NewService(pool)
		var enqueuer webhook.TaskEnqueuer
		if tasks != nil {
			enqueuer = tasks
		}
		webhookSvc := webhook.NewService(pool, enqueuer, webhookEvents, logger)
		defer webhookSvc.Close()

		opts = append(opts, prompt.WithAuditor(auditSvc), prompt.WithEvents(webhookSvc))
		deps.Audit = auditSvc
		deps.Webhooks = webhookSvc
		store = prompt.NewPostgresStore(pool)
	}

	deps.Prompts = prompt.NewService(store, opts...)
	deps.Limiter = middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)

	stopSweep := make(chan struct{})
	go deps.Limiter.Run(stopSweep)

	router := api.NewRouter(cfg, deps)
	handler := router.Setup()

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("starting API server", "addr", cfg.Addr(), "driver", cfg.Database.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server...")
	close(stopSweep)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced shutdown", "error", err)
	}
	slog.Info("server stopped")
}
