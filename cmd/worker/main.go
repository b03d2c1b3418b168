package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/nikhilbhutani/promptvault/internal/audit"
	"github.com/nikhilbhutani/promptvault/internal/config"
	"github.com/nikhilbhutani/promptvault/internal/database"
	"github.com/nikhilbhutani/promptvault/internal/prompt"
	"github.com/nikhilbhutani/promptvault/internal/queue"
	"github.com/nikhilbhutani/promptvault/internal/queue/workers"
	"github.com/nikhilbhutani/promptvault/internal/webhook"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if cfg.Database.Driver != config.DriverPostgres || cfg.Database.URL == "" {
		slog.Error("worker requires the postgres driver and DATABASE_URL")
		os.Exit(1)
	}

	ctx := context.Background()
	pool, err := database.NewPool(ctx, cfg.Database)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	// Deliveries run synchronously here, so the service gets no enqueuer.
	webhookSvc := webhook.NewService(pool, nil, nil, logger)
	defer webhookSvc.Close()

	promptSvc := prompt.NewService(prompt.NewPostgresStore(pool),
		prompt.WithLogger(logger),
		prompt.WithAuditor(audit.NewService(pool)),
		prompt.WithEvents(webhookSvc),
	)

	redisOpt := queue.RedisOpt(cfg.Redis)
	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: 10,
		Queues: map[string]int{
			"critical": 6,
			"default":  3,
			"low":      1,
		},
	})

	mux := queue.NewServeMux(queue.Workers{
		WebhookDeliver: workers.NewWebhookWorker(webhookSvc),
		VersionPurge:   workers.NewPurgeWorker(promptSvc, cfg.Versioning.PurgeRetention),
	}, logger)

	scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{})
	purgeTask, err := queue.NewVersionPurgeTask(queue.VersionPurgePayload{})
	if err != nil {
		slog.Error("failed to build purge task", "error", err)
		os.Exit(1)
	}
	entryID, err := scheduler.Register(cfg.Versioning.PurgeSchedule, purgeTask)
	if err != nil {
		slog.Error("failed to schedule version purge", "schedule", cfg.Versioning.PurgeSchedule, "error", err)
		os.Exit(1)
	}
	slog.Info("version purge scheduled", "entry_id", entryID, "schedule", cfg.Versioning.PurgeSchedule,
		"retention", cfg.Versioning.PurgeRetention.String())

	if err := scheduler.Start(); err != nil {
		slog.Error("scheduler error", "error", err)
		os.Exit(1)
	}
	defer scheduler.Shutdown()

	slog.Info("starting worker", "concurrency", 10)
	if err := srv.Start(mux); err != nil {
		slog.Error("worker error", "error", err)
		os.Exit(1)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down worker...")
	srv.Shutdown()
	slog.Info("worker stopped")
}
