package queue

import (
	"context"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

// Workers are the task handlers the worker binary serves.
type Workers struct {
	WebhookDeliver asynq.Handler
	VersionPurge   asynq.Handler
}

// NewServeMux routes each task type to its worker and logs every outcome.
func NewServeMux(w Workers, logger *slog.Logger) *asynq.ServeMux {
	if logger == nil {
		logger = slog.Default()
	}
	mux := asynq.NewServeMux()
	mux.Use(logTasks(logger))
	mux.Handle(TypeWebhookDeliver, w.WebhookDeliver)
	mux.Handle(TypeVersionPurge, w.VersionPurge)
	return mux
}

func logTasks(logger *slog.Logger) asynq.MiddlewareFunc {
	return func(next asynq.Handler) asynq.Handler {
		return asynq.HandlerFunc(func(ctx context.Context, t *asynq.Task) error {
			start := time.Now()
			err := next.ProcessTask(ctx, t)
			attrs := []any{"type", t.Type(), "duration_ms", time.Since(start).Milliseconds()}
			if id, ok := asynq.GetTaskID(ctx); ok {
				attrs = append(attrs, "task_id", id)
			}
			if err != nil {
				logger.ErrorContext(ctx, "task failed", append(attrs, "error", err)...)
				return err
			}
			logger.InfoContext(ctx, "task processed", attrs...)
			return nil
		})
	}
}
