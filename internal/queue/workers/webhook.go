package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/nikhilbhutani/promptvault/internal/queue"
)

type WebhookDeliverer interface {
	Deliver(ctx context.Context, webhookID uuid.UUID, event string, payload []byte, attempt int) error
}

type WebhookWorker struct {
	deliverer WebhookDeliverer
}

func NewWebhookWorker(deliverer WebhookDeliverer) *WebhookWorker {
	return &WebhookWorker{deliverer: deliverer}
}

func (w *WebhookWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload queue.WebhookDeliverPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w: %w", err, asynq.SkipRetry)
	}

	webhookID, err := uuid.Parse(payload.WebhookID)
	if err != nil {
		return fmt.Errorf("parse webhook ID: %w: %w", err, asynq.SkipRetry)
	}

	retried, _ := asynq.GetRetryCount(ctx)
	slog.Info("delivering webhook", "webhook_id", webhookID, "event", payload.Event, "attempt", retried+1)

	return w.deliverer.Deliver(ctx, webhookID, payload.Event, []byte(payload.Payload), retried+1)
}
