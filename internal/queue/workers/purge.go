package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/nikhilbhutani/promptvault/internal/queue"
)

type VersionPurger interface {
	PurgeDeletedVersions(ctx context.Context, olderThan time.Duration) (int, error)
}

// PurgeWorker permanently removes versions that have sat in the trash past
// the retention period.
type PurgeWorker struct {
	purger    VersionPurger
	retention time.Duration
}

func NewPurgeWorker(purger VersionPurger, retention time.Duration) *PurgeWorker {
	return &PurgeWorker{purger: purger, retention: retention}
}

func (w *PurgeWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload queue.VersionPurgePayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("unmarshal payload: %w: %w", err, asynq.SkipRetry)
		}
	}

	retention := w.retention
	if payload.OlderThan != nil {
		if *payload.OlderThan < 0 {
			return fmt.Errorf("negative retention %s: %w", payload.OlderThan, asynq.SkipRetry)
		}
		retention = *payload.OlderThan
	}

	n, err := w.purger.PurgeDeletedVersions(ctx, retention)
	if err != nil {
		return fmt.Errorf("purge deleted versions: %w", err)
	}

	slog.Info("version purge completed", "purged", n, "retention", retention.String())
	return nil
}
