package queue

import "time"

const (
	TypeWebhookDeliver = "webhook:deliver"
	TypeVersionPurge   = "version:purge"
)

type WebhookDeliverPayload struct {
	WebhookID string `json:"webhook_id"`
	Event     string `json:"event"`
	Payload   string `json:"payload"` // JSON string
}

type VersionPurgePayload struct {
	// OlderThan overrides the worker's configured retention when set. Zero
	// is a valid override and purges everything in the trash.
	OlderThan *time.Duration `json:"older_than,omitempty"`
}

// PurgeOlderThan builds a payload that overrides the worker's retention.
func PurgeOlderThan(d time.Duration) VersionPurgePayload {
	return VersionPurgePayload{OlderThan: &d}
}
