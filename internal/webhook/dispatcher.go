package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nikhilbhutani/promptvault/internal/models"
)

type DeliveryRecorder interface {
	RecordDelivery(ctx context.Context, d models.WebhookDelivery) error
}

type DeliveryRequest struct {
	WebhookID uuid.UUID
	URL       string
	Secret    string
	Event     string
	Payload   []byte
	Attempt   int
}

// Dispatcher posts signed event payloads to webhook endpoints. Enqueue hands
// work to a background goroutine; Send delivers synchronously.
type Dispatcher struct {
	recorder   DeliveryRecorder
	httpClient *http.Client
	deliveries chan DeliveryRequest
	logger     *slog.Logger

	closeOnce sync.Once
	done      chan struct{}
}

func NewDispatcher(recorder DeliveryRecorder, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		recorder: recorder,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		deliveries: make(chan DeliveryRequest, 1000),
		logger:     logger,
		done:       make(chan struct{}),
	}
	go d.processLoop()
	return d
}

func (d *Dispatcher) Enqueue(req DeliveryRequest) {
	select {
	case d.deliveries <- req:
	default:
		d.logger.Warn("webhook delivery queue full, dropping", "webhook_id", req.WebhookID, "event", req.Event)
	}
}

// Close stops accepting work and waits for queued deliveries to finish.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		close(d.deliveries)
		<-d.done
	})
}

func (d *Dispatcher) processLoop() {
	defer close(d.done)
	for req := range d.deliveries {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		_ = d.Send(ctx, req)
		cancel()
	}
}

// Send posts one delivery and records the outcome. A transport failure or a
// non-2xx response is returned as an error so queue workers can retry.
func (d *Dispatcher) Send(ctx context.Context, req DeliveryRequest) error {
	status, err := d.post(ctx, req)
	d.record(ctx, req, status, err)

	if err != nil {
		d.logger.Error("webhook delivery failed", "webhook_id", req.WebhookID, "event", req.Event, "error", err)
		return err
	}
	if status < 200 || status >= 300 {
		d.logger.Warn("webhook received non-success response", "status", status, "webhook_id", req.WebhookID)
		return fmt.Errorf("webhook %s responded %d", req.WebhookID, status)
	}
	return nil
}

func (d *Dispatcher) post(ctx context.Context, req DeliveryRequest) (int, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.URL, bytes.NewReader(req.Payload))
	if err != nil {
		return 0, fmt.Errorf("build webhook request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Webhook-Event", req.Event)
	httpReq.Header.Set("X-Webhook-Signature", Sign(req.Payload, req.Secret))
	httpReq.Header.Set("X-Webhook-ID", req.WebhookID.String())

	resp, err := d.httpClient.Do(httpReq)
	if err != nil {
		return 0, fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}

func (d *Dispatcher) record(ctx context.Context, req DeliveryRequest, status int, deliveryErr error) {
	if d.recorder == nil {
		return
	}

	now := time.Now().UTC()
	var deliveredAt *time.Time
	if deliveryErr == nil && status >= 200 && status < 300 {
		deliveredAt = &now
	}
	attempts := req.Attempt
	if attempts < 1 {
		attempts = 1
	}

	err := d.recorder.RecordDelivery(ctx, models.WebhookDelivery{
		ID:             uuid.New(),
		WebhookID:      req.WebhookID,
		Event:          req.Event,
		Payload:        req.Payload,
		ResponseStatus: status,
		Attempts:       attempts,
		DeliveredAt:    deliveredAt,
		CreatedAt:      now,
	})
	if err != nil {
		d.logger.Error("failed to record webhook delivery", "webhook_id", req.WebhookID, "error", err)
	}
}

// Sign returns the X-Webhook-Signature value for payload.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
