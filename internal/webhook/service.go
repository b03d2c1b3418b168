package webhook

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/nikhilbhutani/promptvault/internal/models"
	"github.com/nikhilbhutani/promptvault/internal/queue"
)

var (
	ErrNotFound = errors.New("webhook not found")
	ErrInvalid  = errors.New("invalid webhook")
)

// AllEvents subscribes a webhook to every event.
const AllEvents = "*"

// DB is satisfied by *pgxpool.Pool and pgx.Tx.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TaskEnqueuer hands deliveries to the background queue.
type TaskEnqueuer interface {
	EnqueueWebhookDeliver(payload queue.WebhookDeliverPayload) error
}

type Service struct {
	db         DB
	dispatcher *Dispatcher
	tasks      TaskEnqueuer
	events     []string
	logger     *slog.Logger
}

// NewService wires webhook storage to delivery. When tasks is non-nil,
// deliveries go through the queue; otherwise the in-process dispatcher sends
// them. Delivery outcomes are recorded through the service itself.
func NewService(db DB, tasks TaskEnqueuer, events []string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		db:     db,
		tasks:  tasks,
		events: events,
		logger: logger,
	}
	s.dispatcher = NewDispatcher(s, logger)
	return s
}

// Close drains the in-process dispatcher.
func (s *Service) Close() {
	s.dispatcher.Close()
}

type CreateRequest struct {
	URL    string   `json:"url"`
	Events []string `json:"events"`
}

// Created carries the signing secret, which is only ever shown once.
type Created struct {
	models.Webhook
	Secret string `json:"secret"`
}

func (s *Service) Create(ctx context.Context, userID uuid.UUID, req CreateRequest) (*Created, error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}

	secret, err := generateSecret()
	if err != nil {
		return nil, fmt.Errorf("generate secret: %w", err)
	}
	eventsJSON, err := json.Marshal(req.Events)
	if err != nil {
		return nil, fmt.Errorf("marshal events: %w", err)
	}

	wh := models.Webhook{ID: uuid.New(), UserID: userID, URL: req.URL, Events: req.Events, IsActive: true}
	err = s.db.QueryRow(ctx,
		`INSERT INTO webhooks (id, user_id, url, events, secret, is_active)
		 VALUES ($1, $2, $3, $4, $5, true)
		 RETURNING created_at`,
		wh.ID, userID, req.URL, eventsJSON, secret,
	).Scan(&wh.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert webhook: %w", err)
	}

	return &Created{Webhook: wh, Secret: secret}, nil
}

func (s *Service) List(ctx context.Context, userID uuid.UUID) ([]models.Webhook, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, user_id, url, events, is_active, created_at
		 FROM webhooks WHERE user_id = $1 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list webhooks: %w", err)
	}
	defer rows.Close()

	webhooks := []models.Webhook{}
	for rows.Next() {
		var wh models.Webhook
		var events []byte
		if err := rows.Scan(&wh.ID, &wh.UserID, &wh.URL, &events, &wh.IsActive, &wh.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan webhook: %w", err)
		}
		if err := json.Unmarshal(events, &wh.Events); err != nil {
			return nil, fmt.Errorf("decode webhook events: %w", err)
		}
		webhooks = append(webhooks, wh)
	}
	return webhooks, rows.Err()
}

func (s *Service) Delete(ctx context.Context, userID, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, "DELETE FROM webhooks WHERE id = $1 AND user_id = $2", id, userID)
	if err != nil {
		return fmt.Errorf("delete webhook: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Publish fans an event out to the user's active webhooks subscribed to it.
func (s *Service) Publish(ctx context.Context, userID uuid.UUID, event string, payload any) error {
	body, err := json.Marshal(map[string]any{"event": event, "data": payload})
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}

	rows, err := s.db.Query(ctx,
		`SELECT id, url, secret FROM webhooks
		 WHERE user_id = $1 AND is_active = true AND (events @> $2::jsonb OR events @> $3::jsonb)`,
		userID, fmt.Sprintf(`[%q]`, event), fmt.Sprintf(`[%q]`, AllEvents),
	)
	if err != nil {
		return fmt.Errorf("find matching webhooks: %w", err)
	}
	defer rows.Close()

	var targets []DeliveryRequest
	for rows.Next() {
		req := DeliveryRequest{Event: event, Payload: body}
		if err := rows.Scan(&req.WebhookID, &req.URL, &req.Secret); err != nil {
			return fmt.Errorf("scan webhook: %w", err)
		}
		targets = append(targets, req)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("find matching webhooks: %w", err)
	}

	var errs []error
	for _, req := range targets {
		if s.tasks != nil {
			err := s.tasks.EnqueueWebhookDeliver(queue.WebhookDeliverPayload{
				WebhookID: req.WebhookID.String(),
				Event:     event,
				Payload:   string(body),
			})
			if err != nil {
				errs = append(errs, err)
			}
			continue
		}
		s.dispatcher.Enqueue(req)
	}
	return errors.Join(errs...)
}

// Deliver sends a queued event to one webhook. Deleted or disabled webhooks
// are skipped without error.
func (s *Service) Deliver(ctx context.Context, webhookID uuid.UUID, event string, payload []byte, attempt int) error {
	req := DeliveryRequest{WebhookID: webhookID, Event: event, Payload: payload, Attempt: attempt}
	var active bool
	err := s.db.QueryRow(ctx,
		"SELECT url, secret, is_active FROM webhooks WHERE id = $1", webhookID,
	).Scan(&req.URL, &req.Secret, &active)
	if errors.Is(err, pgx.ErrNoRows) {
		s.logger.Info("skipping delivery to deleted webhook", "webhook_id", webhookID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load webhook: %w", err)
	}
	if !active {
		return nil
	}
	return s.dispatcher.Send(ctx, req)
}

// RecordDelivery stores the outcome of a delivery attempt.
func (s *Service) RecordDelivery(ctx context.Context, d models.WebhookDelivery) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO webhook_deliveries (id, webhook_id, event, payload, response_status, attempts, delivered_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		d.ID, d.WebhookID, d.Event, []byte(d.Payload), d.ResponseStatus, d.Attempts, d.DeliveredAt,
	)
	if err != nil {
		return fmt.Errorf("insert webhook delivery: %w", err)
	}
	return nil
}

func (s *Service) validate(req CreateRequest) error {
	u, err := url.Parse(req.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: url must be an absolute http(s) URL", ErrInvalid)
	}
	if len(req.Events) == 0 {
		return fmt.Errorf("%w: at least one event is required", ErrInvalid)
	}
	for _, e := range req.Events {
		if e != AllEvents && !slices.Contains(s.events, e) {
			return fmt.Errorf("%w: unknown event %q (known: %s)", ErrInvalid, e, strings.Join(s.events, ", "))
		}
	}
	return nil
}

func generateSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return "whsec_" + hex.EncodeToString(b), nil
}
