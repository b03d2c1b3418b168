package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/nikhilbhutani/promptvault/internal/config"
)

func RedisOpt(cfg config.RedisConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
}

// Enqueuer is the part of *asynq.Client the queue client uses.
type Enqueuer interface {
	Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

type Client struct {
	client Enqueuer
}

func NewClient(cfg config.RedisConfig) *Client {
	return NewClientWith(asynq.NewClient(RedisOpt(cfg)))
}

func NewClientWith(e Enqueuer) *Client {
	return &Client{client: e}
}

func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) EnqueueWebhookDeliver(payload WebhookDeliverPayload) error {
	return c.enqueue(TypeWebhookDeliver, payload, asynq.MaxRetry(5), asynq.Timeout(30*time.Second))
}

func (c *Client) EnqueueVersionPurge(payload VersionPurgePayload) error {
	return c.enqueue(TypeVersionPurge, payload, asynq.MaxRetry(2), asynq.Timeout(5*time.Minute), asynq.Queue("low"))
}

// NewVersionPurgeTask builds the task the worker's scheduler registers.
func NewVersionPurgeTask(payload VersionPurgePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return asynq.NewTask(TypeVersionPurge, data, asynq.MaxRetry(2), asynq.Timeout(5*time.Minute), asynq.Queue("low")), nil
}

func (c *Client) enqueue(taskType string, payload any, opts ...asynq.Option) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	task := asynq.NewTask(taskType, data)
	_, err = c.client.Enqueue(task, opts...)
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", taskType, err)
	}
	return nil
}
