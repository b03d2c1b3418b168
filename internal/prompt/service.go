package prompt

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nikhilbhutani/promptvault/internal/audit"
	"github.com/nikhilbhutani/promptvault/internal/llm"
	"github.com/nikhilbhutani/promptvault/internal/models"
)

const (
	DefaultChangeNote   = "Initial creation."
	DefaultModel        = "gpt-4o-mini"
	DefaultTemperature  = 0.7
	DefaultMaxTokens    = 1024
	MaxNameLength       = 200
	MaxChangeNoteLength = 1000
	MaxTemperature      = 2.0
)

// Webhook event names.
const (
	EventPromptCreated    = "prompt.created"
	EventVersionCreated   = "version.created"
	EventVersionRestored  = "version.restored"
	EventVersionDeleted   = "version.deleted"
	EventVersionUndeleted = "version.undeleted"
	EventVersionPurged    = "version.purged"
)

// VersionCache holds the active version listing of a prompt. Entries are
// keyed by prompt only; ownership is checked before the cache is consulted.
//
// Generation is read before the store query that fills a miss. SetVersions
// must drop the fill when InvalidateVersions ran since that read.
type VersionCache interface {
	GetVersions(ctx context.Context, promptID uuid.UUID) ([]models.PromptVersion, bool, error)
	Generation(ctx context.Context, promptID uuid.UUID) (int64, error)
	SetVersions(ctx context.Context, promptID uuid.UUID, generation int64, versions []models.PromptVersion) (bool, error)
	InvalidateVersions(ctx context.Context, promptID uuid.UUID) error
}

type EventPublisher interface {
	Publish(ctx context.Context, userID uuid.UUID, event string, payload any) error
}

type Auditor interface {
	Log(ctx context.Context, entry audit.LogEntry) error
	LogLLMUsage(ctx context.Context, record models.LLMUsageLog) error
}

type ChatClient interface {
	Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error)
}

type Service struct {
	store   Store
	cache   VersionCache
	events  EventPublisher
	auditor Auditor
	llm     ChatClient
	logger  *slog.Logger
	now     func() time.Time

	conflictAttempts uint
}

type Option func(*Service)

func WithCache(c VersionCache) Option       { return func(s *Service) { s.cache = c } }
func WithEvents(p EventPublisher) Option    { return func(s *Service) { s.events = p } }
func WithAuditor(a Auditor) Option          { return func(s *Service) { s.auditor = a } }
func WithChatClient(c ChatClient) Option    { return func(s *Service) { s.llm = c } }
func WithLogger(l *slog.Logger) Option      { return func(s *Service) { s.logger = l } }
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// WithConflictAttempts sets how many times CreateVersion runs when another
// writer takes the computed version number first.
func WithConflictAttempts(n uint) Option {
	return func(s *Service) {
		if n > 0 {
			s.conflictAttempts = n
		}
	}
}

func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:            store,
		logger:           slog.Default(),
		now:              func() time.Time { return time.Now().UTC() },
		conflictAttempts: 3,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type CreatePromptRequest struct {
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	SystemPrompt string   `json:"system_prompt"`
	UserTemplate string   `json:"user_template"`
	Model        string   `json:"model"`
	Temperature  *float64 `json:"temperature"`
	MaxTokens    *int     `json:"max_tokens"`
	ChangeNote   *string  `json:"change_note"`
}

// CreatePrompt stores a new prompt together with its "1.0" snapshot.
func (s *Service) CreatePrompt(ctx context.Context, userID uuid.UUID, req CreatePromptRequest) (*models.Prompt, error) {
	content := models.Content{
		SystemPrompt: req.SystemPrompt,
		UserTemplate: req.UserTemplate,
		Model:        strings.TrimSpace(req.Model),
		Temperature:  DefaultTemperature,
		MaxTokens:    DefaultMaxTokens,
	}
	if content.Model == "" {
		content.Model = DefaultModel
	}
	if req.Temperature != nil {
		content.Temperature = *req.Temperature
	}
	if req.MaxTokens != nil {
		content.MaxTokens = *req.MaxTokens
	}

	name := strings.TrimSpace(req.Name)
	if err := validateName(name); err != nil {
		return nil, err
	}
	if err := validateContent(content); err != nil {
		return nil, err
	}
	note, err := changeNote(req.ChangeNote)
	if err != nil {
		return nil, err
	}

	now := s.now()
	p := &models.Prompt{
		ID:          uuid.New(),
		UserID:      userID,
		Name:        name,
		Description: req.Description,
		Content:     content,
		Status:      models.PromptStatusActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	v := &models.PromptVersion{
		ID:            uuid.New(),
		PromptID:      p.ID,
		VersionNumber: InitialVersionNumber,
		Content:       content,
		ChangeNote:    note,
		CreatedBy:     userID,
		CreatedAt:     now,
	}

	err = s.store.WithTx(ctx, func(repo Repository) error {
		if err := repo.CreatePrompt(ctx, p); err != nil {
			return err
		}
		if err := repo.InsertVersion(ctx, v); err != nil {
			return err
		}
		p.CurrentVersionID = &v.ID
		return repo.UpdatePrompt(ctx, p)
	})
	if err != nil {
		return nil, err
	}

	s.afterCommit(ctx, userID, "prompt.create", p.ID, EventPromptCreated, map[string]any{
		"prompt_id":      p.ID,
		"version_id":     v.ID,
		"version_number": v.VersionNumber,
	})
	return p, nil
}

// GetPrompt returns the prompt with HasUnsavedChanges filled in.
func (s *Service) GetPrompt(ctx context.Context, promptID, userID uuid.UUID) (*models.Prompt, error) {
	p, err := s.store.GetPrompt(ctx, promptID, userID, false)
	if err != nil {
		return nil, err
	}
	if err := s.markUnsaved(ctx, s.store, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) ListPrompts(ctx context.Context, userID uuid.UUID, status models.PromptStatus, limit, offset int) ([]models.Prompt, error) {
	if status == "" {
		status = models.PromptStatusActive
	}
	if status != models.PromptStatusActive && status != models.PromptStatusTrash {
		return nil, validationError("status must be active or trash")
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.ListPrompts(ctx, userID, status, limit, offset)
}

// UpdatePromptRequest edits a prompt in place. Nil fields are left alone.
// Content edits are not versioned until CreateVersion is called.
type UpdatePromptRequest struct {
	Name         *string  `json:"name"`
	Description  *string  `json:"description"`
	SystemPrompt *string  `json:"system_prompt"`
	UserTemplate *string  `json:"user_template"`
	Model        *string  `json:"model"`
	Temperature  *float64 `json:"temperature"`
	MaxTokens    *int     `json:"max_tokens"`
}

func (s *Service) UpdatePrompt(ctx context.Context, promptID, userID uuid.UUID, req UpdatePromptRequest) (*models.Prompt, error) {
	var updated *models.Prompt
	err := s.store.WithTx(ctx, func(repo Repository) error {
		p, err := repo.GetPrompt(ctx, promptID, userID, true)
		if err != nil {
			return err
		}

		if req.Name != nil {
			p.Name = strings.TrimSpace(*req.Name)
			if err := validateName(p.Name); err != nil {
				return err
			}
		}
		if req.Description != nil {
			p.Description = *req.Description
		}
		if req.SystemPrompt != nil {
			p.SystemPrompt = *req.SystemPrompt
		}
		if req.UserTemplate != nil {
			p.UserTemplate = *req.UserTemplate
		}
		if req.Model != nil {
			p.Model = strings.TrimSpace(*req.Model)
		}
		if req.Temperature != nil {
			p.Temperature = *req.Temperature
		}
		if req.MaxTokens != nil {
			p.MaxTokens = *req.MaxTokens
		}
		if err := validateContent(p.Content); err != nil {
			return err
		}

		p.UpdatedAt = s.now()
		if err := repo.UpdatePrompt(ctx, p); err != nil {
			return err
		}
		if err := s.markUnsaved(ctx, repo, p); err != nil {
			return err
		}
		updated = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.record(ctx, userID, "prompt.update", promptID, nil)
	return updated, nil
}

func (s *Service) TrashPrompt(ctx context.Context, promptID, userID uuid.UUID) (*models.Prompt, error) {
	return s.setStatus(ctx, promptID, userID, models.PromptStatusTrash, "prompt.trash")
}

func (s *Service) RestorePrompt(ctx context.Context, promptID, userID uuid.UUID) (*models.Prompt, error) {
	return s.setStatus(ctx, promptID, userID, models.PromptStatusActive, "prompt.restore")
}

func (s *Service) setStatus(ctx context.Context, promptID, userID uuid.UUID, status models.PromptStatus, action string) (*models.Prompt, error) {
	var updated *models.Prompt
	err := s.store.WithTx(ctx, func(repo Repository) error {
		p, err := repo.GetPrompt(ctx, promptID, userID, true)
		if err != nil {
			return err
		}
		if p.Status == status {
			updated = p
			return nil
		}
		p.Status = status
		p.UpdatedAt = s.now()
		if err := repo.UpdatePrompt(ctx, p); err != nil {
			return err
		}
		updated = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.record(ctx, userID, action, promptID, nil)
	return updated, nil
}

// DeletePrompt removes the prompt and every one of its versions.
func (s *Service) DeletePrompt(ctx context.Context, promptID, userID uuid.UUID) error {
	err := s.store.WithTx(ctx, func(repo Repository) error {
		if _, err := repo.GetPrompt(ctx, promptID, userID, true); err != nil {
			return err
		}
		return repo.DeletePrompt(ctx, promptID)
	})
	if err != nil {
		return err
	}

	s.invalidate(ctx, promptID)
	s.record(ctx, userID, "prompt.delete", promptID, nil)
	return nil
}

// markUnsaved compares the live fields with the current version. A prompt
// without a resolvable current version always counts as unsaved.
func (s *Service) markUnsaved(ctx context.Context, repo Repository, p *models.Prompt) error {
	if p.CurrentVersionID == nil {
		p.HasUnsavedChanges = true
		return nil
	}
	v, err := repo.GetVersion(ctx, p.ID, *p.CurrentVersionID)
	if errors.Is(err, ErrNotFound) {
		p.HasUnsavedChanges = true
		return nil
	}
	if err != nil {
		return err
	}
	p.HasUnsavedChanges = HasChanges(p.Content, v.Content)
	return nil
}

func validateName(name string) error {
	if name == "" {
		return validationError("name is required")
	}
	if len(name) > MaxNameLength {
		return validationError("name is too long")
	}
	return nil
}

func validateContent(c models.Content) error {
	if c.Model == "" {
		return validationError("model is required")
	}
	if math.IsNaN(c.Temperature) || c.Temperature < 0 || c.Temperature > MaxTemperature {
		return validationError("temperature must be between 0 and 2")
	}
	if c.MaxTokens <= 0 {
		return validationError("max_tokens must be positive")
	}
	return nil
}

func changeNote(note *string) (string, error) {
	if note == nil {
		return DefaultChangeNote, nil
	}
	n := strings.TrimSpace(*note)
	if n == "" {
		return DefaultChangeNote, nil
	}
	if len(n) > MaxChangeNoteLength {
		return "", validationError("change note is too long")
	}
	return n, nil
}

// afterCommit runs the side effects of a committed mutation. None of them can
// fail the operation.
func (s *Service) afterCommit(ctx context.Context, userID uuid.UUID, action string, promptID uuid.UUID, event string, payload map[string]any) {
	s.invalidate(ctx, promptID)
	s.record(ctx, userID, action, promptID, payload)
	s.publish(ctx, userID, event, payload)
}

func (s *Service) invalidate(ctx context.Context, promptID uuid.UUID) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateVersions(ctx, promptID); err != nil {
		s.logger.Warn("version cache invalidation failed", "prompt_id", promptID, "error", err)
	}
}

func (s *Service) record(ctx context.Context, userID uuid.UUID, action string, promptID uuid.UUID, details map[string]any) {
	if s.auditor == nil {
		return
	}
	id := promptID
	err := s.auditor.Log(ctx, audit.LogEntry{
		UserID:       userID,
		Action:       action,
		ResourceType: "prompt",
		ResourceID:   &id,
		Details:      details,
	})
	if err != nil {
		s.logger.Error("audit log failed", "action", action, "prompt_id", promptID, "error", err)
	}
}

func (s *Service) publish(ctx context.Context, userID uuid.UUID, event string, payload map[string]any) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, userID, event, payload); err != nil {
		s.logger.Error("publish event failed", "event", event, "error", err)
	}
}
