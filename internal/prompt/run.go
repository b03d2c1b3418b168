package prompt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/nikhilbhutani/promptvault/internal/llm"
	"github.com/nikhilbhutani/promptvault/internal/models"
	"github.com/nikhilbhutani/promptvault/pkg/tokenizer"
)

var (
	// ErrRunUnavailable is returned by RunPrompt when no LLM provider is configured.
	ErrRunUnavailable = errors.New("prompt execution is not configured")
	// ErrUpstream wraps failures of the model provider.
	ErrUpstream = errors.New("model call failed")
)

type RenderRequest struct {
	VersionID *uuid.UUID        `json:"version_id,omitempty"` // nil = live fields
	Variables map[string]string `json:"variables"`
}

type RenderResponse struct {
	VersionID       *uuid.UUID     `json:"version_id,omitempty"`
	System          string         `json:"system"`
	User            string         `json:"user"`
	EstimatedTokens int            `json:"estimated_tokens"`
	Content         models.Content `json:"-"`
}

// RenderPrompt fills the templates of the live fields, or of the requested
// version, with the supplied variables.
func (s *Service) RenderPrompt(ctx context.Context, promptID, userID uuid.UUID, req RenderRequest) (*RenderResponse, error) {
	p, err := s.store.GetPrompt(ctx, promptID, userID, false)
	if err != nil {
		return nil, err
	}

	content := p.Content
	if req.VersionID != nil {
		v, err := s.store.GetVersion(ctx, promptID, *req.VersionID)
		if err != nil {
			return nil, err
		}
		if v.IsDeleted() {
			return nil, ErrVersionNotFound
		}
		content = v.Content
	}

	system, err := Render(content.SystemPrompt, req.Variables)
	if err != nil {
		return nil, fmt.Errorf("render system prompt: %w", err)
	}
	user, err := Render(content.UserTemplate, req.Variables)
	if err != nil {
		return nil, fmt.Errorf("render user template: %w", err)
	}

	return &RenderResponse{
		VersionID:       req.VersionID,
		System:          system,
		User:            user,
		EstimatedTokens: tokenizer.EstimateAll(system, user),
		Content:         content,
	}, nil
}

type RunResponse struct {
	Rendered *RenderResponse   `json:"rendered"`
	Result   *llm.ChatResponse `json:"result"`
}

// RunPrompt renders the prompt and sends it to the model named in the
// rendered snapshot, using its temperature and token limit.
func (s *Service) RunPrompt(ctx context.Context, promptID, userID uuid.UUID, req RenderRequest) (*RunResponse, error) {
	if s.llm == nil {
		return nil, ErrRunUnavailable
	}

	rendered, err := s.RenderPrompt(ctx, promptID, userID, req)
	if err != nil {
		return nil, err
	}

	resp, err := s.llm.Chat(ctx, llm.ChatRequest{
		Model:       rendered.Content.Model,
		Messages:    llm.PromptMessages(rendered.System, rendered.User),
		Temperature: rendered.Content.Temperature,
		MaxTokens:   rendered.Content.MaxTokens,
	})
	if errors.Is(err, llm.ErrNoProvider) || errors.Is(err, llm.ErrInvalidRequest) {
		return nil, validationError(err.Error())
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUpstream, err)
	}

	if s.auditor != nil {
		pid := promptID
		metadata, _ := json.Marshal(map[string]any{"response_id": resp.ID})
		err := s.auditor.LogLLMUsage(ctx, models.LLMUsageLog{
			ID:           uuid.New(),
			UserID:       userID,
			PromptID:     &pid,
			VersionID:    req.VersionID,
			Provider:     resp.Provider,
			Model:        resp.Model,
			InputTokens:  resp.InputTokens,
			OutputTokens: resp.OutputTokens,
			TotalTokens:  resp.TotalTokens,
			CostUSD:      resp.CostUSD,
			LatencyMs:    resp.LatencyMs,
			Metadata:     metadata,
			CreatedAt:    s.now(),
		})
		if err != nil {
			s.logger.Error("record llm usage failed", "prompt_id", promptID, "error", err)
		}
	}

	return &RunResponse{Rendered: rendered, Result: resp}, nil
}
