package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/avast/retry-go/v4"
	"github.com/nikhilbhutani/promptvault/internal/config"
	openai "github.com/sashabaranov/go-openai"
)

var (
	ErrNoProvider = errors.New("no provider configured for model")
	// ErrInvalidRequest marks requests a provider cannot serve as given.
	ErrInvalidRequest = errors.New("invalid model request")
)

type gateway struct {
	providers       map[string]Provider
	defaultProvider string
	maxRetries      int
	retryDelay      time.Duration
}

func NewGateway(cfg config.LLMConfig) Gateway {
	var providers []Provider
	if cfg.OpenAIKey != "" {
		providers = append(providers, NewOpenAIProvider(cfg.OpenAIKey, cfg.OpenAIBaseURL))
	}
	if cfg.AnthropicKey != "" {
		providers = append(providers, NewAnthropicProvider(cfg.AnthropicKey))
	}
	return newGateway(providers, cfg.DefaultProvider, cfg.MaxRetries)
}

func newGateway(providers []Provider, defaultProvider string, maxRetries int) *gateway {
	if maxRetries < 0 {
		maxRetries = 0
	}
	g := &gateway{
		providers:       make(map[string]Provider, len(providers)),
		defaultProvider: defaultProvider,
		maxRetries:      maxRetries,
		retryDelay:      500 * time.Millisecond,
	}
	for _, p := range providers {
		g.providers[p.Name()] = p
	}
	return g
}

// Configured reports whether any provider has credentials.
func Configured(g Gateway) bool {
	return g != nil && len(g.ListModels()) > 0
}

func (g *gateway) Provider(name string) (Provider, error) {
	p, ok := g.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: provider %q", ErrNoProvider, name)
	}
	return p, nil
}

// resolve picks the provider for a request: an explicit provider wins, then a
// provider that lists the model, then the model's family prefix, then the
// default.
func (g *gateway) resolve(req ChatRequest) (Provider, error) {
	if req.Provider != "" {
		return g.Provider(req.Provider)
	}
	for _, p := range g.providers {
		for _, m := range p.Models() {
			if m == req.Model {
				return p, nil
			}
		}
	}

	name := g.defaultProvider
	switch {
	case strings.HasPrefix(req.Model, "claude"):
		name = "anthropic"
	case strings.HasPrefix(req.Model, "gpt-"), strings.HasPrefix(req.Model, "o1"), strings.HasPrefix(req.Model, "o3"):
		name = "openai"
	}
	if p, ok := g.providers[name]; ok {
		return p, nil
	}
	return nil, fmt.Errorf("%w %q", ErrNoProvider, req.Model)
}

func (g *gateway) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	p, err := g.resolve(req)
	if err != nil {
		return nil, err
	}

	var resp *ChatResponse
	err = retry.Do(
		func() error {
			r, err := p.ChatCompletion(ctx, req)
			if err != nil {
				return err
			}
			resp = r
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(uint(g.maxRetries+1)),
		retry.Delay(g.retryDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(retryable),
		retry.OnRetry(func(n uint, err error) {
			slog.Debug("retrying LLM call", "provider", p.Name(), "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("chat via %s: %w", p.Name(), err)
	}
	return resp, nil
}

// retryable reports whether a failed call may succeed when repeated: rate
// limits, server errors and transport failures. Other client errors never do.
func retryable(err error) bool {
	if errors.Is(err, ErrInvalidRequest) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if status, ok := statusCode(err); ok {
		return status == http.StatusTooManyRequests || status >= http.StatusInternalServerError
	}
	return true
}

func statusCode(err error) (int, bool) {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode, true
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode, true
	}
	var anthropicErr *anthropic.Error
	if errors.As(err, &anthropicErr) {
		return anthropicErr.StatusCode, true
	}
	return 0, false
}

func (g *gateway) ListModels() []ModelInfo {
	models := []ModelInfo{}
	for _, p := range g.providers {
		for _, m := range p.Models() {
			models = append(models, ModelInfo{Provider: p.Name(), Model: m})
		}
	}
	sort.Slice(models, func(i, j int) bool {
		if models[i].Provider != models[j].Provider {
			return models[i].Provider < models[j].Provider
		}
		return models[i].Model < models[j].Model
	})
	return models
}
