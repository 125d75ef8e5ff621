package resilience

import (
	"context"
	"errors"
	"log/slog"

	"github.com/MrWong99/huddle/pkg/provider/llm"
)

// errNoResponse marks a backend that returned neither a reply nor an error.
var errNoResponse = errors.New("resilience: backend returned no response")

// LLMFallback is the reply generator of a call: an [llm.Provider] that asks
// an ordered chain of backends and answers with the first healthy one. Each
// backend has its own circuit breaker. The chain stops as soon as the
// generation deadline has passed.
type LLMFallback struct {
	group *FallbackGroup[llm.Provider]
}

var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback creates an [LLMFallback] with primary as the preferred backend.
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMFallback {
	return &LLMFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback appends a backend to the chain.
func (f *LLMFallback) AddFallback(name string, provider llm.Provider) {
	f.group.AddFallback(name, provider)
}

// Names returns the backend names in trial order.
func (f *LLMFallback) Names() []string { return f.group.Names() }

// Complete generates a reply with the first backend that answers. An empty
// reply is an answer; the caller decides what silence means.
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	resp, name, err := ExecuteContext(ctx, f.group, func(p llm.Provider) (*llm.CompletionResponse, error) {
		resp, err := p.Complete(ctx, req)
		if err == nil && resp == nil {
			err = errNoResponse
		}
		return resp, err
	})
	if err != nil {
		return nil, err
	}
	slog.Debug("reply generated", "provider", name, "tokens", resp.Usage.TotalTokens)
	return resp, nil
}
