// Package llm implements the provider router used by the LLM-call IPC
// handler: given a primary provider/model and an ordered fallback
// list, try candidates in turn, skipping any in cooldown. Cooldown backoff
// math (30s initial, doubling, capped at 5 min) mirrors the shape of the
// Ruriko's common/retry.Config, generalized from a single-call retry loop
// to a per-provider cooldown map that outlives any one request.
package llm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/axrun/ax/internal/ax/axerr"
)

const (
	cooldownInitial = 30 * time.Second
	cooldownMax     = 5 * time.Minute
)

// Message is one chat turn sent to a provider.
type Message struct {
	Role    string
	Content string
}

// Chunk is one piece of a streamed completion.
type Chunk struct {
	Kind string // "text" | "tool_use" | "done"

	Text string

	ToolUseID   string
	ToolName    string
	ToolArgsRaw []byte

	// InputTokens/OutputTokens are set on the terminal "done" chunk.
	InputTokens  int
	OutputTokens int
}

// Provider is a single upstream LLM backend.
type Provider interface {
	Name() string
	Complete(ctx context.Context, messages []Message, tools []byte) (<-chan Chunk, error)
}

// cooldownEntry tracks one provider's backoff state.
type cooldownEntry struct {
	until time.Time
	delay time.Duration
}

// Router tries an ordered candidate list, skipping providers currently in
// cooldown, and applies exponential backoff to retryable failures.
type Router struct {
	mu        sync.Mutex
	cooldowns map[string]*cooldownEntry
}

// NewRouter constructs an empty Router.
func NewRouter() *Router {
	return &Router{cooldowns: make(map[string]*cooldownEntry)}
}

// inCooldown reports whether name is currently cooling down.
func (r *Router) inCooldown(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.cooldowns[name]
	if !ok {
		return false
	}
	return time.Now().Before(e.until)
}

// recordSuccess clears any cooldown for name.
func (r *Router) recordSuccess(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cooldowns, name)
}

// recordRetryableFailure applies exponential backoff to name: starts at
// cooldownInitial, doubles on repeated failure, capped at cooldownMax.
func (r *Router) recordRetryableFailure(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.cooldowns[name]
	if !ok || time.Now().After(e.until) {
		e = &cooldownEntry{delay: cooldownInitial}
	} else {
		e.delay *= 2
		if e.delay > cooldownMax {
			e.delay = cooldownMax
		}
	}
	e.until = time.Now().Add(e.delay)
	r.cooldowns[name] = e
}

// Complete tries primary, then each entry of fallbacks in order, skipping
// any provider currently in cooldown. A retryable (axerr.Upstream) failure
// applies backoff and advances to the next candidate; a permanent
// (axerr.UpstreamPermanent) failure advances without cooling the
// candidate. Exhausting every candidate surfaces the last error.
func (r *Router) Complete(ctx context.Context, candidates []Provider, messages []Message, tools []byte) (<-chan Chunk, error) {
	if len(candidates) == 0 {
		return nil, axerr.New(axerr.Internal, "llm: no candidate providers configured")
	}

	var lastErr error
	for _, p := range candidates {
		if r.inCooldown(p.Name()) {
			continue
		}

		chunks, err := p.Complete(ctx, messages, tools)
		if err == nil {
			r.recordSuccess(p.Name())
			return chunks, nil
		}

		lastErr = err
		var axe *axerr.Error
		if as, ok := err.(*axerr.Error); ok {
			axe = as
		}
		if axe != nil && axe.Kind == axerr.Upstream {
			r.recordRetryableFailure(p.Name())
		}
		// Permanent failures and unclassified errors simply advance to the
		// next candidate without cooling this one.
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("llm: all candidates skipped due to cooldown")
	}
	return nil, axerr.Wrap(axerr.Upstream, "llm: all candidate providers exhausted", lastErr)
}
