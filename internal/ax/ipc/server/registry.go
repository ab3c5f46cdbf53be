package server

import (
	"context"
	"encoding/json"
)

// Handler processes one validated request and returns the result to embed
// in the response's "result" field, or an error to surface as {ok:false,
// error}. Handlers never see an invalid envelope or a schema-rejected
// args value — those are rejected before a Handler runs.
type Handler func(ctx context.Context, cc ConnContext, args json.RawMessage) (interface{}, error)

// Registry is the handler group: one Handler per action name, keyed
// identically to schema.Actions. Registered once at startup by the
// binary wiring every handler group (internal/ax/ipc/handlers) into a
// Server.
type Registry struct {
	handlers map[string]Handler
}

// NewRegistry returns an empty handler Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register binds action to h. Registering the same action twice is a
// startup-time programming error.
func (r *Registry) Register(action string, h Handler) {
	if _, exists := r.handlers[action]; exists {
		panic("server: duplicate handler registration for action " + action)
	}
	r.handlers[action] = h
}

func (r *Registry) lookup(action string) (Handler, bool) {
	h, ok := r.handlers[action]
	return h, ok
}
