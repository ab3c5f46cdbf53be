package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/axrun/ax/internal/ax/ipc/server"
	"github.com/axrun/ax/internal/ax/memory"
)

func registerMemory(reg *server.Registry, d Deps) {
	if d.Memory == nil {
		return
	}

	reg.Register("memory.write", func(ctx context.Context, cc server.ConnContext, args json.RawMessage) (interface{}, error) {
		var req struct {
			Scope   memory.Scope `json:"scope"`
			Key     string       `json:"key"`
			Value   string       `json:"value"`
			Tainted bool         `json:"tainted"`
			Tags    []string     `json:"tags"`
		}
		if err := json.Unmarshal(args, &req); err != nil {
			return nil, fmt.Errorf("memory.write: %w", err)
		}
		if err := d.Memory.Write(ctx, memory.Entry{Scope: req.Scope, Key: req.Key, Value: req.Value, Tainted: req.Tainted, Tags: req.Tags}); err != nil {
			return nil, err
		}
		return map[string]bool{"ok": true}, nil
	})

	reg.Register("memory.read", func(ctx context.Context, cc server.ConnContext, args json.RawMessage) (interface{}, error) {
		var req struct {
			Scope memory.Scope `json:"scope"`
			Key   string       `json:"key"`
		}
		if err := json.Unmarshal(args, &req); err != nil {
			return nil, fmt.Errorf("memory.read: %w", err)
		}
		entry, ok, err := d.Memory.Read(ctx, req.Scope, req.Key)
		if err != nil {
			return nil, err
		}
		if !ok {
			return map[string]interface{}{"found": false}, nil
		}
		return map[string]interface{}{"found": true, "entry": entry}, nil
	})

	reg.Register("memory.delete", func(ctx context.Context, cc server.ConnContext, args json.RawMessage) (interface{}, error) {
		var req struct {
			Scope memory.Scope `json:"scope"`
			Key   string       `json:"key"`
		}
		if err := json.Unmarshal(args, &req); err != nil {
			return nil, fmt.Errorf("memory.delete: %w", err)
		}
		if err := d.Memory.Delete(ctx, req.Scope, req.Key); err != nil {
			return nil, err
		}
		return map[string]bool{"ok": true}, nil
	})

	reg.Register("memory.list", func(ctx context.Context, cc server.ConnContext, args json.RawMessage) (interface{}, error) {
		var req struct {
			Scope  memory.Scope `json:"scope"`
			Prefix string       `json:"prefix"`
			Limit  int          `json:"limit"`
		}
		if err := json.Unmarshal(args, &req); err != nil {
			return nil, fmt.Errorf("memory.list: %w", err)
		}
		limit := req.Limit
		if limit <= 0 {
			limit = 100
		}
		entries, err := d.Memory.List(ctx, req.Scope, req.Prefix, limit)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"entries": entries}, nil
	})

	reg.Register("memory.query", func(ctx context.Context, cc server.ConnContext, args json.RawMessage) (interface{}, error) {
		var req struct {
			Scope memory.Scope `json:"scope"`
			Query string       `json:"query"`
			Limit int          `json:"limit"`
			Tags  []string     `json:"tags"`
		}
		if err := json.Unmarshal(args, &req); err != nil {
			return nil, fmt.Errorf("memory.query: %w", err)
		}
		limit := req.Limit
		if limit <= 0 {
			limit = 20
		}
		entries, err := d.Memory.Query(ctx, req.Scope, req.Query, req.Tags, limit)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"entries": entries}, nil
	})
}
