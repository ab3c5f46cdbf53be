package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/axrun/ax/internal/ax/ipc/server"
	"github.com/axrun/ax/internal/ax/memory"
)

func registerIdentityAndUser(reg *server.Registry, d Deps) {
	if d.IdentityRoot != "" {
		reg.Register("identity.write", func(ctx context.Context, cc server.ConnContext, args json.RawMessage) (interface{}, error) {
			var req struct {
				File    string `json:"file"`
				Content string `json:"content"`
			}
			if err := json.Unmarshal(args, &req); err != nil {
				return nil, fmt.Errorf("identity.write: %w", err)
			}
			path, err := constrainIdentityFile(d.IdentityRoot, req.File)
			if err != nil {
				return nil, err
			}
			if err := os.WriteFile(path, []byte(req.Content), 0o600); err != nil {
				return nil, fmt.Errorf("identity.write: %w", err)
			}
			return map[string]bool{"ok": true}, nil
		})
	}

	if d.Memory != nil {
		reg.Register("user.write", func(ctx context.Context, cc server.ConnContext, args json.RawMessage) (interface{}, error) {
			var req struct {
				Key   string `json:"key"`
				Value string `json:"value"`
			}
			if err := json.Unmarshal(args, &req); err != nil {
				return nil, fmt.Errorf("user.write: %w", err)
			}
			if err := d.Memory.Write(ctx, memory.Entry{Scope: memory.ScopeGlobal, Key: "user." + req.Key, Value: req.Value}); err != nil {
				return nil, err
			}
			return map[string]bool{"ok": true}, nil
		})
	}
}
