package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/axrun/ax/internal/ax/audit"
	"github.com/axrun/ax/internal/ax/ipc/server"
)

func registerAudit(reg *server.Registry, d Deps) {
	if d.AuditLogPath == "" {
		return
	}

	reg.Register("audit.query", func(ctx context.Context, cc server.ConnContext, args json.RawMessage) (interface{}, error) {
		var req struct {
			Since        string `json:"since"`
			ActionPrefix string `json:"action_prefix"`
			Limit        int    `json:"limit"`
		}
		if err := json.Unmarshal(args, &req); err != nil {
			return nil, fmt.Errorf("audit.query: %w", err)
		}

		opts := audit.QueryOptions{ActionPrefix: req.ActionPrefix, Limit: req.Limit}
		if req.Since != "" {
			since, err := time.Parse(time.RFC3339, req.Since)
			if err != nil {
				return nil, fmt.Errorf("audit.query: since must be RFC3339: %w", err)
			}
			opts.Since = since
		}

		entries, err := audit.Query(d.AuditLogPath, opts)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"entries": entries}, nil
	})
}
