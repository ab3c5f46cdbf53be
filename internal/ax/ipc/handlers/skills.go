package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/axrun/ax/internal/ax/audit"
	"github.com/axrun/ax/internal/ax/ipc/server"
	"github.com/axrun/ax/internal/ax/scanner"
)

func registerSkills(reg *server.Registry, d Deps) {
	if d.Skills == nil {
		return
	}

	reg.Register("skills.read", func(ctx context.Context, cc server.ConnContext, args json.RawMessage) (interface{}, error) {
		var req struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal(args, &req); err != nil {
			return nil, fmt.Errorf("skills.read: %w", err)
		}
		content, err := d.Skills.Read(ctx, req.Name)
		if err != nil {
			return nil, err
		}
		return map[string]string{"content": content}, nil
	})

	reg.Register("skills.list", func(ctx context.Context, cc server.ConnContext, args json.RawMessage) (interface{}, error) {
		names, err := d.Skills.List(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"skills": names}, nil
	})

	reg.Register("skills.propose", func(ctx context.Context, cc server.ConnContext, args json.RawMessage) (interface{}, error) {
		var req struct {
			Name        string `json:"name"`
			Content     string `json:"content"`
			Description string `json:"description"`
		}
		if err := json.Unmarshal(args, &req); err != nil {
			return nil, fmt.Errorf("skills.propose: %w", err)
		}

		scanResult := scanner.Outbound(req.Content)
		if scanResult.Blocked() {
			d.auditAppend(audit.Entry{
				Action: "skills.propose", SessionID: cc.SessionID, AgentID: cc.AgentID,
				Result: audit.ResultBlocked, PatternsMatched: scanResult.Names(),
				Detail: "proposed skill content contains blocked secret patterns",
			})
			return nil, fmt.Errorf("skills.propose: content blocked by outbound content scan: %v", scanResult.Names())
		}

		res, err := d.Skills.Propose(ctx, req.Name, req.Content, req.Description)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{
			"name":           res.Name,
			"auto_approved":  res.AutoApproved,
			"pending_review": res.PendingReview,
		}, nil
	})
}
