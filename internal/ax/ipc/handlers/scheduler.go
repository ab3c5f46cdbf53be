package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/axrun/ax/internal/ax/ipc/server"
)

func registerScheduler(reg *server.Registry, d Deps) {
	if d.Scheduler == nil {
		return
	}

	reg.Register("scheduler.add", func(ctx context.Context, cc server.ConnContext, args json.RawMessage) (interface{}, error) {
		var req struct {
			RunAt     string `json:"run_at"`
			Task      string `json:"task"`
			Recurring bool   `json:"recurring"`
		}
		if err := json.Unmarshal(args, &req); err != nil {
			return nil, fmt.Errorf("scheduler.add: %w", err)
		}
		runAt, err := time.Parse(time.RFC3339, req.RunAt)
		if err != nil {
			return nil, fmt.Errorf("scheduler.add: run_at must be RFC3339: %w", err)
		}
		id, err := d.Scheduler.Add(ctx, cc.SessionID, runAt, req.Task, req.Recurring)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"id": strconv.FormatInt(id, 10)}, nil
	})

	reg.Register("scheduler.remove", func(ctx context.Context, cc server.ConnContext, args json.RawMessage) (interface{}, error) {
		var req struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(args, &req); err != nil {
			return nil, fmt.Errorf("scheduler.remove: %w", err)
		}
		id, err := strconv.ParseInt(req.ID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("scheduler.remove: invalid id %q", req.ID)
		}
		if err := d.Scheduler.Remove(ctx, cc.SessionID, id); err != nil {
			return nil, err
		}
		return map[string]bool{"ok": true}, nil
	})

	reg.Register("scheduler.list", func(ctx context.Context, cc server.ConnContext, args json.RawMessage) (interface{}, error) {
		tasks, err := d.Scheduler.List(ctx, cc.SessionID)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"tasks": tasks}, nil
	})

	reg.Register("scheduler.run_at", func(ctx context.Context, cc server.ConnContext, args json.RawMessage) (interface{}, error) {
		var req struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(args, &req); err != nil {
			return nil, fmt.Errorf("scheduler.run_at: %w", err)
		}
		tasks, err := d.Scheduler.List(ctx, cc.SessionID)
		if err != nil {
			return nil, err
		}
		for _, t := range tasks {
			if strconv.FormatInt(t.ID, 10) == req.ID {
				return map[string]interface{}{"run_at": t.RunAt.Format(time.RFC3339)}, nil
			}
		}
		return nil, fmt.Errorf("scheduler.run_at: no task %q for this session", req.ID)
	})
}
