package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/axrun/ax/internal/ax/ipc/server"
)

// registerAgentDelegate registers agent.delegate, which spawns a child
// session to carry out a sub-task on the caller's behalf. Two ceilings
// bound runaway delegation chains: MaxDelegationDepth caps how many
// levels deep a chain of delegates may nest, and MaxConcurrentDelegations
// caps how many delegated tasks may be in flight at once across the
// whole process.
func registerAgentDelegate(reg *server.Registry, d Deps) {
	if d.Delegate == nil {
		return
	}

	var inFlight int64

	reg.Register("agent.delegate", func(ctx context.Context, cc server.ConnContext, args json.RawMessage) (interface{}, error) {
		var req struct {
			Agent string `json:"agent"`
			Task  string `json:"task"`
		}
		if err := json.Unmarshal(args, &req); err != nil {
			return nil, fmt.Errorf("agent.delegate: %w", err)
		}

		childDepth := cc.DelegationDepth + 1
		if d.MaxDelegationDepth > 0 && childDepth > d.MaxDelegationDepth {
			return nil, fmt.Errorf("agent.delegate: delegation depth %d exceeds limit %d", childDepth, d.MaxDelegationDepth)
		}

		if d.MaxConcurrentDelegations > 0 {
			if atomic.AddInt64(&inFlight, 1) > int64(d.MaxConcurrentDelegations) {
				atomic.AddInt64(&inFlight, -1)
				return nil, fmt.Errorf("agent.delegate: concurrent delegation limit %d reached", d.MaxConcurrentDelegations)
			}
			defer atomic.AddInt64(&inFlight, -1)
		}

		reply, err := d.Delegate(cc.SessionID, cc.AgentID, req.Agent, req.Task, childDepth)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"reply": reply}, nil
	})
}
