// Package prompt assembles the system prompt from a priority-ordered,
// budget-aware set of modules. Grounded on Ruriko's
// buildSystemPrompt (internal/gitai/app/prompt.go): that function
// concatenates a fixed sequence of optional sections (persona, role,
// workflow, context, messaging targets, memory) behind simple presence
// checks. This package generalizes the same "emit a labeled section only
// when it has content" idiom into a registered-module table with explicit
// priority, a token budget, and a minimal fallback per module.
package prompt

import (
	"sort"
	"strings"

	"github.com/axrun/ax/internal/ax/taint"
)

// Context is the render-time state every module may read from. Its fields
// are set by whoever assembles Context (the IPC server's session
// handling), not by modules themselves.
type Context struct {
	AgentID   string
	SessionID string

	// Soul is the agent's configured identity document; Bootstrap is the
	// fallback identity text used when Soul is empty. Bootstrap mode
	// triggers precisely when Soul == "" && Bootstrap != "".
	Soul      string
	Bootstrap string

	Taint *taint.State

	WorkspacePath string
	Skills        []string
	Heartbeat     string
	ReplyOptional bool

	ContextWindow int
	HistoryTokens int
	OutputReserve int
}

// Bootstrapping reports whether the context triggers bootstrap mode: no
// configured identity, but bootstrap text available.
func (c *Context) Bootstrapping() bool {
	return c.Soul == "" && c.Bootstrap != ""
}

// Module is one registered prompt section.
type Module struct {
	Name     string
	Priority int // 0 (first) .. 100 (last)
	Optional bool

	ShouldInclude  func(ctx *Context) bool
	Render         func(ctx *Context) []string
	EstimateTokens func(ctx *Context) int

	// RenderMinimal renders a reduced variant when the full render does not
	// fit the remaining budget. ok is false when the module has no minimal
	// variant, in which case it is dropped outright rather than shrunk.
	RenderMinimal func(ctx *Context) (lines []string, ok bool)
}

// Registry holds the registered module set and assembles prompts from it.
type Registry struct {
	modules []Module
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds m to the registry. Order among equal-priority modules is
// registration order (stable sort).
func (r *Registry) Register(m Module) {
	r.modules = append(r.modules, m)
}

// estimateLines is the fallback token estimator for a minimal render,
// reusing the taint engine's byte/4 approximation since prompt text is
// ordinary (untainted) local content.
func estimateLines(lines []string) int {
	return int(taint.EstimateTokens(len(strings.Join(lines, "\n"))))
}

// Assemble runs the module assembly algorithm: required modules always
// emit; optional modules are added in ascending priority order while
// their full estimate fits the remaining budget, falling back to a
// minimal render when offered and affordable, otherwise dropped. The
// final text joins retained modules' lines in ascending-priority order.
func (r *Registry) Assemble(ctx *Context) string {
	ordered := make([]Module, len(r.modules))
	copy(ordered, r.modules)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Priority < ordered[j].Priority })

	budget := ctx.ContextWindow - ctx.HistoryTokens - ctx.OutputReserve
	if budget < 0 {
		budget = 0
	}

	type retained struct {
		priority int
		lines    []string
	}
	var kept []retained

	for _, m := range ordered {
		if !m.ShouldInclude(ctx) {
			continue
		}

		if !m.Optional {
			lines := m.Render(ctx)
			kept = append(kept, retained{priority: m.Priority, lines: lines})
			budget -= m.EstimateTokens(ctx)
			continue
		}

		est := m.EstimateTokens(ctx)
		if est <= budget {
			lines := m.Render(ctx)
			kept = append(kept, retained{priority: m.Priority, lines: lines})
			budget -= est
			continue
		}

		if m.RenderMinimal != nil {
			if lines, ok := m.RenderMinimal(ctx); ok {
				minEst := estimateLines(lines)
				if minEst <= budget {
					kept = append(kept, retained{priority: m.Priority, lines: lines})
					budget -= minEst
					continue
				}
			}
		}
		// Neither the full nor minimal render fits: module is dropped.
	}

	var out []string
	for _, k := range kept {
		out = append(out, k.lines...)
	}
	return strings.Join(out, "\n")
}
