// Package handlers wires every IPC action to its concrete implementation
// and registers them all on a server.Registry. Each
// handler group lives in its own file; RegisterAll is the single call
// site a binary's main() uses to assemble the full handler set.
package handlers

import (
	"log/slog"
	"time"

	"github.com/axrun/ax/internal/ax/audit"
	"github.com/axrun/ax/internal/ax/browser"
	"github.com/axrun/ax/internal/ax/ipc/server"
	"github.com/axrun/ax/internal/ax/memory"
	"github.com/axrun/ax/internal/ax/pathkernel"
	"github.com/axrun/ax/internal/ax/provider/llm"
	"github.com/axrun/ax/internal/ax/scheduler"
	"github.com/axrun/ax/internal/ax/skills"
	"github.com/axrun/ax/internal/ax/taint"
	"github.com/axrun/ax/internal/ax/webfetch"
	"github.com/axrun/ax/internal/ax/websearch"
)

// DelegateFunc spawns a child session for agent.delegate and returns its
// reply once the delegated task completes.
type DelegateFunc func(sessionID, agentID, childAgent, task string, depth int) (string, error)

// Deps bundles every collaborator the handler group needs. Not every
// field must be populated — a nil collaborator's handlers simply are not
// registered by RegisterAll, so a deployment can omit optional subsystems
// (e.g. no browser binary available) without the whole IPC surface
// failing to start.
type Deps struct {
	Memory    *memory.Store
	Scheduler *scheduler.Store
	Skills    *skills.Store
	Browser   *browser.Manager
	Fetcher   *webfetch.Fetcher
	Searcher  *websearch.Searcher
	LLM       *llm.Router
	Providers []llm.Provider

	AuditLogPath string
	IdentityRoot string // base directory for identity.write's soul/bootstrap/memory_notes files

	TaintBySession func(sessionID string) *taint.State
	Delegate       DelegateFunc

	MaxDelegationDepth       int
	MaxConcurrentDelegations int

	Logger *slog.Logger
}

// RegisterAll registers every handler this Deps can support into reg.
func RegisterAll(reg *server.Registry, d Deps) {
	registerMemory(reg, d)
	registerScheduler(reg, d)
	registerSkills(reg, d)
	registerBrowser(reg, d)
	registerWeb(reg, d)
	registerLLM(reg, d)
	registerIdentityAndUser(reg, d)
	registerAudit(reg, d)
	registerAgentDelegate(reg, d)
}

func (d Deps) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

func (d Deps) taintFor(sessionID string) *taint.State {
	if d.TaintBySession == nil {
		return taint.NewState()
	}
	return d.TaintBySession(sessionID)
}

func (d Deps) recordExternal(cc server.ConnContext, byteLen int) {
	d.taintFor(cc.SessionID).RecordExternalFetch(byteLen)
}

func (d Deps) auditAppend(e audit.Entry) {
	// Handlers append supplementary audit detail beyond what the server's
	// own request-lifecycle entry records (e.g. which domain a fetch
	// actually hit); failures here are swallowed exactly like the
	// server's own auditAppend, since losing a best-effort detail entry
	// must never fail the request itself.
	if d.AuditLogPath == "" {
		return
	}
	log, err := audit.Open(d.AuditLogPath)
	if err != nil {
		return
	}
	defer log.Close()
	_ = log.Append(e)
}

func constrainIdentityFile(root, file string) (string, error) {
	return pathkernel.Constrain(root, file+".md")
}

// defaultTimeout is a 30-second bound for a handler's own sub-operation
// (e.g. a fetch), separate from the server's per-action timeout. No
// handler in this package references it.
const defaultTimeout = 30 * time.Second
