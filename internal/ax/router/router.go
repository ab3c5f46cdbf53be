// Package router implements the message router and dispatcher (C7):
// inbound scan→canary→enqueue, a per-session FIFO dispatcher that runs
// sessions in parallel with each other, and outbound canary/leak
// screening before a reply reaches its channel. Grounded on Ruriko's
// commands.Router (internal/ruriko/commands/router.go): that type routes
// a parsed command string to a registered Handler by name; this one keeps
// the same "one persistent router, many independent dispatch paths" shape
// but routes queued session content through a worker instead of dispatching
// on a command verb.
package router

import (
	"context"
	"fmt"
	"sync"

	"github.com/axrun/ax/internal/ax/audit"
	"github.com/axrun/ax/internal/ax/canary"
	"github.com/axrun/ax/internal/ax/scanner"
	"github.com/axrun/ax/internal/ax/session"
	"github.com/axrun/ax/internal/ax/taint"
)

// Worker processes one dequeued message and returns the reply to deliver.
type Worker func(ctx context.Context, sessionID, content string) (reply string, err error)

// Channel delivers a reply string to a session's originating address.
type Channel interface {
	Send(ctx context.Context, sessionID, text string) error
}

// InboundResult is returned to the calling channel adapter synchronously,
// before the message is ever dequeued by the dispatcher.
type InboundResult struct {
	Queued     bool
	MessageID  int64
	ScanResult scanner.Result
}

// OutboundResult is the outcome of screening a worker's reply before
// delivery.
type OutboundResult struct {
	Content      string
	ScanResult   scanner.Result
	CanaryLeaked bool
}

// Router ties the session store, taint engine, and pattern scanners into
// the inbound/outbound message pipeline, and drives one dispatcher
// goroutine per active session.
type Router struct {
	store *session.Store
	audit *audit.Log

	mu      sync.Mutex
	taints  map[string]*taint.State
	running map[string]bool // sessions with an active dispatcher goroutine
}

// New constructs a Router over store and audit.
func New(store *session.Store, auditLog *audit.Log) *Router {
	return &Router{
		store:   store,
		audit:   auditLog,
		taints:  make(map[string]*taint.State),
		running: make(map[string]bool),
	}
}

// taintState returns the in-memory taint.State for id, loading its
// persisted counters on first access.
func (r *Router) taintState(ctx context.Context, id string) (*taint.State, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.taints[id]; ok {
		return st, nil
	}

	total, tainted, err := r.store.LoadTaint(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("router: load taint for %s: %w", id, err)
	}
	overrides, err := r.store.Overrides(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("router: load overrides for %s: %w", id, err)
	}

	st := taint.NewState()
	// Replay persisted counters by recording them as a single internal
	// block (total) then re-applying the tainted delta, since State has no
	// direct setter — this keeps taint.State's invariant (tainted <= total
	// at every mutation) intact during rehydration.
	if total > tainted {
		st.RecordInternal(int((total - tainted) * 4))
	}
	if tainted > 0 {
		st.RecordInbound(int(tainted * 4))
	}
	for action := range overrides {
		st.AddOverride(action)
	}

	r.taints[id] = st
	return st, nil
}

// persistTaint writes a session's in-memory taint counters back to the
// store after every inbound record, so a process restart rehydrates
// correctly.
func (r *Router) persistTaint(ctx context.Context, id string, st *taint.State) error {
	snap := st.Snapshot()
	return r.store.UpdateTaint(ctx, id, snap.TotalTokens, snap.TaintedTokens)
}

// TaintState exposes a session's taint engine for the IPC handler layer's
// sensitive-action gate.
func (r *Router) TaintState(ctx context.Context, id string) (*taint.State, error) {
	return r.taintState(ctx, id)
}

// delimitExternal wraps raw inbound content in an explicit untrusted-data
// delimiter naming the channel it arrived from.
func delimitExternal(source, content string) string {
	return fmt.Sprintf(`<untrusted-data trust="external" source=%q>%s</untrusted-data>`, source, content)
}

// Inbound ensures the session, mints a canary, delimits and scans the
// content, records taint, audits, and — unless the scan verdict is Block
// — enqueues the marked content.
func (r *Router) Inbound(ctx context.Context, id, provider, scope, identifier, source, content string) (InboundResult, error) {
	if err := r.store.EnsureSession(ctx, id, provider, scope, identifier); err != nil {
		return InboundResult{}, err
	}

	token, err := canary.Mint()
	if err != nil {
		return InboundResult{}, fmt.Errorf("router: mint canary: %w", err)
	}
	if err := r.store.SetCanary(ctx, id, token); err != nil {
		return InboundResult{}, fmt.Errorf("router: persist canary: %w", err)
	}

	wrapped := delimitExternal(source, content)
	result := scanner.Inbound(wrapped)

	st, err := r.taintState(ctx, id)
	if err != nil {
		return InboundResult{}, err
	}
	st.RecordInbound(len(wrapped))
	if err := r.persistTaint(ctx, id, st); err != nil {
		return InboundResult{}, err
	}

	if result.Blocked() {
		r.auditAppend(audit.Entry{
			Action:          "message.inbound",
			SessionID:       id,
			Result:          audit.ResultBlocked,
			PatternsMatched: result.Names(),
			ArgumentsDigest: audit.DigestArguments(content),
		})
		return InboundResult{Queued: false, ScanResult: result}, nil
	}

	r.auditAppend(audit.Entry{
		Action:          "message.inbound",
		SessionID:       id,
		Result:          audit.ResultSuccess,
		PatternsMatched: result.Names(),
		ArgumentsDigest: audit.DigestArguments(content),
	})

	marked := wrapped + "\n[canary:" + token + "]"
	msgID, err := r.store.EnqueueMessage(ctx, id, marked)
	if err != nil {
		return InboundResult{}, err
	}
	return InboundResult{Queued: true, MessageID: msgID, ScanResult: result}, nil
}

// Outbound runs a worker's raw reply through the canary leak check,
// output scan, redaction, and audit before it reaches the channel.
func (r *Router) Outbound(ctx context.Context, id, reply string) (OutboundResult, error) {
	token, err := r.store.Canary(ctx, id)
	if err != nil {
		return OutboundResult{}, fmt.Errorf("router: load canary for %s: %w", id, err)
	}

	if canary.Leaked(reply, token) {
		r.auditAppend(audit.Entry{
			Action:    "message.outbound",
			SessionID: id,
			Result:    audit.ResultBlocked,
			Detail:    "canary_leaked",
		})
		return OutboundResult{Content: canary.LeakedResponse, CanaryLeaked: true}, nil
	}

	result := scanner.Outbound(reply)
	redacted := canary.Redact(reply, token)

	outcome := audit.ResultSuccess
	if result.Blocked() {
		outcome = audit.ResultBlocked
	}
	r.auditAppend(audit.Entry{
		Action:          "message.outbound",
		SessionID:       id,
		Result:          outcome,
		PatternsMatched: result.Names(),
	})

	if result.Blocked() {
		return OutboundResult{Content: "", ScanResult: result, CanaryLeaked: false}, nil
	}
	return OutboundResult{Content: redacted, ScanResult: result, CanaryLeaked: false}, nil
}

func (r *Router) auditAppend(e audit.Entry) {
	if r.audit == nil {
		return
	}
	// Audit failures are swallowed rather than propagated: losing a log
	// line must never block message delivery, matching Ruriko's
	// fire-and-forget audit calls throughout internal/ruriko/commands.
	_ = r.audit.Append(e)
}

// EnsureDispatcher starts id's dispatcher goroutine if one is not already
// running. Each session has at most one dispatcher, guaranteeing
// single-threaded-per-session processing; distinct sessions' dispatchers
// run concurrently with each other.
func (r *Router) EnsureDispatcher(ctx context.Context, id string, worker Worker, ch Channel) {
	r.mu.Lock()
	if r.running[id] {
		r.mu.Unlock()
		return
	}
	r.running[id] = true
	r.mu.Unlock()

	go r.runDispatcher(ctx, id, worker, ch)
}

// runDispatcher drains id's queue to empty, then exits; a future Inbound
// call re-arms it via EnsureDispatcher.
func (r *Router) runDispatcher(ctx context.Context, id string, worker Worker, ch Channel) {
	defer func() {
		r.mu.Lock()
		r.running[id] = false
		r.mu.Unlock()
	}()

	for {
		msgID, content, ok, err := r.store.DequeueNext(ctx, id)
		if err != nil || !ok {
			return
		}

		reply, workerErr := worker(ctx, id, content)
		if compErr := r.store.CompleteMessage(ctx, msgID, workerErr); compErr != nil {
			r.auditAppend(audit.Entry{
				Action: "message.dispatch", SessionID: id,
				Result: audit.ResultError, Detail: compErr.Error(),
			})
		}
		if workerErr != nil {
			r.auditAppend(audit.Entry{
				Action: "message.dispatch", SessionID: id,
				Result: audit.ResultError, Detail: workerErr.Error(),
			})
			continue
		}

		out, err := r.Outbound(ctx, id, reply)
		if err != nil {
			r.auditAppend(audit.Entry{
				Action: "message.outbound", SessionID: id,
				Result: audit.ResultError, Detail: err.Error(),
			})
			continue
		}
		if ch != nil && out.Content != "" {
			if err := ch.Send(ctx, id, out.Content); err != nil {
				r.auditAppend(audit.Entry{
					Action: "message.deliver", SessionID: id,
					Result: audit.ResultError, Detail: err.Error(),
				})
			}
		}
	}
}
