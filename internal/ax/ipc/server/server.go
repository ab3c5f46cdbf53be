package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"

	"github.com/axrun/ax/internal/ax/audit"
	"github.com/axrun/ax/internal/ax/ipc/schema"
	"github.com/axrun/ax/internal/ax/taint"
)

const (
	defaultActionTimeout = 30 * time.Second
	llmActionTimeout     = 10 * time.Minute
)

// Request is one decoded frame payload.
type Request struct {
	Action string          `json:"action"`
	Args   json.RawMessage `json:"args"`
}

// Response is the frame written back for every request, success or
// failure: a handler may itself fail without terminating the connection.
type Response struct {
	OK     bool        `json:"ok"`
	Error  string      `json:"error,omitempty"`
	Result interface{} `json:"result,omitempty"`
}

// TaintStates resolves a session's live taint.State and the profile
// threshold it is gated against, letting the server consult the taint
// engine without depending on the session store or config package
// directly.
type TaintStates interface {
	TaintState(ctx context.Context, sessionID string) (*taint.State, error)
	Threshold(sessionID string) float64
}

// Server is the IPC Unix socket server.
type Server struct {
	SocketPath string
	Schema     *schema.Registry
	Handlers   *Registry
	Taint      TaintStates
	Audit      *audit.Log
	Logger     *slog.Logger

	// ActionTimeout overrides the default per-action timeout; llm.call
	// always uses llmActionTimeout regardless of this map.
	ActionTimeout map[string]time.Duration
}

// ListenAndServe binds the Unix socket at s.SocketPath (removing any stale
// socket file first, matching the octoreflex operator server's startup
// sequence) and serves connections until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if err := os.Remove(s.SocketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("server: remove stale socket %q: %w", s.SocketPath, err)
	}

	lis, err := net.Listen("unix", s.SocketPath)
	if err != nil {
		return fmt.Errorf("server: listen %q: %w", s.SocketPath, err)
	}
	defer lis.Close()

	if err := os.Chmod(s.SocketPath, 0o600); err != nil {
		return fmt.Errorf("server: chmod %q: %w", s.SocketPath, err)
	}

	s.logger().Info("ipc server listening", "path", s.SocketPath)

	go func() {
		<-ctx.Done()
		lis.Close()
	}()

	for {
		conn, err := lis.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				s.logger().Error("ipc accept error", "err", err)
				continue
			}
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// handleConn drains a connection frame by frame until EOF or a read
// error, running the full request lifecycle on each one.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	for {
		payload, err := readFrame(conn)
		if err != nil {
			return
		}

		resp := s.process(ctx, payload)
		data, err := json.Marshal(resp)
		if err != nil {
			data, _ = json.Marshal(Response{OK: false, Error: "internal: failed to encode response"})
		}
		if err := writeFrame(conn, data); err != nil {
			return
		}
	}
}

// identityEnvelope carries the connection identity alongside action/args
// on the wire, since a Unix socket's net.Conn carries no session metadata
// of its own.
type identityEnvelope struct {
	SessionID string          `json:"session_id"`
	AgentID   string          `json:"agent_id"`
	Action    string          `json:"action"`
	Args      json.RawMessage `json:"args"`
}

// process runs the request lifecycle over one decoded frame payload,
// always appending an audit entry regardless of outcome.
func (s *Server) process(ctx context.Context, payload []byte) Response {
	var env identityEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		s.auditAppend(audit.Entry{Result: audit.ResultError, Detail: "Invalid JSON"})
		return Response{OK: false, Error: "Invalid JSON"}
	}

	if strings.ContainsRune(env.SessionID, 0) || strings.ContainsRune(env.AgentID, 0) || strings.ContainsRune(env.Action, 0) {
		s.auditAppend(audit.Entry{
			Action: env.Action, SessionID: env.SessionID, AgentID: env.AgentID,
			Result: audit.ResultError, Detail: "Null byte not allowed",
		})
		return Response{OK: false, Error: "Null byte not allowed"}
	}

	cc := NewConnContext(env.SessionID, env.AgentID)

	if !schema.Actions[env.Action] {
		s.auditAppend(audit.Entry{
			Action: env.Action, SessionID: cc.SessionID, AgentID: cc.AgentID,
			Result: audit.ResultError, Detail: "Unknown action",
		})
		return Response{OK: false, Error: fmt.Sprintf("Unknown action: %q", env.Action)}
	}

	var argsVal interface{}
	if len(env.Args) > 0 {
		if err := json.Unmarshal(env.Args, &argsVal); err != nil {
			s.auditAppend(audit.Entry{
				Action: env.Action, SessionID: cc.SessionID, AgentID: cc.AgentID,
				Result: audit.ResultError, Detail: "Invalid JSON",
			})
			return Response{OK: false, Error: "Invalid JSON"}
		}
	}
	if containsNullByte(argsVal) {
		s.auditAppend(audit.Entry{
			Action: env.Action, SessionID: cc.SessionID, AgentID: cc.AgentID,
			Result: audit.ResultError, Detail: "Null byte not allowed",
		})
		return Response{OK: false, Error: "Null byte not allowed"}
	}
	if err := s.Schema.Validate(env.Action, argsVal); err != nil {
		s.auditAppend(audit.Entry{
			Action: env.Action, SessionID: cc.SessionID, AgentID: cc.AgentID,
			Result: audit.ResultError, Detail: err.Error(),
			ArgumentsDigest: audit.DigestArguments(argsVal),
		})
		return Response{OK: false, Error: err.Error()}
	}

	if taint.IsSensitive(env.Action) && s.Taint != nil {
		st, err := s.Taint.TaintState(ctx, cc.SessionID)
		if err == nil {
			if denyErr := st.Check(env.Action, s.Taint.Threshold(cc.SessionID)); denyErr != nil {
				s.auditAppend(audit.Entry{
					Action: env.Action, SessionID: cc.SessionID, AgentID: cc.AgentID,
					Result: audit.ResultBlocked, Detail: denyErr.Error(),
					ArgumentsDigest: audit.DigestArguments(argsVal),
				})
				return Response{OK: false, Error: denyErr.Error()}
			}
		}
	}

	handler, ok := s.Handlers.lookup(env.Action)
	if !ok {
		s.auditAppend(audit.Entry{
			Action: env.Action, SessionID: cc.SessionID, AgentID: cc.AgentID,
			Result: audit.ResultError, Detail: "no handler registered",
		})
		return Response{OK: false, Error: "Unknown action"}
	}

	hctx, cancel := context.WithTimeout(ctx, s.timeoutFor(env.Action))
	defer cancel()

	result, err := handler(hctx, cc, env.Args)
	if err != nil {
		s.auditAppend(audit.Entry{
			Action: env.Action, SessionID: cc.SessionID, AgentID: cc.AgentID,
			Result: audit.ResultError, Detail: err.Error(),
			ArgumentsDigest: audit.DigestArguments(argsVal),
		})
		return Response{OK: false, Error: err.Error()}
	}

	s.auditAppend(audit.Entry{
		Action: env.Action, SessionID: cc.SessionID, AgentID: cc.AgentID,
		Result: audit.ResultSuccess, ArgumentsDigest: audit.DigestArguments(argsVal),
	})
	return Response{OK: true, Result: result}
}

// containsNullByte scans a decoded JSON value for a null byte in any
// string, matching pathkernel's rejection of null bytes in path segments.
// Unlike pathkernel, args are rejected outright rather than sanitized,
// consistent with schema validation's reject-on-failure handling of the
// same payload.
func containsNullByte(v interface{}) bool {
	switch val := v.(type) {
	case string:
		return strings.ContainsRune(val, 0)
	case map[string]interface{}:
		for k, vv := range val {
			if strings.ContainsRune(k, 0) || containsNullByte(vv) {
				return true
			}
		}
	case []interface{}:
		for _, vv := range val {
			if containsNullByte(vv) {
				return true
			}
		}
	}
	return false
}

func (s *Server) timeoutFor(action string) time.Duration {
	if action == "llm.call" {
		return llmActionTimeout
	}
	if d, ok := s.ActionTimeout[action]; ok {
		return d
	}
	return defaultActionTimeout
}

func (s *Server) auditAppend(e audit.Entry) {
	if s.Audit == nil {
		return
	}
	_ = s.Audit.Append(e)
}
