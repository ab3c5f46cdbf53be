package server_test

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/axrun/ax/internal/ax/audit"
	"github.com/axrun/ax/internal/ax/ipc/schema"
	"github.com/axrun/ax/internal/ax/ipc/server"
	"github.com/axrun/ax/internal/ax/taint"
)

type fixedTaintStates struct {
	state     *taint.State
	threshold float64
}

func (f *fixedTaintStates) TaintState(ctx context.Context, sessionID string) (*taint.State, error) {
	return f.state, nil
}

func (f *fixedTaintStates) Threshold(sessionID string) float64 {
	return f.threshold
}

func newTestServer(t *testing.T) (*server.Server, string) {
	t.Helper()
	reg, err := schema.Load()
	if err != nil {
		t.Fatalf("schema.Load: %v", err)
	}

	handlers := server.NewRegistry()
	handlers.Register("memory.write", func(ctx context.Context, cc server.ConnContext, args json.RawMessage) (interface{}, error) {
		return map[string]bool{"ok": true}, nil
	})

	dir := t.TempDir()
	socketPath := filepath.Join(dir, "ax.sock")
	auditPath := filepath.Join(dir, "audit.jsonl")
	lg, err := audit.Open(auditPath)
	if err != nil {
		t.Fatalf("audit.Open: %v", err)
	}
	t.Cleanup(func() { lg.Close() })

	srv := &server.Server{
		SocketPath: socketPath,
		Schema:     reg,
		Handlers:   handlers,
		Taint:      &fixedTaintStates{state: taint.NewState(), threshold: 0.3},
		Audit:      lg,
	}
	return srv, socketPath
}

func startServer(t *testing.T, srv *server.Server) (context.CancelFunc, string) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if conn, err := net.Dial("unix", srv.SocketPath); err == nil {
			conn.Close()
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cancel, srv.SocketPath
}

func sendFrame(t *testing.T, conn net.Conn, payload []byte) server.Response {
	t.Helper()
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := conn.Write(lenBuf[:]); err != nil {
		t.Fatalf("write length: %v", err)
	}
	if _, err := conn.Write(payload); err != nil {
		t.Fatalf("write payload: %v", err)
	}

	if _, err := readAll(conn, lenBuf[:]); err != nil {
		t.Fatalf("read response length: %v", err)
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	respBuf := make([]byte, n)
	if _, err := readAll(conn, respBuf); err != nil {
		t.Fatalf("read response payload: %v", err)
	}

	var resp server.Response
	if err := json.Unmarshal(respBuf, &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	return resp
}

func readAll(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func TestServer_UnknownActionRejected(t *testing.T) {
	srv, socketPath := newTestServer(t)
	cancel, _ := startServer(t, srv)
	defer cancel()

	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	req := map[string]interface{}{"session_id": "s1", "agent_id": "default", "action": "not.a.real.action", "args": map[string]interface{}{}}
	payload, _ := json.Marshal(req)
	resp := sendFrame(t, conn, payload)
	if resp.OK {
		t.Fatal("expected rejection for unknown action")
	}
}

func TestServer_SchemaValidationRejectsExtraField(t *testing.T) {
	srv, socketPath := newTestServer(t)
	cancel, _ := startServer(t, srv)
	defer cancel()

	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	req := map[string]interface{}{
		"session_id": "s1", "agent_id": "default", "action": "memory.write",
		"args": map[string]interface{}{"scope": "session", "key": "k", "value": "v", "unexpected_field": true},
	}
	payload, _ := json.Marshal(req)
	resp := sendFrame(t, conn, payload)
	if resp.OK {
		t.Fatal("expected schema validation failure for extra field")
	}
}

func TestServer_ValidRequestInvokesHandler(t *testing.T) {
	srv, socketPath := newTestServer(t)
	cancel, _ := startServer(t, srv)
	defer cancel()

	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	req := map[string]interface{}{
		"session_id": "s1", "agent_id": "default", "action": "memory.write",
		"args": map[string]interface{}{"scope": "session", "key": "k", "value": "v"},
	}
	payload, _ := json.Marshal(req)
	resp := sendFrame(t, conn, payload)
	if !resp.OK {
		t.Fatalf("expected success, got error: %s", resp.Error)
	}
}

func TestServer_SensitiveActionDeniedAboveTaintThreshold(t *testing.T) {
	srv, socketPath := newTestServer(t)
	st := taint.NewState()
	st.RecordInbound(4000) // ratio = 1.0, exceeds any threshold < 1.0
	srv.Taint = &fixedTaintStates{state: st, threshold: 0.3}
	cancel, _ := startServer(t, srv)
	defer cancel()

	handlers := srv.Handlers
	handlers.Register("scheduler.add", func(ctx context.Context, cc server.ConnContext, args json.RawMessage) (interface{}, error) {
		return map[string]bool{"ok": true}, nil
	})

	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	req := map[string]interface{}{
		"session_id": "s1", "agent_id": "default", "action": "scheduler.add",
		"args": map[string]interface{}{"run_at": "2026-08-01T09:00:00Z", "task": "check in"},
	}
	payload, _ := json.Marshal(req)
	resp := sendFrame(t, conn, payload)
	if resp.OK {
		t.Fatal("expected taint gate to deny sensitive action above threshold")
	}
}
