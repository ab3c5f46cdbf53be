package client_test

import (
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/axrun/ax/internal/ax/audit"
	"github.com/axrun/ax/internal/ax/ipc/client"
	"github.com/axrun/ax/internal/ax/ipc/schema"
	"github.com/axrun/ax/internal/ax/ipc/server"
	"github.com/axrun/ax/internal/ax/taint"
)

type fixedTaintStates struct{ threshold float64 }

func (f *fixedTaintStates) TaintState(ctx context.Context, sessionID string) (*taint.State, error) {
	return taint.NewState(), nil
}
func (f *fixedTaintStates) Threshold(sessionID string) float64 { return f.threshold }

func newTestServer(t *testing.T) string {
	t.Helper()
	reg, err := schema.Load()
	if err != nil {
		t.Fatalf("schema.Load: %v", err)
	}

	handlers := server.NewRegistry()
	handlers.Register("memory.write", func(ctx context.Context, cc server.ConnContext, args json.RawMessage) (interface{}, error) {
		return map[string]bool{"ok": true}, nil
	})
	handlers.Register("llm.call", func(ctx context.Context, cc server.ConnContext, args json.RawMessage) (interface{}, error) {
		return map[string]interface{}{"text": "stubbed reply for " + cc.SessionID}, nil
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
		Taint:      &fixedTaintStates{threshold: 0.3},
		Audit:      lg,
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = srv.ListenAndServe(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if conn, err := net.Dial("unix", socketPath); err == nil {
			conn.Close()
			return socketPath
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("server did not start listening in time")
	return ""
}

func TestCall_MemoryWriteRoundTrips(t *testing.T) {
	socketPath := newTestServer(t)

	c, err := client.Dial(socketPath, "session-1", "default")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	result, err := c.Call("memory.write", map[string]string{"scope": "session", "key": "k", "value": "v"})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	var decoded struct {
		OK bool `json:"ok"`
	}
	if err := json.Unmarshal(result, &decoded); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if !decoded.OK {
		t.Fatal("memory.write result.ok = false, want true")
	}
}

func TestCall_LLMCallCarriesSessionIdentity(t *testing.T) {
	socketPath := newTestServer(t)

	c, err := client.Dial(socketPath, "session-2", "default")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	result, err := c.Call("llm.call", map[string]interface{}{
		"messages": []map[string]string{{"role": "user", "content": "hi"}},
	})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	var decoded struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(result, &decoded); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if decoded.Text != "stubbed reply for session-2" {
		t.Fatalf("Text = %q, want session identity echoed through", decoded.Text)
	}
}

func TestCall_UnknownActionReturnsError(t *testing.T) {
	socketPath := newTestServer(t)

	c, err := client.Dial(socketPath, "session-3", "default")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	if _, err := c.Call("not.a.real.action", map[string]string{}); err == nil {
		t.Fatal("Call() with unknown action succeeded, want error")
	}
}
