package session_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/axrun/ax/internal/ax/session"
)

func newTestStore(t *testing.T) *session.Store {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "ax-test.db")
	st, err := session.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		st.Close()
		os.RemoveAll(dir)
	})
	return st
}

func TestEnsureSession_Idempotent(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	if err := st.EnsureSession(ctx, "s1", "matrix", "dm", "@alice:example.org"); err != nil {
		t.Fatalf("EnsureSession: %v", err)
	}
	if err := st.EnsureSession(ctx, "s1", "matrix", "dm", "@alice:example.org"); err != nil {
		t.Fatalf("EnsureSession (second call): %v", err)
	}
}

func TestAppendTurn_AndRecentTurns_Order(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	st.EnsureSession(ctx, "s1", "matrix", "dm", "@alice:example.org")

	turns := []session.Turn{
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "hello"},
		{Role: "user", Content: "how are you"},
	}
	for _, tn := range turns {
		if err := st.AppendTurn(ctx, "s1", tn); err != nil {
			t.Fatalf("AppendTurn: %v", err)
		}
	}

	got, err := st.RecentTurns(ctx, "s1", 2)
	if err != nil {
		t.Fatalf("RecentTurns: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len(got) = %d, want 2", len(got))
	}
	if got[0].Content != "hello" || got[1].Content != "how are you" {
		t.Errorf("got turns in wrong order: %+v", got)
	}
}

func TestTaintPersistence_RoundTrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	st.EnsureSession(ctx, "s1", "matrix", "dm", "@alice:example.org")

	if err := st.UpdateTaint(ctx, "s1", 1000, 250); err != nil {
		t.Fatalf("UpdateTaint: %v", err)
	}
	total, tainted, err := st.LoadTaint(ctx, "s1")
	if err != nil {
		t.Fatalf("LoadTaint: %v", err)
	}
	if total != 1000 || tainted != 250 {
		t.Errorf("got (%d, %d), want (1000, 250)", total, tainted)
	}
}

func TestOverrides_GrantAndRead(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	st.EnsureSession(ctx, "s1", "matrix", "dm", "@alice:example.org")

	if err := st.AddOverride(ctx, "s1", "browser.navigate"); err != nil {
		t.Fatalf("AddOverride: %v", err)
	}
	if err := st.AddOverride(ctx, "s1", "browser.navigate"); err != nil {
		t.Fatalf("AddOverride (repeat, should not conflict): %v", err)
	}

	overrides, err := st.Overrides(ctx, "s1")
	if err != nil {
		t.Fatalf("Overrides: %v", err)
	}
	if !overrides["browser.navigate"] {
		t.Error("expected browser.navigate override")
	}
}

func TestQueue_DequeueIsAtomicAndFIFO(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	st.EnsureSession(ctx, "s1", "matrix", "dm", "@alice:example.org")

	id1, err := st.EnqueueMessage(ctx, "s1", "first")
	if err != nil {
		t.Fatalf("EnqueueMessage: %v", err)
	}
	if _, err := st.EnqueueMessage(ctx, "s1", "second"); err != nil {
		t.Fatalf("EnqueueMessage: %v", err)
	}

	msgID, content, ok, err := st.DequeueNext(ctx, "s1")
	if err != nil {
		t.Fatalf("DequeueNext: %v", err)
	}
	if !ok {
		t.Fatal("expected a pending message")
	}
	if msgID != id1 || content != "first" {
		t.Errorf("got (%d, %q), want (%d, %q)", msgID, content, id1, "first")
	}

	if err := st.CompleteMessage(ctx, msgID, nil); err != nil {
		t.Fatalf("CompleteMessage: %v", err)
	}

	_, content2, ok2, err := st.DequeueNext(ctx, "s1")
	if err != nil {
		t.Fatalf("DequeueNext (second): %v", err)
	}
	if !ok2 || content2 != "second" {
		t.Errorf("got (%q, %v), want (second, true)", content2, ok2)
	}
}

func TestQueue_DequeueEmptyReturnsNotOK(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	st.EnsureSession(ctx, "s1", "matrix", "dm", "@alice:example.org")

	_, _, ok, err := st.DequeueNext(ctx, "s1")
	if err != nil {
		t.Fatalf("DequeueNext: %v", err)
	}
	if ok {
		t.Error("expected no pending message")
	}
}

func TestCanary_SetAndRead(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	st.EnsureSession(ctx, "s1", "matrix", "dm", "@alice:example.org")

	if err := st.SetCanary(ctx, "s1", "canary-abc123"); err != nil {
		t.Fatalf("SetCanary: %v", err)
	}
	got, err := st.Canary(ctx, "s1")
	if err != nil {
		t.Fatalf("Canary: %v", err)
	}
	if got != "canary-abc123" {
		t.Errorf("Canary() = %q, want canary-abc123", got)
	}
}
