package memory_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/axrun/ax/internal/ax/memory"
)

func newTestStore(t *testing.T) *memory.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mem-test.db")
	st, err := memory.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestWriteRead_RoundTrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	err := st.Write(ctx, memory.Entry{Scope: memory.ScopeSession, Key: "favorite_color", Value: "teal", Tags: []string{"preference"}})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, ok, err := st.Read(ctx, memory.ScopeSession, "favorite_color")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !ok {
		t.Fatal("expected entry to exist")
	}
	if got.Value != "teal" {
		t.Errorf("Value = %q, want teal", got.Value)
	}
	if len(got.Tags) != 1 || got.Tags[0] != "preference" {
		t.Errorf("Tags = %v", got.Tags)
	}
}

func TestWrite_UpsertOverwritesValue(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	st.Write(ctx, memory.Entry{Scope: memory.ScopeAgent, Key: "k", Value: "v1"})
	st.Write(ctx, memory.Entry{Scope: memory.ScopeAgent, Key: "k", Value: "v2", Tainted: true})

	got, ok, err := st.Read(ctx, memory.ScopeAgent, "k")
	if err != nil || !ok {
		t.Fatalf("Read: ok=%v err=%v", ok, err)
	}
	if got.Value != "v2" || !got.Tainted {
		t.Errorf("got %+v, want value=v2 tainted=true", got)
	}
}

func TestDelete_RemovesEntry(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	st.Write(ctx, memory.Entry{Scope: memory.ScopeGlobal, Key: "k", Value: "v"})
	if err := st.Delete(ctx, memory.ScopeGlobal, "k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	_, ok, err := st.Read(ctx, memory.ScopeGlobal, "k")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if ok {
		t.Error("expected entry to be gone after Delete")
	}
}

func TestDelete_AbsentKeyIsNotAnError(t *testing.T) {
	st := newTestStore(t)
	if err := st.Delete(context.Background(), memory.ScopeGlobal, "never-existed"); err != nil {
		t.Errorf("Delete of absent key returned error: %v", err)
	}
}

func TestList_FiltersByScopeAndPrefix(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	st.Write(ctx, memory.Entry{Scope: memory.ScopeSession, Key: "note.1", Value: "a"})
	st.Write(ctx, memory.Entry{Scope: memory.ScopeSession, Key: "note.2", Value: "b"})
	st.Write(ctx, memory.Entry{Scope: memory.ScopeSession, Key: "other", Value: "c"})
	st.Write(ctx, memory.Entry{Scope: memory.ScopeAgent, Key: "note.3", Value: "d"})

	got, err := st.List(ctx, memory.ScopeSession, "note.", 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len(got) = %d, want 2", len(got))
	}
}

func TestQuery_FullTextMatch(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	st.Write(ctx, memory.Entry{Scope: memory.ScopeSession, Key: "k1", Value: "the user prefers dark roast coffee"})
	st.Write(ctx, memory.Entry{Scope: memory.ScopeSession, Key: "k2", Value: "the weather today is sunny"})

	got, err := st.Query(ctx, memory.ScopeSession, "coffee", nil, 10)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 1 || got[0].Key != "k1" {
		t.Errorf("got %+v, want one match on k1", got)
	}
}

func TestQuery_TagFilter(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	st.Write(ctx, memory.Entry{Scope: memory.ScopeSession, Key: "k1", Value: "likes espresso", Tags: []string{"preference", "drink"}})
	st.Write(ctx, memory.Entry{Scope: memory.ScopeSession, Key: "k2", Value: "likes espresso machines", Tags: []string{"appliance"}})

	got, err := st.Query(ctx, memory.ScopeSession, "espresso", []string{"preference"}, 10)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 1 || got[0].Key != "k1" {
		t.Errorf("got %+v, want one match on k1", got)
	}
}
