package audit_test

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/axrun/ax/internal/ax/audit"
)

func TestAppend_WritesOneJSONLinePerEntry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	log, err := audit.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer log.Close()

	entries := []audit.Entry{
		{Action: "memory.write", SessionID: "s1", AgentID: "a1", Result: audit.ResultSuccess},
		{Action: "browser.navigate", SessionID: "s1", AgentID: "a1", Result: audit.ResultBlocked, PatternsMatched: []string{"domain-not-allowed"}},
	}
	for _, e := range entries {
		if err := log.Append(e); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	log.Close()

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Open for read: %v", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}

	var decoded audit.Entry
	if err := json.Unmarshal([]byte(lines[1]), &decoded); err != nil {
		t.Fatalf("json.Unmarshal: %v", err)
	}
	if decoded.Action != "browser.navigate" || decoded.Result != audit.ResultBlocked {
		t.Errorf("decoded = %+v", decoded)
	}
	if len(decoded.PatternsMatched) != 1 || decoded.PatternsMatched[0] != "domain-not-allowed" {
		t.Errorf("PatternsMatched = %v", decoded.PatternsMatched)
	}
}

func TestAppend_IsAppendOnlyAcrossReopens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")

	log1, err := audit.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := log1.Append(audit.Entry{Action: "a", SessionID: "s", AgentID: "ag", Result: audit.ResultSuccess}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	log1.Close()

	log2, err := audit.Open(path)
	if err != nil {
		t.Fatalf("Open (reopen): %v", err)
	}
	if err := log2.Append(audit.Entry{Action: "b", SessionID: "s", AgentID: "ag", Result: audit.ResultSuccess}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	log2.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	var count int
	for _, b := range data {
		if b == '\n' {
			count++
		}
	}
	if count != 2 {
		t.Errorf("got %d lines across reopen, want 2", count)
	}
}

func TestQuery_FiltersByActionPrefixAndOrdersNewestFirst(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	log, err := audit.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	log.Append(audit.Entry{Action: "memory.write", SessionID: "s1", AgentID: "a1", Result: audit.ResultSuccess})
	log.Append(audit.Entry{Action: "browser.navigate", SessionID: "s1", AgentID: "a1", Result: audit.ResultBlocked})
	log.Append(audit.Entry{Action: "memory.read", SessionID: "s1", AgentID: "a1", Result: audit.ResultSuccess})
	log.Close()

	entries, err := audit.Query(path, audit.QueryOptions{ActionPrefix: "memory."})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2", len(entries))
	}
	if entries[0].Action != "memory.read" {
		t.Errorf("entries[0].Action = %q, want memory.read (newest first)", entries[0].Action)
	}
}

func TestQuery_RespectsLimit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	log, _ := audit.Open(path)
	for i := 0; i < 5; i++ {
		log.Append(audit.Entry{Action: "memory.write", SessionID: "s1", AgentID: "a1", Result: audit.ResultSuccess})
	}
	log.Close()

	entries, err := audit.Query(path, audit.QueryOptions{Limit: 2})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2", len(entries))
	}
}

func TestQuery_MissingFileReturnsEmpty(t *testing.T) {
	entries, err := audit.Query(filepath.Join(t.TempDir(), "missing.jsonl"), audit.QueryOptions{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no entries, got %d", len(entries))
	}
}

func TestDigestArguments_StableForEqualInput(t *testing.T) {
	args := map[string]interface{}{"scope": "session", "key": "k1", "value": "hello"}
	d1 := audit.DigestArguments(args)
	d2 := audit.DigestArguments(args)
	if d1 != d2 {
		t.Error("DigestArguments is not stable for identical input")
	}
	if d1 == "" {
		t.Error("DigestArguments returned empty string")
	}
}

func TestDigestArguments_DiffersForDifferentInput(t *testing.T) {
	d1 := audit.DigestArguments(map[string]string{"k": "v1"})
	d2 := audit.DigestArguments(map[string]string{"k": "v2"})
	if d1 == d2 {
		t.Error("DigestArguments collided for different input")
	}
}
