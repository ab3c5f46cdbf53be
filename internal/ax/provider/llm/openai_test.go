package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/axrun/ax/internal/ax/axerr"
)

func drain(t *testing.T, ch <-chan Chunk) []Chunk {
	t.Helper()
	var chunks []Chunk
	for c := range ch {
		chunks = append(chunks, c)
	}
	return chunks
}

func TestComplete_ParsesTextAndUsage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[{"message":{"content":"hello there"},"finish_reason":"stop"}],"usage":{"prompt_tokens":10,"completion_tokens":5}}`))
	}))
	defer srv.Close()

	p := NewOpenAI(OpenAIConfig{BaseURL: srv.URL, Model: "gpt-test", APIKeyEnvValue: "dummy"})
	ch, err := p.Complete(context.Background(), []Message{{Role: "user", Content: "hi"}}, nil)
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}

	chunks := drain(t, ch)
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2 (text + done)", len(chunks))
	}
	if chunks[0].Kind != "text" || chunks[0].Text != "hello there" {
		t.Errorf("chunk 0 = %+v, want text=hello there", chunks[0])
	}
	if chunks[1].Kind != "done" || chunks[1].InputTokens != 10 || chunks[1].OutputTokens != 5 {
		t.Errorf("chunk 1 = %+v, want done with usage", chunks[1])
	}
}

func TestComplete_ParsesToolCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[{"message":{"content":"","tool_calls":[{"id":"call_1","type":"function","function":{"name":"lookup","arguments":"{\"q\":\"x\"}"}}]}}],"usage":{}}`))
	}))
	defer srv.Close()

	p := NewOpenAI(OpenAIConfig{BaseURL: srv.URL, Model: "gpt-test"})
	ch, err := p.Complete(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	chunks := drain(t, ch)
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2 (tool_use + done)", len(chunks))
	}
	if chunks[0].Kind != "tool_use" || chunks[0].ToolName != "lookup" || chunks[0].ToolUseID != "call_1" {
		t.Errorf("chunk 0 = %+v, want tool_use lookup/call_1", chunks[0])
	}
}

func TestComplete_AuthErrorIsUpstreamPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"invalid key","type":"auth_error"}}`))
	}))
	defer srv.Close()

	p := NewOpenAI(OpenAIConfig{BaseURL: srv.URL, Model: "gpt-test"})
	_, err := p.Complete(context.Background(), nil, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if !axerr.Is(err, axerr.UpstreamPermanent) {
		t.Errorf("error = %v, want UpstreamPermanent", err)
	}
}

func TestComplete_ServerErrorIsUpstreamRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	p := NewOpenAI(OpenAIConfig{BaseURL: srv.URL, Model: "gpt-test"})
	_, err := p.Complete(context.Background(), nil, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if !axerr.Is(err, axerr.Upstream) {
		t.Errorf("error = %v, want Upstream", err)
	}
}

func TestWireRequest_IncludesToolsVerbatim(t *testing.T) {
	p := &openAIProvider{cfg: OpenAIConfig{Model: "gpt-test"}}
	raw, err := p.wireRequest([]Message{{Role: "user", Content: "hi"}}, []byte(`[{"type":"function","function":{"name":"lookup"}}]`))
	if err != nil {
		t.Fatalf("wireRequest() error = %v", err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if _, ok := decoded["tools"]; !ok {
		t.Error("expected tools field in wire request")
	}
}
