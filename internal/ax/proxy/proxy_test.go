package proxy_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/axrun/ax/internal/ax/proxy"
)

type staticCreds struct {
	cred proxy.Credential
	ok   bool
}

func (s staticCreds) Credential() (proxy.Credential, bool) { return s.cred, s.ok }

func TestServeHTTP_RejectsNonPost(t *testing.T) {
	p := proxy.New("http://example.invalid", staticCreds{ok: false}, nil)
	req := httptest.NewRequest(http.MethodGet, "/v1/messages", nil)
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestServeHTTP_RejectsNonV1Path(t *testing.T) {
	p := proxy.New("http://example.invalid", staticCreds{ok: false}, nil)
	req := httptest.NewRequest(http.MethodPost, "/other/path", strings.NewReader("{}"))
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestServeHTTP_Preflight(t *testing.T) {
	p := proxy.New("http://example.invalid", staticCreds{ok: false}, nil)
	req := httptest.NewRequest(http.MethodOptions, "/v1/messages", nil)
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", rec.Code)
	}
}

func TestServeHTTP_FailsClosedWithoutCredential(t *testing.T) {
	p := proxy.New("http://example.invalid", staticCreds{ok: false}, nil)
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(`{"messages":[]}`))
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestServeHTTP_RejectsOversizedBody(t *testing.T) {
	p := proxy.New("http://example.invalid", staticCreds{
		ok:   true,
		cred: proxy.Credential{Mode: proxy.AuthModeAPIKey, APIKeyHeader: "X-Api-Key", APIKeyValue: "real"},
	}, nil)
	big := strings.Repeat("a", (4<<20)+10)
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(big))
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", rec.Code)
	}
}

func TestServeHTTP_APIKeyMode_InjectsRealCredential(t *testing.T) {
	var gotHeader string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("X-Api-Key")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer upstream.Close()

	p := proxy.New(upstream.URL, staticCreds{
		ok:   true,
		cred: proxy.Credential{Mode: proxy.AuthModeAPIKey, APIKeyHeader: "X-Api-Key", APIKeyValue: "real-secret"},
	}, nil)
	p.DummyHeaderName = "X-Api-Key"

	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(`{"messages":[]}`))
	req.Header.Set("X-Api-Key", "dummy-placeholder")
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if gotHeader != "real-secret" {
		t.Errorf("upstream saw X-Api-Key = %q, want real-secret", gotHeader)
	}
}

func TestServeHTTP_BearerMode_InterpolatesIdentityBlock(t *testing.T) {
	var gotBody map[string]interface{}
	var gotAuth, gotBeta string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotBeta = r.Header.Get("Anthropic-Beta")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer upstream.Close()

	p := proxy.New(upstream.URL, staticCreds{
		ok: true,
		cred: proxy.Credential{
			Mode:            proxy.AuthModeBearer,
			BearerToken:     "real-token",
			IdentityHeaders: map[string]string{"X-App": "ax"},
			BetaFlags:       []string{"feature-a"},
		},
	}, nil)
	p.MessagesPath = "/v1/messages"
	p.IdentityBlockKey = "system"
	p.IdentityBlockText = "MANDATED IDENTITY BLOCK"

	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(`{"system":"","messages":[]}`))
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if gotAuth != "Bearer real-token" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotBeta != "feature-a" {
		t.Errorf("Anthropic-Beta = %q", gotBeta)
	}
	sys, _ := gotBody["system"].(string)
	if !strings.Contains(sys, "MANDATED IDENTITY BLOCK") {
		t.Errorf("system block missing mandated text: %q", sys)
	}
}

func TestServeHTTP_StripsHopByHopHeaders(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Connection") != "" {
			t.Errorf("hop-by-hop header forwarded to upstream")
		}
		w.Header().Set("Transfer-Encoding", "chunked")
		w.Header().Set("X-Upstream", "seen")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer upstream.Close()

	p := proxy.New(upstream.URL, staticCreds{
		ok:   true,
		cred: proxy.Credential{Mode: proxy.AuthModeAPIKey, APIKeyHeader: "X-Api-Key", APIKeyValue: "k"},
	}, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(`{}`))
	req.Header.Set("Connection", "keep-alive")
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)

	if rec.Header().Get("Transfer-Encoding") != "" {
		t.Errorf("hop-by-hop response header leaked to caller")
	}
	if rec.Header().Get("X-Upstream") != "seen" {
		t.Errorf("expected non-hop-by-hop header to be forwarded")
	}
}
