// Package proxy implements the credential-injecting forward proxy (C3): an
// HTTP handler bound to a Unix socket that strips the dummy credential a
// sandboxed worker presents and injects the real upstream credential held
// in process-wide secret state. Shape follows Ruriko's webhook
// forwarder (internal/ruriko/webhook/proxy.go): a struct holding the
// collaborators, a narrow ServeHTTP entry point, and a forward() that
// streams the upstream response back chunk-by-chunk while stripping
// hop-by-hop headers.
package proxy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// maxRequestBody bounds the worker's request body before it is forwarded.
const maxRequestBody = 4 << 20 // ~4 MiB

// AuthMode selects how the real credential is attached to the upstream
// request.
type AuthMode int

const (
	// AuthModeAPIKey sends the credential as a header (preferred when a
	// credential of this shape is configured).
	AuthModeAPIKey AuthMode = iota
	// AuthModeBearer sends the credential as a bearer token and additionally
	// merges identity headers and beta flags the upstream mandates.
	AuthModeBearer
)

// Credential describes the real upstream credential and how to attach it.
type Credential struct {
	Mode AuthMode

	// APIKeyHeader/APIKeyValue are used when Mode == AuthModeAPIKey.
	APIKeyHeader string
	APIKeyValue  string

	// BearerToken, IdentityHeaders, and BetaFlags are used when
	// Mode == AuthModeBearer.
	BearerToken     string
	IdentityHeaders map[string]string
	BetaFlags       []string
}

// CredentialSource resolves the current real credential at request time,
// so rotation takes effect without restarting the proxy.
type CredentialSource interface {
	Credential() (Credential, bool)
}

// hopByHopHeaders are stripped from both the inbound request and the
// upstream response; the proxy terminates and re-establishes its own
// transfer encoding.
var hopByHopHeaders = []string{
	"Connection",
	"Transfer-Encoding",
	"Content-Encoding",
	"Content-Length",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Upgrade",
}

// Proxy forwards worker-originated requests to a single fixed upstream base
// URL, injecting the real credential in place of whatever dummy value the
// worker sent. It holds no per-request state — concurrent requests are
// independent, exactly like Ruriko's webhook Proxy.
type Proxy struct {
	UpstreamBase string
	Credentials  CredentialSource
	HTTPClient   *http.Client
	Logger       *slog.Logger

	// DummyHeaderName is the header name the worker is told to use for its
	// (discarded) placeholder credential, so ServeHTTP knows which header
	// to strip before forwarding.
	DummyHeaderName string
	// MessagesPath is the upstream path suffix that requires JSON-body
	// identity-block interpolation when bearer auth mode is active.
	MessagesPath string
	// IdentityBlockKey is the top-level JSON field the identity system
	// block is prepended under when MessagesPath is hit in bearer mode.
	IdentityBlockKey string
	// IdentityBlockText is the mandated identity system block text.
	IdentityBlockText string
}

// New constructs a Proxy with a bounded default HTTP client, following
// Ruriko's pattern of giving the forwarder its own client rather than
// sharing http.DefaultClient.
func New(upstreamBase string, creds CredentialSource, logger *slog.Logger) *Proxy {
	return &Proxy{
		UpstreamBase: strings.TrimRight(upstreamBase, "/"),
		Credentials:  creds,
		HTTPClient:   &http.Client{Timeout: 120 * time.Second},
		Logger:       logger,
	}
}

// ServeHTTP implements the full C3 contract: method/path gate, pre-flight
// response, body ceiling, credential injection, forward, response
// streaming.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writePreflight(w)
		return
	}
	if r.Method != http.MethodPost || !strings.HasPrefix(r.URL.Path, "/v1/") {
		http.NotFound(w, r)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody+1))
	if err != nil {
		writeError(w, http.StatusBadGateway, "failed to read request body")
		return
	}
	if len(body) > maxRequestBody {
		writeError(w, http.StatusBadGateway, "request body exceeds limit")
		return
	}

	cred, ok := p.Credentials.Credential()
	if !ok {
		writeError(w, http.StatusUnauthorized, "no upstream credential configured")
		return
	}

	upstreamReq, err := http.NewRequestWithContext(r.Context(), http.MethodPost, p.UpstreamBase+r.URL.Path, bytes.NewReader(body))
	if err != nil {
		writeError(w, http.StatusBadGateway, "failed to construct upstream request")
		return
	}
	copyForwardableHeaders(upstreamReq.Header, r.Header, p.DummyHeaderName)

	if strings.HasSuffix(r.URL.Path, p.MessagesPath) && cred.Mode == AuthModeBearer {
		rewritten, err := p.interpolateIdentityBlock(body)
		if err != nil {
			writeError(w, http.StatusBadGateway, "failed to interpolate identity block")
			return
		}
		upstreamReq.Body = io.NopCloser(bytes.NewReader(rewritten))
		upstreamReq.ContentLength = int64(len(rewritten))
	}

	switch cred.Mode {
	case AuthModeAPIKey:
		upstreamReq.Header.Set(cred.APIKeyHeader, cred.APIKeyValue)
	case AuthModeBearer:
		upstreamReq.Header.Set("Authorization", "Bearer "+cred.BearerToken)
		for k, v := range cred.IdentityHeaders {
			upstreamReq.Header.Set(k, v)
		}
		if len(cred.BetaFlags) > 0 {
			mergeBetaFlags(upstreamReq.Header, cred.BetaFlags)
		}
	}

	p.forward(w, upstreamReq, cred.Mode)
}

// forward issues the upstream request and streams the response back,
// stripping hop-by-hop headers, exactly mirroring Ruriko's forward()
// structure.
func (p *Proxy) forward(w http.ResponseWriter, req *http.Request, mode AuthMode) {
	resp, err := p.HTTPClient.Do(req)
	if err != nil {
		writeError(w, http.StatusBadGateway, "upstream request failed")
		return
	}
	defer resp.Body.Close()

	for k, vv := range resp.Header {
		if isHopByHop(k) {
			continue
		}
		for _, v := range vv {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)

	if resp.StatusCode >= 400 && p.Logger != nil {
		p.Logger.Warn("upstream error response", "status", resp.StatusCode, "auth_mode", authModeName(mode), "path", req.URL.Path)
	}

	buf := make([]byte, 32*1024)
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return
			}
			if fl, ok := w.(http.Flusher); ok {
				fl.Flush()
			}
		}
		if rerr != nil {
			return
		}
	}
}

func (p *Proxy) interpolateIdentityBlock(body []byte) ([]byte, error) {
	var doc map[string]interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("proxy: decode body for identity interpolation: %w", err)
	}
	existing, _ := doc[p.IdentityBlockKey].(string)
	if strings.Contains(existing, p.IdentityBlockText) {
		return body, nil
	}
	if existing == "" {
		doc[p.IdentityBlockKey] = p.IdentityBlockText
	} else {
		doc[p.IdentityBlockKey] = p.IdentityBlockText + "\n\n" + existing
	}
	return json.Marshal(doc)
}

func copyForwardableHeaders(dst, src http.Header, dummyHeader string) {
	for k, vv := range src {
		if isHopByHop(k) {
			continue
		}
		if dummyHeader != "" && strings.EqualFold(k, dummyHeader) {
			continue
		}
		if strings.EqualFold(k, "Authorization") {
			continue
		}
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}

func mergeBetaFlags(h http.Header, flags []string) {
	const betaHeader = "Anthropic-Beta"
	existing := h.Get(betaHeader)
	set := map[string]bool{}
	var ordered []string
	for _, part := range strings.Split(existing, ",") {
		part = strings.TrimSpace(part)
		if part == "" || set[part] {
			continue
		}
		set[part] = true
		ordered = append(ordered, part)
	}
	for _, f := range flags {
		if !set[f] {
			set[f] = true
			ordered = append(ordered, f)
		}
	}
	h.Set(betaHeader, strings.Join(ordered, ","))
}

func isHopByHop(name string) bool {
	for _, h := range hopByHopHeaders {
		if strings.EqualFold(h, name) {
			return true
		}
	}
	return false
}

func authModeName(m AuthMode) string {
	if m == AuthModeBearer {
		return "bearer"
	}
	return "api_key"
}

func writePreflight(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "*")
	w.WriteHeader(http.StatusNoContent)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
