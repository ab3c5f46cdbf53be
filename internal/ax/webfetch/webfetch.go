// Package webfetch implements the web.fetch IPC handler's transport: an
// HTTP client whose dialer resolves the target host itself, rejects any
// resolved address in a loopback/private/link-local/unique-local range,
// and then dials that pinned address directly — closing the DNS-rebinding
// window between the allowlist check and the actual connection. Shaped
// after the credential proxy's (internal/ax/proxy) pattern of giving the
// outbound path its own bounded *http.Client rather than sharing
// http.DefaultClient.
package webfetch

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

const (
	// MaxBodyBytes bounds how much of a fetched response is read into
	// memory before the content is handed to the taint/scanner pipeline.
	MaxBodyBytes = 1 << 20 // 1 MiB

	dialTimeout = 10 * time.Second
)

// ErrBlockedAddress is returned when a resolved address falls inside a
// disallowed range.
type ErrBlockedAddress struct {
	Host string
	Addr string
}

func (e *ErrBlockedAddress) Error() string {
	return fmt.Sprintf("webfetch: %q resolved to disallowed address %s", e.Host, e.Addr)
}

// Fetcher performs SSRF-safe HTTP GET/HEAD fetches on behalf of the
// web.fetch handler.
type Fetcher struct {
	client *http.Client
}

// New constructs a Fetcher whose transport pins DNS resolution and blocks
// requests to loopback, private, link-local, and unique-local addresses.
func New() *Fetcher {
	return newFetcher(isBlockedIP)
}

// newFetcher builds a Fetcher against a given address blocklist predicate,
// letting tests exercise the pinned-dial machinery against a local
// httptest server (which binds loopback) without weakening New()'s real
// blocklist.
func newFetcher(blocked func(net.IP) bool) *Fetcher {
	dialer := &net.Dialer{Timeout: dialTimeout}

	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, port, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, fmt.Errorf("webfetch: split host:port %q: %w", addr, err)
			}

			ips, err := net.DefaultResolver.LookupIPAddr(ctx, host)
			if err != nil {
				return nil, fmt.Errorf("webfetch: resolve %q: %w", host, err)
			}

			var pinned net.IPAddr
			found := false
			for _, ip := range ips {
				if blocked(ip.IP) {
					continue
				}
				pinned = ip
				found = true
				break
			}
			if !found {
				blocked := host
				if len(ips) > 0 {
					blocked = ips[0].String()
				}
				return nil, &ErrBlockedAddress{Host: host, Addr: blocked}
			}

			return dialer.DialContext(ctx, network, net.JoinHostPort(pinned.String(), port))
		},
		DisableKeepAlives: true,
	}

	return &Fetcher{client: &http.Client{Transport: transport, Timeout: 30 * time.Second}}
}

// Result is a fetched response truncated to MaxBodyBytes.
type Result struct {
	StatusCode int
	Body       string
	Truncated  bool
}

// Fetch issues method (GET or HEAD) against url, bounded by timeout.
func (f *Fetcher) Fetch(ctx context.Context, method, url string, timeout time.Duration) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return Result{}, fmt.Errorf("webfetch: build request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("webfetch: request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodyBytes+1))
	if err != nil {
		return Result{}, fmt.Errorf("webfetch: read body: %w", err)
	}
	truncated := len(data) > MaxBodyBytes
	if truncated {
		data = data[:MaxBodyBytes]
	}

	return Result{StatusCode: resp.StatusCode, Body: string(data), Truncated: truncated}, nil
}

// isBlockedIP reports whether ip falls in a range that must never be
// reachable from a fetch originating in untrusted content: loopback,
// private (RFC 1918 / IPv6 unique-local), link-local unicast, link-local
// multicast, and the unspecified address.
func isBlockedIP(ip net.IP) bool {
	return ip.IsLoopback() ||
		ip.IsPrivate() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsUnspecified()
}
