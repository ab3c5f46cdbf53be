package webfetch

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// allowAll is used only to exercise the pinned-dial path against a local
// httptest server, which necessarily binds to loopback; New()'s real
// blocklist is covered separately by TestFetch_RejectsLoopbackTarget.
func allowAll(net.IP) bool { return false }

func TestFetch_ReturnsBodyFromOrdinaryServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("hello from upstream"))
	}))
	defer srv.Close()

	f := newFetcher(allowAll)
	res, err := f.Fetch(context.Background(), http.MethodGet, srv.URL, 5*time.Second)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if res.StatusCode != 200 || res.Body != "hello from upstream" {
		t.Errorf("res = %+v", res)
	}
}

func TestFetch_TruncatesOversizedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, MaxBodyBytes+1024)
		w.Write(buf)
	}))
	defer srv.Close()

	f := newFetcher(allowAll)
	res, err := f.Fetch(context.Background(), http.MethodGet, srv.URL, 5*time.Second)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !res.Truncated || len(res.Body) != MaxBodyBytes {
		t.Errorf("res.Truncated=%v len(Body)=%d", res.Truncated, len(res.Body))
	}
}

func TestFetch_RejectsLoopbackTarget(t *testing.T) {
	f := New()
	_, err := f.Fetch(context.Background(), http.MethodGet, "http://127.0.0.1:1/", 2*time.Second)
	if err == nil {
		t.Fatal("expected loopback fetch to be rejected")
	}
}

func TestIsBlockedIP_CoversPrivateAndLoopbackRanges(t *testing.T) {
	cases := []struct {
		ip      string
		blocked bool
	}{
		{"127.0.0.1", true},
		{"10.0.0.5", true},
		{"192.168.1.1", true},
		{"169.254.1.1", true},
		{"::1", true},
		{"fc00::1", true},
		{"8.8.8.8", false},
		{"93.184.216.34", false},
	}
	for _, c := range cases {
		got := isBlockedIP(net.ParseIP(c.ip))
		if got != c.blocked {
			t.Errorf("isBlockedIP(%s) = %v, want %v", c.ip, got, c.blocked)
		}
	}
}
