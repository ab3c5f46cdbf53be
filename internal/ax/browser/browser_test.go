package browser

import "testing"

func TestDomainAllowed_MatchesExactHost(t *testing.T) {
	m := &Manager{AllowedDomains: map[string]bool{"example.test": true}}
	if !m.domainAllowed("https://example.test/path") {
		t.Error("expected https://example.test/path to be allowed")
	}
	if m.domainAllowed("https://evil.test/path") {
		t.Error("expected https://evil.test/path to be blocked")
	}
}

func TestHostOf_StripsSchemeAndPath(t *testing.T) {
	// hostOf cuts at the first ':', '/', or '?' following the scheme, so a
	// port suffix is stripped along with the path: the allowlist compares
	// bare hostnames only.
	cases := map[string]string{
		"https://example.test/path?q=1": "example.test",
		"http://example.test:8080/x":    "example.test",
		"example.test":                  "example.test",
	}
	for in, want := range cases {
		if got := hostOf(in); got != want {
			t.Errorf("hostOf(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestTruncate_BoundsLength(t *testing.T) {
	if got := truncate("hello world", 5); got != "hello" {
		t.Errorf("truncate = %q, want hello", got)
	}
	if got := truncate("hi", 5); got != "hi" {
		t.Errorf("truncate = %q, want hi", got)
	}
}
