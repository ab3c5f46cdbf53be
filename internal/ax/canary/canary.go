// Package canary mints and detects canary tokens: per-session markers
// appended to inbound content so the outbound path can detect prompt
// injection that tries to exfiltrate instructions verbatim. Token
// generation follows Ruriko's common/trace.GenerateID shape
// (crypto/rand-backed, prefixed, hex-encoded) generalized to carry
// ≥128 bits of entropy per token.
package canary

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
)

// tokenBytes is 16 bytes = 128 bits of entropy, the spec's stated minimum.
const tokenBytes = 16

const prefix = "cnry_"

// redactionMarker replaces any surviving canary occurrence in outbound
// text, defense in depth even when the leak check itself is false.
const redactionMarker = "[redacted]"

// Mint generates a fresh canary token with at least 128 bits of entropy.
func Mint() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("canary: generate: %w", err)
	}
	return prefix + hex.EncodeToString(buf), nil
}

// Leaked reports whether token appears verbatim in text.
func Leaked(text, token string) bool {
	if token == "" {
		return false
	}
	return strings.Contains(text, token)
}

// Redact replaces every surviving occurrence of token in text with the
// fixed redaction marker.
func Redact(text, token string) string {
	if token == "" {
		return text
	}
	return strings.ReplaceAll(text, token, redactionMarker)
}

// LeakedResponse is the fixed, non-revealing message returned in place of
// a response whose canary leaked.
const LeakedResponse = "[Response redacted: canary token leaked]"
