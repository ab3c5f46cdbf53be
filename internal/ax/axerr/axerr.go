// Package axerr defines the closed set of error kinds used throughout AX's
// core, per the error handling design: Validation, Policy, Upstream,
// UpstreamPermanent, Resource, and Internal. Each kind carries its own
// propagation rule (never logged at ERROR, drives router fallback, etc.);
// callers should classify with errors.As rather than string matching.
package axerr

import "fmt"

// Kind is the closed set of error classifications.
type Kind int

const (
	// Validation: input failed schema (IPC or config). Surfaced verbatim.
	Validation Kind = iota
	// Policy: taint gate, domain allowlist, path escape, canary leak.
	Policy
	// Upstream: LLM/search/web returned a recoverable status.
	Upstream
	// UpstreamPermanent: auth, not-found, malformed. No cooldown applied.
	UpstreamPermanent
	// Resource: OOM, timeout, sandbox spawn failure.
	Resource
	// Internal: assertion or logic bug.
	Internal
)

func (k Kind) String() string {
	switch k {
	case Validation:
		return "validation"
	case Policy:
		return "policy"
	case Upstream:
		return "upstream"
	case UpstreamPermanent:
		return "upstream_permanent"
	case Resource:
		return "resource"
	case Internal:
		return "internal"
	default:
		return "unknown"
	}
}

// Error is a typed error carrying a Kind alongside the wrapped cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs an *Error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap constructs an *Error of the given kind wrapping err.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if as, ok := err.(*Error); ok {
		e = as
	} else {
		return false
	}
	return e.Kind == kind
}

// IsRetryable reports whether a Kind should drive the provider router's
// cooldown/fallback logic (Upstream) as opposed to skipping without cooldown
// (UpstreamPermanent) or failing the whole operation outright.
func (k Kind) IsRetryable() bool {
	return k == Upstream
}
