// Package scanner applies pattern-based content screening to inbound and
// outbound message text. It is grounded on Ruriko's
// commands.LooksLikeSecret guardrail: a named list of high-confidence
// vendor credential patterns plus a generic high-entropy fallback,
// generalized here to three severities and to prompt-injection phrase
// detection on the inbound side.
package scanner

import "regexp"

// Severity classifies a single pattern match.
type Severity int

const (
	// Info is recorded in the audit log but never blocks or alters content.
	Info Severity = iota
	// Flag is recorded in the audit log but does not block delivery.
	Flag
	// Block prevents the content from being delivered at all.
	Block
)

func (s Severity) String() string {
	switch s {
	case Info:
		return "info"
	case Flag:
		return "flag"
	case Block:
		return "block"
	default:
		return "unknown"
	}
}

// Match is one pattern hit.
type Match struct {
	Pattern  string
	Severity Severity
}

// Result is the outcome of scanning one piece of content.
type Result struct {
	Matches []Match
}

// Blocked reports whether any match in the result carries Block severity.
func (r Result) Blocked() bool {
	for _, m := range r.Matches {
		if m.Severity == Block {
			return true
		}
	}
	return false
}

// Flagged reports whether any match carries Flag or Block severity.
func (r Result) Flagged() bool {
	for _, m := range r.Matches {
		if m.Severity >= Flag {
			return true
		}
	}
	return false
}

// Names returns the pattern names that matched, for the audit log.
func (r Result) Names() []string {
	names := make([]string, 0, len(r.Matches))
	for _, m := range r.Matches {
		names = append(names, m.Pattern)
	}
	return names
}

type namedPattern struct {
	name     string
	re       *regexp.Regexp
	severity Severity
}

// injectionPhrases catches instruction-override attempts embedded in
// untrusted inbound content: channel messages, web fetch results, browser
// page text. These are intentionally phrase-based rather than semantic —
// a cheap first line of defense, not a substitute for the taint gate.
var injectionPhrases = []namedPattern{
	{"ignore-previous-instructions", regexp.MustCompile(`(?i)ignore\s+(all\s+)?(the\s+)?previous\s+instructions`), Flag},
	{"disregard-system-prompt", regexp.MustCompile(`(?i)disregard\s+(the\s+)?(system|above)\s+(prompt|instructions)`), Flag},
	{"new-instructions-claim", regexp.MustCompile(`(?i)your\s+new\s+instructions\s+are`), Flag},
	{"reveal-system-prompt", regexp.MustCompile(`(?i)(reveal|print|repeat)\s+(your\s+)?(system\s+prompt|instructions)`), Flag},
	{"act-as-developer-mode", regexp.MustCompile(`(?i)\b(developer|dan|jailbreak)\s+mode\b`), Flag},
}

// namedSecretPatterns matches well-known credential formats that must never
// reach an untrusted sink (outbound channel reply, delegated sub-agent) or
// be written to memory unredacted.
var namedSecretPatterns = []namedPattern{
	{"openai-key", regexp.MustCompile(`\bsk-[A-Za-z0-9]{20,}\b`), Block},
	{"openai-project-key", regexp.MustCompile(`\bsk-proj-[A-Za-z0-9_\-]{20,}\b`), Block},
	{"anthropic-key", regexp.MustCompile(`\bsk-ant-[A-Za-z0-9_\-]{20,}\b`), Block},
	{"aws-access-key", regexp.MustCompile(`\bAKIA[A-Z0-9]{16}\b`), Block},
	{"github-token", regexp.MustCompile(`\bgh[po]_[A-Za-z0-9]{36,}\b`), Block},
	{"github-fine-grained-pat", regexp.MustCompile(`\bgithub_pat_[A-Za-z0-9_]{20,}\b`), Block},
	{"slack-token", regexp.MustCompile(`\bxox[baprs]-[A-Za-z0-9\-]{10,}\b`), Block},
	{"stripe-key", regexp.MustCompile(`\b(?:sk|rk|pk)_(?:live|test)_[A-Za-z0-9]{20,}\b`), Block},
}

// genericSecretPatterns catch high-entropy strings unlikely to appear in
// normal prose; flagged rather than blocked outbound since false positives
// (long hashes, encoded identifiers) are more likely here than for the
// named vendor formats.
var genericSecretPatterns = []namedPattern{
	{"high-entropy-base64", regexp.MustCompile(`[A-Za-z0-9+/]{48,}={0,2}`), Flag},
	{"high-entropy-hex", regexp.MustCompile(`[0-9a-f]{48,}`), Flag},
}

// piiPatterns catch common personal-data shapes in outbound content.
var piiPatterns = []namedPattern{
	{"email-address", regexp.MustCompile(`\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`), Info},
	{"us-ssn", regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`), Flag},
}

func scan(text string, patterns []namedPattern) Result {
	var res Result
	for _, p := range patterns {
		if p.re.MatchString(text) {
			res.Matches = append(res.Matches, Match{Pattern: p.name, Severity: p.severity})
		}
	}
	return res
}

// Inbound scans untrusted content arriving from a channel, web fetch, or
// browser page for prompt-injection phrasing. It never blocks — injection
// phrasing alone is not grounds to refuse delivery, only to flag it; the
// matched pattern names are recorded in the audit log.
func Inbound(text string) Result {
	return scan(text, injectionPhrases)
}

// Outbound scans content about to leave the process (a channel reply, a
// memory write, a delegated sub-agent's task) for credentials and PII.
// Named vendor credential formats block; generic high-entropy strings and
// PII shapes flag.
func Outbound(text string) Result {
	var res Result
	res.Matches = append(res.Matches, scan(text, namedSecretPatterns).Matches...)
	res.Matches = append(res.Matches, scan(text, genericSecretPatterns).Matches...)
	res.Matches = append(res.Matches, scan(text, piiPatterns).Matches...)
	return res
}
