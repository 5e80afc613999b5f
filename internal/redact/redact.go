// Package redact scrubs secret-shaped substrings from user-visible text.
//
// Every textual field that leaves the hub (tool input/output, thinking
// content, plan content, working directories) passes through Redact first.
// The pattern catalog is fixed; all quantifiers carry bounded maxima and the
// scanned region is capped so a hostile payload cannot make scanning
// expensive. Go's RE2 engine does not backtrack, the bounds are kept anyway
// so the catalog stays portable.
package redact

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Token replaces each detected secret value.
const Token = "[REDACTED]"

// maxScanBytes caps the region handed to the regexp engine.
const maxScanBytes = 50 * 1024

// truncationMarker is appended when input exceeds maxScanBytes.
const truncationMarker = "\n... [truncated]"

type ruleKind int

const (
	// kindWhole replaces the entire match with Token.
	kindWhole ruleKind = iota
	// kindKeepPrefix replaces capture group 2, keeping group 1 (the scheme
	// or key prefix) intact.
	kindKeepPrefix
	// kindKeepAround replaces capture group 2, keeping groups 1 and 3.
	kindKeepAround
)

type rule struct {
	name   string
	re     *regexp.Regexp
	kind   ruleKind
	minLen int // minimum captured-value length; shorter matches pass through
}

// The catalog is ordered: structural patterns (PEM, URLs) run before the
// branded prefixes, which run before the generic assignment and hex rules,
// so a longer secret is consumed before a narrower rule can split it.
var rules = []rule{
	{
		name: "pem_private_key",
		// RE2 caps a single repeat at 1000 and rejects nested counted
		// repeats, so the 8192-byte body bound (16 x 512) is written as
		// concatenated sub-1000 chunks: 8 x 1000 + 192.
		re: regexp.MustCompile(`-----BEGIN [A-Z ]{0,24}PRIVATE KEY-----` +
			strings.Repeat(`[A-Za-z0-9+/=\r\n\s]{0,1000}`, 8) +
			`[A-Za-z0-9+/=\r\n\s]{0,192}` +
			`-----END [A-Z ]{0,24}PRIVATE KEY-----`),
		kind: kindWhole,
	},
	{
		name:   "url_credentials",
		re:     regexp.MustCompile(`([a-zA-Z][a-zA-Z0-9+.-]{0,16}://[^/\s:@]{1,128}:)([^@\s]{1,256})(@)`),
		kind:   kindKeepAround,
		minLen: 1,
	},
	{
		name: "anthropic_key",
		re:   regexp.MustCompile(`\bsk-ant-[A-Za-z0-9_-]{16,120}`),
		kind: kindWhole,
	},
	{
		name: "stripe_key",
		re:   regexp.MustCompile(`\b[sp]k_(?:live|test)_[A-Za-z0-9]{16,99}`),
		kind: kindWhole,
	},
	{
		name: "github_token",
		re:   regexp.MustCompile(`\bgh[pousr]_[A-Za-z0-9]{20,255}`),
		kind: kindWhole,
	},
	{
		name: "openai_key",
		re:   regexp.MustCompile(`\bsk-[A-Za-z0-9_-]{20,120}`),
		kind: kindWhole,
	},
	{
		name: "aws_access_key",
		re:   regexp.MustCompile(`\bAKIA[A-Z0-9]{16}\b`),
		kind: kindWhole,
	},
	{
		name: "slack_token",
		re:   regexp.MustCompile(`\bxox[baprs]-[A-Za-z0-9-]{10,72}`),
		kind: kindWhole,
	},
	{
		name: "google_api_key",
		re:   regexp.MustCompile(`\bAIza[A-Za-z0-9_-]{30,40}`),
		kind: kindWhole,
	},
	{
		name:   "authorization_bearer",
		re:     regexp.MustCompile(`(?i)\b(bearer\s{1,8})([A-Za-z0-9._~+/=-]{8,512})`),
		kind:   kindKeepPrefix,
		minLen: 8,
	},
	{
		name:   "authorization_basic",
		re:     regexp.MustCompile(`(?i)\b(basic\s{1,8})([A-Za-z0-9+/=]{8,512})`),
		kind:   kindKeepPrefix,
		minLen: 8,
	},
	{
		name: "jwt",
		re:   regexp.MustCompile(`\beyJ[A-Za-z0-9_-]{4,512}\.[A-Za-z0-9_-]{4,512}\.[A-Za-z0-9_-]{4,512}\b`),
		kind: kindWhole,
	},
	{
		name:   "key_assignment",
		re:     regexp.MustCompile(`(?i)\b((?:api[_-]?key|access[_-]?token|token|secret|pass(?:word)?|pwd|passwd)\s{0,8}[=:]\s{0,8}["']?)([^\s"'&;]{8,256})`),
		kind:   kindKeepPrefix,
		minLen: 8,
	},
	{
		name: "hex_run",
		re:   regexp.MustCompile(`\b[0-9a-fA-F]{32,512}\b`),
		kind: kindWhole,
	},
}

// Redact returns s with every substring matching the secret catalog replaced
// by Token. Surrounding context is preserved. Inputs larger than the scan cap
// are truncated before scanning and the result carries a truncation marker.
// Redact is total and idempotent.
func Redact(s string) string {
	if s == "" {
		return s
	}

	truncated := false
	if len(s) > maxScanBytes {
		cut := maxScanBytes
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut]
		truncated = true
	}

	for _, r := range rules {
		s = r.apply(s)
	}

	if truncated && !strings.HasSuffix(s, truncationMarker) {
		s += truncationMarker
	}
	return s
}

func (r rule) apply(s string) string {
	switch r.kind {
	case kindWhole:
		return r.re.ReplaceAllString(s, Token)
	case kindKeepPrefix:
		return r.re.ReplaceAllStringFunc(s, func(m string) string {
			groups := r.re.FindStringSubmatch(m)
			if groups == nil || len(groups[2]) < r.minLen {
				return m
			}
			return groups[1] + Token
		})
	case kindKeepAround:
		return r.re.ReplaceAllStringFunc(s, func(m string) string {
			groups := r.re.FindStringSubmatch(m)
			if groups == nil || len(groups[2]) < r.minLen {
				return m
			}
			return groups[1] + Token + groups[3]
		})
	}
	return s
}
