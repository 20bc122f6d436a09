// Package redact scrubs likely secrets out of raw agent output before it is
// persisted as a track artifact.
package redact

import "regexp"

const redactionString = "[REDACTED]"

// rule is a single secret-shaped pattern to replace.
type rule struct {
	id      string
	pattern *regexp.Regexp
}

var rules = []rule{
	{"aws-access-key", regexp.MustCompile(`AKIA[0-9A-Z]{16}`)},
	{"bearer-token", regexp.MustCompile(`(?i)bearer\s+[a-z0-9._-]{16,}`)},
	{"generic-api-key", regexp.MustCompile(`(?i)(api[_-]?key|secret|token)\s*[:=]\s*['"]?[a-z0-9._-]{16,}['"]?`)},
	{"private-key-block", regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----[\s\S]*?-----END [A-Z ]*PRIVATE KEY-----`)},
}

// Text replaces every secret-shaped substring in s with a fixed redaction
// marker. It is a best-effort pass over a small fixed rule set, not a
// general-purpose secret scanner.
func Text(s string) string {
	out := s
	for _, r := range rules {
		out = r.pattern.ReplaceAllString(out, redactionString)
	}
	return out
}
