package schema

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/anvil-run/anvil/internal/errors"
)

// ValidateIteration extracts and strictly validates an IterationEnvelope
// from raw agent output. A lenient salvage pass runs first: the largest
// balanced `{...}` block is located, then trivially malformed JSON is
// repaired (trailing commas, unquoted keys) before strict validation.
// The salvage step never mutates a document that is already
// well-formed JSON containing a valid envelope; it only rescues text that
// would otherwise fail to parse.
func ValidateIteration(rawText string) (IterationEnvelope, error) {
	block, err := largestBalancedObject(rawText)
	if err != nil {
		return IterationEnvelope{}, errors.Wrap(errors.ESchemaDrift, "no JSON object found in output", err)
	}

	var doc map[string]any
	if err := json.Unmarshal([]byte(block), &doc); err != nil {
		repaired := repair(block)
		if err := json.Unmarshal([]byte(repaired), &doc); err != nil {
			return IterationEnvelope{}, errors.Wrap(errors.ESchemaDrift, "envelope is not valid JSON after salvage", err)
		}
	}

	return validateDoc(doc)
}

// validateDoc strictly validates a decoded document against the envelope
// shape: missing required fields fail, missing optional fields default.
func validateDoc(doc map[string]any) (IterationEnvelope, error) {
	var env IterationEnvelope

	hyp, ok := doc["hypothesis"].(string)
	if !ok || strings.TrimSpace(hyp) == "" {
		return IterationEnvelope{}, errors.New(errors.ESchemaDrift, "hypothesis must be a non-empty string")
	}
	env.Hypothesis = hyp

	signalRaw, ok := doc["status_signal"].(string)
	if !ok {
		return IterationEnvelope{}, errors.New(errors.ESchemaDrift, "status_signal is required")
	}
	signal := StatusSignal(signalRaw)
	if !signal.valid() {
		return IterationEnvelope{}, errors.NewWithDetails(errors.ESchemaDrift,
			"status_signal is not one of the known values", map[string]string{"status_signal": signalRaw})
	}
	env.StatusSignal = signal

	confRaw, ok := doc["confidence"]
	if !ok {
		return IterationEnvelope{}, errors.New(errors.ESchemaDrift, "confidence is required")
	}
	conf, ok := confRaw.(float64)
	if !ok || conf < 0.0 || conf > 1.0 {
		return IterationEnvelope{}, errors.New(errors.ESchemaDrift, "confidence must be a number in [0.0, 1.0]")
	}
	env.Confidence = conf

	env.Experiments = toRecordSlice(doc["experiments"])
	env.ProposedChanges = toRecordSlice(doc["proposed_changes"])
	env.Observations = toStringSlice(doc["observations"])

	if pp, ok := doc["patch_present"].(bool); ok {
		env.PatchPresent = pp
	}

	return env, nil
}

func toRecordSlice(v any) []map[string]any {
	items, ok := v.([]any)
	if !ok {
		return []map[string]any{}
	}
	out := make([]map[string]any, 0, len(items))
	for _, it := range items {
		if m, ok := it.(map[string]any); ok {
			out = append(out, m)
		} else {
			out = append(out, map[string]any{"value": it})
		}
	}
	return out
}

func toStringSlice(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return []string{}
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// largestBalancedObject scans text for the longest substring that is a
// balanced `{...}` block, tracking string literals so braces inside quoted
// text are not mistaken for structure.
func largestBalancedObject(text string) (string, error) {
	bestStart, bestEnd := -1, -1
	depth := 0
	inString := false
	escaped := false
	start := -1

	for i, r := range text {
		switch {
		case escaped:
			escaped = false
		case inString && r == '\\':
			escaped = true
		case r == '"':
			inString = !inString
		case inString:
			// inside a string literal, ignore braces
		case r == '{':
			if depth == 0 {
				start = i
			}
			depth++
		case r == '}':
			if depth > 0 {
				depth--
				if depth == 0 && start >= 0 {
					if bestStart < 0 || i-start > bestEnd-bestStart {
						bestStart, bestEnd = start, i
					}
				}
			}
		}
	}

	if bestStart < 0 {
		return "", errors.New(errors.ESchemaDrift, "no balanced JSON object found")
	}
	return text[bestStart : bestEnd+1], nil
}

var (
	trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)
	unquotedKeyRe   = regexp.MustCompile(`([{,]\s*)([A-Za-z_][A-Za-z0-9_]*)(\s*:)`)
)

// repair applies trivial, well-scoped fixes to malformed JSON that an
// agent plausibly emitted: trailing commas before a closing bracket, and
// bareword object keys.
func repair(s string) string {
	s = trailingCommaRe.ReplaceAllString(s, "$1")
	s = unquotedKeyRe.ReplaceAllString(s, `$1"$2"$3`)
	return s
}
