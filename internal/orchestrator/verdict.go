package orchestrator

import "strings"

// Verdict markers the test-phase prompt asks the agent to emit.
const (
	markerPassed = "TESTS PASSED"
	markerFailed = "TESTS FAILED"
)

// Verdict is the outcome of one test phase.
type Verdict struct {
	Passed     bool   `json:"passed"`
	Confidence string `json:"confidence"` // "explicit" or "unknown"
	Reason     string `json:"reason,omitempty"`
}

// ScanVerdict extracts the pass/fail verdict from the test-phase reply.
// The policy is fail-closed: a failure marker wins over a pass marker,
// and a reply with no marker at all is a failure with unknown
// confidence, never a silent pass.
func ScanVerdict(text string) Verdict {
	if idx := strings.LastIndex(text, markerFailed); idx >= 0 {
		return Verdict{
			Passed:     false,
			Confidence: "explicit",
			Reason:     failureReason(text[idx+len(markerFailed):]),
		}
	}
	if strings.Contains(text, markerPassed) {
		return Verdict{Passed: true, Confidence: "explicit"}
	}
	return Verdict{Passed: false, Confidence: "unknown", Reason: "no explicit verdict in reply"}
}

// failureReason trims the text after a failure marker down to its first
// line, dropping the leading colon.
func failureReason(rest string) string {
	rest = strings.TrimLeft(rest, ": \t")
	if i := strings.IndexByte(rest, '\n'); i >= 0 {
		rest = rest[:i]
	}
	return strings.TrimSpace(rest)
}
