// Package classify maps raw errors from the remote agent transport to a
// small taxonomy that the retry machinery understands.
package classify

import "strings"

// ErrorType is the classified category of a failure.
type ErrorType string

const (
	// Authentication covers invalid or expired credentials. Never retryable.
	Authentication ErrorType = "authentication"
	// Model covers unknown or unavailable model identifiers. Never retryable.
	Model ErrorType = "model"
	// Configuration covers local misconfiguration — retrying cannot help.
	Configuration ErrorType = "configuration"
	// Transient covers rate limits, overload, and network flakes.
	Transient ErrorType = "transient"
	// Unknown is anything unrecognized. Treated as retryable (optimistic).
	Unknown ErrorType = "unknown"
)

// Classification pairs the error category with whether a retry is sane.
type Classification struct {
	Type      ErrorType
	Retryable bool
}

// Keyword tables are matched against the lowercased error text.
// Order matters: authentication and model signatures are checked before
// the broader transient set so "401 rate limited by auth proxy" still
// classifies as authentication.
var (
	authSignatures = []string{
		"401",
		"invalid api key",
		"invalid x-api-key",
		"authentication",
		"unauthorized",
		"credit balance",
		"oauth token has expired",
	}
	modelSignatures = []string{
		"model not found",
		"model_not_found",
		"unknown model",
		"404 model",
		"unsupported model",
	}
	configSignatures = []string{
		"configuration",
		"invalid config",
		"missing required",
		"invalid setting",
		"no such file or directory: autopilot.yaml",
		"working directory does not exist",
	}
	transientSignatures = []string{
		"429",
		"rate limit",
		"rate_limit",
		"overloaded",
		"overloaded_error",
		"500",
		"502",
		"503",
		"529",
		"internal server error",
		"service unavailable",
		"timeout",
		"timed out",
		"connection reset",
		"connection refused",
		"broken pipe",
		"eof",
	}
)

// Classify maps err to its Classification. A nil error classifies as
// Unknown/retryable; callers are expected not to classify success.
func Classify(err error) Classification {
	if err == nil {
		return Classification{Type: Unknown, Retryable: true}
	}
	return ClassifyMessage(err.Error())
}

// ClassifyMessage classifies a raw error message.
func ClassifyMessage(msg string) Classification {
	text := strings.ToLower(msg)

	if matchesAny(text, authSignatures) {
		return Classification{Type: Authentication, Retryable: false}
	}
	if matchesAny(text, modelSignatures) {
		return Classification{Type: Model, Retryable: false}
	}
	if matchesAny(text, configSignatures) {
		return Classification{Type: Configuration, Retryable: false}
	}
	if matchesAny(text, transientSignatures) {
		return Classification{Type: Transient, Retryable: true}
	}
	return Classification{Type: Unknown, Retryable: true}
}

func matchesAny(text string, signatures []string) bool {
	for _, s := range signatures {
		if strings.Contains(text, s) {
			return true
		}
	}
	return false
}
