package classify

import (
	"errors"
	"fmt"
	"testing"
)

func TestClassifyMessage(t *testing.T) {
	tests := []struct {
		name      string
		msg       string
		wantType  ErrorType
		retryable bool
	}{
		{"api key", "API Error: 401 invalid x-api-key", Authentication, false},
		{"unauthorized", "request failed: Unauthorized", Authentication, false},
		{"expired oauth", "OAuth token has expired", Authentication, false},
		{"model missing", "404 model not found: opus-nightly", Model, false},
		{"unknown model", "unknown model requested", Model, false},
		{"bad config", "invalid config: storage root unset", Configuration, false},
		{"missing field", "missing required field: prefix", Configuration, false},
		{"rate limit", "429 rate limit exceeded, retry later", Transient, true},
		{"overload", "API Error: 529 overloaded_error", Transient, true},
		{"server error", "upstream returned 503 Service Unavailable", Transient, true},
		{"network", "read tcp: connection reset by peer", Transient, true},
		{"timeout", "context deadline exceeded: request timed out", Transient, true},
		{"mystery", "something odd happened", Unknown, true},
		{"empty", "", Unknown, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := ClassifyMessage(tt.msg)
			if c.Type != tt.wantType {
				t.Errorf("Type = %q, want %q", c.Type, tt.wantType)
			}
			if c.Retryable != tt.retryable {
				t.Errorf("Retryable = %v, want %v", c.Retryable, tt.retryable)
			}
		})
	}
}

// Auth signatures must win over transient ones when both appear: a 401
// surfaced through a rate-limiting proxy is still an auth failure.
func TestClassifyPrecedence(t *testing.T) {
	c := ClassifyMessage("401 unauthorized (rate limit applied)")
	if c.Type != Authentication {
		t.Errorf("Type = %q, want authentication", c.Type)
	}
	if c.Retryable {
		t.Error("auth errors must not be retryable")
	}
}

func TestClassifyWrappedError(t *testing.T) {
	base := errors.New("API Error: 529 overloaded_error")
	wrapped := fmt.Errorf("send turn: %w", base)
	c := Classify(wrapped)
	if c.Type != Transient || !c.Retryable {
		t.Errorf("got %+v, want transient/retryable", c)
	}
}

func TestClassifyNil(t *testing.T) {
	c := Classify(nil)
	if c.Type != Unknown || !c.Retryable {
		t.Errorf("got %+v, want unknown/retryable", c)
	}
}
