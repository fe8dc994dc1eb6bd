// Package agent owns the resumable conversation with the remote coding
// agent: one session per pipeline, one Send per phase turn, with
// tool-call interception, question pausing, and rate-limit backoff.
package agent

import (
	"context"
	"time"
)

// EventKind tags a TurnEvent.
type EventKind string

const (
	// EventText is an assistant content block.
	EventText EventKind = "text"
	// EventToolUse records a tool call the agent made.
	EventToolUse EventKind = "tool_use"
	// EventResult is the exactly-once terminal event of a turn.
	EventResult EventKind = "result"
)

// ToolCall is one tool invocation inside a turn.
type ToolCall struct {
	ID   string
	Name string
	Args map[string]any
}

// Usage is the token accounting delta for one turn.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Result is the terminal event of a turn.
type Result struct {
	Text         string
	Structured   map[string]any
	Usage        Usage
	NumTurns     int
	IsError      bool
	ErrorMessage string
}

// TurnEvent is one event from the transport's turn stream.
type TurnEvent struct {
	Kind   EventKind
	Text   string
	Tool   *ToolCall
	Result *Result
}

// HookBehavior is a hook's verdict on a pending tool call.
type HookBehavior string

const (
	// Continue lets the tool execute, optionally with rewritten args.
	Continue HookBehavior = "continue"
	// Deny blocks the tool from executing. Reserved for the
	// pause-on-question case.
	Deny HookBehavior = "deny"
)

// HookDecision is returned by the pre-tool hook. The transport awaits
// it before executing the tool.
type HookDecision struct {
	Behavior    HookBehavior
	UpdatedArgs map[string]any
	Reason      string
}

// Hooks are invoked synchronously by the transport around each tool
// execution, in strict emission order: pre → execute → post, or
// pre → failure.
type Hooks struct {
	PreToolUse  func(call ToolCall) HookDecision
	PostToolUse func(call ToolCall, result any)
	OnToolError func(call ToolCall, err error)
}

// StartOpts configures one turn against the remote agent.
type StartOpts struct {
	Prompt     string
	WorkingDir string
	Model      string
	// ResumeID reconnects an existing conversation without replaying
	// history. Empty for a fresh conversation.
	ResumeID string
	Hooks    Hooks
}

// Stream yields the events of one turn. Next returns the events in
// emission order and stops after the terminal result event.
type Stream interface {
	// Next returns the next event, or an error on transport failure.
	Next() (*TurnEvent, error)
	// ConversationID is the opaque id for resuming this conversation.
	ConversationID() string
	Close() error
}

// Transport is the remote coding agent. The core implements only the
// hook contract and the result-stream consumer, never the agent's
// reasoning.
type Transport interface {
	Start(ctx context.Context, opts StartOpts) (Stream, error)
}

// ToolEventKind tags observer notifications.
type ToolEventKind string

const (
	ToolStarted   ToolEventKind = "started"
	ToolCompleted ToolEventKind = "completed"
	ToolFailed    ToolEventKind = "failed"
	ToolDenied    ToolEventKind = "denied"
)

// ToolEvent is the tagged observer notification replacing per-event
// callbacks; ordering follows hook emission order.
type ToolEvent struct {
	Kind       ToolEventKind
	SessionID  string
	PipelineID string
	Call       ToolCall
	StatusLine string
	Duration   time.Duration
	Err        string
}

// Observer receives tool events from a session.
type Observer interface {
	OnToolEvent(e ToolEvent)
}

// Question is a pending request for human input raised by the agent.
type Question struct {
	SessionID string
	Header    string
	Question  string
	Options   []string
}

// QuestionNotifier is the external channel told when the agent asks the
// user something and the phase pauses.
type QuestionNotifier interface {
	OnQuestion(q Question)
}
