package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// questionTools are the capabilities that ask the human something. They
// are denied rather than executed: denial plus the awaitingUserInput
// flag is how a phase pauses without terminating the process.
var questionTools = map[string]bool{
	"AskUserQuestion":  true,
	"RequestUserInput": true,
}

// hooks builds the hook set handed to the transport for one send.
func (s *Session) hooks() Hooks {
	return Hooks{
		PreToolUse:  s.preToolUse,
		PostToolUse: s.postToolUse,
		OnToolError: s.onToolError,
	}
}

// preToolUse runs before the transport executes a tool: record the
// start time, rewrite artifact paths, notify observers, and intercept
// question tools.
func (s *Session) preToolUse(call ToolCall) HookDecision {
	s.mu.Lock()
	s.toolStarts[call.ID] = time.Now()
	s.mu.Unlock()

	if questionTools[call.Name] {
		return s.interceptQuestion(call)
	}

	if s.registry != nil && s.registry.Handles(call.Name) {
		return s.dispatchLocal(call)
	}

	rewritten, changed := s.resolver.Resolve(call.Name, call.Args, s.workingDir, s.storageID)
	if changed {
		call.Args = rewritten
	}

	s.mu.Lock()
	s.turnTools = append(s.turnTools, call)
	s.mu.Unlock()

	s.notifyObservers(ToolEvent{
		Kind:       ToolStarted,
		Call:       call,
		StatusLine: statusLine(call),
	})

	decision := HookDecision{Behavior: Continue}
	if changed {
		decision.UpdatedArgs = rewritten
	}
	return decision
}

// interceptQuestion deduplicates by header+question, flips the
// awaiting-input flag, notifies the external channel, and denies the
// call so it never executes.
func (s *Session) interceptQuestion(call ToolCall) HookDecision {
	header, _ := call.Args["header"].(string)
	question, _ := call.Args["question"].(string)
	key := header + "\x00" + question

	s.mu.Lock()
	s.awaitingUser = true
	seen := s.askedQuestions[key]
	s.askedQuestions[key] = true
	s.mu.Unlock()

	if !seen && s.questions != nil {
		q := Question{SessionID: s.ID, Header: header, Question: question}
		if opts, ok := call.Args["options"].([]any); ok {
			for _, o := range opts {
				if str, ok := o.(string); ok {
					q.Options = append(q.Options, str)
				}
			}
		}
		s.questions.OnQuestion(q)
	}

	s.notifyObservers(ToolEvent{
		Kind:       ToolDenied,
		Call:       call,
		StatusLine: fmt.Sprintf("question for user: %s", question),
	})

	return HookDecision{
		Behavior: Deny,
		Reason:   "input is needed from the user; the pipeline is paused until they respond",
	}
}

// dispatchLocal executes a registered tool through the local registry.
// The decision is always a deny so the transport never runs the tool
// itself; the deny reason carries the handler output (or error), which
// the transport surfaces to the agent as the tool result.
func (s *Session) dispatchLocal(call ToolCall) HookDecision {
	s.mu.Lock()
	s.turnTools = append(s.turnTools, call)
	ctx := s.sendCtx
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	s.notifyObservers(ToolEvent{
		Kind:       ToolStarted,
		Call:       call,
		StatusLine: statusLine(call),
	})

	out, err := s.registry.Dispatch(ctx, call.Name, call.Args)
	if err != nil {
		s.notifyObservers(ToolEvent{
			Kind:       ToolFailed,
			Call:       call,
			StatusLine: statusLine(call),
			Duration:   s.takeDuration(call.ID),
			Err:        err.Error(),
		})
		return HookDecision{Behavior: Deny, Reason: err.Error()}
	}

	payload, merr := json.Marshal(out)
	if merr != nil {
		payload = []byte(fmt.Sprintf("%v", out))
	}
	s.notifyObservers(ToolEvent{
		Kind:       ToolCompleted,
		Call:       call,
		StatusLine: statusLine(call),
		Duration:   s.takeDuration(call.ID),
	})
	return HookDecision{Behavior: Deny, Reason: string(payload)}
}

// postToolUse computes duration from the recorded start and forwards to
// observers. No rewriting happens after execution.
func (s *Session) postToolUse(call ToolCall, result any) {
	s.notifyObservers(ToolEvent{
		Kind:       ToolCompleted,
		Call:       call,
		StatusLine: statusLine(call),
		Duration:   s.takeDuration(call.ID),
	})
}

// onToolError mirrors postToolUse for the failure path.
func (s *Session) onToolError(call ToolCall, err error) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	s.notifyObservers(ToolEvent{
		Kind:       ToolFailed,
		Call:       call,
		StatusLine: statusLine(call),
		Duration:   s.takeDuration(call.ID),
		Err:        msg,
	})
}

// takeDuration pops the recorded start time for a call id.
func (s *Session) takeDuration(callID string) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	start, ok := s.toolStarts[callID]
	if !ok {
		return 0
	}
	delete(s.toolStarts, callID)
	return time.Since(start)
}

// statusLine derives a short human-readable line from a tool call.
func statusLine(call ToolCall) string {
	switch {
	case call.Args == nil:
		return call.Name
	default:
		if p, ok := call.Args["file_path"].(string); ok && p != "" {
			return fmt.Sprintf("%s %s", call.Name, p)
		}
		if p, ok := call.Args["path"].(string); ok && p != "" {
			return fmt.Sprintf("%s %s", call.Name, p)
		}
		if cmd, ok := call.Args["command"].(string); ok && cmd != "" {
			return fmt.Sprintf("%s: %s", call.Name, truncate(cmd, 80))
		}
		if q, ok := call.Args["query"].(string); ok && q != "" {
			return fmt.Sprintf("%s %q", call.Name, truncate(q, 60))
		}
		return call.Name
	}
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
