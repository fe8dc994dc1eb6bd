package agent

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"os"
	"strings"
	"testing"
)

// unixClient posts to the hook server the way the CLI's relay command
// does.
func unixClient(socketPath string) *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
				return net.Dial("unix", socketPath)
			},
		},
	}
}

func postHook(t *testing.T, hs *hookServer, req hookRequest) hookResponse {
	t.Helper()
	payload, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	resp, err := unixClient(hs.socketPath).Post(
		"http://agent/pre-tool-use", "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	var out hookResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestHookServerBlocksDeniedCalls(t *testing.T) {
	hs, err := startHookServer(Hooks{
		PreToolUse: func(call ToolCall) HookDecision {
			return HookDecision{Behavior: Deny, Reason: "input is needed from the user"}
		},
	})
	if err != nil {
		t.Fatalf("startHookServer: %v", err)
	}
	defer hs.Close()

	out := postHook(t, hs, hookRequest{
		HookEventName: "PreToolUse",
		ToolName:      "AskUserQuestion",
		ToolUseID:     "q1",
		ToolInput:     map[string]any{"header": "h", "question": "which db?"},
	})
	if out.Decision != "block" {
		t.Fatalf("decision = %q, want block", out.Decision)
	}
	if !strings.Contains(out.Reason, "input is needed") {
		t.Errorf("reason = %q", out.Reason)
	}
	if _, denied, seen := hs.outcome("q1"); !denied || !seen {
		t.Errorf("outcome(q1) denied=%v seen=%v, want both true", denied, seen)
	}
}

func TestHookServerRewritesArguments(t *testing.T) {
	hs, err := startHookServer(Hooks{
		PreToolUse: func(call ToolCall) HookDecision {
			return HookDecision{
				Behavior:    Continue,
				UpdatedArgs: map[string]any{"file_path": "/store/pipe-1/plan.md"},
			}
		},
	})
	if err != nil {
		t.Fatalf("startHookServer: %v", err)
	}
	defer hs.Close()

	out := postHook(t, hs, hookRequest{
		ToolName:  "Write",
		ToolUseID: "w1",
		ToolInput: map[string]any{"file_path": "plan.md"},
	})
	if out.Decision != "" {
		t.Fatalf("decision = %q, want allow", out.Decision)
	}
	if out.HookSpecificOutput == nil || out.HookSpecificOutput.PermissionDecision != "allow" {
		t.Fatalf("hookSpecificOutput = %+v", out.HookSpecificOutput)
	}
	if got := out.HookSpecificOutput.UpdatedInput["file_path"]; got != "/store/pipe-1/plan.md" {
		t.Errorf("updatedInput file_path = %v", got)
	}
	if updated, denied, seen := hs.outcome("w1"); denied || !seen || updated["file_path"] != "/store/pipe-1/plan.md" {
		t.Errorf("outcome(w1) = %v denied=%v seen=%v", updated, denied, seen)
	}
}

func TestHookSettingsPointAtSocket(t *testing.T) {
	hs, err := startHookServer(Hooks{
		PreToolUse: func(ToolCall) HookDecision { return HookDecision{Behavior: Continue} },
	})
	if err != nil {
		t.Fatalf("startHookServer: %v", err)
	}
	defer hs.Close()

	data, err := os.ReadFile(hs.settingsPath)
	if err != nil {
		t.Fatalf("read settings: %v", err)
	}
	for _, want := range []string{"PreToolUse", hs.socketPath, "--unix-socket"} {
		if !strings.Contains(string(data), want) {
			t.Errorf("settings missing %q:\n%s", want, data)
		}
	}
}

// streamFromLines builds a cliStream over scripted stdout lines; Close
// must not be called on it.
func streamFromLines(hooks Hooks, lines ...string) *cliStream {
	return &cliStream{
		scanner: bufio.NewScanner(strings.NewReader(strings.Join(lines, "\n"))),
		hooks:   hooks,
		calls:   make(map[string]ToolCall),
		denied:  make(map[string]bool),
	}
}

func drainStream(t *testing.T, s *cliStream) []*TurnEvent {
	t.Helper()
	var events []*TurnEvent
	for {
		ev, err := s.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		events = append(events, ev)
		if ev.Kind == EventResult {
			return events
		}
	}
}

func TestStreamSkipsResultHooksForDeniedCalls(t *testing.T) {
	var postCalled, errCalled bool
	s := streamFromLines(Hooks{
		PreToolUse: func(call ToolCall) HookDecision {
			return HookDecision{Behavior: Deny, Reason: "needs the user"}
		},
		PostToolUse: func(ToolCall, any) { postCalled = true },
		OnToolError: func(ToolCall, error) { errCalled = true },
	},
		`{"type":"assistant","message":{"content":[{"type":"tool_use","id":"t1","name":"AskUserQuestion","input":{"question":"q"}}]}}`,
		`{"type":"user","message":{"content":[{"type":"tool_result","tool_use_id":"t1","is_error":true}]}}`,
		`{"type":"result","result":"done","num_turns":1,"session_id":"conv-7"}`,
	)

	events := drainStream(t, s)
	if len(events) != 2 || events[0].Kind != EventToolUse || events[1].Kind != EventResult {
		t.Fatalf("events = %+v", events)
	}
	if postCalled || errCalled {
		t.Errorf("post=%v err=%v, want neither for a denied call", postCalled, errCalled)
	}
	if s.ConversationID() != "conv-7" {
		t.Errorf("ConversationID = %q", s.ConversationID())
	}
}

func TestStreamAppliesRewrittenArguments(t *testing.T) {
	var postArgs map[string]any
	s := streamFromLines(Hooks{
		PreToolUse: func(call ToolCall) HookDecision {
			return HookDecision{
				Behavior:    Continue,
				UpdatedArgs: map[string]any{"file_path": "/store/pipe-1/plan.md"},
			}
		},
		PostToolUse: func(call ToolCall, _ any) { postArgs = call.Args },
	},
		`{"type":"assistant","message":{"content":[{"type":"tool_use","id":"w1","name":"Write","input":{"file_path":"plan.md"}}]}}`,
		`{"type":"user","message":{"content":[{"type":"tool_result","tool_use_id":"w1"}]}}`,
		`{"type":"result","result":"done","num_turns":1}`,
	)

	events := drainStream(t, s)
	if events[0].Kind != EventToolUse || events[0].Tool.Args["file_path"] != "/store/pipe-1/plan.md" {
		t.Fatalf("tool event args = %v", events[0].Tool.Args)
	}
	if postArgs["file_path"] != "/store/pipe-1/plan.md" {
		t.Errorf("post hook args = %v", postArgs)
	}
}
