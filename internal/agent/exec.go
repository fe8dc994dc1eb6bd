package agent

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"strings"
)

// defaultAgentCommand is the headless coding-agent CLI driven per turn.
const defaultAgentCommand = "claude"

// CLITransport runs one agent subprocess per turn in print mode,
// reading the stream-json event lines from stdout. Resumption rides on
// the CLI's own --resume flag; no history is replayed locally.
type CLITransport struct {
	// Command overrides the agent binary name.
	Command string
}

// Start launches one turn.
func (t *CLITransport) Start(ctx context.Context, opts StartOpts) (Stream, error) {
	bin := t.Command
	if bin == "" {
		bin = defaultAgentCommand
	}
	args := []string{"--print", "--output-format", "stream-json", "--verbose"}
	if opts.Model != "" {
		args = append(args, "--model", opts.Model)
	}
	if opts.ResumeID != "" {
		args = append(args, "--resume", opts.ResumeID)
	}

	// The PreToolUse hook runs in this process: the CLI's settings point
	// its hook command at a local socket, so denials and argument
	// rewrites land before the CLI executes the tool.
	var hook *hookServer
	if opts.Hooks.PreToolUse != nil {
		var err error
		hook, err = startHookServer(opts.Hooks)
		if err != nil {
			return nil, err
		}
		args = append(args, "--settings", hook.settingsPath)
	}

	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Dir = opts.WorkingDir
	cmd.Stdin = strings.NewReader(opts.Prompt)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		if hook != nil {
			hook.Close()
		}
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		if hook != nil {
			hook.Close()
		}
		return nil, fmt.Errorf("start %s: %w", bin, err)
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 10*1024*1024)
	return &cliStream{
		cmd:     cmd,
		scanner: scanner,
		hooks:   opts.Hooks,
		hook:    hook,
		calls:   make(map[string]ToolCall),
		denied:  make(map[string]bool),
	}, nil
}

// cliLine is one stream-json event line from the agent CLI.
type cliLine struct {
	Type      string      `json:"type"`
	Subtype   string      `json:"subtype"`
	SessionID string      `json:"session_id"`
	Result    string      `json:"result"`
	IsError   bool        `json:"is_error"`
	NumTurns  int         `json:"num_turns"`
	Usage     *cliUsage   `json:"usage"`
	Message   *cliMessage `json:"message"`
}

type cliMessage struct {
	Content []cliBlock `json:"content"`
}

type cliBlock struct {
	Type      string         `json:"type"`
	Text      string         `json:"text"`
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Input     map[string]any `json:"input"`
	ToolUseID string         `json:"tool_use_id"`
	IsError   bool           `json:"is_error"`
}

type cliUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// cliStream translates the subprocess's event lines into TurnEvents,
// firing the tool hooks as the corresponding lines arrive.
type cliStream struct {
	cmd     *exec.Cmd
	scanner *bufio.Scanner
	hooks   Hooks
	hook    *hookServer

	pending   []*TurnEvent
	calls     map[string]ToolCall
	denied    map[string]bool
	convID    string
	sawResult bool
}

func (s *cliStream) Next() (*TurnEvent, error) {
	for {
		if len(s.pending) > 0 {
			ev := s.pending[0]
			s.pending = s.pending[1:]
			return ev, nil
		}
		if s.sawResult {
			return nil, io.EOF
		}
		if !s.scanner.Scan() {
			if err := s.scanner.Err(); err != nil {
				return nil, fmt.Errorf("read agent stream: %w", err)
			}
			return nil, fmt.Errorf("agent stream ended without a result event")
		}
		raw := strings.TrimSpace(s.scanner.Text())
		if raw == "" {
			continue
		}
		var line cliLine
		if err := json.Unmarshal([]byte(raw), &line); err != nil {
			// Non-JSON noise on stdout is skipped, not fatal.
			continue
		}
		s.handleLine(&line)
	}
}

func (s *cliStream) handleLine(line *cliLine) {
	if line.SessionID != "" {
		s.convID = line.SessionID
	}
	switch line.Type {
	case "assistant":
		if line.Message == nil {
			return
		}
		for _, block := range line.Message.Content {
			switch block.Type {
			case "text":
				s.pending = append(s.pending, &TurnEvent{Kind: EventText, Text: block.Text})
			case "tool_use":
				call := s.applyPre(ToolCall{ID: block.ID, Name: block.Name, Args: block.Input})
				s.calls[call.ID] = call
				s.pending = append(s.pending, &TurnEvent{Kind: EventToolUse, Tool: &call})
			}
		}
	case "user":
		if line.Message == nil {
			return
		}
		for _, block := range line.Message.Content {
			if block.Type != "tool_result" {
				continue
			}
			call, ok := s.calls[block.ToolUseID]
			if !ok {
				continue
			}
			delete(s.calls, block.ToolUseID)
			// A denied call's tool_result is the deny reason, not an
			// execution outcome; the hook already reported it.
			if s.denied[block.ToolUseID] {
				delete(s.denied, block.ToolUseID)
				continue
			}
			if block.IsError {
				if s.hooks.OnToolError != nil {
					s.hooks.OnToolError(call, fmt.Errorf("tool failed"))
				}
			} else if s.hooks.PostToolUse != nil {
				s.hooks.PostToolUse(call, nil)
			}
		}
	case "result":
		result := &Result{
			Text:     line.Result,
			NumTurns: line.NumTurns,
			IsError:  line.IsError,
		}
		if line.IsError {
			result.ErrorMessage = line.Result
			if result.ErrorMessage == "" {
				result.ErrorMessage = line.Subtype
			}
		}
		if line.Usage != nil {
			result.Usage = Usage{
				InputTokens:  line.Usage.InputTokens,
				OutputTokens: line.Usage.OutputTokens,
			}
		}
		s.sawResult = true
		s.pending = append(s.pending, &TurnEvent{Kind: EventResult, Result: result})
	}
}

// applyPre reconciles a tool_use line with the PreToolUse decision.
// When the hook server handled the call, the decision already reached
// the CLI; the stream only mirrors it into the call it reports. When
// the hook never fired (older CLI without hook support), the hook runs
// here so rewrites and tracking still happen, though the tool itself is
// already out of this process's hands.
func (s *cliStream) applyPre(call ToolCall) ToolCall {
	if s.hook != nil {
		if updated, denied, seen := s.hook.outcome(call.ID); seen {
			if updated != nil {
				call.Args = updated
			}
			if denied {
				s.denied[call.ID] = true
			}
			return call
		}
	}
	if s.hooks.PreToolUse != nil {
		decision := s.hooks.PreToolUse(call)
		if decision.Behavior == Deny {
			s.denied[call.ID] = true
		} else if decision.UpdatedArgs != nil {
			call.Args = decision.UpdatedArgs
		}
	}
	return call
}

func (s *cliStream) ConversationID() string {
	return s.convID
}

func (s *cliStream) Close() error {
	if s.hook != nil {
		defer s.hook.Close()
	}
	if s.cmd.Process != nil && !s.sawResult {
		_ = s.cmd.Process.Kill()
	}
	return s.cmd.Wait()
}
