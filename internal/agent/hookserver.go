package agent

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
)

// hookRequest is the PreToolUse payload the agent CLI pipes to its
// configured hook command, relayed here over the unix socket.
type hookRequest struct {
	HookEventName string         `json:"hook_event_name"`
	ToolName      string         `json:"tool_name"`
	ToolUseID     string         `json:"tool_use_id"`
	ToolInput     map[string]any `json:"tool_input"`
}

// hookResponse is the decision document the CLI reads from the hook
// command's stdout. Decision "block" stops the tool before execution
// and surfaces Reason as its result; an allow with UpdatedInput swaps
// the arguments the tool runs with.
type hookResponse struct {
	Decision           string         `json:"decision,omitempty"`
	Reason             string         `json:"reason,omitempty"`
	HookSpecificOutput *hookPreOutput `json:"hookSpecificOutput,omitempty"`
}

type hookPreOutput struct {
	HookEventName      string         `json:"hookEventName"`
	PermissionDecision string         `json:"permissionDecision"`
	UpdatedInput       map[string]any `json:"updatedInput,omitempty"`
}

// hookServer exposes the in-process PreToolUse hook to the agent CLI
// subprocess. Start points the CLI's settings at a relay command that
// posts each hook payload to the socket and prints the decision back,
// so path rewrites, question denials, and local tool dispatch all apply
// strictly before the CLI executes the tool.
type hookServer struct {
	dir          string
	socketPath   string
	settingsPath string
	srv          *http.Server

	mu      sync.Mutex
	seen    map[string]bool
	denied  map[string]bool
	updated map[string]map[string]any
}

func startHookServer(hooks Hooks) (*hookServer, error) {
	dir, err := os.MkdirTemp("", "autopilot-hooks-")
	if err != nil {
		return nil, fmt.Errorf("hook dir: %w", err)
	}
	hs := &hookServer{
		dir:          dir,
		socketPath:   filepath.Join(dir, "hooks.sock"),
		settingsPath: filepath.Join(dir, "settings.json"),
		seen:         make(map[string]bool),
		denied:       make(map[string]bool),
		updated:      make(map[string]map[string]any),
	}

	ln, err := net.Listen("unix", hs.socketPath)
	if err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("hook socket: %w", err)
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/pre-tool-use", hs.handlePre(hooks))
	hs.srv = &http.Server{Handler: mux}
	go hs.srv.Serve(ln)

	if err := writeHookSettings(hs.settingsPath, hs.socketPath); err != nil {
		hs.Close()
		return nil, err
	}
	return hs, nil
}

// writeHookSettings writes the settings file handed to the CLI via
// --settings. The relay is a curl one-liner: payload in on stdin,
// decision JSON out on stdout.
func writeHookSettings(path, socket string) error {
	relay := fmt.Sprintf(
		"curl -sf --unix-socket %s -X POST --data-binary @- http://agent/pre-tool-use",
		socket,
	)
	settings := map[string]any{
		"hooks": map[string]any{
			"PreToolUse": []map[string]any{{
				"hooks": []map[string]any{{
					"type":    "command",
					"command": relay,
				}},
			}},
		},
	}
	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal hook settings: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

func (hs *hookServer) handlePre(hooks Hooks) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req hookRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		var resp hookResponse
		if hooks.PreToolUse != nil {
			decision := hooks.PreToolUse(ToolCall{
				ID:   req.ToolUseID,
				Name: req.ToolName,
				Args: req.ToolInput,
			})
			hs.mu.Lock()
			hs.seen[req.ToolUseID] = true
			switch {
			case decision.Behavior == Deny:
				hs.denied[req.ToolUseID] = true
				resp.Decision = "block"
				resp.Reason = decision.Reason
			case decision.UpdatedArgs != nil:
				hs.updated[req.ToolUseID] = decision.UpdatedArgs
				resp.HookSpecificOutput = &hookPreOutput{
					HookEventName:      "PreToolUse",
					PermissionDecision: "allow",
					UpdatedInput:       decision.UpdatedArgs,
				}
			}
			hs.mu.Unlock()
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}
}

// outcome reports what the hook decided for a tool call the stream is
// now seeing on stdout, and whether the hook saw the call at all.
func (hs *hookServer) outcome(toolUseID string) (updated map[string]any, denied, seen bool) {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	return hs.updated[toolUseID], hs.denied[toolUseID], hs.seen[toolUseID]
}

func (hs *hookServer) Close() {
	if hs.srv != nil {
		_ = hs.srv.Close()
	}
	_ = os.RemoveAll(hs.dir)
}
