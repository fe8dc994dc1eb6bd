package agent

import (
	"context"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/buildforge/autopilot/internal/artifacts"
	"github.com/buildforge/autopilot/internal/tools"
)

// fakeTurn scripts one transport turn.
type fakeTurn struct {
	startErr  error
	streamErr error
	tools     []ToolCall
	toolErrs  map[string]error
	result    Result
	convID    string
}

type fakeTransport struct {
	mu    sync.Mutex
	turns []fakeTurn
	calls []StartOpts
}

func (f *fakeTransport) Start(ctx context.Context, opts StartOpts) (Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) >= len(f.turns) {
		return nil, errors.New("unexpected extra start")
	}
	turn := f.turns[len(f.calls)]
	f.calls = append(f.calls, opts)
	if turn.startErr != nil {
		return nil, turn.startErr
	}
	return &fakeStream{turn: turn, hooks: opts.Hooks}, nil
}

func (f *fakeTransport) startCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// fakeStream replays its scripted tool calls through the hook contract
// the way a real transport would: pre, execute, post (or error), then
// the terminal result.
type fakeStream struct {
	turn  fakeTurn
	hooks Hooks
	pos   int
	done  bool
}

func (f *fakeStream) Next() (*TurnEvent, error) {
	if f.pos < len(f.turn.tools) {
		call := f.turn.tools[f.pos]
		f.pos++
		decision := f.hooks.PreToolUse(call)
		if decision.Behavior == Continue {
			if decision.UpdatedArgs != nil {
				call.Args = decision.UpdatedArgs
			}
			if err, ok := f.turn.toolErrs[call.ID]; ok {
				f.hooks.OnToolError(call, err)
			} else {
				f.hooks.PostToolUse(call, nil)
			}
		}
		return &TurnEvent{Kind: EventToolUse, Tool: &call}, nil
	}
	if f.turn.streamErr != nil {
		return nil, f.turn.streamErr
	}
	if f.done {
		return nil, errors.New("read past terminal result")
	}
	f.done = true
	r := f.turn.result
	return &TurnEvent{Kind: EventResult, Result: &r}, nil
}

func (f *fakeStream) ConversationID() string { return f.turn.convID }
func (f *fakeStream) Close() error           { return nil }

type recordingObserver struct {
	mu     sync.Mutex
	events []ToolEvent
}

func (r *recordingObserver) OnToolEvent(e ToolEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

type recordingNotifier struct {
	questions []Question
}

func (r *recordingNotifier) OnQuestion(q Question) {
	r.questions = append(r.questions, q)
}

func testConfig() SendConfig {
	return SendConfig{
		MaxRetries: 5,
		Backoff:    10 * time.Millisecond,
		PollSlice:  2 * time.Millisecond,
		MaxTurns:   80,
	}
}

func newTestSession(t *testing.T, transport Transport, cfg SendConfig, opts SessionOpts) *Session {
	t.Helper()
	m := NewManager(transport, artifacts.Resolver{StorageRoot: t.TempDir()}, cfg, zap.NewNop())
	s, err := m.Create("pipe-1", opts)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return s
}

func TestSendRetriesTransientThenSucceeds(t *testing.T) {
	ft := &fakeTransport{turns: []fakeTurn{
		{startErr: errors.New("429 rate limit exceeded")},
		{startErr: errors.New("stream error: overloaded")},
		{result: Result{Text: "done", NumTurns: 1}, convID: "conv-1"},
	}}
	s := newTestSession(t, ft, testConfig(), SessionOpts{})

	res, err := s.Send(context.Background(), "build it")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if res.Text != "done" {
		t.Errorf("Text = %q, want %q", res.Text, "done")
	}
	if res.Backoffs != 2 {
		t.Errorf("Backoffs = %d, want 2", res.Backoffs)
	}
	if got := ft.startCount(); got != 3 {
		t.Errorf("start count = %d, want 3", got)
	}
	if s.ID != "conv-1" {
		t.Errorf("session ID = %q, want conv-1", s.ID)
	}
}

func TestSendNonRetryableFailsImmediately(t *testing.T) {
	ft := &fakeTransport{turns: []fakeTurn{
		{startErr: errors.New("invalid api key")},
		{result: Result{Text: "never"}},
	}}
	s := newTestSession(t, ft, testConfig(), SessionOpts{})

	if _, err := s.Send(context.Background(), "go"); err == nil {
		t.Fatal("expected error for non-retryable failure")
	}
	if got := ft.startCount(); got != 1 {
		t.Errorf("start count = %d, want 1 (no retry)", got)
	}
}

func TestSendRetryBudgetExhausted(t *testing.T) {
	ft := &fakeTransport{turns: []fakeTurn{
		{startErr: errors.New("429 too many requests")},
		{startErr: errors.New("429 too many requests")},
		{startErr: errors.New("429 too many requests")},
	}}
	cfg := testConfig()
	cfg.MaxRetries = 1
	s := newTestSession(t, ft, cfg, SessionOpts{})

	_, err := s.Send(context.Background(), "go")
	if err == nil {
		t.Fatal("expected error after retry budget exhausted")
	}
	if got := ft.startCount(); got != 2 {
		t.Errorf("start count = %d, want 2 (initial + one retry)", got)
	}
}

func TestRolePrefixOnlyOnFirstSend(t *testing.T) {
	ft := &fakeTransport{turns: []fakeTurn{
		{result: Result{Text: "one"}, convID: "conv-9"},
		{result: Result{Text: "two"}, convID: "conv-9"},
	}}
	s := newTestSession(t, ft, testConfig(), SessionOpts{RolePrefix: "You are the engineer."})

	if _, err := s.Send(context.Background(), "first"); err != nil {
		t.Fatalf("first Send: %v", err)
	}
	if _, err := s.Send(context.Background(), "second"); err != nil {
		t.Fatalf("second Send: %v", err)
	}

	if !strings.HasPrefix(ft.calls[0].Prompt, "You are the engineer.") {
		t.Errorf("first prompt missing role prefix: %q", ft.calls[0].Prompt)
	}
	if ft.calls[0].ResumeID != "" {
		t.Errorf("first send ResumeID = %q, want empty", ft.calls[0].ResumeID)
	}
	if strings.Contains(ft.calls[1].Prompt, "You are the engineer.") {
		t.Errorf("second prompt repeats role prefix: %q", ft.calls[1].Prompt)
	}
	if ft.calls[1].ResumeID != "conv-9" {
		t.Errorf("second send ResumeID = %q, want conv-9", ft.calls[1].ResumeID)
	}
}

func TestResumedSessionSkipsRolePrefix(t *testing.T) {
	ft := &fakeTransport{turns: []fakeTurn{
		{result: Result{Text: "back"}, convID: "conv-old"},
	}}
	m := NewManager(ft, artifacts.Resolver{StorageRoot: t.TempDir()}, testConfig(), zap.NewNop())
	s, err := m.Resume("pipe-1", "conv-old", SessionOpts{RolePrefix: "You are the engineer."})
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}

	if _, err := s.Send(context.Background(), "continue"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if ft.calls[0].Prompt != "continue" {
		t.Errorf("resumed prompt = %q, want raw message", ft.calls[0].Prompt)
	}
	if ft.calls[0].ResumeID != "conv-old" {
		t.Errorf("ResumeID = %q, want conv-old", ft.calls[0].ResumeID)
	}
}

func TestTurnLimitValve(t *testing.T) {
	tools := make([]ToolCall, 6)
	for i := range tools {
		tools[i] = ToolCall{ID: "t", Name: "Bash", Args: map[string]any{"command": "true"}}
	}
	ft := &fakeTransport{turns: []fakeTurn{
		{tools: tools, result: Result{Text: "never"}},
	}}
	cfg := testConfig()
	cfg.MaxTurns = 5
	s := newTestSession(t, ft, cfg, SessionOpts{})

	_, err := s.Send(context.Background(), "loop forever")
	if !errors.Is(err, ErrTurnLimit) {
		t.Fatalf("err = %v, want ErrTurnLimit", err)
	}
}

func TestQuestionToolDeniedAndDeduplicated(t *testing.T) {
	ask := ToolCall{ID: "q1", Name: "AskUserQuestion", Args: map[string]any{
		"header":   "Database",
		"question": "Which engine should I use?",
		"options":  []any{"postgres", "sqlite"},
	}}
	askAgain := ask
	askAgain.ID = "q2"
	ft := &fakeTransport{turns: []fakeTurn{
		{tools: []ToolCall{ask}, result: Result{Text: "waiting"}},
		{tools: []ToolCall{askAgain}, result: Result{Text: "still waiting"}},
	}}
	s := newTestSession(t, ft, testConfig(), SessionOpts{})
	obs := &recordingObserver{}
	s.AddObserver(obs)
	notes := &recordingNotifier{}
	s.SetQuestionNotifier(notes)

	res, err := s.Send(context.Background(), "build")
	if err != nil {
		t.Fatalf("first Send: %v", err)
	}
	if !res.AwaitingUserInput {
		t.Error("AwaitingUserInput = false, want true")
	}
	if len(notes.questions) != 1 {
		t.Fatalf("notified %d questions, want 1", len(notes.questions))
	}
	if notes.questions[0].Question != "Which engine should I use?" {
		t.Errorf("question = %q", notes.questions[0].Question)
	}
	if len(notes.questions[0].Options) != 2 {
		t.Errorf("options = %v, want 2 entries", notes.questions[0].Options)
	}

	// Same header+question again: still denied, but no second notification.
	res, err = s.Send(context.Background(), "build again")
	if err != nil {
		t.Fatalf("second Send: %v", err)
	}
	if !res.AwaitingUserInput {
		t.Error("repeat question: AwaitingUserInput = false, want true")
	}
	if len(notes.questions) != 1 {
		t.Errorf("notified %d questions after repeat, want 1", len(notes.questions))
	}

	denied := 0
	obs.mu.Lock()
	for _, e := range obs.events {
		if e.Kind == ToolDenied {
			denied++
		}
	}
	obs.mu.Unlock()
	if denied != 2 {
		t.Errorf("denied events = %d, want 2", denied)
	}
}

func TestToolPathsRewrittenThroughResolver(t *testing.T) {
	ft := &fakeTransport{turns: []fakeTurn{
		{
			tools: []ToolCall{{
				ID:   "w1",
				Name: "Write",
				Args: map[string]any{"file_path": "plan.md", "content": "x"},
			}},
			result: Result{Text: "ok"},
		},
	}}
	root := t.TempDir()
	m := NewManager(ft, artifacts.Resolver{StorageRoot: root}, testConfig(), zap.NewNop())
	s, err := m.Create("pipe-1", SessionOpts{WorkingDir: "/work/repo", StorageID: "store-7"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	obs := &recordingObserver{}
	s.AddObserver(obs)

	res, err := s.Send(context.Background(), "plan")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(res.ToolCalls) != 1 {
		t.Fatalf("ToolCalls = %d, want 1", len(res.ToolCalls))
	}
	want := filepath.Join(root, "store-7", "plan.md")
	if got := res.ToolCalls[0].Args["file_path"]; got != want {
		t.Errorf("file_path = %v, want %v", got, want)
	}

	obs.mu.Lock()
	defer obs.mu.Unlock()
	if len(obs.events) != 2 {
		t.Fatalf("observer events = %d, want started+completed", len(obs.events))
	}
	if obs.events[0].Kind != ToolStarted || obs.events[1].Kind != ToolCompleted {
		t.Errorf("event kinds = %v, %v", obs.events[0].Kind, obs.events[1].Kind)
	}
	if obs.events[0].Call.Args["file_path"] != want {
		t.Errorf("started event carries unrewritten path %v", obs.events[0].Call.Args["file_path"])
	}
}

func TestToolErrorEmitsFailedEvent(t *testing.T) {
	ft := &fakeTransport{turns: []fakeTurn{
		{
			tools:    []ToolCall{{ID: "b1", Name: "Bash", Args: map[string]any{"command": "make"}}},
			toolErrs: map[string]error{"b1": errors.New("exit status 2")},
			result:   Result{Text: "ok"},
		},
	}}
	s := newTestSession(t, ft, testConfig(), SessionOpts{})
	obs := &recordingObserver{}
	s.AddObserver(obs)

	if _, err := s.Send(context.Background(), "build"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	obs.mu.Lock()
	defer obs.mu.Unlock()
	if len(obs.events) != 2 || obs.events[1].Kind != ToolFailed {
		t.Fatalf("events = %+v, want started then failed", obs.events)
	}
	if obs.events[1].Err != "exit status 2" {
		t.Errorf("Err = %q", obs.events[1].Err)
	}
}

type stubRoundTripper struct{}

func (stubRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader(`{"healthy":true}`)),
		Header:     http.Header{},
	}, nil
}

func TestRegisteredToolDispatchedLocally(t *testing.T) {
	ft := &fakeTransport{turns: []fakeTurn{
		{
			tools: []ToolCall{{ID: "h1", Name: "browser_http_request", Args: map[string]any{
				"method": "GET",
				"url":    "http://localhost:8080/health",
			}}},
			result: Result{Text: "checked", NumTurns: 2},
			convID: "conv-1",
		},
	}}
	m := NewManager(ft, artifacts.Resolver{StorageRoot: t.TempDir()}, testConfig(), zap.NewNop())
	m.SetRegistry(tools.NewRegistry(
		&tools.HTTPDriver{Client: &http.Client{Transport: stubRoundTripper{}}},
		tools.DirSink{Dir: t.TempDir()},
	))
	s, err := m.Create("pipe-1", SessionOpts{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	obs := &recordingObserver{}
	s.AddObserver(obs)

	res, err := s.Send(context.Background(), "check the server")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(res.ToolCalls) != 1 || res.ToolCalls[0].Name != "browser_http_request" {
		t.Fatalf("ToolCalls = %+v", res.ToolCalls)
	}
	obs.mu.Lock()
	defer obs.mu.Unlock()
	if len(obs.events) != 2 || obs.events[0].Kind != ToolStarted || obs.events[1].Kind != ToolCompleted {
		t.Fatalf("events = %+v, want started then completed", obs.events)
	}
}

func TestRegisteredToolErrorDenied(t *testing.T) {
	ft := &fakeTransport{turns: []fakeTurn{
		{
			tools:  []ToolCall{{ID: "n1", Name: "browser_click", Args: map[string]any{"selector": "#go"}}},
			result: Result{Text: "moved on"},
		},
	}}
	m := NewManager(ft, artifacts.Resolver{StorageRoot: t.TempDir()}, testConfig(), zap.NewNop())
	m.SetRegistry(tools.NewRegistry(&tools.HTTPDriver{}, tools.DirSink{Dir: t.TempDir()}))
	s, err := m.Create("pipe-1", SessionOpts{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	obs := &recordingObserver{}
	s.AddObserver(obs)

	if _, err := s.Send(context.Background(), "click it"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	obs.mu.Lock()
	defer obs.mu.Unlock()
	if len(obs.events) != 2 || obs.events[1].Kind != ToolFailed {
		t.Fatalf("events = %+v, want started then failed", obs.events)
	}
	if !strings.Contains(obs.events[1].Err, "no browser attached") {
		t.Errorf("Err = %q", obs.events[1].Err)
	}
}

func TestAbortObservedDuringBackoff(t *testing.T) {
	ft := &fakeTransport{turns: []fakeTurn{
		{startErr: errors.New("429 rate limit exceeded")},
		{result: Result{Text: "never"}},
	}}
	cfg := testConfig()
	cfg.Backoff = time.Minute
	cfg.PollSlice = time.Millisecond
	s := newTestSession(t, ft, cfg, SessionOpts{})
	s.SetAbortCheck(func() bool { return true })

	start := time.Now()
	_, err := s.Send(context.Background(), "go")
	if !errors.Is(err, ErrAborted) {
		t.Fatalf("err = %v, want ErrAborted", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("abort not observed promptly, took %v", elapsed)
	}
}

func TestNextStateOnError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		attempt    int
		maxRetries int
		want       sendState
	}{
		{"transient under budget", errors.New("rate limit"), 0, 3, stateBackoff},
		{"transient at budget", errors.New("rate limit"), 3, 3, stateFailed},
		{"auth never retries", errors.New("401 unauthorized"), 0, 3, stateFailed},
		{"turn limit never retries", ErrTurnLimit, 0, 3, stateFailed},
		{"abort never retries", ErrAborted, 0, 3, stateFailed},
		{"unknown retries optimistically", errors.New("something odd"), 0, 3, stateBackoff},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := nextStateOnError(tt.err, tt.attempt, tt.maxRetries); got != tt.want {
				t.Errorf("nextStateOnError(%v, %d, %d) = %v, want %v",
					tt.err, tt.attempt, tt.maxRetries, got, tt.want)
			}
		})
	}
}
