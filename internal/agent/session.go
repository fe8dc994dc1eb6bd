package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/buildforge/autopilot/internal/artifacts"
	"github.com/buildforge/autopilot/internal/classify"
	"github.com/buildforge/autopilot/internal/tools"
)

// ErrTurnLimit distinguishes a send aborted by the per-send turn-count
// safety valve from a transport failure.
var ErrTurnLimit = errors.New("turn limit exceeded")

// ErrAborted is returned when an external abort is observed during
// backoff sleep.
var ErrAborted = errors.New("send aborted")

// SendConfig bounds a session's send loop.
type SendConfig struct {
	// MaxRetries is the rate-limit backoff budget, separate from (and
	// larger than) the orchestrator's phase retry budget.
	MaxRetries int
	// Backoff is the sleep window after a transient failure.
	Backoff time.Duration
	// PollSlice is the sleep granularity so aborts are observed mid-sleep.
	PollSlice time.Duration
	// MaxTurns caps the agent's internal turns within one send.
	MaxTurns int
}

// TurnResult aggregates one completed turn.
type TurnResult struct {
	Text              string
	Structured        map[string]any
	Usage             Usage
	ToolCalls         []ToolCall
	NumTurns          int
	AwaitingUserInput bool
	// Backoffs counts how many backoff cycles the send consumed.
	Backoffs int
}

// Session is one resumable conversation with the remote agent.
type Session struct {
	ID         string
	PipelineID string

	transport Transport
	resolver  artifacts.Resolver
	registry  *tools.Registry
	cfg       SendConfig
	log       *zap.Logger

	rolePrefix string
	workingDir string
	model      string
	storageID  string

	observers []Observer
	questions QuestionNotifier

	// abortCheck is sampled between backoff slices; nil means never.
	abortCheck func() bool

	mu             sync.Mutex
	sendCtx        context.Context
	sentFirst      bool
	resumed        bool
	toolStarts     map[string]time.Time
	askedQuestions map[string]bool

	// per-turn accumulators, reset at the start of each send attempt
	turnTools    []ToolCall
	awaitingUser bool
	closed       bool
}

// SetAbortCheck installs the sampled abort flag reader.
func (s *Session) SetAbortCheck(fn func() bool) {
	s.abortCheck = fn
}

// AddObserver registers a tool-event observer.
func (s *Session) AddObserver(o Observer) {
	s.observers = append(s.observers, o)
}

// SetQuestionNotifier installs the external question channel.
func (s *Session) SetQuestionNotifier(n QuestionNotifier) {
	s.questions = n
}

// SetModel updates the model hint for subsequent sends.
func (s *Session) SetModel(model string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.model = model
}

// ConversationID returns the current conversation id, empty until the
// first completed send of a fresh session.
func (s *Session) ConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.sentFirst && !s.resumed {
		return ""
	}
	return s.ID
}

// sendState is the explicit per-send state machine. One send walks
// Sending → Draining → Done, detouring through Backoff on retryable
// failures and ending in Failed when the budget is exhausted or the
// failure class is non-retryable.
type sendState int

const (
	stateSending sendState = iota
	stateDraining
	stateBackoff
	stateDone
	stateFailed
)

// nextStateOnError is the single transition function for failures.
func nextStateOnError(err error, attempt, maxRetries int) sendState {
	if errors.Is(err, ErrTurnLimit) || errors.Is(err, ErrAborted) {
		return stateFailed
	}
	c := classify.Classify(err)
	if !c.Retryable {
		return stateFailed
	}
	if attempt >= maxRetries {
		return stateFailed
	}
	return stateBackoff
}

// Send transmits one message and drains the turn stream to its terminal
// result. Transient (and, optimistically, unknown) failures are retried
// under the session retry budget with sliced backoff sleeps; all other
// classes re-raise immediately.
func (s *Session) Send(ctx context.Context, message string) (*TurnResult, error) {
	prompt := message
	s.mu.Lock()
	s.sendCtx = ctx
	if !s.sentFirst && !s.resumed && s.rolePrefix != "" {
		// The transport has no separate system-prompt channel; the role
		// prefix rides on the very first send of a fresh session.
		prompt = s.rolePrefix + "\n\n" + message
	}
	s.mu.Unlock()

	state := stateSending
	attempt := 0
	backoffs := 0
	var lastErr error
	var result *TurnResult

	for {
		switch state {
		case stateSending:
			s.mu.Lock()
			model := s.model
			s.mu.Unlock()
			stream, err := s.transport.Start(ctx, StartOpts{
				Prompt:     prompt,
				WorkingDir: s.workingDir,
				Model:      model,
				ResumeID:   s.resumeID(),
				Hooks:      s.hooks(),
			})
			if err != nil {
				lastErr = err
				state = nextStateOnError(err, attempt, s.cfg.MaxRetries)
				continue
			}
			result, err = s.drain(stream)
			if err != nil {
				lastErr = err
				state = nextStateOnError(err, attempt, s.cfg.MaxRetries)
				continue
			}
			state = stateDone

		case stateBackoff:
			attempt++
			backoffs++
			s.log.Warn("send failed, backing off",
				zap.String("session", s.ID),
				zap.Int("attempt", attempt),
				zap.Int("max_retries", s.cfg.MaxRetries),
				zap.Duration("backoff", s.cfg.Backoff),
				zap.Error(lastErr),
			)
			if err := s.sleepBackoff(ctx); err != nil {
				return nil, err
			}
			state = stateSending

		case stateDone:
			s.mu.Lock()
			s.sentFirst = true
			s.mu.Unlock()
			result.Backoffs = backoffs
			return result, nil

		case stateFailed:
			return nil, fmt.Errorf("send after %d attempt(s): %w", attempt+1, lastErr)
		}
	}
}

// resumeID returns the conversation id to resume, or "" for the first
// send of a fresh session.
func (s *Session) resumeID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resumed || s.sentFirst {
		return s.ID
	}
	return ""
}

// drain consumes the stream until its exactly-one terminal result,
// enforcing the per-send turn cap.
func (s *Session) drain(stream Stream) (*TurnResult, error) {
	defer stream.Close()

	s.mu.Lock()
	s.turnTools = nil
	s.awaitingUser = false
	s.mu.Unlock()

	turns := 0
	for {
		ev, err := stream.Next()
		if err != nil {
			return nil, fmt.Errorf("turn stream: %w", err)
		}

		switch ev.Kind {
		case EventText:
			turns++
		case EventToolUse:
			turns++
		case EventResult:
			if ev.Result.IsError {
				return nil, fmt.Errorf("turn result: %s", ev.Result.ErrorMessage)
			}
			if id := stream.ConversationID(); id != "" {
				s.mu.Lock()
				s.ID = id
				s.mu.Unlock()
			}
			s.mu.Lock()
			tr := &TurnResult{
				Text:              ev.Result.Text,
				Structured:        ev.Result.Structured,
				Usage:             ev.Result.Usage,
				ToolCalls:         s.turnTools,
				NumTurns:          ev.Result.NumTurns,
				AwaitingUserInput: s.awaitingUser,
			}
			s.mu.Unlock()
			return tr, nil
		}

		if s.cfg.MaxTurns > 0 && turns > s.cfg.MaxTurns {
			return nil, fmt.Errorf("%w after %d turns", ErrTurnLimit, turns)
		}
	}
}

// sleepBackoff sleeps the backoff window in poll slices so an external
// abort is observed mid-sleep.
func (s *Session) sleepBackoff(ctx context.Context) error {
	slice := s.cfg.PollSlice
	if slice <= 0 {
		slice = time.Second
	}
	deadline := time.Now().Add(s.cfg.Backoff)
	for time.Now().Before(deadline) {
		if s.abortCheck != nil && s.abortCheck() {
			return ErrAborted
		}
		remaining := time.Until(deadline)
		if remaining < slice {
			slice = remaining
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(slice):
		}
	}
	return nil
}

// notifyObservers fans a tool event out to all observers in order.
func (s *Session) notifyObservers(e ToolEvent) {
	e.SessionID = s.ID
	e.PipelineID = s.PipelineID
	for _, o := range s.observers {
		o.OnToolEvent(e)
	}
}
