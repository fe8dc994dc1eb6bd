// Package tools routes special-cased tool calls to local handlers. All
// other tools pass through to the transport untouched; the registry is
// closed, so adding a capability means adding an entry here.
package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Handler executes one locally-handled tool call and returns a
// JSON-serializable result.
type Handler func(ctx context.Context, args map[string]any) (map[string]any, error)

// Registry maps tool names to local handlers.
type Registry struct {
	handlers map[string]Handler
}

// NewRegistry builds the registry over the given collaborators. Passing
// a nil driver leaves the browser tools unregistered; calls to them
// then fall through to passthrough like any unknown tool.
func NewRegistry(driver BrowserDriver, sink ArtifactSink) *Registry {
	r := &Registry{handlers: make(map[string]Handler)}
	if driver != nil {
		registerBrowserTools(r, driver, sink)
	}
	return r
}

func (r *Registry) register(name string, h Handler) {
	r.handlers[name] = h
}

// Handles reports whether the registry executes this tool locally.
func (r *Registry) Handles(name string) bool {
	_, ok := r.handlers[name]
	return ok
}

// Names lists the registered tool names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dispatch executes a registered tool. Unregistered names return
// ErrPassthrough so the caller forwards the call unchanged.
func (r *Registry) Dispatch(ctx context.Context, name string, args map[string]any) (map[string]any, error) {
	h, ok := r.handlers[name]
	if !ok {
		return nil, ErrPassthrough
	}
	out, err := h(ctx, args)
	if err != nil {
		return nil, fmt.Errorf("tool %s: %w", name, err)
	}
	return out, nil
}

// ErrPassthrough signals that the tool is not handled locally and the
// call should continue to the transport.
var ErrPassthrough = errNotRegistered{}

type errNotRegistered struct{}

func (errNotRegistered) Error() string { return "tool not registered, pass through" }

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return strings.TrimSpace(s)
}
