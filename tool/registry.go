package tool

import (
	"fmt"
	"sync"
)

// Handler executes a function call requested by the model and returns a
// JSON-serializable result.
type Handler func(args map[string]any) (any, error)

// Registry maps function tool definitions to their handlers.
type Registry struct {
	mu       sync.RWMutex
	tools    []Tool
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
	}
}

// Register adds a tool definition and its handler. Registering the same
// name twice replaces the handler but keeps a single definition.
func (r *Registry) Register(t Tool, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[t.Name]; !exists {
		r.tools = append(r.tools, t)
	}
	r.handlers[t.Name] = h
}

// Tools returns the registered tool definitions in registration order.
func (r *Registry) Tools() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Tool, len(r.tools))
	copy(out, r.tools)
	return out
}

// Call dispatches to the handler registered under name.
func (r *Registry) Call(name string, args map[string]any) (any, error) {
	r.mu.RLock()
	h, ok := r.handlers[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("tool %q not registered", name)
	}
	return h(args)
}
