package agent

import (
	"fmt"
	"sync"
)

// ErrAlreadyFrozen is returned by Register and Configure once Freeze has
// been called.
var ErrAlreadyFrozen = fmt.Errorf("agent: registry already frozen")

// ErrUnknownAgent is returned by Configure when entryAgent or a member of
// specialists has no corresponding Register call.
type ErrUnknownAgent struct{ Name string }

func (e *ErrUnknownAgent) Error() string {
	return fmt.Sprintf("agent: %q is not registered", e.Name)
}

// Registry is the AgentRegistry: a name→[Handler] mapping plus the ordered
// specialist list and entry-agent designation. It is built once during
// application wiring via [Registry.Register] and [Registry.Configure], then
// [Registry.Freeze]'d before the first connection is accepted. After
// freezing, every method is safe to call without synchronization from
// multiple goroutines — Lookup, EntryAgent, and Specialists only read.
type Registry struct {
	mu          sync.RWMutex
	handlers    map[string]Handler
	specs       map[string]Specialist
	entryAgent  string
	specialists []string
	frozen      bool
}

// NewRegistry returns an empty, unfrozen Registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
		specs:    make(map[string]Specialist),
	}
}

// Register adds or overwrites the handler for name, along with its
// specification. Idempotent: registering the same name twice replaces the
// prior entry. Returns ErrAlreadyFrozen once the registry is frozen.
func (r *Registry) Register(spec Specialist, handler Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return ErrAlreadyFrozen
	}
	r.handlers[spec.Name] = handler
	r.specs[spec.Name] = spec
	return nil
}

// Configure sets the entry agent and the ordered specialist fallback list.
// entryAgent must already have been Register'd, or it is coerced to the
// first name in specialists if empty. Every name in specialists must
// already have been Register'd. Returns ErrAlreadyFrozen once frozen.
func (r *Registry) Configure(entryAgent string, specialists []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return ErrAlreadyFrozen
	}

	for _, name := range specialists {
		if _, ok := r.handlers[name]; !ok {
			return &ErrUnknownAgent{Name: name}
		}
	}

	if entryAgent == "" {
		if len(specialists) > 0 {
			entryAgent = specialists[0]
		}
	} else if _, ok := r.handlers[entryAgent]; !ok {
		return &ErrUnknownAgent{Name: entryAgent}
	}

	r.entryAgent = entryAgent
	r.specialists = append([]string(nil), specialists...)
	return nil
}

// Freeze marks the registry read-only. Subsequent Register/Configure calls
// fail with ErrAlreadyFrozen.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Lookup returns the handler registered under name and true, or a nil
// handler and false if name is not registered.
func (r *Registry) Lookup(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

// Spec returns the Specialist registered under name and true, or a zero
// Specialist and false if name is not registered.
func (r *Registry) Spec(name string) (Specialist, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.specs[name]
	return s, ok
}

// EntryAgent returns the configured entry agent name.
func (r *Registry) EntryAgent() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entryAgent
}

// Specialists returns the ordered fallback list configured via Configure.
// The returned slice must not be mutated by the caller.
func (r *Registry) Specialists() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.specialists
}

// Names returns every registered specialist name in no particular order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	return names
}
