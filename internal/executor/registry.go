package executor

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/gosuda/chatgate/internal/session"
)

// ErrUnknownProtocol is returned when no executor is registered for a session protocol.
var ErrUnknownProtocol = errors.New("executor: unknown protocol") //nolint:gochecknoglobals // sentinel error

// Registry maps session protocols to executors.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]session.Executor
}

func NewRegistry() *Registry {
	return &Registry{
		executors: make(map[string]session.Executor),
	}
}

// Register adds the executor for a protocol, replacing any previous one.
func (r *Registry) Register(protocol string, exec session.Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[protocol] = exec
}

// Get returns the executor registered for protocol.
func (r *Registry) Get(protocol string) (session.Executor, error) {
	r.mu.RLock()
	exec, ok := r.executors[protocol]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("executor.Registry.Get(%q): %w", protocol, ErrUnknownProtocol)
	}
	return exec, nil
}

// Available returns registered protocol names in sorted order.
func (r *Registry) Available() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := slices.Collect(func(yield func(string) bool) {
		for name := range r.executors {
			if !yield(name) {
				return
			}
		}
	})
	sort.Strings(names)

	return names
}
