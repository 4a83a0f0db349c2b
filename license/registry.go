package license

import "sync"

// Registry is an explicit "current instance" holder created at the
// composition root. Hosts that want a process-wide engine pass one Registry
// around instead of relying on a hidden package-level global.
type Registry struct {
	mu      sync.RWMutex
	current *Engine
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// SetCurrent installs engine as the current instance. Passing nil clears it.
func (r *Registry) SetCurrent(engine *Engine) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current = engine
}

// Current returns the installed engine, or nil if none is set.
func (r *Registry) Current() *Engine {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}
