// Package exchange holds the adapter registry. Concrete wire-protocol
// adapters live in subpackages and are consumed only through the
// domain.Exchange capability interface.
package exchange

import (
	"sync"

	"github.com/alanyoungcy/pairbot/internal/domain"
)

// Registry maps exchange names to adapters.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]domain.Exchange
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]domain.Exchange)}
}

// Add registers an adapter under its own name, replacing any previous one.
func (r *Registry) Add(ex domain.Exchange) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[ex.Name()] = ex
}

// Get returns the adapter for name, or nil when unknown.
func (r *Registry) Get(name string) domain.Exchange {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.adapters[name]
}

// All returns every registered adapter.
func (r *Registry) All() []domain.Exchange {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Exchange, 0, len(r.adapters))
	for _, ex := range r.adapters {
		out = append(out, ex)
	}
	return out
}
