package phase

import (
	"sort"
	"sync"

	"github.com/BaSui01/phaseflow/types"
)

// Constructor builds a phase instance from its config.
type Constructor func(cfg Config) (Phase, error)

// Registry maps stable phase-type keys to constructors. Registration
// happens at startup; dispatch afterwards is type-safe through the
// constructed Phase values, with no runtime string switching.
type Registry struct {
	mu    sync.RWMutex
	ctors map[string]Constructor
}

// NewRegistry creates an empty phase registry.
func NewRegistry() *Registry {
	return &Registry{ctors: make(map[string]Constructor)}
}

// Register binds a phase type to its constructor. Re-registering a type
// is an error.
func (r *Registry) Register(phaseType string, ctor Constructor) error {
	if phaseType == "" || ctor == nil {
		return types.NewError(types.ErrInvalidConfig, "phase type and constructor are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.ctors[phaseType]; exists {
		return types.NewErrorf(types.ErrInvalidConfig, "phase type %q already registered", phaseType)
	}
	r.ctors[phaseType] = ctor
	return nil
}

// New constructs a phase from its config.
func (r *Registry) New(cfg Config) (Phase, error) {
	r.mu.RLock()
	ctor, ok := r.ctors[cfg.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, types.NewErrorf(types.ErrInvalidConfig, "unknown phase type %q", cfg.Type)
	}
	return ctor(cfg)
}

// Types lists the registered phase types, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.ctors))
	for t := range r.ctors {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
