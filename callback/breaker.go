package callback

import (
	"sync"
)

// DefaultFailureThreshold opens a hook's circuit after this many
// consecutive failures.
const DefaultFailureThreshold = 5

// breaker is a consecutive-failure circuit for one hook of one set. Once
// open it stays open for the rest of the run: the hook is skipped, so no
// success can ever be observed again.
type breaker struct {
	threshold int

	mu       sync.Mutex
	failures int
	open     bool
}

func (b *breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.open
}

func (b *breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
}

// recordFailure counts one failure and reports whether this call opened
// the circuit.
func (b *breaker) recordFailure() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	if !b.open && b.failures >= b.threshold {
		b.open = true
		return true
	}
	return false
}

// breakerRegistry tracks one breaker per (set, hook) key.
type breakerRegistry struct {
	threshold int
	mu        sync.Mutex
	breakers  map[string]*breaker
}

func newBreakerRegistry(threshold int) *breakerRegistry {
	if threshold <= 0 {
		threshold = DefaultFailureThreshold
	}
	return &breakerRegistry{
		threshold: threshold,
		breakers:  make(map[string]*breaker),
	}
}

func (r *breakerRegistry) get(key string) *breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[key]
	if !ok {
		b = &breaker{threshold: r.threshold}
		r.breakers[key] = b
	}
	return b
}

// states returns a snapshot of open/closed per key, for introspection.
func (r *breakerRegistry) states() map[string]bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]bool, len(r.breakers))
	for k, b := range r.breakers {
		out[k] = b.open
	}
	return out
}
