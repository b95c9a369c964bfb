package circuitbreaker

import (
	"sync"

	fastpass "github.com/eugener/fastpass/internal"
)

// Registry hands out one Breaker per upstream source name.
type Registry struct {
	mu       sync.RWMutex
	clock    fastpass.Clock
	cfg      Config
	breakers map[string]*Breaker
}

// NewRegistry creates an empty registry whose breakers share cfg.
func NewRegistry(clock fastpass.Clock, cfg Config) *Registry {
	return &Registry{clock: clock, cfg: cfg, breakers: make(map[string]*Breaker)}
}

// Get returns the breaker for source, creating it on first use.
func (r *Registry) Get(source string) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[source]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[source]; ok {
		return b
	}
	b = NewBreaker(r.clock, r.cfg)
	r.breakers[source] = b
	return b
}

// States returns the state of every known breaker keyed by source.
func (r *Registry) States() map[string]State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]State, len(r.breakers))
	for name, b := range r.breakers {
		out[name] = b.State()
	}
	return out
}
