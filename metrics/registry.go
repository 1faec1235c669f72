package metrics

import "sync"

// Registry is the process-wide, (host, database)-keyed counter-sink
// lookup of spec §9's "Global state" design note: initialize-on-first-use
// with idempotent construction, no teardown beyond process exit.
type Registry struct {
	mu         sync.RWMutex
	collectors map[string]*Collector
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{collectors: make(map[string]*Collector)}
}

// GetOrCreate returns the Collector for (host, database), creating one
// lazily on first use.
func (r *Registry) GetOrCreate(host, database string) *Collector {
	key := host + "\x00" + database

	r.mu.RLock()
	if c, ok := r.collectors[key]; ok {
		r.mu.RUnlock()
		return c
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.collectors[key]; ok {
		return c
	}
	c := New()
	r.collectors[key] = c
	return c
}

// All returns every Collector created so far, keyed by "host\x00database".
// Intended for a debug endpoint that needs to enumerate every registered
// pair (e.g. to merge their registries for a combined /metrics scrape).
func (r *Registry) All() map[string]*Collector {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]*Collector, len(r.collectors))
	for k, v := range r.collectors {
		out[k] = v
	}
	return out
}
