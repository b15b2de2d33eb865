package studio

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rahl/studio/pkg/session"
)

// Registry maps browser session ids to their own build controller.
type Registry struct {
	newController func() *session.Controller
	idleTTL       time.Duration
	now           func() time.Time

	mu      sync.Mutex
	entries map[string]*registryEntry
}

type registryEntry struct {
	controller *session.Controller
	lastSeen   time.Time
}

// NewRegistry returns an empty registry. newController is called once per
// new browser session. A non-positive idleTTL disables eviction.
func NewRegistry(newController func() *session.Controller, idleTTL time.Duration) *Registry {
	return &Registry{
		newController: newController,
		idleTTL:       idleTTL,
		now:           time.Now,
		entries:       map[string]*registryEntry{},
	}
}

// Get returns the controller stored under id and marks it as used.
func (r *Registry) Get(id string) (*session.Controller, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	entry.lastSeen = r.now()
	return entry.controller, true
}

// GetOrCreate returns the controller for id, creating a fresh session with a
// new id when id is unknown.
func (r *Registry) GetOrCreate(id string) (string, *session.Controller) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.entries[id]; ok && id != "" {
		entry.lastSeen = r.now()
		return id, entry.controller
	}
	id = uuid.NewString()
	entry := &registryEntry{controller: r.newController(), lastSeen: r.now()}
	r.entries[id] = entry
	return id, entry.controller
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Evict drops sessions idle for longer than the TTL. Sessions with an
// attempt in flight are kept.
func (r *Registry) Evict() int {
	if r.idleTTL <= 0 {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-r.idleTTL)
	evicted := 0
	for id, entry := range r.entries {
		if !entry.lastSeen.Before(cutoff) {
			continue
		}
		if _, busy := entry.controller.State().(session.Submitting); busy {
			continue
		}
		delete(r.entries, id)
		evicted++
	}
	return evicted
}

// Run evicts idle sessions every interval until ctx is done.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Evict()
		}
	}
}
