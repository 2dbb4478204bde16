package room

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultTTL is how long an empty room survives before eviction.
	DefaultTTL = 10 * time.Minute

	// DefaultReapInterval is how often the reaper sweeps the registry.
	DefaultReapInterval = time.Minute
)

// Registry owns every live room in the process, keyed by normalized
// code. It is constructed at startup and injected into the gateway;
// rooms are ephemeral, so a restart legitimately begins empty.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*Room

	clock        clockwork.Clock
	ttl          time.Duration
	reapInterval time.Duration
}

// NewRegistry creates an empty registry. Non-positive ttl or interval
// fall back to the defaults.
func NewRegistry(clock clockwork.Clock, ttl, reapInterval time.Duration) *Registry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if reapInterval <= 0 {
		reapInterval = DefaultReapInterval
	}
	return &Registry{
		rooms:        make(map[string]*Room),
		clock:        clock,
		ttl:          ttl,
		reapInterval: reapInterval,
	}
}

// GetOrCreate returns the room for a normalized code, creating it with a
// fresh round if absent. The room's activity timestamp refreshes either
// way.
func (reg *Registry) GetOrCreate(code string) *Room {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	r, ok := reg.rooms[code]
	if !ok {
		r = newRoom(code, reg.clock)
		reg.rooms[code] = r
		log.Info().Str("room", code).Msg("room created")
	}
	// Touch under the registry lock so a concurrent sweep can never
	// evict a room between handing it out and refreshing it.
	r.Touch()
	return r
}

// Lookup returns the room for a code, if present.
func (reg *Registry) Lookup(code string) (*Room, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	r, ok := reg.rooms[code]
	return r, ok
}

// Len returns the number of live rooms.
func (reg *Registry) Len() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.rooms)
}

// Run sweeps for idle empty rooms until the context is cancelled. This
// is the only deletion path; rooms with participants are never evicted.
func (reg *Registry) Run(ctx context.Context) {
	ticker := reg.clock.NewTicker(reg.reapInterval)
	defer ticker.Stop()

	log.Info().
		Dur("ttl", reg.ttl).
		Dur("interval", reg.reapInterval).
		Msg("idle reaper started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("idle reaper stopped")
			return
		case <-ticker.Chan():
			reg.reap()
		}
	}
}

// reap deletes rooms that are empty and idle past the TTL. The check
// runs under each room's own mutex immediately before deletion, so a
// join in flight on another goroutine either lands before the check
// (room survives) or blocks until the sweep moves on and then creates
// the room anew through GetOrCreate.
func (reg *Registry) reap() {
	cutoff := reg.clock.Now().Add(-reg.ttl)

	reg.mu.Lock()
	defer reg.mu.Unlock()
	for code, r := range reg.rooms {
		if r.emptyIdleSince(cutoff) {
			delete(reg.rooms, code)
			log.Info().Str("room", code).Msg("idle room reaped")
		}
	}
}
