// Package registry maps authenticated player ids to their live websocket
// connection ids. State is process-local and lives only as long as the
// connections do.
package registry

import "sync"

type Registry struct {
	mu    sync.RWMutex
	conns map[string]string
}

func New() *Registry {
	return &Registry{
		conns: make(map[string]string),
	}
}

// Register maps playerID to connID. A later registration for the same player
// wins, so a reconnect simply displaces the old mapping.
func (r *Registry) Register(playerID, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.conns[playerID] = connID
}

// Unregister removes the mapping only if it still points at connID. A stale
// disconnect racing a fresh reconnect must not tear down the new mapping.
func (r *Registry) Unregister(playerID, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conns[playerID] == connID {
		delete(r.conns, playerID)
	}
}

// Lookup returns the live connection id for playerID.
func (r *Registry) Lookup(playerID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.conns[playerID]
	return id, ok
}

// Online returns the number of currently connected players.
func (r *Registry) Online() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.conns)
}
