package resolver

import "sync"

// generations counts invalidations per user and globally. A decision is
// cached only if no invalidation of its user ran while it was evaluated.
type generations struct {
	mu     sync.RWMutex
	global uint64
	users  map[string]uint64
}

// Generation identifies the invalidations of a user seen so far. Take it
// before reading anything a decision depends on.
type Generation struct {
	global uint64
	user   uint64
}

func (g *generations) current(userID string) Generation {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return Generation{global: g.global, user: g.users[userID]}
}

func (g *generations) bumpUser(userID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.users[userID]++
}

// bumpAll invalidates every generation taken so far. Per-user counters restart
// since the global counter already separates old generations from new ones.
func (g *generations) bumpAll() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.global++
	g.users = make(map[string]uint64)
}

// storeIf runs store while holding off invalidations, and only if gen is
// still current. An invalidation bumps before it deletes, so a store that wins the
// race is deleted and one that loses it is skipped.
func (g *generations) storeIf(userID string, gen Generation, store func()) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.global != gen.global || g.users[userID] != gen.user {
		return false
	}
	store()
	return true
}
