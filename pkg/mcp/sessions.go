package mcp

import "sync"

// SessionRegistry tracks workflow sessions with a run in progress. Two runs
// of one session would interleave their snapshots, so only one may be
// active at a time.
type SessionRegistry struct {
	mu     sync.Mutex
	active map[string]struct{}
}

// NewSessionRegistry creates a new empty SessionRegistry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{active: make(map[string]struct{})}
}

// Begin marks sessionID active. It reports false when a run of that session
// is already in progress. The returned release func must be called when the
// run ends; calling it more than once is harmless.
func (r *SessionRegistry) Begin(sessionID string) (release func(), ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.active[sessionID]; busy {
		return func() {}, false
	}
	r.active[sessionID] = struct{}{}
	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			delete(r.active, sessionID)
		})
	}, true
}

// Active reports whether sessionID has a run in progress.
func (r *SessionRegistry) Active(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.active[sessionID]
	return ok
}
