package chat

import "sync"

// Registry tracks the live controller per session. Opening a session
// that already has a controller replaces it; the displaced controller
// is stopped so its stream timer cannot keep writing.
type Registry struct {
	mu          sync.RWMutex
	controllers map[string]*Controller
}

func NewRegistry() *Registry {
	return &Registry{controllers: make(map[string]*Controller)}
}

// Put registers a controller under its session id, stopping any
// controller it displaces.
func (r *Registry) Put(c *Controller) {
	r.mu.Lock()
	prev := r.controllers[c.SessionID()]
	r.controllers[c.SessionID()] = c
	r.mu.Unlock()

	if prev != nil && prev != c {
		prev.Stop()
	}
}

func (r *Registry) Get(sessionID string) (*Controller, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.controllers[sessionID]
	return c, ok
}

// Remove drops the session's controller and stops it.
func (r *Registry) Remove(sessionID string) {
	r.mu.Lock()
	c := r.controllers[sessionID]
	delete(r.controllers, sessionID)
	r.mu.Unlock()

	if c != nil {
		c.Stop()
	}
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.controllers)
}

// StopAll stops every registered controller. Called on shutdown so
// pending transcripts reach the store.
func (r *Registry) StopAll() {
	r.mu.Lock()
	controllers := make([]*Controller, 0, len(r.controllers))
	for _, c := range r.controllers {
		controllers = append(controllers, c)
	}
	r.controllers = make(map[string]*Controller)
	r.mu.Unlock()

	for _, c := range controllers {
		c.Stop()
	}
}
