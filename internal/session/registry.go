package session

import (
	"log/slog"
	"sync"
)

// Registry assigns connecting agents to the process's session. The first
// joiner creates the session and becomes the requester; later joiners are
// helpers numbered from 2. Once created, the session is kept for the life of
// the registry even after it ends, unless Reset is called.
type Registry struct {
	events Events

	mu      sync.Mutex
	current *Session
	next    int
}

func NewRegistry(events Events) *Registry {
	return &Registry{events: events}
}

// Join assigns the caller an agent identity and role in the current session.
func (r *Registry) Join() (*Session, Agent) {
	r.mu.Lock()
	var a Agent
	created := false
	if r.current == nil {
		r.current = newSession(r.events)
		r.next = 2
		a = Agent{ID: 1, Role: RoleRequester}
		created = true
	} else {
		a = Agent{ID: r.next, Role: RoleHelper}
		r.next++
	}
	s := r.current
	s.addAgent(a)
	r.mu.Unlock()

	if created {
		slog.Info("session created", "session", s.ID())
	}
	s.flush()
	return s, a
}

// Current returns the session, or nil if nobody has joined yet.
func (r *Registry) Current() *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Reset ends and drops the current session so the next Join starts a fresh
// one with agent numbering restarted.
func (r *Registry) Reset() {
	r.mu.Lock()
	old := r.current
	r.current = nil
	r.next = 0
	r.mu.Unlock()

	if old != nil {
		old.EndSession()
		slog.Info("session reset", "session", old.ID())
	}
}
