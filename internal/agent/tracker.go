package agent

import (
	"sort"
	"sync"
	"time"

	"github.com/mtzanidakis/quorum/internal/session"
)

// Presence describes a connected agent as seen by the transport.
type Presence struct {
	AgentID     int       `json:"agent_id"`
	Role        string    `json:"role"`
	RemoteAddr  string    `json:"remote_addr"`
	State       string    `json:"state"`
	ConnectedAt time.Time `json:"connected_at"`
	LastActive  time.Time `json:"last_active"`
}

// Tracker keeps the set of agents whose connections are still open.
type Tracker struct {
	agents map[int]*Presence // agentID → presence
	mu     sync.RWMutex
}

func NewTracker() *Tracker {
	return &Tracker{
		agents: make(map[int]*Presence),
	}
}

func (t *Tracker) Set(a session.Agent, remoteAddr string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	t.agents[a.ID] = &Presence{
		AgentID:     a.ID,
		Role:        a.Role.String(),
		RemoteAddr:  remoteAddr,
		State:       "connected",
		ConnectedAt: now,
		LastActive:  now,
	}
}

func (t *Tracker) Get(agentID int) *Presence {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.agents[agentID]
	if !ok {
		return nil
	}
	cp := *p
	return &cp
}

func (t *Tracker) Remove(agentID int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.agents, agentID)
}

// Touch records activity and the agent's current protocol state.
func (t *Tracker) Touch(agentID int, state string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.agents[agentID]; ok {
		p.LastActive = time.Now()
		if state != "" {
			p.State = state
		}
	}
}

func (t *Tracker) List() []Presence {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Presence, 0, len(t.agents))
	for _, p := range t.agents {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out
}

func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.agents)
}
