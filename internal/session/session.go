package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Session owns the roster of agents and at most one help request over its
// lifetime. All state changes happen under mu; Changed hands out a channel
// that is closed on every transition so workers can block instead of poll.
//
// Events are queued under mu in transition order and published by flush
// with mu released. emitMu keeps publishers from overtaking each other.
type Session struct {
	id     string
	events Events
	emitMu sync.Mutex

	mu        sync.Mutex
	agents    []Agent
	requester int
	request   *HelpRequest
	active    bool
	ended     bool
	changed   chan struct{}
	outbox    []Event
}

func newSession(events Events) *Session {
	return &Session{
		id:      uuid.New().String(),
		events:  events,
		changed: make(chan struct{}),
	}
}

func (s *Session) ID() string {
	return s.id
}

// Changed returns a channel closed at the next state transition. Callers
// must take the channel before checking state to avoid missing a wakeup.
func (s *Session) Changed() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.changed
}

func (s *Session) notifyLocked() {
	close(s.changed)
	s.changed = make(chan struct{})
}

func (s *Session) addAgent(a Agent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents = append(s.agents, a)
	s.queueLocked(Event{Type: EventAgentJoined, AgentID: a.ID, Role: a.Role.String()})
}

func (s *Session) Agents() []Agent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Agent, len(s.agents))
	copy(out, s.agents)
	return out
}

// SetRequester records which agent currently owns the help request.
func (s *Session) SetRequester(agentID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requester = agentID
}

func (s *Session) Requester() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requester
}

// NewHelpRequest creates the session's only help request. It fails with
// ErrAlreadyActive once a request exists or the session has ended.
func (s *Session) NewHelpRequest(message string) (int, error) {
	s.mu.Lock()
	if s.request != nil || s.ended {
		s.mu.Unlock()
		return 0, ErrAlreadyActive
	}
	s.request = &HelpRequest{
		ID:           0,
		Message:      message,
		QuorumTarget: Quorum,
		responders:   make(map[int]bool),
	}
	s.active = true
	s.notifyLocked()
	id := s.request.ID
	s.queueLocked(Event{Type: EventRequestCreated, AgentID: s.requester, RequestID: id, Message: message})
	s.mu.Unlock()

	s.flush()
	return id, nil
}

// RespondToHelp records agentID as a responder to the active request. It
// reports false when there is nothing to respond to. A second response from
// the same agent is accepted but not recorded again.
func (s *Session) RespondToHelp(agentID int) (int, bool) {
	s.mu.Lock()
	if !s.active || s.ended || s.request == nil {
		s.mu.Unlock()
		return 0, false
	}
	req := s.request
	if req.responders[agentID] {
		s.mu.Unlock()
		slog.Warn("duplicate response ignored", "session", s.id, "agent", agentID, "request", req.ID)
		return req.ID, true
	}
	req.responders[agentID] = true
	req.Responses = append(req.Responses, agentID)
	req.received++
	s.notifyLocked()
	s.queueLocked(Event{Type: EventResponseRecorded, AgentID: agentID, RequestID: req.ID})
	s.mu.Unlock()

	s.flush()
	return req.ID, true
}

// GetResponse pops the oldest undelivered response for requestID.
func (s *Session) GetResponse(requestID int) (int, bool) {
	s.mu.Lock()
	req := s.request
	if req == nil || req.ID != requestID || len(req.Responses) == 0 {
		s.mu.Unlock()
		return 0, false
	}
	agentID := req.Responses[0]
	req.Responses = req.Responses[1:]
	req.delivered++
	s.queueLocked(Event{Type: EventResponseDelivered, AgentID: agentID, RequestID: requestID})
	s.mu.Unlock()

	s.flush()
	return agentID, true
}

func (s *Session) IsHelpRequestActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active && !s.ended
}

func (s *Session) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

// EndSession marks the session ended and deactivates its request. Calling it
// again has no effect.
func (s *Session) EndSession() {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	s.active = false
	s.notifyLocked()
	var requestID int
	if s.request != nil {
		requestID = s.request.ID
	}
	s.queueLocked(Event{Type: EventSessionEnded, RequestID: requestID})
	s.mu.Unlock()

	s.flush()
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		ID:        s.id,
		Agents:    make([]Agent, len(s.agents)),
		Requester: s.requester,
		Active:    s.active && !s.ended,
		Ended:     s.ended,
	}
	copy(snap.Agents, s.agents)
	if r := s.request; r != nil {
		pending := make([]int, len(r.Responses))
		copy(pending, r.Responses)
		snap.Request = &RequestView{
			ID:        r.ID,
			Message:   r.Message,
			Pending:   pending,
			Received:  r.received,
			Delivered: r.delivered,
			Quorum:    r.QuorumTarget,
		}
	}
	return snap
}

func (s *Session) queueLocked(e Event) {
	if s.events == nil {
		return
	}
	e.SessionID = s.id
	e.Timestamp = time.Now().UTC()
	s.outbox = append(s.outbox, e)
}

// flush publishes queued events in the order they were queued. It returns
// once every event queued before the call has been published.
func (s *Session) flush() {
	if s.events == nil {
		return
	}
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	for {
		s.mu.Lock()
		batch := s.outbox
		s.outbox = nil
		s.mu.Unlock()
		if len(batch) == 0 {
			return
		}
		for _, e := range batch {
			s.events.Publish(e)
		}
	}
}
