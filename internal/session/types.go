package session

import (
	"errors"
	"time"
)

// Quorum is the number of responses that satisfies a help request.
const Quorum = 2

// ErrAlreadyActive is returned when a session already holds its help request
// or has ended.
var ErrAlreadyActive = errors.New("help request already active")

type Role int

const (
	RoleRequester Role = iota + 1
	RoleHelper
)

func (r Role) String() string {
	switch r {
	case RoleRequester:
		return "requester"
	case RoleHelper:
		return "helper"
	default:
		return "unknown"
	}
}

type Agent struct {
	ID   int  `json:"id"`
	Role Role `json:"role"`
}

// HelpRequest is the single ask a session carries. Responses holds the
// responder ids not yet delivered to the requester, oldest first.
type HelpRequest struct {
	ID           int    `json:"id"`
	Message      string `json:"message"`
	Responses    []int  `json:"responses"`
	QuorumTarget int    `json:"quorum_target"`

	received   int
	delivered  int
	responders map[int]bool
}

type EventType string

const (
	EventAgentJoined       EventType = "agent_joined"
	EventRequestCreated    EventType = "request_created"
	EventResponseRecorded  EventType = "response_recorded"
	EventResponseDelivered EventType = "response_delivered"
	EventSessionEnded      EventType = "session_ended"
)

type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id"`
	AgentID   int       `json:"agent_id,omitempty"`
	RequestID int       `json:"request_id"`
	Role      string    `json:"role,omitempty"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Events receives session transitions. Publish is called without the
// session or registry lock held, one event at a time per session and in the
// order the transitions happened. It must not call back into transitions of
// the same session.
type Events interface {
	Publish(Event)
}

// MultiEvents fans an event out to several sinks in order.
type MultiEvents []Events

func (m MultiEvents) Publish(e Event) {
	for _, sink := range m {
		if sink != nil {
			sink.Publish(e)
		}
	}
}

// Snapshot is a point-in-time copy of a session for status reporting.
type Snapshot struct {
	ID        string       `json:"id"`
	Agents    []Agent      `json:"agents"`
	Requester int          `json:"requester,omitempty"`
	Request   *RequestView `json:"request,omitempty"`
	Active    bool         `json:"active"`
	Ended     bool         `json:"ended"`
}

type RequestView struct {
	ID        int    `json:"id"`
	Message   string `json:"message"`
	Pending   []int  `json:"pending"`
	Received  int    `json:"received"`
	Delivered int    `json:"delivered"`
	Quorum    int    `json:"quorum"`
}
