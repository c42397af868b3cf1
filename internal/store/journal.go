package store

import (
	"log/slog"

	"github.com/mtzanidakis/quorum/internal/session"
)

// Journal records session transitions in the store.
type Journal struct {
	store *Store
}

func NewJournal(s *Store) *Journal {
	return &Journal{store: s}
}

func (j *Journal) Publish(e session.Event) {
	var err error
	switch e.Type {
	case session.EventAgentJoined:
		err = j.store.SaveSession(e.SessionID)
		if err == nil {
			err = j.store.SaveAgent(&Agent{SessionID: e.SessionID, AgentID: e.AgentID, Role: e.Role})
		}
	case session.EventRequestCreated:
		err = j.store.SetSessionRequest(e.SessionID, e.RequestID, e.Message)
	}
	if err == nil {
		err = j.store.AppendEvent(&Event{
			SessionID: e.SessionID,
			Type:      string(e.Type),
			AgentID:   e.AgentID,
			RequestID: e.RequestID,
			CreatedAt: e.Timestamp,
		})
	}
	if err != nil {
		slog.Warn("journal write failed", "session", e.SessionID, "event", e.Type, "error", err)
	}
}

// RecordLine stores a line sent to an agent.
func (j *Journal) RecordLine(sessionID string, agentID int, line string) {
	if err := j.store.SaveLine(&Line{SessionID: sessionID, AgentID: agentID, Content: line}); err != nil {
		slog.Warn("journal line write failed", "session", sessionID, "agent", agentID, "error", err)
	}
}
