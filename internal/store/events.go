package store

import (
	"fmt"
	"time"
)

type Event struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	Type      string    `json:"type"`
	AgentID   int       `json:"agent_id,omitempty"`
	RequestID int       `json:"request_id"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Store) AppendEvent(e *Event) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	result, err := s.db.Exec(`
		INSERT INTO events (session_id, type, agent_id, request_id, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		e.SessionID, e.Type, e.AgentID, e.RequestID, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	e.ID, _ = result.LastInsertId()
	return nil
}

func (s *Store) ListEvents(sessionID string) ([]Event, error) {
	rows, err := s.db.Query(`
		SELECT id, session_id, type, agent_id, request_id, created_at
		FROM events
		WHERE session_id = ?
		ORDER BY id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Type, &e.AgentID, &e.RequestID, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
