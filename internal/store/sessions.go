package store

import (
	"database/sql"
	"fmt"
	"time"
)

type SessionRun struct {
	ID        string     `json:"id"`
	Status    string     `json:"status"`
	RequestID *int64     `json:"request_id,omitempty"`
	Message   string     `json:"message,omitempty"`
	Supports  int        `json:"supports"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

func (s *Store) SaveSession(id string) error {
	_, err := s.db.Exec(`INSERT INTO sessions (id) VALUES (?) ON CONFLICT(id) DO NOTHING`, id)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// SetSessionRequest marks the session as having an open request. A session
// that already finished keeps its outcome.
func (s *Store) SetSessionRequest(id string, requestID int, message string) error {
	_, err := s.db.Exec(`UPDATE sessions SET status = 'requested', request_id = ?, message = ? WHERE id = ? AND ended_at IS NULL`,
		requestID, message, id)
	if err != nil {
		return fmt.Errorf("set session request: %w", err)
	}
	return nil
}

// FinishSession records the final outcome reported to the requester.
func (s *Store) FinishSession(id, status string, supports int) error {
	_, err := s.db.Exec(`
		UPDATE sessions SET status = ?, supports = ?, ended_at = COALESCE(ended_at, CURRENT_TIMESTAMP)
		WHERE id = ?`, status, supports, id)
	if err != nil {
		return fmt.Errorf("finish session: %w", err)
	}
	return nil
}

func (s *Store) GetSession(id string) (*SessionRun, error) {
	r := &SessionRun{}
	var message sql.NullString
	err := s.db.QueryRow(`SELECT id, status, request_id, message, supports, started_at, ended_at FROM sessions WHERE id = ?`, id).
		Scan(&r.ID, &r.Status, &r.RequestID, &message, &r.Supports, &r.StartedAt, &r.EndedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	r.Message = message.String
	return r, nil
}
