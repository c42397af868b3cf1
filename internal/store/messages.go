package store

import (
	"fmt"
	"time"
)

// Line is one protocol line sent to an agent.
type Line struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	AgentID   int       `json:"agent_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Store) SaveLine(l *Line) error {
	result, err := s.db.Exec(`
		INSERT INTO lines (session_id, agent_id, content)
		VALUES (?, ?, ?)`,
		l.SessionID, l.AgentID, l.Content)
	if err != nil {
		return fmt.Errorf("save line: %w", err)
	}
	l.ID, _ = result.LastInsertId()
	return nil
}

// GetLines returns the transcript for one agent in the order it was sent.
func (s *Store) GetLines(sessionID string, agentID int, limit int) ([]Line, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT id, session_id, agent_id, content, created_at
		FROM lines
		WHERE session_id = ? AND agent_id = ?
		ORDER BY id
		LIMIT ?`, sessionID, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("get lines: %w", err)
	}
	defer rows.Close()

	var lines []Line
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.ID, &l.SessionID, &l.AgentID, &l.Content, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan line: %w", err)
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}
