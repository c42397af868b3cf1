package store

import (
	"database/sql"
	"fmt"
	"time"
)

type Agent struct {
	SessionID  string     `json:"session_id"`
	AgentID    int        `json:"agent_id"`
	Role       string     `json:"role"`
	RemoteAddr string     `json:"remote_addr,omitempty"`
	Outcome    string     `json:"outcome,omitempty"`
	JoinedAt   time.Time  `json:"joined_at"`
	LeftAt     *time.Time `json:"left_at,omitempty"`
}

func (s *Store) SaveAgent(a *Agent) error {
	_, err := s.db.Exec(`
		INSERT INTO agents (session_id, agent_id, role, remote_addr)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(session_id, agent_id) DO UPDATE SET
			role = excluded.role,
			remote_addr = COALESCE(excluded.remote_addr, agents.remote_addr)`,
		a.SessionID, a.AgentID, a.Role, nullString(a.RemoteAddr))
	if err != nil {
		return fmt.Errorf("save agent: %w", err)
	}
	return nil
}

// AgentLeft records how an agent's worker finished.
func (s *Store) AgentLeft(sessionID string, agentID int, outcome string) error {
	_, err := s.db.Exec(`UPDATE agents SET outcome = ?, left_at = CURRENT_TIMESTAMP WHERE session_id = ? AND agent_id = ?`,
		outcome, sessionID, agentID)
	if err != nil {
		return fmt.Errorf("agent left: %w", err)
	}
	return nil
}

func (s *Store) ListAgents(sessionID string) ([]Agent, error) {
	rows, err := s.db.Query(`
		SELECT session_id, agent_id, role, remote_addr, outcome, joined_at, left_at
		FROM agents WHERE session_id = ? ORDER BY agent_id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var agents []Agent
	for rows.Next() {
		var a Agent
		var remote, outcome sql.NullString
		if err := rows.Scan(&a.SessionID, &a.AgentID, &a.Role, &remote, &outcome, &a.JoinedAt, &a.LeftAt); err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		a.RemoteAddr = remote.String
		a.Outcome = outcome.String
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
