package natsbus

import (
	"log/slog"

	"github.com/mtzanidakis/quorum/internal/session"
)

// LineEvent mirrors a protocol line sent to an agent.
type LineEvent struct {
	SessionID string `json:"session_id"`
	AgentID   int    `json:"agent_id"`
	Line      string `json:"line"`
}

// Publisher forwards session transitions and agent lines to the bus.
type Publisher struct {
	client *Client
}

func NewPublisher(c *Client) *Publisher {
	return &Publisher{client: c}
}

func (p *Publisher) Publish(e session.Event) {
	if err := p.client.PublishJSON(TopicSessionEvents(e.SessionID), e); err != nil {
		slog.Warn("publish session event failed", "session", e.SessionID, "event", e.Type, "error", err)
	}
}

func (p *Publisher) RecordLine(sessionID string, agentID int, line string) {
	ev := LineEvent{SessionID: sessionID, AgentID: agentID, Line: line}
	if err := p.client.PublishJSON(TopicAgentLines(sessionID, agentID), ev); err != nil {
		slog.Warn("publish agent line failed", "session", sessionID, "agent", agentID, "error", err)
	}
}
