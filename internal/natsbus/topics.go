package natsbus

import "fmt"

// Topic patterns for NATS pub/sub communication.

func TopicSessionEvents(sessionID string) string {
	return fmt.Sprintf("session.%s.events", sessionID)
}

func TopicAgentLines(sessionID string, agentID int) string {
	return fmt.Sprintf("session.%s.agent.%d", sessionID, agentID)
}

// TopicSession matches every event and line of one session.
func TopicSession(sessionID string) string {
	return fmt.Sprintf("session.%s.>", sessionID)
}

const TopicEventsAll = "session.>"
