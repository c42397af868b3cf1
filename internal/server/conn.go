package server

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/mtzanidakis/quorum/internal/agent"
)

const writeTimeout = 10 * time.Second

// lineConn writes newline-terminated UTF-8 lines to an agent connection and
// mirrors each line to the configured sinks.
type lineConn struct {
	conn      net.Conn
	sessionID string
	agentID   int
	sinks     []LineSink
	tracker   *agent.Tracker

	mu sync.Mutex
}

func (c *lineConn) Send(line string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if _, err := c.conn.Write([]byte(line + "\n")); err != nil {
		return err
	}

	for _, sink := range c.sinks {
		sink.RecordLine(c.sessionID, c.agentID, line)
	}
	if c.tracker != nil {
		c.tracker.Touch(c.agentID, "")
	}
	return nil
}
