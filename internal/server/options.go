package server

import (
	"github.com/mtzanidakis/quorum/internal/agent"
	"github.com/mtzanidakis/quorum/internal/clock"
	"github.com/mtzanidakis/quorum/internal/store"
)

// LineSink observes every line sent to an agent.
type LineSink interface {
	RecordLine(sessionID string, agentID int, line string)
}

type Option func(*Server)

func WithClock(c clock.Clock) Option {
	return func(s *Server) { s.clock = c }
}

func WithDrawer(d agent.Drawer) Option {
	return func(s *Server) { s.drawer = d }
}

func WithStore(st *store.Store) Option {
	return func(s *Server) { s.store = st }
}

func WithLineSink(sink LineSink) Option {
	return func(s *Server) {
		if sink != nil {
			s.sinks = append(s.sinks, sink)
		}
	}
}

func WithTracker(t *agent.Tracker) Option {
	return func(s *Server) { s.tracker = t }
}
