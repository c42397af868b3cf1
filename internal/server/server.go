package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/mtzanidakis/quorum/internal/agent"
	"github.com/mtzanidakis/quorum/internal/clock"
	"github.com/mtzanidakis/quorum/internal/config"
	"github.com/mtzanidakis/quorum/internal/session"
	"github.com/mtzanidakis/quorum/internal/store"
)

// Server accepts agent connections on a single TCP port and runs one worker
// per connection against the registry's shared session.
type Server struct {
	registry  *session.Registry
	tracker   *agent.Tracker
	store     *store.Store
	sinks     []LineSink
	clock     clock.Clock
	drawer    agent.Drawer
	cfg       config.ServerConfig
	workerCfg agent.Config

	mu       sync.Mutex
	started  bool
	listener net.Listener
	ready    chan struct{}
	wg       sync.WaitGroup
}

// ErrAlreadyStarted is returned by a second call to Start.
var ErrAlreadyStarted = errors.New("server already started")

func New(reg *session.Registry, cfg config.ServerConfig, workerCfg agent.Config, opts ...Option) *Server {
	s := &Server{
		registry:  reg,
		cfg:       cfg,
		workerCfg: workerCfg,
		clock:     clock.Real(),
		drawer:    agent.NewRandomDrawer(),
		ready:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.tracker == nil {
		s.tracker = agent.NewTracker()
	}
	return s
}

// Ready is closed once the listener is accepting connections.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the listening address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) Tracker() *agent.Tracker {
	return s.tracker
}

// Start listens until ctx is cancelled, then waits for connected workers to
// return. A Server can be started once.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.mu.Unlock()

	addr := fmt.Sprintf(":%d", s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	close(s.ready)

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	slog.Info("agent server listening", "addr", ln.Addr().String())
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			slog.Warn("accept failed", "error", err)
			continue
		}
		s.wg.Add(1)
		go s.handle(ctx, conn)
	}

	s.wg.Wait()
	slog.Info("agent server stopped")
	return nil
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	remote := conn.RemoteAddr().String()
	slog.Info("agent connected", "remote", remote)

	sess, a := s.registry.Join()
	s.tracker.Set(a, remote)
	defer s.tracker.Remove(a.ID)
	if s.store != nil {
		if err := s.store.SaveAgent(&store.Agent{SessionID: sess.ID(), AgentID: a.ID, Role: a.Role.String(), RemoteAddr: remote}); err != nil {
			slog.Warn("record agent failed", "agent", a.ID, "error", err)
		}
	}

	wctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Agents send nothing the session parses; reading only detects disconnects.
	// EOF counts as a disconnect, so a client that half-closes its write side
	// is treated as gone even though it could still read.
	go func() {
		_, _ = io.Copy(io.Discard, conn)
		cancel()
	}()

	defer func() {
		if r := recover(); r != nil {
			slog.Error("agent worker panicked", "agent", a.ID, "panic", r)
		}
	}()

	lc := &lineConn{
		conn:      conn,
		sessionID: sess.ID(),
		agentID:   a.ID,
		sinks:     s.sinks,
		tracker:   s.tracker,
	}
	w := agent.NewWorker(sess, a, lc, s.clock, s.drawer, s.workerCfg)
	outcome, err := w.Run(wctx)
	s.tracker.Touch(a.ID, outcome.String())
	if ctx.Err() == nil && orphaned(sess, a, outcome) {
		slog.Warn("requester left before the session ended; helpers stay parked",
			"session", sess.ID(), "agent", a.ID, "helpers", len(sess.Agents())-1)
	}

	switch {
	case errors.Is(err, context.Canceled):
		slog.Info("agent worker cancelled", "agent", a.ID, "role", a.Role, "outcome", outcome)
	case err != nil:
		slog.Warn("agent worker failed", "agent", a.ID, "role", a.Role, "outcome", outcome, "error", err)
	default:
		slog.Info("agent worker finished", "agent", a.ID, "role", a.Role, "outcome", outcome)
	}
	s.record(sess, a, outcome)

	slog.Info("agent disconnected", "agent", a.ID, "remote", remote)
}

func (s *Server) record(sess *session.Session, a session.Agent, outcome agent.Outcome) {
	if s.store == nil {
		return
	}
	if err := s.store.AgentLeft(sess.ID(), a.ID, outcome.String()); err != nil {
		slog.Warn("record agent outcome failed", "agent", a.ID, "error", err)
	}
	if outcome != agent.OutcomeSatisfied && outcome != agent.OutcomeExpired {
		return
	}
	supports := 0
	if req := sess.Snapshot().Request; req != nil {
		supports = min(req.Delivered, session.Quorum)
	}
	if err := s.store.FinishSession(sess.ID(), outcome.String(), supports); err != nil {
		slog.Warn("record session outcome failed", "session", sess.ID(), "error", err)
	}
}

// orphaned reports whether a requester stopped without resolving the
// session. Nothing else ends it, so waiting helpers never hear back.
func orphaned(sess *session.Session, a session.Agent, outcome agent.Outcome) bool {
	return a.Role == session.RoleRequester && outcome == agent.OutcomeCancelled && !sess.Ended()
}
