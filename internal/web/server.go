package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/mtzanidakis/quorum/internal/agent"
	"github.com/mtzanidakis/quorum/internal/config"
	"github.com/mtzanidakis/quorum/internal/natsbus"
	"github.com/mtzanidakis/quorum/internal/session"
	"github.com/mtzanidakis/quorum/internal/store"
	"github.com/nats-io/nats.go"
)

type Server struct {
	registry  *session.Registry
	tracker   *agent.Tracker
	store     *store.Store
	nats      *natsbus.Client
	hub       *Hub
	cfg       config.WebConfig
	version   string
	startedAt time.Time

	mu       sync.Mutex
	started  bool
	listener net.Listener
	ready    chan struct{}
}

var ErrAlreadyStarted = errors.New("web server already started")

func NewServer(tracker *agent.Tracker, s *store.Store, client *natsbus.Client, cfg config.WebConfig, version string) *Server {
	return &Server{
		tracker:   tracker,
		store:     s,
		nats:      client,
		hub:       NewHub(),
		cfg:       cfg,
		version:   version,
		startedAt: time.Now(),
		ready:     make(chan struct{}),
	}
}

// SetRegistry sets the registry whose session is reported. It must be called
// before Start.
func (s *Server) SetRegistry(reg *session.Registry) {
	s.registry = reg
}

// Publish feeds session events straight to WebSocket clients. It is used
// when no bus is running.
func (s *Server) Publish(e session.Event) {
	data, err := json.Marshal(e)
	if err != nil {
		return
	}
	s.hub.Broadcast(Event{Type: "session_event", Payload: data})
}

func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.registerAPI(mux)
	mux.HandleFunc("/api/ws", s.handleWebSocket)
	return s.withMiddleware(mux)
}

func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.mu.Unlock()

	go s.hub.Run(ctx)

	// Subscribe to NATS events and broadcast to WebSocket
	if err := s.subscribeEvents(); err != nil {
		return err
	}

	addr := fmt.Sprintf(":%d", s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	close(s.ready)

	server := &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		server.Close()
	}()

	slog.Info("web server listening", "addr", ln.Addr().String())
	if err := server.Serve(ln); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		if strings.HasPrefix(r.URL.Path, "/api/") && r.URL.Path != "/api/ws" {
			slog.Debug("api request", "method", r.Method, "path", r.URL.Path)
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) subscribeEvents() error {
	if s.nats == nil {
		return nil
	}

	_, err := s.nats.Subscribe(natsbus.TopicEventsAll, func(msg *nats.Msg) {
		if !json.Valid(msg.Data) {
			slog.Warn("invalid NATS event payload", "subject", msg.Subject)
			return
		}
		eventType := "session_event"
		if strings.Contains(msg.Subject, ".agent.") {
			eventType = "agent_line"
		}
		s.hub.Broadcast(Event{Type: eventType, Payload: json.RawMessage(msg.Data)})
	})
	if err != nil {
		return fmt.Errorf("subscribe events: %w", err)
	}
	return nil
}
