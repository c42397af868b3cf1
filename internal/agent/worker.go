package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mtzanidakis/quorum/internal/clock"
	"github.com/mtzanidakis/quorum/internal/session"
)

// Conn is the line-oriented stream an agent is connected through.
type Conn interface {
	Send(line string) error
}

type Outcome int

const (
	OutcomeNone Outcome = iota
	OutcomeSatisfied
	OutcomeExpired
	OutcomeResponded
	OutcomeNotResponded
	OutcomeSessionEnded
	OutcomeCancelled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSatisfied:
		return "satisfied"
	case OutcomeExpired:
		return "expired"
	case OutcomeResponded:
		return "responded"
	case OutcomeNotResponded:
		return "not_responded"
	case OutcomeSessionEnded:
		return "session_ended"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return "none"
	}
}

type Config struct {
	Delay       time.Duration
	Timeout     time.Duration
	Probability float64
	Message     string
}

// DefaultConfig mirrors the classic demo: ask after 10s, wait 10s more,
// each helper answers with probability 0.3.
func DefaultConfig() Config {
	return Config{
		Delay:       10 * time.Second,
		Timeout:     10 * time.Second,
		Probability: 0.3,
		Message:     "Help Needed!",
	}
}

// Worker runs one agent's protocol against the shared session.
type Worker struct {
	agent   session.Agent
	session *session.Session
	conn    Conn
	clock   clock.Clock
	drawer  Drawer
	cfg     Config
}

func NewWorker(s *session.Session, a session.Agent, conn Conn, clk clock.Clock, drawer Drawer, cfg Config) *Worker {
	if clk == nil {
		clk = clock.Real()
	}
	if drawer == nil {
		drawer = NewRandomDrawer()
	}
	if cfg.Message == "" {
		cfg.Message = DefaultConfig().Message
	}
	return &Worker{
		agent:   a,
		session: s,
		conn:    conn,
		clock:   clk,
		drawer:  drawer,
		cfg:     cfg,
	}
}

func (w *Worker) Agent() session.Agent {
	return w.agent
}

// Run drives the agent to a terminal state. Cancelling ctx (for example on
// disconnect) stops the worker without recording anything on its behalf.
func (w *Worker) Run(ctx context.Context) (Outcome, error) {
	switch w.agent.Role {
	case session.RoleRequester:
		return w.runRequester(ctx)
	case session.RoleHelper:
		return w.runHelper(ctx)
	default:
		return OutcomeNone, fmt.Errorf("unknown role %d for agent %d", w.agent.Role, w.agent.ID)
	}
}

func (w *Worker) runRequester(ctx context.Context) (Outcome, error) {
	id := w.agent.ID
	if err := w.conn.Send(welcomeRequester(id, w.cfg.Delay)); err != nil {
		return OutcomeNone, fmt.Errorf("send welcome: %w", err)
	}
	w.session.SetRequester(id)

	slog.Info("requester waiting before help request", "agent", id, "delay", w.cfg.Delay)
	if err := clock.Sleep(ctx, w.clock, w.cfg.Delay); err != nil {
		return OutcomeCancelled, err
	}

	reqID, err := w.session.NewHelpRequest(w.cfg.Message)
	if err != nil {
		return OutcomeNone, fmt.Errorf("new help request: %w", err)
	}
	if err := w.conn.Send(requestSent(reqID, id)); err != nil {
		return OutcomeNone, fmt.Errorf("send request notice: %w", err)
	}
	slog.Info("help request sent", "agent", id, "request", reqID, "message", w.cfg.Message)

	received, outcome, err := w.awaitResponses(ctx, reqID)
	if err != nil {
		return outcome, err
	}

	w.session.EndSession()

	var line string
	if outcome == OutcomeSatisfied {
		line = requestSatisfied(reqID)
		slog.Info("help request satisfied", "agent", id, "request", reqID)
	} else {
		line = requestExpired(reqID, received)
		slog.Info("help request expired", "agent", id, "request", reqID, "supports", received)
	}
	if err := w.conn.Send(line); err != nil {
		return outcome, fmt.Errorf("send outcome: %w", err)
	}
	return outcome, nil
}

// awaitResponses consumes responses until the quorum is met or the overall
// timeout elapses. Responses recorded before the deadline fired still count.
func (w *Worker) awaitResponses(ctx context.Context, reqID int) (int, Outcome, error) {
	deadline := w.clock.After(w.cfg.Timeout)
	received := 0

	for {
		changed := w.session.Changed()
		var err error
		received, err = w.drain(reqID, received)
		if err != nil {
			return received, OutcomeNone, err
		}
		if received >= session.Quorum {
			return received, OutcomeSatisfied, nil
		}
		if w.session.Ended() {
			return received, OutcomeExpired, nil
		}

		select {
		case <-changed:
		case <-deadline:
			received, err = w.drain(reqID, received)
			if err != nil {
				return received, OutcomeNone, err
			}
			if received >= session.Quorum {
				return received, OutcomeSatisfied, nil
			}
			return received, OutcomeExpired, nil
		case <-ctx.Done():
			return received, OutcomeCancelled, ctx.Err()
		}
	}
}

// drain reports buffered responses to the agent until none are left or the
// quorum is reached, returning the new delivery count.
func (w *Worker) drain(reqID, received int) (int, error) {
	for received < session.Quorum {
		agentID, ok := w.session.GetResponse(reqID)
		if !ok {
			break
		}
		received++
		slog.Info("received support", "agent", w.agent.ID, "from", agentID, "request", reqID)
		if err := w.conn.Send(receivedSupport(agentID)); err != nil {
			return received, fmt.Errorf("send support notice: %w", err)
		}
	}
	return received, nil
}

func (w *Worker) runHelper(ctx context.Context) (Outcome, error) {
	id := w.agent.ID
	if err := w.conn.Send(welcomeHelper(id)); err != nil {
		return OutcomeNone, fmt.Errorf("send welcome: %w", err)
	}

	if err := w.awaitActiveRequest(ctx); err != nil {
		if errors.Is(err, errSessionEnded) {
			slog.Info("session ended before help request", "agent", id)
			return OutcomeSessionEnded, nil
		}
		return OutcomeCancelled, err
	}

	if draw := w.drawer.Draw(); draw >= w.cfg.Probability {
		slog.Info("helper declined", "agent", id, "draw", draw)
		return OutcomeNotResponded, w.sendNotResponded()
	}

	reqID, ok := w.session.RespondToHelp(id)
	if !ok {
		slog.Info("help request closed before response", "agent", id)
		return OutcomeNotResponded, w.sendNotResponded()
	}
	slog.Info("helper responded", "agent", id, "request", reqID)
	if err := w.conn.Send(helperResponded(id, reqID)); err != nil {
		return OutcomeResponded, fmt.Errorf("send response notice: %w", err)
	}
	return OutcomeResponded, nil
}

var errSessionEnded = errors.New("session ended")

func (w *Worker) awaitActiveRequest(ctx context.Context) error {
	for {
		changed := w.session.Changed()
		if w.session.IsHelpRequestActive() {
			// A disconnect that raced the activation must not turn into a response.
			return ctx.Err()
		}
		if w.session.Ended() {
			return errSessionEnded
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (w *Worker) sendNotResponded() error {
	if err := w.conn.Send(helperNotResponded(w.agent.ID)); err != nil {
		return fmt.Errorf("send decline notice: %w", err)
	}
	return nil
}
