package server

import (
	"bufio"
	"bytes"
	"context"
	"log/slog"
	"net"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mtzanidakis/quorum/internal/agent"
	"github.com/mtzanidakis/quorum/internal/config"
	"github.com/mtzanidakis/quorum/internal/session"
	"github.com/mtzanidakis/quorum/internal/store"
)

func blockUntil(t *testing.T, fake *clockwork.FakeClock, n int) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, fake.BlockUntilContext(ctx, n), "waiting for %d timers", n)
}

type testServer struct {
	srv   *Server
	reg   *session.Registry
	clock *clockwork.FakeClock
	store *store.Store
	done  chan error
}

func newTestServer(t *testing.T, drawer agent.Drawer) *testServer {
	t.Helper()

	st, err := store.New(config.StoreConfig{Path: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	fake := clockwork.NewFakeClockAt(time.Unix(0, 0))
	reg := session.NewRegistry(store.NewJournal(st))
	srv := New(reg, config.ServerConfig{Port: 0}, agent.Config{
		Delay:       10 * time.Second,
		Timeout:     10 * time.Second,
		Probability: 0.3,
	}, WithClock(fake), WithDrawer(drawer), WithStore(st), WithLineSink(store.NewJournal(st)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()

	select {
	case <-srv.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("server did not start")
	}

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})

	return &testServer{srv: srv, reg: reg, clock: fake, store: st, done: done}
}

type client struct {
	t      *testing.T
	conn   net.Conn
	reader *bufio.Reader
}

// dial connects and waits for the welcome line so join order is fixed.
func (ts *testServer) dial(t *testing.T) (*client, string) {
	t.Helper()
	conn, err := net.Dial("tcp", ts.srv.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	c := &client{t: t, conn: conn, reader: bufio.NewReader(conn)}
	return c, c.line()
}

func (c *client) line() string {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	line, err := c.reader.ReadString('\n')
	require.NoError(c.t, err)
	return line[:len(line)-1]
}

func TestServerQuorumMet(t *testing.T) {
	ts := newTestServer(t, agent.NewSequenceDrawer(0.1))

	req, welcome := ts.dial(t)
	assert.Equal(t, "WELCOME Agent 1. Waiting to send help request after 10 seconds.", welcome)
	h2, welcome := ts.dial(t)
	assert.Equal(t, "WELCOME Agent 2. Waiting for help request.", welcome)
	h3, welcome := ts.dial(t)
	assert.Equal(t, "WELCOME Agent 3. Waiting for help request.", welcome)

	blockUntil(t, ts.clock, 1)
	ts.clock.Advance(10 * time.Second)

	assert.Equal(t, "Help request 0 sent by Agent 1.", req.line())
	assert.Equal(t, "Agent 2 responded to help request 0.", h2.line())
	assert.Equal(t, "Agent 3 responded to help request 0.", h3.line())

	got := []string{req.line(), req.line()}
	assert.ElementsMatch(t, []string{
		"Received support from Agent 2.",
		"Received support from Agent 3.",
	}, got)
	assert.Equal(t, "Help request 0 satisfied. Ending program successfully.", req.line())

	sess := ts.reg.Current()
	assert.True(t, sess.Ended())

	require.Eventually(t, func() bool {
		run, err := ts.store.GetSession(sess.ID())
		return err == nil && run != nil && run.Status == "satisfied"
	}, 2*time.Second, 10*time.Millisecond)
	run, _ := ts.store.GetSession(sess.ID())
	assert.Equal(t, 2, run.Supports)

	lines, err := ts.store.GetLines(sess.ID(), 1, 10)
	require.NoError(t, err)
	assert.Len(t, lines, 5)
}

func TestServerExpiresWithoutResponses(t *testing.T) {
	ts := newTestServer(t, agent.NewSequenceDrawer(0.3))

	req, _ := ts.dial(t)
	h2, _ := ts.dial(t)

	blockUntil(t, ts.clock, 1)
	ts.clock.Advance(10 * time.Second)

	assert.Equal(t, "Help request 0 sent by Agent 1.", req.line())
	assert.Equal(t, "Agent 2 did not respond.", h2.line())

	blockUntil(t, ts.clock, 1)
	ts.clock.Advance(10 * time.Second)

	assert.Equal(t, "Help request 0 expired with 0 supports. Ending program unsuccessfully.", req.line())
}

func TestServerHelperDisconnect(t *testing.T) {
	ts := newTestServer(t, agent.NewSequenceDrawer(0))

	req, _ := ts.dial(t)
	h2, _ := ts.dial(t)
	require.Eventually(t, func() bool { return ts.srv.Tracker().Len() == 2 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, h2.conn.Close())
	require.Eventually(t, func() bool { return ts.srv.Tracker().Len() == 1 }, 2*time.Second, 10*time.Millisecond)

	blockUntil(t, ts.clock, 1)
	ts.clock.Advance(10 * time.Second)
	assert.Equal(t, "Help request 0 sent by Agent 1.", req.line())

	blockUntil(t, ts.clock, 1)
	ts.clock.Advance(10 * time.Second)
	assert.Equal(t, "Help request 0 expired with 0 supports. Ending program unsuccessfully.", req.line())

	snap := ts.reg.Current().Snapshot()
	require.NotNil(t, snap.Request)
	assert.Zero(t, snap.Request.Received)

	require.Eventually(t, func() bool {
		agents, err := ts.store.ListAgents(snap.ID)
		return err == nil && len(agents) == 2 && agents[1].Outcome == agent.OutcomeCancelled.String()
	}, 2*time.Second, 10*time.Millisecond)
}

func TestServerLateJoinerAfterEnd(t *testing.T) {
	ts := newTestServer(t, agent.NewSequenceDrawer(0.1))

	req, _ := ts.dial(t)
	ts.dial(t)
	ts.dial(t)
	blockUntil(t, ts.clock, 1)
	ts.clock.Advance(10 * time.Second)
	for i := 0; i < 4; i++ {
		req.line()
	}
	require.True(t, ts.reg.Current().Ended())

	late, welcome := ts.dial(t)
	assert.Equal(t, "WELCOME Agent 4. Waiting for help request.", welcome)

	// The session is over, so the worker retires and the connection closes.
	require.NoError(t, late.conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, err := late.reader.ReadString('\n')
	assert.Error(t, err)
}

func TestServerStartTwiceFails(t *testing.T) {
	ts := newTestServer(t, agent.NewSequenceDrawer(0))
	assert.ErrorIs(t, ts.srv.Start(context.Background()), ErrAlreadyStarted)
}

func TestServerHalfClosedHelperCountsAsGone(t *testing.T) {
	ts := newTestServer(t, agent.NewSequenceDrawer(0))

	req, _ := ts.dial(t)
	h2, _ := ts.dial(t)
	require.Eventually(t, func() bool { return ts.srv.Tracker().Len() == 2 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, h2.conn.(*net.TCPConn).CloseWrite())
	require.Eventually(t, func() bool { return ts.srv.Tracker().Len() == 1 }, 2*time.Second, 10*time.Millisecond)

	blockUntil(t, ts.clock, 1)
	ts.clock.Advance(10 * time.Second)
	assert.Equal(t, "Help request 0 sent by Agent 1.", req.line())

	blockUntil(t, ts.clock, 1)
	ts.clock.Advance(10 * time.Second)
	assert.Equal(t, "Help request 0 expired with 0 supports. Ending program unsuccessfully.", req.line())
	assert.Zero(t, ts.reg.Current().Snapshot().Request.Received)
}

type logBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *logBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *logBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func captureLogs(t *testing.T) *logBuffer {
	t.Helper()
	logs := &logBuffer{}
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(logs, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return logs
}

func TestServerWarnsWhenRequesterLeaves(t *testing.T) {
	logs := captureLogs(t)
	ts := newTestServer(t, agent.NewSequenceDrawer(0))

	req, _ := ts.dial(t)
	ts.dial(t)
	require.Eventually(t, func() bool { return ts.srv.Tracker().Len() == 2 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, req.conn.Close())
	require.Eventually(t, func() bool {
		return strings.Contains(logs.String(), "requester left before the session ended")
	}, 2*time.Second, 10*time.Millisecond)
	assert.False(t, ts.reg.Current().Ended())
}

func TestOrphaned(t *testing.T) {
	reg := session.NewRegistry(nil)
	sess, requester := reg.Join()
	_, helper := reg.Join()

	assert.True(t, orphaned(sess, requester, agent.OutcomeCancelled))
	assert.False(t, orphaned(sess, helper, agent.OutcomeCancelled))
	assert.False(t, orphaned(sess, requester, agent.OutcomeExpired))

	sess.EndSession()
	assert.False(t, orphaned(sess, requester, agent.OutcomeCancelled))
}
