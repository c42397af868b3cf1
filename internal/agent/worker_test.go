package agent

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mtzanidakis/quorum/internal/session"
)

func blockUntil(t *testing.T, fake *clockwork.FakeClock, n int) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, fake.BlockUntilContext(ctx, n), "waiting for %d timers", n)
}

const (
	testDelay   = 10 * time.Second
	testTimeout = 10 * time.Second
)

type recordingConn struct {
	mu    sync.Mutex
	lines []string
	fail  error
}

func (c *recordingConn) Send(line string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail != nil {
		return c.fail
	}
	c.lines = append(c.lines, line)
	return nil
}

func (c *recordingConn) Lines() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.lines))
	copy(out, c.lines)
	return out
}

type result struct {
	outcome Outcome
	err     error
}

type harness struct {
	t     *testing.T
	reg   *session.Registry
	clock *clockwork.FakeClock
	cfg   Config
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return &harness{
		t:     t,
		reg:   session.NewRegistry(nil),
		clock: clockwork.NewFakeClockAt(time.Unix(0, 0)),
		cfg: Config{
			Delay:       testDelay,
			Timeout:     testTimeout,
			Probability: 0.3,
			Message:     "Help Needed!",
		},
	}
}

// start joins a new agent and runs its worker in the background.
func (h *harness) start(ctx context.Context, draw float64) (*recordingConn, session.Agent, <-chan result) {
	s, a := h.reg.Join()
	conn := &recordingConn{}
	w := NewWorker(s, a, conn, h.clock, NewSequenceDrawer(draw), h.cfg)
	ch := make(chan result, 1)
	go func() {
		outcome, err := w.Run(ctx)
		ch <- result{outcome, err}
	}()
	return conn, a, ch
}

func wait(t *testing.T, ch <-chan result) result {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not finish")
		return result{}
	}
}

func TestScenarioQuorumMet(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	reqConn, _, reqDone := h.start(ctx, 0)
	h2Conn, _, h2Done := h.start(ctx, 0.1)
	h3Conn, _, h3Done := h.start(ctx, 0.2)

	blockUntil(t, h.clock, 1)
	h.clock.Advance(testDelay)

	assert.Equal(t, OutcomeResponded, wait(t, h2Done).outcome)
	assert.Equal(t, OutcomeResponded, wait(t, h3Done).outcome)

	r := wait(t, reqDone)
	require.NoError(t, r.err)
	assert.Equal(t, OutcomeSatisfied, r.outcome)

	lines := reqConn.Lines()
	require.Len(t, lines, 5)
	assert.Equal(t, "WELCOME Agent 1. Waiting to send help request after 10 seconds.", lines[0])
	assert.Equal(t, "Help request 0 sent by Agent 1.", lines[1])
	assert.ElementsMatch(t, []string{
		"Received support from Agent 2.",
		"Received support from Agent 3.",
	}, lines[2:4])
	assert.Equal(t, "Help request 0 satisfied. Ending program successfully.", lines[4])

	assert.Equal(t, []string{
		"WELCOME Agent 2. Waiting for help request.",
		"Agent 2 responded to help request 0.",
	}, h2Conn.Lines())
	assert.Equal(t, []string{
		"WELCOME Agent 3. Waiting for help request.",
		"Agent 3 responded to help request 0.",
	}, h3Conn.Lines())

	s := h.reg.Current()
	assert.True(t, s.Ended())
	_, ok := s.RespondToHelp(9)
	assert.False(t, ok, "responses after quorum must be ignored")
}

func TestScenarioNoResponseExpires(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	reqConn, _, reqDone := h.start(ctx, 0)
	helperConn, _, helperDone := h.start(ctx, 0.3)

	blockUntil(t, h.clock, 1)
	h.clock.Advance(testDelay)

	assert.Equal(t, OutcomeNotResponded, wait(t, helperDone).outcome)
	assert.Equal(t, []string{
		"WELCOME Agent 2. Waiting for help request.",
		"Agent 2 did not respond.",
	}, helperConn.Lines())

	blockUntil(t, h.clock, 1)
	h.clock.Advance(testTimeout)

	r := wait(t, reqDone)
	require.NoError(t, r.err)
	assert.Equal(t, OutcomeExpired, r.outcome)
	lines := reqConn.Lines()
	assert.Equal(t, "Help request 0 expired with 0 supports. Ending program unsuccessfully.", lines[len(lines)-1])
	assert.True(t, h.reg.Current().Ended())
}

func TestScenarioSingleResponseExpires(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	reqConn, _, reqDone := h.start(ctx, 0)
	_, _, d2 := h.start(ctx, 0.05)
	_, _, d3 := h.start(ctx, 0.9)
	_, _, d4 := h.start(ctx, 0.5)

	blockUntil(t, h.clock, 1)
	h.clock.Advance(testDelay)

	assert.Equal(t, OutcomeResponded, wait(t, d2).outcome)
	assert.Equal(t, OutcomeNotResponded, wait(t, d3).outcome)
	assert.Equal(t, OutcomeNotResponded, wait(t, d4).outcome)

	blockUntil(t, h.clock, 1)
	h.clock.Advance(testTimeout)

	r := wait(t, reqDone)
	require.NoError(t, r.err)
	assert.Equal(t, OutcomeExpired, r.outcome)
	assert.Equal(t, []string{
		"WELCOME Agent 1. Waiting to send help request after 10 seconds.",
		"Help request 0 sent by Agent 1.",
		"Received support from Agent 2.",
		"Help request 0 expired with 1 supports. Ending program unsuccessfully.",
	}, reqConn.Lines())
}

func TestScenarioHelperDisconnectsWhileWaiting(t *testing.T) {
	h := newHarness(t)

	_, _, reqDone := h.start(context.Background(), 0)
	helperCtx, disconnect := context.WithCancel(context.Background())
	_, gone, goneDone := h.start(helperCtx, 0)

	disconnect()
	r := wait(t, goneDone)
	assert.Equal(t, OutcomeCancelled, r.outcome)
	assert.ErrorIs(t, r.err, context.Canceled)

	blockUntil(t, h.clock, 1)
	h.clock.Advance(testDelay)
	blockUntil(t, h.clock, 1)
	h.clock.Advance(testTimeout)

	res := wait(t, reqDone)
	assert.Equal(t, OutcomeExpired, res.outcome)

	snap := h.reg.Current().Snapshot()
	require.NotNil(t, snap.Request)
	assert.Zero(t, snap.Request.Received)
	assert.NotContains(t, snap.Request.Pending, gone.ID)
}

func TestHelperExitsWhenSessionEnds(t *testing.T) {
	h := newHarness(t)
	s, _ := h.reg.Join()
	_, _, helperDone := h.start(context.Background(), 0)

	s.EndSession()

	r := wait(t, helperDone)
	require.NoError(t, r.err)
	assert.Equal(t, OutcomeSessionEnded, r.outcome)
}

func TestHelperLateResponseAfterEnd(t *testing.T) {
	h := newHarness(t)
	s, _ := h.reg.Join()
	_, err := s.NewHelpRequest("Help Needed!")
	require.NoError(t, err)
	s.EndSession()

	sa, a := h.reg.Join()
	conn := &recordingConn{}
	w := NewWorker(sa, a, conn, h.clock, NewSequenceDrawer(0), h.cfg)

	outcome, err := w.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeSessionEnded, outcome)
	assert.Equal(t, []string{"WELCOME Agent 2. Waiting for help request."}, conn.Lines())
}

func TestRequesterCancelledDuringDelay(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	_, _, reqDone := h.start(ctx, 0)

	blockUntil(t, h.clock, 1)
	cancel()

	r := wait(t, reqDone)
	assert.Equal(t, OutcomeCancelled, r.outcome)
	assert.ErrorIs(t, r.err, context.Canceled)

	s := h.reg.Current()
	assert.False(t, s.IsHelpRequestActive())
	assert.False(t, s.Ended(), "a disconnect does not end the session")
	assert.Equal(t, 1, s.Requester())
}

func TestRequesterSendFailure(t *testing.T) {
	h := newHarness(t)
	s, a := h.reg.Join()
	conn := &recordingConn{fail: errors.New("broken pipe")}
	w := NewWorker(s, a, conn, h.clock, nil, h.cfg)

	_, err := w.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "send welcome")
	assert.False(t, s.IsHelpRequestActive())
}

func TestWelcomeFormatsFractionalDelay(t *testing.T) {
	assert.Equal(t, "WELCOME Agent 1. Waiting to send help request after 0.5 seconds.",
		welcomeRequester(1, 500*time.Millisecond))
}

func TestSequenceDrawerCycles(t *testing.T) {
	d := NewSequenceDrawer(0.1, 0.7)
	assert.Equal(t, []float64{0.1, 0.7, 0.1}, []float64{d.Draw(), d.Draw(), d.Draw()})
	assert.Zero(t, NewSequenceDrawer().Draw())
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "satisfied", OutcomeSatisfied.String())
	assert.Equal(t, "expired", OutcomeExpired.String())
	assert.Equal(t, "none", Outcome(99).String())
}
