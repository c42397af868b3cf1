// Package clock abstracts bounded waiting so agent protocols can be driven by
// a fake clock in tests.
package clock

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
)

// Clock is the part of clockwork.Clock the agent protocols wait on. Both
// clockwork's real and fake clocks satisfy it.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// Real returns the wall clock.
func Real() Clock {
	return clockwork.NewRealClock()
}

// Sleep blocks for d on clk, returning early with ctx.Err() if ctx is
// cancelled first.
func Sleep(ctx context.Context, clk Clock, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-clk.After(d):
		return nil
	}
}
