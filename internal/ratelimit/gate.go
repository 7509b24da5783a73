package ratelimit

import (
	"fmt"
	"sync"
	"time"
)

// window is the counting state of one quota.
type window struct {
	start time.Time
	count int
}

// Gate is a dual-window rate limiter bound to one API route. Each check is
// counted as a call attempt, whether or not it is admitted, and windows are
// reset lazily by the check that observes them expired, so a Gate owns no
// goroutines and needs no teardown.
type Gate struct {
	limits Limits
	clock  Clock

	mu      sync.Mutex
	windows [windowCount]window
}

// NewGate creates a gate enforcing limits. A nil clock uses SystemClock.
func NewGate(limits Limits, clock Clock) (*Gate, error) {
	if err := limits.Validate(); err != nil {
		return nil, fmt.Errorf("invalid limits: %w", err)
	}
	if clock == nil {
		clock = SystemClock{}
	}

	g := &Gate{
		limits: limits,
		clock:  clock,
	}
	now := clock.Now()
	for i := range g.windows {
		g.windows[i].start = now
	}
	return g, nil
}

// NewGateForTier creates a gate with the quotas of tier.
func NewGateForTier(tier Tier, clock Clock) (*Gate, error) {
	limits, err := tier.Limits()
	if err != nil {
		return nil, err
	}
	return NewGate(limits, clock)
}

// NewGateForToken creates a gate with the quotas of the tier encoded in token.
func NewGateForToken(token string, clock Clock) (*Gate, error) {
	tier, err := TierFromToken(token)
	if err != nil {
		return nil, err
	}
	return NewGateForTier(tier, clock)
}

// Limits returns the quotas enforced by the gate.
func (g *Gate) Limits() Limits {
	return g.limits
}

// CheckAdmission counts one call attempt against the second window and then
// the minute window. When the second window is exceeded its verdict is
// returned immediately and the minute window is left untouched.
func (g *Gate) CheckAdmission() Verdict {
	g.mu.Lock()
	defer g.mu.Unlock()

	for w := WindowSecond; w < windowCount; w++ {
		if wait, exceeded := g.check(w); exceeded {
			return Verdict{MustWait: true, Wait: wait, Window: w}
		}
	}
	return Verdict{}
}

// check must be called with g.mu held.
func (g *Gate) check(w Window) (time.Duration, bool) {
	now := g.clock.Now()
	win := &g.windows[w]
	period := w.Duration()

	elapsed := now.Sub(win.start)
	if elapsed < 0 {
		elapsed = 0
	}
	if elapsed >= period {
		win.count = 0
		win.start = now
		elapsed = 0
	}

	win.count++
	if win.count > g.limits.limit(w) {
		return period - elapsed, true
	}
	return 0, false
}

// Wait blocks for the wait computed by a single admission check. It does not
// check again after waking; a concurrent caller may already have used the
// fresh window.
func (g *Gate) Wait() {
	v := g.CheckAdmission()
	if v.MustWait {
		g.clock.Sleep(v.Wait)
	}
}

// WaitAsync is the non-blocking form of Wait. The returned channel is closed
// once the computed wait has elapsed, or immediately when the call is
// admitted. The wait cannot be cancelled; callers race the channel against
// their own cancellation signal instead.
func (g *Gate) WaitAsync() <-chan struct{} {
	return Await(g.clock, g.CheckAdmission())
}

// Clock returns the clock the gate measures windows with.
func (g *Gate) Clock() Clock {
	return g.clock
}

// Await returns a channel that is closed once the wait of v has elapsed on
// clock, or immediately when v admits the call. The timer is registered
// before Await returns.
func Await(clock Clock, v Verdict) <-chan struct{} {
	done := make(chan struct{})
	if !v.MustWait {
		close(done)
		return done
	}

	timer := clock.After(v.Wait)
	go func() {
		<-timer
		close(done)
	}()
	return done
}
