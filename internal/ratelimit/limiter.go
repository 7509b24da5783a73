// Package ratelimit provides client-side throttling for calls to the music API.
// The provider enforces two quotas per route at once, a per-second burst and a
// per-minute sustained rate, and Gate tracks both so that callers learn how
// long to wait before their request would be accepted.
package ratelimit

import "time"

// Limiter defines the admission contract used by the client. Implementations
// must be safe for concurrent use.
type Limiter interface {
	// CheckAdmission counts one call attempt and reports whether the caller
	// must wait, and for how long, before sending it.
	CheckAdmission() Verdict

	// Wait performs a single admission check and blocks the calling
	// goroutine for the computed wait, if any.
	Wait()

	// WaitAsync performs a single admission check and returns a channel that
	// is closed once the computed wait has elapsed.
	WaitAsync() <-chan struct{}

	// Limits returns the quotas enforced by the limiter.
	Limits() Limits
}

// Verdict is the outcome of one admission check.
type Verdict struct {
	MustWait bool          // Caller has to wait before sending the request
	Wait     time.Duration // Remaining time until the blocking window resets
	Window   Window        // Window that produced the verdict (meaningful only when MustWait)
}

// Window identifies one of the two counting windows of a gate.
type Window int

const (
	WindowSecond Window = iota
	WindowMinute

	windowCount
)

// Duration returns the fixed length of the window.
func (w Window) Duration() time.Duration {
	switch w {
	case WindowSecond:
		return time.Second
	case WindowMinute:
		return time.Minute
	default:
		return 0
	}
}

func (w Window) String() string {
	switch w {
	case WindowSecond:
		return "second"
	case WindowMinute:
		return "minute"
	default:
		return "unknown"
	}
}
