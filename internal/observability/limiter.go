package observability

import (
	"context"

	"martmusic/internal/ratelimit"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Admission outcomes recorded on ratelimit.checks.
const (
	outcomeAdmitted  = "admitted"
	outcomeThrottled = "throttled"
)

// InstrumentedLimiter wraps a ratelimit.Limiter and records every admission
// check: a counter by route, outcome and window, and a histogram of the
// waits imposed on throttled calls.
type InstrumentedLimiter struct {
	inner  ratelimit.Limiter
	clock  ratelimit.Clock
	route  string
	checks metric.Int64Counter
	waits  metric.Float64Histogram
}

// NewInstrumentedLimiter decorates inner for route. clock must be the clock
// inner measures its windows with; nil uses ratelimit.SystemClock.
func NewInstrumentedLimiter(inner ratelimit.Limiter, clock ratelimit.Clock, route string) (*InstrumentedLimiter, error) {
	if clock == nil {
		clock = ratelimit.SystemClock{}
	}
	meter := otel.Meter("martmusic/ratelimit")

	checks, err := meter.Int64Counter(
		"ratelimit.checks",
		metric.WithDescription("Number of rate limit admission checks"),
		metric.WithUnit("{check}"),
	)
	if err != nil {
		return nil, err
	}

	waits, err := meter.Float64Histogram(
		"ratelimit.wait.duration",
		metric.WithDescription("Wait imposed on throttled calls in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60),
	)
	if err != nil {
		return nil, err
	}

	return &InstrumentedLimiter{
		inner:  inner,
		clock:  clock,
		route:  route,
		checks: checks,
		waits:  waits,
	}, nil
}

// NewInstrumentedGate is NewInstrumentedLimiter for a gate, using the
// gate's own clock.
func NewInstrumentedGate(gate *ratelimit.Gate, route string) (*InstrumentedLimiter, error) {
	return NewInstrumentedLimiter(gate, gate.Clock(), route)
}

func (l *InstrumentedLimiter) CheckAdmission() ratelimit.Verdict {
	v := l.inner.CheckAdmission()

	ctx := context.Background()
	outcome, window := outcomeAdmitted, "none"
	if v.MustWait {
		outcome, window = outcomeThrottled, v.Window.String()
		l.waits.Record(ctx, v.Wait.Seconds(), metric.WithAttributes(
			attribute.String("route", l.route),
			attribute.String("window", window),
		))
	}
	l.checks.Add(ctx, 1, metric.WithAttributes(
		attribute.String("route", l.route),
		attribute.String("outcome", outcome),
		attribute.String("window", window),
	))
	return v
}

// Wait performs one instrumented check and sleeps for its wait.
func (l *InstrumentedLimiter) Wait() {
	if v := l.CheckAdmission(); v.MustWait {
		l.clock.Sleep(v.Wait)
	}
}

// WaitAsync performs one instrumented check, see ratelimit.Await.
func (l *InstrumentedLimiter) WaitAsync() <-chan struct{} {
	return ratelimit.Await(l.clock, l.CheckAdmission())
}

func (l *InstrumentedLimiter) Limits() ratelimit.Limits {
	return l.inner.Limits()
}

// Route returns the route label of the limiter.
func (l *InstrumentedLimiter) Route() string {
	return l.route
}

var _ ratelimit.Limiter = (*InstrumentedLimiter)(nil)
