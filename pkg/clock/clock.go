// Package clock provides the fixed-rate timing used by every control loop.
// Loops take a Clock so they can run against wall time in production and a
// stepped clock in tests and simulation.
package clock

import (
	"context"
	"sync"
	"time"
)

// Rate sleeps until the next tick of a fixed-rate loop.
type Rate interface {
	Sleep(ctx context.Context) error
	Period() time.Duration
}

// Clock creates rates and reports the current time.
type Clock interface {
	Now() time.Time
	NewRate(hz float64) Rate
}

// PeriodFor converts a frequency into a tick period. Non-positive rates fall
// back to one tick per second.
func PeriodFor(hz float64) time.Duration {
	if hz <= 0 {
		return time.Second
	}
	return time.Duration(float64(time.Second) / hz)
}

// Wall is the real-time clock.
type Wall struct{}

// Now returns time.Now.
func (Wall) Now() time.Time { return time.Now() }

// NewRate returns a ticker-backed rate.
func (Wall) NewRate(hz float64) Rate {
	return &wallRate{period: PeriodFor(hz), next: time.Now()}
}

type wallRate struct {
	period time.Duration
	next   time.Time
}

func (r *wallRate) Period() time.Duration { return r.period }

// Sleep waits for the remainder of the current period. A loop that overruns
// its period is re-phased instead of bursting to catch up.
func (r *wallRate) Sleep(ctx context.Context) error {
	r.next = r.next.Add(r.period)
	wait := time.Until(r.next)
	if wait <= 0 {
		r.next = time.Now()
		return ctx.Err()
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Stepped is a manual clock: every Sleep advances time by the rate period
// and runs the registered tick hooks. It never blocks.
type Stepped struct {
	mu    sync.Mutex
	now   time.Time
	hooks []func(now time.Time, dt time.Duration)
}

// NewStepped returns a stepped clock starting at start.
func NewStepped(start time.Time) *Stepped {
	return &Stepped{now: start}
}

// OnTick registers a hook invoked after every Sleep.
func (s *Stepped) OnTick(hook func(now time.Time, dt time.Duration)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, hook)
}

// Now returns the simulated time.
func (s *Stepped) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// Advance moves the clock forward by d and runs the hooks.
func (s *Stepped) Advance(d time.Duration) {
	s.mu.Lock()
	s.now = s.now.Add(d)
	now := s.now
	hooks := append([]func(time.Time, time.Duration){}, s.hooks...)
	s.mu.Unlock()

	for _, h := range hooks {
		h(now, d)
	}
}

// NewRate returns a rate that advances this clock.
func (s *Stepped) NewRate(hz float64) Rate {
	return &steppedRate{clock: s, period: PeriodFor(hz)}
}

type steppedRate struct {
	clock  *Stepped
	period time.Duration
}

func (r *steppedRate) Period() time.Duration { return r.period }

func (r *steppedRate) Sleep(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.clock.Advance(r.period)
	return nil
}

// Scaled is a wall clock running Factor times faster than real time. Rates
// keep their nominal period in scaled time.
type Scaled struct {
	origin time.Time
	factor float64
}

// NewScaled returns a clock starting now. A factor below or equal to zero is
// treated as 1.
func NewScaled(factor float64) *Scaled {
	if factor <= 0 {
		factor = 1
	}
	return &Scaled{origin: time.Now(), factor: factor}
}

// Now returns the scaled time.
func (s *Scaled) Now() time.Time {
	return s.origin.Add(time.Duration(float64(time.Since(s.origin)) * s.factor))
}

// NewRate returns a rate whose real period is shortened by the factor.
func (s *Scaled) NewRate(hz float64) Rate {
	return &scaledRate{
		wallRate: wallRate{period: time.Duration(float64(PeriodFor(hz)) / s.factor), next: time.Now()},
		nominal:  PeriodFor(hz),
	}
}

type scaledRate struct {
	wallRate
	nominal time.Duration
}

func (r *scaledRate) Period() time.Duration { return r.nominal }
