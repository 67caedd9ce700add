// Package fleet implements turn taking across the fleet. Robots approach the
// box one at a time in ascending id order: a robot broadcasts a
// TurnAnnouncement when its turn ends, and robot k may start once k distinct
// announcements have been received.
package fleet

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/coop-transport/controller/pkg/clock"
	customlog "github.com/coop-transport/controller/pkg/log"
)

// DefaultPollRate is the turn-wait polling frequency in Hz.
const DefaultPollRate = 1.0

// TurnAnnouncement is the broadcast fact "RobotID has taken its turn".
type TurnAnnouncement struct {
	RobotID     int   `json:"robot_id"`
	TimestampNs int64 `json:"timestamp_ns"`
}

// Broadcaster publishes announcements to every fleet member.
type Broadcaster interface {
	Announce(ctx context.Context, a TurnAnnouncement) error
}

// BroadcasterFunc adapts a function to Broadcaster.
type BroadcasterFunc func(ctx context.Context, a TurnAnnouncement) error

// Announce calls f.
func (f BroadcasterFunc) Announce(ctx context.Context, a TurnAnnouncement) error {
	return f(ctx, a)
}

// Options configures a Coordinator.
type Options struct {
	PollRate float64       // Hz
	Timeout  time.Duration // zero waits forever
}

// Coordinator owns the registry of one robot and implements the wait and
// release sides of the protocol.
type Coordinator struct {
	registry    *Registry
	broadcaster Broadcaster
	clock       clock.Clock
	logger      customlog.Logger

	mu   sync.RWMutex
	opts Options
}

// NewCoordinator creates a coordinator.
func NewCoordinator(b Broadcaster, c clock.Clock, logger customlog.Logger, opts Options) *Coordinator {
	if opts.PollRate <= 0 {
		opts.PollRate = DefaultPollRate
	}
	return &Coordinator{
		registry:    NewRegistry(),
		broadcaster: b,
		clock:       c,
		logger:      logger,
		opts:        opts,
	}
}

// Configure replaces the poll rate and timeout used by later waits.
func (c *Coordinator) Configure(opts Options) {
	if opts.PollRate <= 0 {
		opts.PollRate = DefaultPollRate
	}
	c.mu.Lock()
	c.opts = opts
	c.mu.Unlock()
}

// Registry exposes the registry for status reporting.
func (c *Coordinator) Registry() *Registry {
	return c.registry
}

// HandleAnnouncement is the receive handler. It is safe to call from any
// goroutine.
func (c *Coordinator) HandleAnnouncement(a TurnAnnouncement) {
	if c.registry.Add(a.RobotID) {
		c.logger.Infof("Registered turn announcement from robot %d (registry size %d)", a.RobotID, c.registry.Size())
	} else {
		c.logger.Debugf("Ignoring repeated turn announcement from robot %d", a.RobotID)
	}
}

// IsMyTurn reports whether myID may proceed: myID distinct announcements
// have been registered. Robot 0 is always allowed.
func (c *Coordinator) IsMyTurn(myID int) bool {
	return c.registry.Size() >= myID
}

// WaitForTurn blocks, polling at the configured rate, until it is myID's
// turn. It returns a *CoordinationTimeout when the configured timeout elapses
// on the coordinator's clock, and ctx.Err() when ctx is cancelled.
func (c *Coordinator) WaitForTurn(ctx context.Context, myID int) error {
	c.mu.RLock()
	opts := c.opts
	c.mu.RUnlock()

	start := c.clock.Now()
	rate := c.clock.NewRate(opts.PollRate)

	c.logger.Infof("Waiting for turn (need %d announcements)", myID)
	for !c.IsMyTurn(myID) {
		if opts.Timeout > 0 {
			if elapsed := c.clock.Now().Sub(start); elapsed >= opts.Timeout {
				return &CoordinationTimeout{
					Phase:   "wait for turn",
					RobotID: myID,
					Elapsed: elapsed,
					Detail:  fmt.Sprintf("registry size %d of %d", c.registry.Size(), myID),
				}
			}
		}
		if err := rate.Sleep(ctx); err != nil {
			return err
		}
	}
	c.logger.Infof("Turn acquired after %s", c.clock.Now().Sub(start))
	return nil
}

// Release broadcasts that myID has taken its turn. Call it only once
// WaitForTurn has returned nil and the turn is over; an early call lets the
// next robot start while this one is still approaching.
func (c *Coordinator) Release(ctx context.Context, myID int) error {
	a := TurnAnnouncement{RobotID: myID, TimestampNs: c.clock.Now().UnixNano()}
	if err := c.broadcaster.Announce(ctx, a); err != nil {
		return fmt.Errorf("failed to announce end of turn for robot %d: %w", myID, err)
	}
	c.logger.Infof("Released turn")
	return nil
}
