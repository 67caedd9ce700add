package mission

import (
	"context"
	"fmt"
	"time"

	"github.com/coop-transport/controller/pkg/clock"
	"github.com/coop-transport/controller/pkg/fleet"
	"github.com/coop-transport/controller/pkg/fsm"
	customlog "github.com/coop-transport/controller/pkg/log"
)

// AttachedNotifier tells the carry-phase controller that a robot holds the
// box.
type AttachedNotifier interface {
	NotifyAttached(ctx context.Context, status fleet.AttachedStatus) error
}

// AttachedNotifierFunc adapts a function to AttachedNotifier.
type AttachedNotifierFunc func(ctx context.Context, status fleet.AttachedStatus) error

// NotifyAttached calls f.
func (f AttachedNotifierFunc) NotifyAttached(ctx context.Context, status fleet.AttachedStatus) error {
	return f(ctx, status)
}

// CarryHandoff is the default MOVE_BOX state. It reports the robot as
// attached and waits for the carry controller's verdict.
type CarryHandoff struct {
	RobotIndex int
	Notifier   AttachedNotifier
	Results    <-chan fleet.CarryResult
	Clock      clock.Clock
	PollRate   float64
	Timeout    time.Duration
	Logger     customlog.Logger
}

// Execute implements fsm.State.
func (h *CarryHandoff) Execute(ctx context.Context) (fsm.Outcome, error) {
	start := h.Clock.Now()
	status := fleet.AttachedStatus{RobotID: h.RobotIndex, TimestampNs: start.UnixNano()}
	if err := h.Notifier.NotifyAttached(ctx, status); err != nil {
		return OutcomeTransportFailed, fmt.Errorf("notifying carry controller: %w", err)
	}
	h.Logger.Infof("Attached, waiting for carry result")

	rate := h.Clock.NewRate(h.PollRate)
	for {
		select {
		case result := <-h.Results:
			if !result.For(h.RobotIndex) {
				continue
			}
			if !result.OK {
				return OutcomeTransportFailed, fmt.Errorf("carry controller reported failure: %s", result.Reason)
			}
			h.Logger.Infof("Carry phase completed")
			return OutcomeTransportOK, nil
		default:
		}

		if h.Timeout > 0 {
			if elapsed := h.Clock.Now().Sub(start); elapsed >= h.Timeout {
				return OutcomeTransportFailed, &fleet.CoordinationTimeout{
					Phase:   "carry",
					RobotID: h.RobotIndex,
					Elapsed: elapsed,
					Detail:  "no carry result received",
				}
			}
		}
		if err := rate.Sleep(ctx); err != nil {
			return "", err
		}
	}
}
