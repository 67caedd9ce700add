package mission

import (
	"context"
	"errors"

	"github.com/coop-transport/controller/pkg/clock"
	"github.com/coop-transport/controller/pkg/fleet"
	"github.com/coop-transport/controller/pkg/fsm"
	"github.com/coop-transport/controller/pkg/geometry"
	customlog "github.com/coop-transport/controller/pkg/log"
	"github.com/coop-transport/controller/pkg/motion"
)

// containerName is the machine run once per waypoint.
const containerName = "BOX_APPROACH_CONTAINER"

// PathFollower visits the waypoints of a path in order. For every waypoint it
// runs ALIGNMENT then GO_TO_POINT in a fresh container machine.
type PathFollower struct {
	driver

	path geometry.Path
	goal geometry.Waypoint

	iterator *fsm.Iterator[geometry.Waypoint]
}

// NewPathFollower builds the follower and its machines for robot index.
func NewPathFollower(index int, poses PoseSource, sink motion.CommandSink, clk clock.Clock, logger customlog.Logger, settings Settings) *PathFollower {
	f := &PathFollower{
		driver: driver{
			index:    index,
			poses:    poses,
			sink:     sink,
			clock:    clk,
			logger:   logger,
			settings: settings,
		},
	}

	container := fsm.NewMachine(containerName, OutcomeApproachContinue, OutcomeApproachFailed)
	container.Add(StateAlignment, fsm.StateFunc(f.alignment), fsm.Transitions{
		OutcomeAlignmentOK:    StateGoToPoint,
		OutcomeApproachFailed: string(OutcomeApproachFailed),
	})
	container.Add(StateGoToPoint, fsm.StateFunc(f.goToPoint), fsm.Transitions{
		OutcomePointReached:   string(OutcomeApproachContinue),
		OutcomeApproachFailed: string(OutcomeApproachFailed),
	})

	f.iterator = fsm.NewIterator(StateBoxApproach,
		func() []geometry.Waypoint { return f.path },
		func(i int, w geometry.Waypoint) {
			f.goal = w
			f.logger.Debugf("Waypoint %d/%d: (%.3f, %.3f)", i+1, len(f.path), w.X, w.Y)
		},
		container, OutcomeApproachContinue, OutcomeApproachOK)

	return f
}

// SetPath sets the path visited by the next execution. The path is only read.
func (f *PathFollower) SetPath(path geometry.Path) {
	f.path = path
}

// State returns the follower as a state for an enclosing machine.
func (f *PathFollower) State() fsm.State {
	return f.iterator
}

// Follow visits every waypoint of path. It returns approach_ok once the path
// is consumed, immediately for an empty path.
func (f *PathFollower) Follow(ctx context.Context, path geometry.Path) (fsm.Outcome, error) {
	f.SetPath(path)
	return f.iterator.Execute(ctx)
}

// Observe registers o on the follower's machines.
func (f *PathFollower) Observe(o fsm.Observer) {
	f.iterator.Observe(o)
}

func (f *PathFollower) alignment(ctx context.Context) (fsm.Outcome, error) {
	return phaseOutcome(f.align(ctx, f.goal), OutcomeAlignmentOK, OutcomeApproachFailed)
}

func (f *PathFollower) goToPoint(ctx context.Context) (fsm.Outcome, error) {
	return phaseOutcome(f.goTo(ctx, f.goal), OutcomePointReached, OutcomeApproachFailed)
}

// phaseOutcome maps a control loop result onto state outcomes. Timeouts are
// failures of the phase; cancellation aborts the machine.
func phaseOutcome(err error, ok, failed fsm.Outcome) (fsm.Outcome, error) {
	switch {
	case err == nil:
		return ok, nil
	case errors.Is(err, fleet.ErrCoordinationTimeout):
		return failed, err
	default:
		return "", err
	}
}
