package mission

import (
	"context"
	"fmt"
	"math"

	"github.com/coop-transport/controller/pkg/fsm"
	"github.com/coop-transport/controller/pkg/geometry"
)

// DockingApproach is the default fine approach. From a staging point it
// drives straight at the nearest box face until the robot rim is ContactGap
// away from it, then turns to face the box centre.
type DockingApproach struct {
	driver

	Length      float64
	Width       float64
	RobotRadius float64
	ContactGap  float64
}

// ContactPoint returns the docking target for a robot at (x, y): the point
// on the normal of the nearest face at half-extent + radius + gap from the
// box centre.
func (a *DockingApproach) ContactPoint(box geometry.BoxPose, x, y float64) geometry.Waypoint {
	rect := geometry.Rectangular{Length: a.Length, Width: a.Width, X: box.X, Y: box.Y, Heading: box.Heading}
	lx, ly := rect.ToLocal(x, y)

	reach := a.RobotRadius + a.ContactGap
	var tx, ty float64
	if math.Abs(lx)/(a.Length/2) >= math.Abs(ly)/(a.Width/2) {
		tx = math.Copysign(a.Length/2+reach, lx)
	} else {
		ty = math.Copysign(a.Width/2+reach, ly)
	}
	wx, wy := rect.ToWorld(tx, ty)
	return geometry.Waypoint{X: wx, Y: wy}
}

// Execute implements fsm.State.
func (a *DockingApproach) Execute(ctx context.Context) (fsm.Outcome, error) {
	box, ok := a.poses.Box()
	if !ok {
		return OutcomeAttachmentFailed, fmt.Errorf("fine approach: no box pose")
	}
	pose, ok := a.poses.Robot(a.index)
	if !ok {
		return OutcomeAttachmentFailed, fmt.Errorf("fine approach: no pose for robot %d", a.index)
	}

	contact := a.ContactPoint(box, pose.X, pose.Y)
	centre := geometry.Waypoint{X: box.X, Y: box.Y}
	a.logger.Infof("Docking at (%.3f, %.3f)", contact.X, contact.Y)

	for _, step := range []func(context.Context) error{
		func(ctx context.Context) error { return a.align(ctx, contact) },
		func(ctx context.Context) error { return a.goTo(ctx, contact) },
		func(ctx context.Context) error { return a.align(ctx, centre) },
	} {
		if outcome, err := phaseOutcome(step(ctx), OutcomeAttachmentOK, OutcomeAttachmentFailed); err != nil {
			return outcome, err
		}
	}
	return OutcomeAttachmentOK, nil
}
