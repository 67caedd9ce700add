package motion

import (
	"math"

	"github.com/coop-transport/controller/pkg/geometry"
)

const (
	DefaultGoalTolerance = 0.05
	DefaultForwardGain   = 0.8
	DefaultAngularGain   = 3.0
)

// PointToPoint drives a differential robot to a goal point. SetGoal must be
// called before ControlLaw; ControlLaw is then evaluated once per tick.
type PointToPoint struct {
	MaxForward float64
	MaxAngular float64

	ForwardGain   float64
	AngularGain   float64
	GoalTolerance float64
	// MaxForwardStep bounds the change of forward command relative to the
	// measured forward velocity per tick. Zero disables the limit.
	MaxForwardStep float64

	goal    geometry.Waypoint
	hasGoal bool
}

// NewPointToPoint returns a controller with default gains.
func NewPointToPoint(maxForward, maxAngular float64) *PointToPoint {
	return &PointToPoint{
		MaxForward:    maxForward,
		MaxAngular:    maxAngular,
		ForwardGain:   DefaultForwardGain,
		AngularGain:   DefaultAngularGain,
		GoalTolerance: DefaultGoalTolerance,
	}
}

// SetGoal sets the active goal point.
func (p *PointToPoint) SetGoal(goal geometry.Waypoint) {
	p.goal = goal
	p.hasGoal = true
}

// Goal returns the active goal and whether one is set.
func (p *PointToPoint) Goal() (geometry.Waypoint, bool) {
	return p.goal, p.hasGoal
}

// ControlLaw computes the commands for one tick. done is true once the
// position error is within GoalTolerance, in which case both commands are 0.
// Without a goal the robot is considered arrived.
func (p *PointToPoint) ControlLaw(pose geometry.RobotPose, forwardVelocity float64) (done bool, forward, angular float64) {
	if !p.hasGoal {
		return true, 0, 0
	}

	dist := geometry.Distance(pose.X, pose.Y, p.goal.X, p.goal.Y)
	if dist < p.GoalTolerance {
		return true, 0, 0
	}

	headingErr := geometry.WrapAngle(geometry.Bearing(pose.X, pose.Y, p.goal) - pose.Heading)
	angular = Clamp(p.AngularGain*headingErr, p.MaxAngular)

	forward = math.Min(p.ForwardGain*dist, p.MaxForward) * math.Max(0, math.Cos(headingErr))
	if p.MaxForwardStep > 0 {
		forward = math.Max(forwardVelocity-p.MaxForwardStep, math.Min(forwardVelocity+p.MaxForwardStep, forward))
		forward = math.Max(0, forward)
	}

	return false, forward, angular
}
