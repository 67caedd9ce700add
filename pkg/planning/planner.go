// Package planning defines the contract between the attachment machine and a
// path planner, and ships a default grid A* strategy.
package planning

import (
	"context"
	"errors"
	"fmt"

	"github.com/coop-transport/controller/pkg/geometry"
)

// ErrPlanningFailure is wrapped by every error a Planner returns when no path
// exists.
var ErrPlanningFailure = errors.New("planning failure")

// Parameter keys read by BuildRequest.
const (
	KeyLowerBound  = "planner_lower_bound"
	KeyUpperBound  = "planner_upper_bound"
	KeyRobotRadius = "robot_radius"
	KeyBoxLength   = "box.length"
	KeyBoxWidth    = "box.width"
	KeyResolution  = "planner.resolution"
	KeyClearance   = "planner.clearance"
	KeyStandoff    = "planner.standoff"
)

// Planner turns planning geometry into an ordered path. An empty path with a
// nil error means the robot is already where it needs to be.
type Planner interface {
	Plan(ctx context.Context, req Request) (geometry.Path, error)
}

// PlannerFunc adapts a function to Planner.
type PlannerFunc func(ctx context.Context, req Request) (geometry.Path, error)

// Plan calls f.
func (f PlannerFunc) Plan(ctx context.Context, req Request) (geometry.Path, error) {
	return f(ctx, req)
}

// Params is the parameter lookup the planner inputs are read from.
type Params interface {
	Float(key string) (float64, error)
}

// Request is the geometry handed to a Planner.
type Request struct {
	RobotIndex  int
	Start       geometry.RobotPose
	Box         geometry.Rectangular
	Obstacles   []geometry.Obstacle
	Lower       float64
	Upper       float64
	RobotRadius float64
	Resolution  float64
	Clearance   float64
	Standoff    float64
}

// BuildRequest assembles a Request for robot index from the current poses and
// parameters. Every other robot becomes one Circular obstacle and the box one
// Rectangular obstacle; index itself is never an obstacle.
func BuildRequest(index int, poses geometry.PoseSource, params Params) (Request, error) {
	values := make(map[string]float64)
	for _, key := range []string{
		KeyLowerBound, KeyUpperBound, KeyRobotRadius, KeyBoxLength, KeyBoxWidth,
		KeyResolution, KeyClearance, KeyStandoff,
	} {
		v, err := params.Float(key)
		if err != nil {
			return Request{}, fmt.Errorf("reading planner parameter: %w", err)
		}
		values[key] = v
	}

	start, ok := poses.Robot(index)
	if !ok {
		return Request{}, fmt.Errorf("%w: no pose for robot %d", ErrPlanningFailure, index)
	}
	box, ok := poses.Box()
	if !ok {
		return Request{}, fmt.Errorf("%w: no box pose", ErrPlanningFailure)
	}

	radius := values[KeyRobotRadius]
	req := Request{
		RobotIndex: index,
		Start:      start,
		Box: geometry.Rectangular{
			Length:  values[KeyBoxLength],
			Width:   values[KeyBoxWidth],
			X:       box.X,
			Y:       box.Y,
			Heading: box.Heading,
		},
		Lower:       values[KeyLowerBound],
		Upper:       values[KeyUpperBound],
		RobotRadius: radius,
		Resolution:  values[KeyResolution],
		Clearance:   values[KeyClearance],
		Standoff:    values[KeyStandoff],
	}

	for i := 0; i < poses.FleetSize(); i++ {
		if i == index {
			continue
		}
		other, ok := poses.Robot(i)
		if !ok {
			return Request{}, fmt.Errorf("%w: no pose for robot %d", ErrPlanningFailure, i)
		}
		req.Obstacles = append(req.Obstacles, geometry.Circular{Radius: radius, X: other.X, Y: other.Y})
	}
	req.Obstacles = append(req.Obstacles, req.Box)

	return req, nil
}
