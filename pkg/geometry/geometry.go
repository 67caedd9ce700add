// Package geometry holds the planar data model shared by the controller:
// robot and box poses, waypoints, paths and planner obstacles.
package geometry

import "math"

// RobotPose is the latest known state of one robot.
type RobotPose struct {
	X               float64 `json:"x"`
	Y               float64 `json:"y"`
	Heading         float64 `json:"heading"` // radians
	ForwardVelocity float64 `json:"forward_velocity"`
}

// BoxPose is the latest known pose of the shared box.
type BoxPose struct {
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Heading float64 `json:"heading"`
}

// Waypoint is a target position in the world frame.
type Waypoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Path is an ordered sequence of waypoints, visited in slice order.
// An empty Path means no movement is needed.
type Path []Waypoint

// Len returns the number of waypoints.
func (p Path) Len() int {
	return len(p)
}

// Distance returns the euclidean distance between two points.
func Distance(x1, y1, x2, y2 float64) float64 {
	return math.Hypot(x2-x1, y2-y1)
}

// Bearing returns the angle of the vector from (x, y) to w.
func Bearing(x, y float64, w Waypoint) float64 {
	return math.Atan2(w.Y-y, w.X-x)
}

// WrapAngle maps an angle to (-pi, pi].
func WrapAngle(a float64) float64 {
	a = math.Mod(a+math.Pi, 2*math.Pi)
	if a <= 0 {
		a += 2 * math.Pi
	}
	return a - math.Pi
}

// PoseSource is the read side of the pose feed. Snapshots are latest values;
// the bool is false until a first pose has been received.
type PoseSource interface {
	Robot(index int) (RobotPose, bool)
	Box() (BoxPose, bool)
	FleetSize() int
}
