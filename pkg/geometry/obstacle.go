package geometry

import (
	"fmt"
	"math"
)

// ObstacleKind tags the Obstacle variant.
type ObstacleKind string

const (
	KindCircular    ObstacleKind = "circular"
	KindRectangular ObstacleKind = "rectangular"
)

// Obstacle is either a Circular or a Rectangular region the planner must avoid.
type Obstacle interface {
	Kind() ObstacleKind
	// Contains reports whether (x, y) lies inside the obstacle grown by inflate.
	Contains(x, y, inflate float64) bool
	fmt.Stringer
}

// Circular is a disc obstacle, used for the other robots of the fleet.
type Circular struct {
	Radius float64 `json:"radius"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
}

func (c Circular) Kind() ObstacleKind { return KindCircular }

func (c Circular) Contains(x, y, inflate float64) bool {
	return Distance(c.X, c.Y, x, y) < c.Radius+inflate
}

func (c Circular) String() string {
	return fmt.Sprintf("circle(r=%.3f @ %.3f,%.3f)", c.Radius, c.X, c.Y)
}

// Rectangular is an oriented rectangle, used for the box. Length runs along
// the heading axis, Width across it.
type Rectangular struct {
	Length  float64 `json:"length"`
	Width   float64 `json:"width"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Heading float64 `json:"heading"`
}

func (r Rectangular) Kind() ObstacleKind { return KindRectangular }

func (r Rectangular) Contains(x, y, inflate float64) bool {
	lx, ly := r.ToLocal(x, y)
	return math.Abs(lx) < r.Length/2+inflate && math.Abs(ly) < r.Width/2+inflate
}

// ToLocal expresses a world point in the rectangle frame.
func (r Rectangular) ToLocal(x, y float64) (float64, float64) {
	dx, dy := x-r.X, y-r.Y
	c, s := math.Cos(r.Heading), math.Sin(r.Heading)
	return c*dx + s*dy, -s*dx + c*dy
}

// ToWorld expresses a rectangle-frame point in the world frame.
func (r Rectangular) ToWorld(lx, ly float64) (float64, float64) {
	c, s := math.Cos(r.Heading), math.Sin(r.Heading)
	return r.X + c*lx - s*ly, r.Y + s*lx + c*ly
}

func (r Rectangular) String() string {
	return fmt.Sprintf("rect(%.3fx%.3f @ %.3f,%.3f θ=%.3f)", r.Length, r.Width, r.X, r.Y, r.Heading)
}
