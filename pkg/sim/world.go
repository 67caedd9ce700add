// Package sim is an in-process stand-in for the robots, the pose estimator,
// the turn broadcast channel and the carry controller. Robot poses follow the
// unicycle model and are integrated lazily against a clock, so the same world
// works with the stepped clock of tests and the scaled wall clock of the
// simulate command.
package sim

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/coop-transport/controller/pkg/clock"
	"github.com/coop-transport/controller/pkg/geometry"
	"github.com/coop-transport/controller/pkg/motion"
)

type body struct {
	pose     geometry.RobotPose
	forward  float64
	angular  float64
	updated  time.Time
	commands int
}

// World holds the simulated robots and the box.
type World struct {
	mu     sync.Mutex
	clock  clock.Clock
	robots []*body
	box    geometry.BoxPose

	// angularPolarity models a platform that turns the wrong way.
	angularPolarity float64
}

// NewWorld creates a world with one robot per start pose.
func NewWorld(c clock.Clock, box geometry.BoxPose, starts ...geometry.RobotPose) *World {
	w := &World{clock: c, box: box, angularPolarity: 1}
	now := c.Now()
	for _, s := range starts {
		s.ForwardVelocity = 0
		w.robots = append(w.robots, &body{pose: s, updated: now})
	}
	return w
}

// InvertAngular makes every robot rotate opposite to its angular command.
func (w *World) InvertAngular() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.angularPolarity = -1
}

// Robot returns the pose of robot i at the current clock time.
func (w *World) Robot(i int) (geometry.RobotPose, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if i < 0 || i >= len(w.robots) {
		return geometry.RobotPose{}, false
	}
	b := w.robots[i]
	w.integrate(b, w.clock.Now())
	return b.pose, true
}

// Box returns the box pose.
func (w *World) Box() (geometry.BoxPose, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.box, true
}

// FleetSize returns the number of robots.
func (w *World) FleetSize() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.robots)
}

// CommandCount returns how many commands robot i has received.
func (w *World) CommandCount(i int) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.robots[i].commands
}

// Sink returns the command sink driving robot i.
func (w *World) Sink(i int) motion.CommandSink {
	if i < 0 || i >= w.FleetSize() {
		panic(fmt.Sprintf("sim: no robot %d", i))
	}
	return motion.CommandSinkFunc(func(forward, angular float64) {
		w.mu.Lock()
		defer w.mu.Unlock()
		b := w.robots[i]
		w.integrate(b, w.clock.Now())
		b.forward = forward
		b.angular = w.angularPolarity * angular
		b.pose.ForwardVelocity = forward
		b.commands++
	})
}

// integrate advances b to now holding its last command.
func (w *World) integrate(b *body, now time.Time) {
	dt := now.Sub(b.updated).Seconds()
	b.updated = now
	if dt <= 0 {
		return
	}

	v, omega := b.forward, b.angular
	theta := b.pose.Heading
	if math.Abs(omega) < 1e-9 {
		b.pose.X += v * math.Cos(theta) * dt
		b.pose.Y += v * math.Sin(theta) * dt
	} else {
		next := theta + omega*dt
		b.pose.X += v / omega * (math.Sin(next) - math.Sin(theta))
		b.pose.Y -= v / omega * (math.Cos(next) - math.Cos(theta))
		b.pose.Heading = geometry.WrapAngle(next)
	}
}
