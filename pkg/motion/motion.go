// Package motion implements the control laws used by the controller: a
// proportional heading law and a point-to-point translation law. Both are
// pure functions of the latest pose and never block.
package motion

import (
	"math"

	"github.com/coop-transport/controller/pkg/geometry"
)

// CommandSink receives one velocity command per control tick. It is fire and
// forget: no acknowledgement is expected.
type CommandSink interface {
	SetControl(forward, angular float64)
}

// CommandSinkFunc adapts a function to CommandSink.
type CommandSinkFunc func(forward, angular float64)

// SetControl calls f.
func (f CommandSinkFunc) SetControl(forward, angular float64) {
	f(forward, angular)
}

// PolaritySink applies the platform angular polarity before forwarding a
// command. The control laws themselves never flip their sign.
type PolaritySink struct {
	Sink        CommandSink
	AngularSign float64
}

// NewPolaritySink wraps sink. A zero sign is treated as +1.
func NewPolaritySink(sink CommandSink, angularSign float64) *PolaritySink {
	if angularSign == 0 {
		angularSign = 1
	}
	return &PolaritySink{Sink: sink, AngularSign: math.Copysign(1, angularSign)}
}

// SetControl forwards the command with the angular polarity applied.
func (p *PolaritySink) SetControl(forward, angular float64) {
	p.Sink.SetControl(forward, p.AngularSign*angular)
}

// Align is the proportional heading law. The bearing error is wrapped so the
// shorter rotation is commanded, scaled by gain and clamped to
// maxAngularSpeed.
func Align(currentHeading, targetBearing, gain, maxAngularSpeed float64) float64 {
	err := geometry.WrapAngle(targetBearing - currentHeading)
	return Clamp(gain*err, maxAngularSpeed)
}

// Clamp limits the magnitude of v to limit. A non-positive limit disables
// clamping.
func Clamp(v, limit float64) float64 {
	if limit <= 0 {
		return v
	}
	return math.Max(-limit, math.Min(limit, v))
}
