package mission

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/coop-transport/controller/pkg/clock"
	"github.com/coop-transport/controller/pkg/config"
	"github.com/coop-transport/controller/pkg/fleet"
	"github.com/coop-transport/controller/pkg/geometry"
	customlog "github.com/coop-transport/controller/pkg/log"
	"github.com/coop-transport/controller/pkg/motion"
)

// Settings are the control parameters of one run, read from the mission
// configuration when the run starts.
type Settings struct {
	AlignmentGain      float64
	AlignmentTolerance float64
	MaxForward         float64
	MaxAngular         float64
	ForwardGain        float64
	AngularGain        float64
	GoalTolerance      float64
	MaxForwardStep     float64
	ControlRate        float64
	AlignmentTimeout   time.Duration
	TranslationTimeout time.Duration
}

// SettingsFromConfig extracts the control settings.
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		AlignmentGain:      cfg.Control.AlignmentGain,
		AlignmentTolerance: cfg.Control.AlignmentTolerance,
		MaxForward:         cfg.Robot.MaxForwardV,
		MaxAngular:         cfg.Robot.MaxAngularV,
		ForwardGain:        cfg.Control.ForwardGain,
		AngularGain:        cfg.Control.AngularGain,
		GoalTolerance:      cfg.Control.GoalTolerance,
		MaxForwardStep:     cfg.Control.MaxForwardStep,
		ControlRate:        cfg.Control.ControlRateHz,
		AlignmentTimeout:   cfg.Timeouts.Alignment,
		TranslationTimeout: cfg.Timeouts.Translation,
	}
}

// driver runs the two closed loops shared by path following and docking.
type driver struct {
	index    int
	poses    PoseSource
	sink     motion.CommandSink
	clock    clock.Clock
	logger   customlog.Logger
	settings Settings
}

func (d *driver) stop() {
	d.sink.SetControl(0, 0)
}

func (d *driver) timeout(phase string, start time.Time, limit time.Duration, detail string) error {
	if limit <= 0 {
		return nil
	}
	if elapsed := d.clock.Now().Sub(start); elapsed >= limit {
		return &fleet.CoordinationTimeout{Phase: phase, RobotID: d.index, Elapsed: elapsed, Detail: detail}
	}
	return nil
}

// align rotates in place until the robot faces target. A robot already on
// target has nothing to face and is considered aligned.
func (d *driver) align(ctx context.Context, target geometry.Waypoint) error {
	rate := d.clock.NewRate(d.settings.ControlRate)
	start := d.clock.Now()

	for {
		if pose, ok := d.poses.Robot(d.index); ok {
			if geometry.Distance(pose.X, pose.Y, target.X, target.Y) < d.settings.GoalTolerance {
				return nil
			}
			bearing := geometry.Bearing(pose.X, pose.Y, target)
			if math.Abs(geometry.WrapAngle(bearing-pose.Heading)) < d.settings.AlignmentTolerance {
				d.stop()
				return nil
			}
			d.sink.SetControl(0, motion.Align(pose.Heading, bearing, d.settings.AlignmentGain, d.settings.MaxAngular))
		}

		if err := d.timeout("alignment", start, d.settings.AlignmentTimeout,
			fmt.Sprintf("target (%.3f, %.3f)", target.X, target.Y)); err != nil {
			d.stop()
			return err
		}
		if err := rate.Sleep(ctx); err != nil {
			d.stop()
			return err
		}
	}
}

// goTo drives to target with the point-to-point law. The final zero command
// returned by the law is sent before returning.
func (d *driver) goTo(ctx context.Context, target geometry.Waypoint) error {
	controller := motion.NewPointToPoint(d.settings.MaxForward, d.settings.MaxAngular)
	if d.settings.ForwardGain > 0 {
		controller.ForwardGain = d.settings.ForwardGain
	}
	if d.settings.AngularGain > 0 {
		controller.AngularGain = d.settings.AngularGain
	}
	if d.settings.GoalTolerance > 0 {
		controller.GoalTolerance = d.settings.GoalTolerance
	}
	controller.MaxForwardStep = d.settings.MaxForwardStep
	controller.SetGoal(target)

	rate := d.clock.NewRate(d.settings.ControlRate)
	start := d.clock.Now()

	for {
		if pose, ok := d.poses.Robot(d.index); ok {
			done, forward, angular := controller.ControlLaw(pose, pose.ForwardVelocity)
			d.sink.SetControl(forward, angular)
			if done {
				return nil
			}
		}

		if err := d.timeout("translation", start, d.settings.TranslationTimeout,
			fmt.Sprintf("target (%.3f, %.3f)", target.X, target.Y)); err != nil {
			d.stop()
			return err
		}
		if err := rate.Sleep(ctx); err != nil {
			d.stop()
			return err
		}
	}
}
