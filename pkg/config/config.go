package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Common errors
var (
	ErrUnknownKey    = errors.New("unknown configuration key")
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Config represents the mission configuration
type Config struct {
	Version     string         `yaml:"version" json:"version"`
	ConfigID    string         `yaml:"config_id" json:"config_id"`
	LastUpdated string         `yaml:"lastUpdated" json:"lastUpdated"`
	Planner     PlannerConfig  `yaml:"planner" json:"planner"`
	Robot       RobotConfig    `yaml:"robot" json:"robot"`
	Box         BoxConfig      `yaml:"box" json:"box"`
	Control     ControlConfig  `yaml:"control" json:"control"`
	Timeouts    TimeoutsConfig `yaml:"timeouts" json:"timeouts"`
}

// PlannerConfig holds the planning workspace settings
type PlannerConfig struct {
	LowerBound float64 `yaml:"lower_bound" json:"lower_bound"`
	UpperBound float64 `yaml:"upper_bound" json:"upper_bound"`
	Resolution float64 `yaml:"resolution" json:"resolution"`
	Clearance  float64 `yaml:"clearance" json:"clearance"`
	Standoff   float64 `yaml:"standoff" json:"standoff"`
}

// RobotConfig holds platform limits
type RobotConfig struct {
	Radius      float64 `yaml:"radius" json:"radius"`
	MaxForwardV float64 `yaml:"max_forward_v" json:"max_forward_v"`
	MaxAngularV float64 `yaml:"max_angular_v" json:"max_angular_v"`
	// AngularSign compensates actuator polarity at the command sink (+1 or -1).
	AngularSign float64 `yaml:"angular_sign" json:"angular_sign"`
}

// BoxConfig holds the box footprint
type BoxConfig struct {
	Length float64 `yaml:"length" json:"length"`
	Width  float64 `yaml:"width" json:"width"`
}

// ControlConfig holds control-law gains, tolerances and loop rates
type ControlConfig struct {
	AlignmentGain      float64 `yaml:"alignment_gain" json:"alignment_gain"`
	AlignmentTolerance float64 `yaml:"alignment_tolerance" json:"alignment_tolerance"`
	ForwardGain        float64 `yaml:"forward_gain" json:"forward_gain"`
	AngularGain        float64 `yaml:"angular_gain" json:"angular_gain"`
	GoalTolerance      float64 `yaml:"goal_tolerance" json:"goal_tolerance"`
	MaxForwardStep     float64 `yaml:"max_forward_step" json:"max_forward_step"`
	ContactGap         float64 `yaml:"contact_gap" json:"contact_gap"`
	ControlRateHz      float64 `yaml:"control_rate_hz" json:"control_rate_hz"`
	TurnPollRateHz     float64 `yaml:"turn_poll_rate_hz" json:"turn_poll_rate_hz"`
}

// TimeoutsConfig bounds every blocking wait of a mission run
type TimeoutsConfig struct {
	TurnWait    time.Duration `yaml:"turn_wait" json:"turn_wait"`
	Alignment   time.Duration `yaml:"alignment" json:"alignment"`
	Translation time.Duration `yaml:"translation" json:"translation"`
	Carry       time.Duration `yaml:"carry" json:"carry"`
}

// Default returns the configuration used for every key a file leaves out.
func Default() *Config {
	return &Config{
		Version:  "1.0",
		ConfigID: "default",
		Planner: PlannerConfig{
			LowerBound: -5,
			UpperBound: 5,
			Resolution: 0.1,
			Clearance:  0.05,
			Standoff:   0.3,
		},
		Robot: RobotConfig{
			Radius:      0.2,
			MaxForwardV: 0.3,
			MaxAngularV: 1.5,
			AngularSign: 1,
		},
		Box: BoxConfig{Length: 1.0, Width: 0.6},
		Control: ControlConfig{
			AlignmentGain:      10,
			AlignmentTolerance: 0.1,
			ForwardGain:        0.8,
			AngularGain:        3,
			GoalTolerance:      0.05,
			ContactGap:         0.02,
			ControlRateHz:      100,
			TurnPollRateHz:     1,
		},
		Timeouts: TimeoutsConfig{
			TurnWait:    10 * time.Minute,
			Alignment:   30 * time.Second,
			Translation: 2 * time.Minute,
			Carry:       10 * time.Minute,
		},
	}
}

// LoadConfig loads the mission configuration from the specified file path,
// applies defaults and validates it.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses YAML mission configuration over Default and validates
// it. Keys present in data win, explicit zeros included.
func ParseConfig(data []byte) (*Config, error) {
	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate rejects inconsistent values.
func (c *Config) Validate() error {
	if c.Planner.LowerBound >= c.Planner.UpperBound {
		return fmt.Errorf("%w: planner.lower_bound (%v) must be below planner.upper_bound (%v)",
			ErrInvalidConfig, c.Planner.LowerBound, c.Planner.UpperBound)
	}
	positive := map[string]float64{
		"planner.resolution":          c.Planner.Resolution,
		"robot.radius":                c.Robot.Radius,
		"robot.max_forward_v":         c.Robot.MaxForwardV,
		"robot.max_angular_v":         c.Robot.MaxAngularV,
		"box.length":                  c.Box.Length,
		"box.width":                   c.Box.Width,
		"control.alignment_gain":      c.Control.AlignmentGain,
		"control.alignment_tolerance": c.Control.AlignmentTolerance,
		"control.forward_gain":        c.Control.ForwardGain,
		"control.angular_gain":        c.Control.AngularGain,
		"control.goal_tolerance":      c.Control.GoalTolerance,
		"control.control_rate_hz":     c.Control.ControlRateHz,
		"control.turn_poll_rate_hz":   c.Control.TurnPollRateHz,
	}
	for key, v := range positive {
		if v <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %v", ErrInvalidConfig, key, v)
		}
	}
	nonNegative := map[string]float64{
		"planner.clearance":        c.Planner.Clearance,
		"planner.standoff":         c.Planner.Standoff,
		"control.max_forward_step": c.Control.MaxForwardStep,
		"control.contact_gap":      c.Control.ContactGap,
	}
	for key, v := range nonNegative {
		if v < 0 {
			return fmt.Errorf("%w: %s must not be negative, got %v", ErrInvalidConfig, key, v)
		}
	}
	timeouts := map[string]time.Duration{
		"timeouts.turn_wait":   c.Timeouts.TurnWait,
		"timeouts.alignment":   c.Timeouts.Alignment,
		"timeouts.translation": c.Timeouts.Translation,
		"timeouts.carry":       c.Timeouts.Carry,
	}
	for key, d := range timeouts {
		if d < 0 {
			return fmt.Errorf("%w: %s must not be negative (0 disables it), got %v", ErrInvalidConfig, key, d)
		}
	}
	if c.Robot.AngularSign != 1 && c.Robot.AngularSign != -1 {
		return fmt.Errorf("%w: robot.angular_sign must be 1 or -1, got %v", ErrInvalidConfig, c.Robot.AngularSign)
	}
	return nil
}

// Float looks up a parameter by its flat key. Legacy underscore keys are
// accepted alongside the dotted section names.
func (c *Config) Float(key string) (float64, error) {
	switch key {
	case "planner_lower_bound", "planner.lower_bound":
		return c.Planner.LowerBound, nil
	case "planner_upper_bound", "planner.upper_bound":
		return c.Planner.UpperBound, nil
	case "planner.resolution":
		return c.Planner.Resolution, nil
	case "planner.clearance":
		return c.Planner.Clearance, nil
	case "planner.standoff":
		return c.Planner.Standoff, nil
	case "robot_radius", "robot.radius":
		return c.Robot.Radius, nil
	case "max_forward_v", "robot.max_forward_v":
		return c.Robot.MaxForwardV, nil
	case "max_angular_v", "robot.max_angular_v":
		return c.Robot.MaxAngularV, nil
	case "robot.angular_sign":
		return c.Robot.AngularSign, nil
	case "box.length":
		return c.Box.Length, nil
	case "box.width":
		return c.Box.Width, nil
	case "control.alignment_gain":
		return c.Control.AlignmentGain, nil
	case "control.alignment_tolerance":
		return c.Control.AlignmentTolerance, nil
	case "control.forward_gain":
		return c.Control.ForwardGain, nil
	case "control.angular_gain":
		return c.Control.AngularGain, nil
	case "control.goal_tolerance":
		return c.Control.GoalTolerance, nil
	case "control.max_forward_step":
		return c.Control.MaxForwardStep, nil
	case "control.contact_gap":
		return c.Control.ContactGap, nil
	case "control.control_rate_hz":
		return c.Control.ControlRateHz, nil
	case "control.turn_poll_rate_hz":
		return c.Control.TurnPollRateHz, nil
	}
	return 0, fmt.Errorf("%w: %s", ErrUnknownKey, key)
}
