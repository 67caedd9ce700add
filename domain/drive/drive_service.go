// Package drive turns the controller's velocity commands into Twist messages
// for the robot base.
package drive

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/coop-transport/controller/pkg/config"
	customlog "github.com/coop-transport/controller/pkg/log"
	"github.com/coop-transport/controller/pkg/motion"
	"github.com/coop-transport/controller/pkg/zeromq"
)

// ErrInvalidCommand is returned for commands that cannot be sent.
var ErrInvalidCommand = errors.New("invalid drive command")

// Command is one velocity command as sent to the base.
type Command struct {
	RobotID   int       `json:"robot_id"`
	LinearX   float64   `json:"linear_x"`
	AngularZ  float64   `json:"angular_z"`
	Clamped   bool      `json:"clamped"`
	Timestamp time.Time `json:"timestamp"`
}

// TwistPublisher sends a Twist to a robot base.
type TwistPublisher interface {
	PublishTwist(t zeromq.Twist) error
}

// Limits bound the commands sent to the base.
type Limits struct {
	MaxForward  float64
	MaxAngular  float64
	AngularSign float64
}

// LimitsFromConfig reads the robot section of the mission configuration.
func LimitsFromConfig(cfg *config.Config) Limits {
	return Limits{
		MaxForward:  cfg.Robot.MaxForwardV,
		MaxAngular:  cfg.Robot.MaxAngularV,
		AngularSign: cfg.Robot.AngularSign,
	}
}

// DriveService is the production motion.CommandSink. Commands are
// validated, clamped to the configured limits, given the platform angular
// polarity and published; a failed publish is logged and dropped.
type DriveService struct {
	robot     int
	publisher TwistPublisher
	logger    customlog.Logger
	now       func() time.Time

	mu     sync.RWMutex
	limits Limits
	last   *Command
	sent   int
	failed int
}

var _ motion.CommandSink = (*DriveService)(nil)

// NewDriveService creates the sink of robot.
func NewDriveService(robot int, publisher TwistPublisher, limits Limits, logger customlog.Logger) *DriveService {
	s := &DriveService{
		robot:     robot,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
	s.SetLimits(limits)
	return s
}

// SetLimits replaces the command limits.
func (s *DriveService) SetLimits(limits Limits) {
	if limits.AngularSign == 0 {
		limits.AngularSign = 1
	}
	limits.AngularSign = math.Copysign(1, limits.AngularSign)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.limits = limits
}

// ValidateCommand checks that a command holds finite velocities.
func (s *DriveService) ValidateCommand(forward, angular float64) error {
	for name, v := range map[string]float64{"forward": forward, "angular": angular} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s velocity %v", ErrInvalidCommand, name, v)
		}
	}
	return nil
}

// SetControl implements motion.CommandSink. An invalid command is replaced
// by a stop.
func (s *DriveService) SetControl(forward, angular float64) {
	if err := s.ValidateCommand(forward, angular); err != nil {
		s.logger.Errorf("Rejecting command, stopping instead: %v", err)
		forward, angular = 0, 0
	}
	if err := s.SendCommand(forward, angular); err != nil {
		s.logger.Warnf("Failed to send drive command: %v", err)
	}
}

// SendCommand clamps, applies polarity and publishes a command.
func (s *DriveService) SendCommand(forward, angular float64) error {
	s.mu.RLock()
	limits := s.limits
	s.mu.RUnlock()

	cf := motion.Clamp(forward, limits.MaxForward)
	ca := motion.Clamp(angular, limits.MaxAngular)
	cmd := Command{
		RobotID:   s.robot,
		LinearX:   cf,
		AngularZ:  limits.AngularSign * ca,
		Clamped:   cf != forward || ca != angular,
		Timestamp: s.now(),
	}

	err := s.publisher.PublishTwist(zeromq.Twist{
		RobotID:     cmd.RobotID,
		LinearX:     cmd.LinearX,
		AngularZ:    cmd.AngularZ,
		TimestampNs: cmd.Timestamp.UnixNano(),
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.failed++
		return err
	}
	s.sent++
	s.last = &cmd
	return nil
}

// LastCommand returns the last published command.
func (s *DriveService) LastCommand() (Command, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.last == nil {
		return Command{}, false
	}
	return *s.last, true
}

// GetLastCommandHandler handles API requests for the last drive command
func (s *DriveService) GetLastCommandHandler(c *fiber.Ctx) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return c.JSON(fiber.Map{
		"status":  "success",
		"command": s.last,
		"sent":    s.sent,
		"failed":  s.failed,
	})
}
