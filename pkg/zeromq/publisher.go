package zeromq

import (
	"context"
	"fmt"

	"github.com/coop-transport/controller/pkg/fleet"
	customlog "github.com/coop-transport/controller/pkg/log"
)

// TurnPublisher broadcasts turn announcements on fleet.turn. It implements
// fleet.Broadcaster. Every robot's SUB socket is connected to its own PUB
// endpoint, so the sender registers its own announcement too.
type TurnPublisher struct {
	publisher Publisher
	logger    customlog.Logger
}

// NewTurnPublisher creates a new turn publisher
func NewTurnPublisher(p Publisher, logger customlog.Logger) *TurnPublisher {
	return &TurnPublisher{publisher: p, logger: logger}
}

// Announce publishes a.
func (p *TurnPublisher) Announce(ctx context.Context, a fleet.TurnAnnouncement) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.publisher.PublishMessage(TopicTurn, EncodeTurnAnnouncement(a)); err != nil {
		return fmt.Errorf("failed to publish turn announcement: %w", err)
	}
	p.logger.Infof("Published turn announcement for robot %d", a.RobotID)
	return nil
}

// TwistPublisher publishes velocity commands on cmd_vel.<robot>.
type TwistPublisher struct {
	publisher Publisher
}

// NewTwistPublisher creates a new twist publisher
func NewTwistPublisher(p Publisher) *TwistPublisher {
	return &TwistPublisher{publisher: p}
}

// PublishTwist sends t to its robot.
func (p *TwistPublisher) PublishTwist(t Twist) error {
	return p.publisher.PublishMessage(CmdVelTopic(t.RobotID), EncodeTwist(t))
}

// AttachedPublisher reports attachment to the carry controller on
// carry.attached.
type AttachedPublisher struct {
	publisher Publisher
	logger    customlog.Logger
}

// NewAttachedPublisher creates a new attached-status publisher
func NewAttachedPublisher(p Publisher, logger customlog.Logger) *AttachedPublisher {
	return &AttachedPublisher{publisher: p, logger: logger}
}

// NotifyAttached publishes status.
func (p *AttachedPublisher) NotifyAttached(ctx context.Context, status fleet.AttachedStatus) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.publisher.PublishJSON(TopicCarryAttached, MsgTypeAttached, status); err != nil {
		return fmt.Errorf("failed to publish attached status: %w", err)
	}
	p.logger.Infof("Published attached status for robot %d", status.RobotID)
	return nil
}
