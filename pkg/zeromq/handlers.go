package zeromq

import (
	"fmt"

	"github.com/coop-transport/controller/pkg/fleet"
	"github.com/coop-transport/controller/pkg/geometry"
	customlog "github.com/coop-transport/controller/pkg/log"
)

// TurnHandler feeds fleet.turn announcements to the turn coordinator.
type TurnHandler struct {
	handle func(fleet.TurnAnnouncement)
	logger customlog.Logger
}

// NewTurnHandler creates a handler calling handle for every announcement,
// typically Coordinator.HandleAnnouncement.
func NewTurnHandler(handle func(fleet.TurnAnnouncement), logger customlog.Logger) *TurnHandler {
	return &TurnHandler{handle: handle, logger: logger}
}

// HandleMessage decodes a TurnAnnouncement
func (h *TurnHandler) HandleMessage(topic string, payload []byte) error {
	a, err := DecodeTurnAnnouncement(payload)
	if err != nil {
		return err
	}
	h.logger.Debugf("Turn announcement from robot %d", a.RobotID)
	h.handle(a)
	return nil
}

// PoseUpdater is the write side of the pose store.
type PoseUpdater interface {
	UpdateRobot(index int, pose geometry.RobotPose)
	UpdateBox(pose geometry.BoxPose)
}

// PoseHandler feeds pose.robot and pose.box messages to the pose store.
type PoseHandler struct {
	store  PoseUpdater
	logger customlog.Logger
}

// NewPoseHandler creates a new handler for pose feed messages
func NewPoseHandler(store PoseUpdater, logger customlog.Logger) *PoseHandler {
	return &PoseHandler{store: store, logger: logger}
}

// HandleMessage decodes a pose update according to its topic
func (h *PoseHandler) HandleMessage(topic string, payload []byte) error {
	switch topic {
	case TopicRobotPose:
		var update RobotPoseUpdate
		if err := DecodeJSON(payload, MsgTypeRobotPose, &update); err != nil {
			return err
		}
		if update.Index < 0 {
			return fmt.Errorf("%w: negative robot index %d", ErrInvalidMessage, update.Index)
		}
		h.store.UpdateRobot(update.Index, update.Pose)
	case TopicBoxPose:
		var pose geometry.BoxPose
		if err := DecodeJSON(payload, MsgTypeBoxPose, &pose); err != nil {
			return err
		}
		h.store.UpdateBox(pose)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
	}
	return nil
}

// CarryResultHandler queues carry controller verdicts for the MOVE_BOX state.
type CarryResultHandler struct {
	robot   int
	results chan fleet.CarryResult
	logger  customlog.Logger
}

// NewCarryResultHandler creates a handler keeping up to buffer results
// addressed to robot.
func NewCarryResultHandler(robot, buffer int, logger customlog.Logger) *CarryResultHandler {
	if buffer <= 0 {
		buffer = 1
	}
	return &CarryResultHandler{
		robot:   robot,
		results: make(chan fleet.CarryResult, buffer),
		logger:  logger,
	}
}

// Results returns the channel CarryHandoff reads from.
func (h *CarryResultHandler) Results() <-chan fleet.CarryResult {
	return h.results
}

// HandleMessage decodes a CARRY_RESULT message
func (h *CarryResultHandler) HandleMessage(topic string, payload []byte) error {
	var result fleet.CarryResult
	if err := DecodeJSON(payload, MsgTypeCarryResult, &result); err != nil {
		return err
	}
	if !result.For(h.robot) {
		return nil
	}
	select {
	case h.results <- result:
	default:
		h.logger.Warnf("Carry result queue full, dropping result %+v", result)
	}
	return nil
}

// FleetHandlers groups the consumers of the subscribed topics.
type FleetHandlers struct {
	Turn  *TurnHandler
	Pose  *PoseHandler
	Carry *CarryResultHandler
}

// RegisterFleetHandlers registers every non-nil handler on service.
func RegisterFleetHandlers(service *ZeroMQService, h FleetHandlers) {
	if h.Turn != nil {
		service.RegisterHandler(TopicTurn, h.Turn)
	}
	if h.Pose != nil {
		service.RegisterHandler(TopicPose, h.Pose)
	}
	if h.Carry != nil {
		service.RegisterHandler(TopicCarryResult, h.Carry)
	}
}
