package zeromq

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	flatbuffers "github.com/google/flatbuffers/go"

	wire "github.com/coop-transport/controller/pkg/flatbuffers/cooperative_transport/fleet"
	"github.com/coop-transport/controller/pkg/fleet"
	"github.com/coop-transport/controller/pkg/geometry"
)

// Topics
const (
	TopicTurn          = "fleet.turn"
	TopicPose          = "pose."
	TopicRobotPose     = "pose.robot"
	TopicBoxPose       = "pose.box"
	TopicCarryAttached = "carry.attached"
	TopicCarryResult   = "carry.result"
	TopicCmdVelPrefix  = "cmd_vel."
)

// Message types of the JSON envelope
const (
	MsgTypeRobotPose   = "ROBOT_POSE"
	MsgTypeBoxPose     = "BOX_POSE"
	MsgTypeAttached    = "ATTACHED"
	MsgTypeCarryResult = "CARRY_RESULT"
)

// ZeroMQMessage is the JSON envelope used for every non-FlatBuffers payload.
type ZeroMQMessage struct {
	Type      string      `json:"type"`
	Timestamp float64     `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

type rawMessage struct {
	Type      string          `json:"type"`
	Timestamp float64         `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// RobotPoseUpdate is the payload of a ROBOT_POSE message.
type RobotPoseUpdate struct {
	Index int                `json:"index"`
	Pose  geometry.RobotPose `json:"pose"`
}

// Twist is a velocity command addressed to one robot.
type Twist struct {
	RobotID     int     `json:"robot_id"`
	LinearX     float64 `json:"linear_x"`
	AngularZ    float64 `json:"angular_z"`
	TimestampNs int64   `json:"timestamp_ns"`
}

// CmdVelTopic returns the command topic of robot.
func CmdVelTopic(robot int) string {
	return TopicCmdVelPrefix + strconv.Itoa(robot)
}

// RobotFromCmdVelTopic parses the robot index out of a command topic.
func RobotFromCmdVelTopic(topic string) (int, error) {
	id, err := strconv.Atoi(strings.TrimPrefix(topic, TopicCmdVelPrefix))
	if err != nil || !strings.HasPrefix(topic, TopicCmdVelPrefix) {
		return 0, fmt.Errorf("%w: not a command topic %q", ErrInvalidMessage, topic)
	}
	return id, nil
}

// EncodeJSON wraps data in a ZeroMQMessage envelope.
func EncodeJSON(messageType string, data interface{}) ([]byte, error) {
	msg := ZeroMQMessage{
		Type:      messageType,
		Timestamp: float64(time.Now().UnixNano()) / 1e9,
		Data:      data,
	}
	msgData, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}
	return msgData, nil
}

// DecodeJSON unwraps an envelope of the given type into v.
func DecodeJSON(payload []byte, messageType string, v interface{}) error {
	var msg rawMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if msg.Type != messageType {
		return fmt.Errorf("%w: got type %q, want %q", ErrInvalidMessage, msg.Type, messageType)
	}
	if len(msg.Data) == 0 {
		return fmt.Errorf("%w: %s message without data", ErrInvalidMessage, messageType)
	}
	if err := json.Unmarshal(msg.Data, v); err != nil {
		return fmt.Errorf("%w: %s data: %v", ErrInvalidMessage, messageType, err)
	}
	return nil
}

// EncodeTurnAnnouncement serializes a as a FlatBuffers TurnAnnouncement.
func EncodeTurnAnnouncement(a fleet.TurnAnnouncement) []byte {
	builder := flatbuffers.NewBuilder(32)
	wire.TurnAnnouncementStart(builder)
	wire.TurnAnnouncementAddRobotId(builder, int32(a.RobotID))
	wire.TurnAnnouncementAddTimestampNs(builder, a.TimestampNs)
	builder.Finish(wire.TurnAnnouncementEnd(builder))
	return builder.FinishedBytes()
}

// DecodeTurnAnnouncement parses a FlatBuffers TurnAnnouncement.
func DecodeTurnAnnouncement(data []byte) (a fleet.TurnAnnouncement, err error) {
	defer recoverMalformed("TurnAnnouncement", &err)
	if err := checkTable(data); err != nil {
		return a, err
	}
	msg := wire.GetRootAsTurnAnnouncement(data, 0)
	a = fleet.TurnAnnouncement{
		RobotID:     int(msg.RobotId()),
		TimestampNs: msg.TimestampNs(),
	}
	if a.RobotID < 0 {
		return fleet.TurnAnnouncement{}, fmt.Errorf("%w: negative robot id %d", ErrInvalidMessage, a.RobotID)
	}
	return a, nil
}

// EncodeTwist serializes t as a FlatBuffers Twist.
func EncodeTwist(t Twist) []byte {
	builder := flatbuffers.NewBuilder(48)
	wire.TwistStart(builder)
	wire.TwistAddRobotId(builder, int32(t.RobotID))
	wire.TwistAddLinearX(builder, t.LinearX)
	wire.TwistAddAngularZ(builder, t.AngularZ)
	wire.TwistAddTimestampNs(builder, t.TimestampNs)
	builder.Finish(wire.TwistEnd(builder))
	return builder.FinishedBytes()
}

// DecodeTwist parses a FlatBuffers Twist.
func DecodeTwist(data []byte) (t Twist, err error) {
	defer recoverMalformed("Twist", &err)
	if err := checkTable(data); err != nil {
		return t, err
	}
	msg := wire.GetRootAsTwist(data, 0)
	return Twist{
		RobotID:     int(msg.RobotId()),
		LinearX:     msg.LinearX(),
		AngularZ:    msg.AngularZ(),
		TimestampNs: msg.TimestampNs(),
	}, nil
}

// checkTable rejects buffers too short to hold a root offset, a vtable
// offset and the root table they point at.
func checkTable(data []byte) error {
	if len(data) < 2*flatbuffers.SizeUOffsetT {
		return fmt.Errorf("%w: %d byte flatbuffer", ErrInvalidMessage, len(data))
	}
	root := flatbuffers.GetUOffsetT(data)
	if int(root)+flatbuffers.SizeSOffsetT > len(data) {
		return fmt.Errorf("%w: root offset %d out of range", ErrInvalidMessage, root)
	}
	return nil
}

// recoverMalformed turns an out-of-range read in generated accessors into
// ErrInvalidMessage.
func recoverMalformed(table string, err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("%w: malformed %s: %v", ErrInvalidMessage, table, r)
	}
}
