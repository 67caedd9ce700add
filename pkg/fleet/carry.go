package fleet

// AllRobots addresses a CarryResult to every fleet member.
const AllRobots = -1

// AttachedStatus tells the carry controller that a robot has finished its
// attachment and is holding the box.
type AttachedStatus struct {
	RobotID     int   `json:"robot_id"`
	TimestampNs int64 `json:"timestamp_ns"`
}

// CarryResult is the carry controller's verdict on the transport.
type CarryResult struct {
	RobotID int    `json:"robot_id"`
	OK      bool   `json:"ok"`
	Reason  string `json:"reason,omitempty"`
}

// For reports whether the result is addressed to robot.
func (r CarryResult) For(robot int) bool {
	return r.RobotID == AllRobots || r.RobotID == robot
}
