// Package pose keeps the latest robot and box poses received from the pose
// feed and serves them to the mission and the HTTP API.
package pose

import (
	"sort"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/coop-transport/controller/pkg/geometry"
)

// RobotSnapshot is the latest pose of one robot.
type RobotSnapshot struct {
	Index     int                `json:"index"`
	Pose      geometry.RobotPose `json:"pose"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// Snapshot is a copy of every pose held by the service.
type Snapshot struct {
	FleetSize    int               `json:"fleet_size"`
	Robots       []RobotSnapshot   `json:"robots"`
	Box          *geometry.BoxPose `json:"box,omitempty"`
	BoxUpdatedAt *time.Time        `json:"box_updated_at,omitempty"`
}

// PoseService is a latest-value store. It implements geometry.PoseSource for
// the mission and zeromq.PoseUpdater for the bus.
type PoseService struct {
	mu        sync.RWMutex
	fleetSize int
	robots    map[int]RobotSnapshot
	box       *geometry.BoxPose
	boxAt     time.Time
	now       func() time.Time
}

// NewPoseService creates a store for a fleet of fleetSize robots. With a
// zero size the fleet is taken to be every robot seen so far.
func NewPoseService(fleetSize int) *PoseService {
	return &PoseService{
		fleetSize: fleetSize,
		robots:    make(map[int]RobotSnapshot),
		now:       time.Now,
	}
}

// UpdateRobot replaces the pose of robot index.
func (s *PoseService) UpdateRobot(index int, pose geometry.RobotPose) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.robots[index] = RobotSnapshot{Index: index, Pose: pose, UpdatedAt: s.now()}
}

// UpdateBox replaces the box pose.
func (s *PoseService) UpdateBox(pose geometry.BoxPose) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.box = &pose
	s.boxAt = s.now()
}

// Robot returns the latest pose of robot index.
func (s *PoseService) Robot(index int) (geometry.RobotPose, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.robots[index]
	return r.Pose, ok
}

// Box returns the latest box pose.
func (s *PoseService) Box() (geometry.BoxPose, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.box == nil {
		return geometry.BoxPose{}, false
	}
	return *s.box, true
}

// FleetSize returns the configured fleet size, or one past the highest
// robot index seen when none was configured.
func (s *PoseService) FleetSize() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.fleetSize > 0 {
		return s.fleetSize
	}
	size := 0
	for i := range s.robots {
		if i+1 > size {
			size = i + 1
		}
	}
	return size
}

// GetSnapshot returns a copy of every pose, robots in index order.
func (s *PoseService) GetSnapshot() Snapshot {
	size := s.FleetSize()

	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{FleetSize: size, Robots: make([]RobotSnapshot, 0, len(s.robots))}
	for _, r := range s.robots {
		snap.Robots = append(snap.Robots, r)
	}
	sort.Slice(snap.Robots, func(i, j int) bool { return snap.Robots[i].Index < snap.Robots[j].Index })
	if s.box != nil {
		box, at := *s.box, s.boxAt
		snap.Box, snap.BoxUpdatedAt = &box, &at
	}
	return snap
}

// GetPosesHandler handles API requests for the latest poses
func (s *PoseService) GetPosesHandler(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status": "success",
		"poses":  s.GetSnapshot(),
	})
}
