package pose

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/coop-transport/controller/pkg/geometry"
)

func TestPoseServiceKeepsLatestValue(t *testing.T) {
	s := NewPoseService(3)

	if _, ok := s.Robot(0); ok {
		t.Fatal("robot 0 reported before any update")
	}
	if _, ok := s.Box(); ok {
		t.Fatal("box reported before any update")
	}

	s.UpdateRobot(0, geometry.RobotPose{X: 1})
	s.UpdateRobot(0, geometry.RobotPose{X: 2, Heading: 0.5})
	s.UpdateBox(geometry.BoxPose{X: 3})

	p, ok := s.Robot(0)
	if !ok || p.X != 2 || p.Heading != 0.5 {
		t.Errorf("Robot(0) = %+v, %v", p, ok)
	}
	b, ok := s.Box()
	if !ok || b.X != 3 {
		t.Errorf("Box() = %+v, %v", b, ok)
	}
	if s.FleetSize() != 3 {
		t.Errorf("FleetSize() = %d, want configured 3", s.FleetSize())
	}
}

func TestPoseServiceInfersFleetSize(t *testing.T) {
	s := NewPoseService(0)
	if s.FleetSize() != 0 {
		t.Errorf("empty FleetSize() = %d", s.FleetSize())
	}
	s.UpdateRobot(2, geometry.RobotPose{})
	s.UpdateRobot(0, geometry.RobotPose{})
	if s.FleetSize() != 3 {
		t.Errorf("FleetSize() = %d, want 3", s.FleetSize())
	}
}

func TestGetPosesHandler(t *testing.T) {
	s := NewPoseService(2)
	s.now = func() time.Time { return time.Unix(100, 0).UTC() }
	s.UpdateRobot(1, geometry.RobotPose{X: 1})
	s.UpdateRobot(0, geometry.RobotPose{X: 0.5})
	s.UpdateBox(geometry.BoxPose{Y: 2})

	app := fiber.New()
	app.Get("/poses", s.GetPosesHandler)

	resp, err := app.Test(httptest.NewRequest("GET", "/poses", nil))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)

	var got struct {
		Status string   `json:"status"`
		Poses  Snapshot `json:"poses"`
	}
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("decode %s: %v", body, err)
	}
	if got.Status != "success" || got.Poses.FleetSize != 2 {
		t.Errorf("response = %+v", got)
	}
	if len(got.Poses.Robots) != 2 || got.Poses.Robots[0].Index != 0 || got.Poses.Robots[1].Pose.X != 1 {
		t.Errorf("robots = %+v", got.Poses.Robots)
	}
	if got.Poses.Box == nil || got.Poses.Box.Y != 2 {
		t.Errorf("box = %+v", got.Poses.Box)
	}
}
