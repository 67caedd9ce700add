package drive

import (
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"

	"github.com/coop-transport/controller/pkg/config"
	customlog "github.com/coop-transport/controller/pkg/log"
	"github.com/coop-transport/controller/pkg/zeromq"
)

type recordingPublisher struct {
	twists []zeromq.Twist
	err    error
}

func (p *recordingPublisher) PublishTwist(t zeromq.Twist) error {
	if p.err != nil {
		return p.err
	}
	p.twists = append(p.twists, t)
	return nil
}

func TestDriveServiceClampsAndAppliesPolarity(t *testing.T) {
	tests := []struct {
		name        string
		limits      Limits
		forward     float64
		angular     float64
		wantLinear  float64
		wantAngular float64
		wantClamped bool
	}{
		{"within limits", Limits{MaxForward: 0.3, MaxAngular: 1.5, AngularSign: 1}, 0.2, -1, 0.2, -1, false},
		{"clamped", Limits{MaxForward: 0.3, MaxAngular: 1.5, AngularSign: 1}, 2, -4, 0.3, -1.5, true},
		{"inverted platform", Limits{MaxForward: 0.3, MaxAngular: 1.5, AngularSign: -1}, 0.1, 1, 0.1, -1, false},
		{"inverted and clamped", Limits{MaxForward: 0.3, MaxAngular: 1.5, AngularSign: -1}, 0, 3, 0, -1.5, true},
		{"zero sign means normal", Limits{}, 5, 5, 5, 5, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := &recordingPublisher{}
			s := NewDriveService(4, pub, tt.limits, customlog.NewDiscardLogger())
			s.SetControl(tt.forward, tt.angular)

			if len(pub.twists) != 1 {
				t.Fatalf("published %d twists", len(pub.twists))
			}
			got := pub.twists[0]
			if got.RobotID != 4 || got.LinearX != tt.wantLinear || got.AngularZ != tt.wantAngular {
				t.Errorf("twist = %+v, want linear %v angular %v", got, tt.wantLinear, tt.wantAngular)
			}
			last, ok := s.LastCommand()
			if !ok || last.Clamped != tt.wantClamped {
				t.Errorf("last command = %+v, want clamped %v", last, tt.wantClamped)
			}
		})
	}
}

func TestDriveServiceStopsOnInvalidCommand(t *testing.T) {
	pub := &recordingPublisher{}
	s := NewDriveService(0, pub, Limits{MaxForward: 1, MaxAngular: 1}, customlog.NewDiscardLogger())

	if err := s.ValidateCommand(math.NaN(), 0); !errors.Is(err, ErrInvalidCommand) {
		t.Errorf("ValidateCommand(NaN) = %v", err)
	}
	s.SetControl(math.Inf(1), 0.5)
	if len(pub.twists) != 1 || pub.twists[0].LinearX != 0 || pub.twists[0].AngularZ != 0 {
		t.Errorf("twists = %+v, want a single stop", pub.twists)
	}
}

func TestDriveServicePublishFailure(t *testing.T) {
	pub := &recordingPublisher{err: zeromq.ErrServiceClosed}
	s := NewDriveService(0, pub, Limits{}, customlog.NewDiscardLogger())

	if err := s.SendCommand(0.1, 0); !errors.Is(err, zeromq.ErrServiceClosed) {
		t.Errorf("SendCommand error = %v", err)
	}
	s.SetControl(0.1, 0)
	if _, ok := s.LastCommand(); ok {
		t.Error("failed commands must not become the last command")
	}
}

func TestLimitsFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Robot.AngularSign = -1
	l := LimitsFromConfig(cfg)
	if l.MaxForward != cfg.Robot.MaxForwardV || l.MaxAngular != cfg.Robot.MaxAngularV || l.AngularSign != -1 {
		t.Errorf("limits = %+v", l)
	}
}

func TestGetLastCommandHandler(t *testing.T) {
	pub := &recordingPublisher{}
	s := NewDriveService(1, pub, Limits{MaxForward: 1, MaxAngular: 1}, customlog.NewDiscardLogger())
	s.SetControl(0.5, 0.25)

	app := fiber.New()
	app.Get("/drive", s.GetLastCommandHandler)
	resp, err := app.Test(httptest.NewRequest("GET", "/drive", nil))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)

	var got struct {
		Command Command `json:"command"`
		Sent    int     `json:"sent"`
	}
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("decode %s: %v", body, err)
	}
	if got.Sent != 1 || got.Command.LinearX != 0.5 || got.Command.AngularZ != 0.25 {
		t.Errorf("response = %+v", got)
	}
}
