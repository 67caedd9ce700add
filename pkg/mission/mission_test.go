package mission

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/coop-transport/controller/pkg/clock"
	"github.com/coop-transport/controller/pkg/config"
	"github.com/coop-transport/controller/pkg/fleet"
	"github.com/coop-transport/controller/pkg/fsm"
	"github.com/coop-transport/controller/pkg/geometry"
	customlog "github.com/coop-transport/controller/pkg/log"
	"github.com/coop-transport/controller/pkg/motion"
	"github.com/coop-transport/controller/pkg/planning"
	"github.com/coop-transport/controller/pkg/sim"
)

type recordingSink struct {
	mu       sync.Mutex
	commands [][2]float64
}

func (s *recordingSink) SetControl(forward, angular float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commands = append(s.commands, [2]float64{forward, angular})
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.commands)
}

type staticPoses struct {
	robot geometry.RobotPose
	box   geometry.BoxPose
}

func (p staticPoses) Robot(int) (geometry.RobotPose, bool) { return p.robot, true }
func (p staticPoses) Box() (geometry.BoxPose, bool)        { return p.box, true }
func (p staticPoses) FleetSize() int                       { return 1 }

type transitionLog struct {
	mu  sync.Mutex
	all []fsm.Transition
}

func (l *transitionLog) observe(t fsm.Transition) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.all = append(l.all, t)
}

func (l *transitionLog) path(machine string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var steps []string
	for _, t := range l.all {
		if t.Machine == machine {
			steps = append(steps, t.From+">"+string(t.Outcome))
		}
	}
	return steps
}

func equalSteps(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func testSettings() Settings {
	return SettingsFromConfig(config.Default())
}

func TestFollowEmptyPathIssuesNoCommands(t *testing.T) {
	sink := &recordingSink{}
	clk := clock.NewStepped(time.Unix(0, 0))
	f := NewPathFollower(0, staticPoses{}, sink, clk, customlog.NewDiscardLogger(), testSettings())

	outcome, err := f.Follow(context.Background(), geometry.Path{})
	if outcome != OutcomeApproachOK || err != nil {
		t.Errorf("Follow(empty) = (%q, %v), want (approach_ok, nil)", outcome, err)
	}
	if sink.count() != 0 {
		t.Errorf("empty path issued %d commands", sink.count())
	}
	if !clk.Now().Equal(time.Unix(0, 0)) {
		t.Error("empty path should not wait for a tick")
	}
}

func TestFollowConvergesOnEveryWaypoint(t *testing.T) {
	clk := clock.NewStepped(time.Unix(0, 0))
	world := sim.NewWorld(clk, geometry.BoxPose{X: 10, Y: 10}, geometry.RobotPose{Heading: math.Pi / 2})
	settings := testSettings()
	f := NewPathFollower(0, world, world.Sink(0), clk, customlog.NewDiscardLogger(), settings)
	log := &transitionLog{}
	f.Observe(log.observe)

	path := geometry.Path{{X: 1, Y: 0}, {X: 1, Y: 1}, {X: 0, Y: 1}}
	original := append(geometry.Path(nil), path...)

	outcome, err := f.Follow(context.Background(), path)
	if outcome != OutcomeApproachOK || err != nil {
		t.Fatalf("Follow() = (%q, %v)", outcome, err)
	}

	pose, _ := world.Robot(0)
	if d := geometry.Distance(pose.X, pose.Y, 0, 1); d >= settings.GoalTolerance+0.01 {
		t.Errorf("final pose %+v is %.3f m from the last waypoint", pose, d)
	}
	if elapsed := clk.Now().Sub(time.Unix(0, 0)); elapsed > time.Minute {
		t.Errorf("convergence took %v of simulated time", elapsed)
	}

	want := []string{
		"ALIGNMENT>alignment_ok", "GO_TO_POINT>point_reached",
		"ALIGNMENT>alignment_ok", "GO_TO_POINT>point_reached",
		"ALIGNMENT>alignment_ok", "GO_TO_POINT>point_reached",
	}
	if got := log.path(containerName); !equalSteps(got, want) {
		t.Errorf("container transitions = %v, want %v", got, want)
	}
	if got := log.path(StateBoxApproach); len(got) != 3 || got[2] != "CONTAINER_STATE[2]>approach_continue" {
		t.Errorf("iterator transitions = %v", got)
	}
	for i := range path {
		if path[i] != original[i] {
			t.Errorf("path mutated at %d: %v", i, path[i])
		}
	}
}

func TestFollowWithInvertedPlatform(t *testing.T) {
	clk := clock.NewStepped(time.Unix(0, 0))
	world := sim.NewWorld(clk, geometry.BoxPose{X: 10, Y: 10}, geometry.RobotPose{Heading: math.Pi})
	world.InvertAngular()
	sink := motion.NewPolaritySink(world.Sink(0), -1)
	f := NewPathFollower(0, world, sink, clk, customlog.NewDiscardLogger(), testSettings())

	outcome, err := f.Follow(context.Background(), geometry.Path{{X: 0, Y: 1.5}})
	if outcome != OutcomeApproachOK || err != nil {
		t.Fatalf("Follow() = (%q, %v)", outcome, err)
	}
	pose, _ := world.Robot(0)
	if d := geometry.Distance(pose.X, pose.Y, 0, 1.5); d > 0.06 {
		t.Errorf("final pose %+v, %.3f m from goal", pose, d)
	}
}

func TestFollowAlignmentTimeout(t *testing.T) {
	sink := &recordingSink{}
	clk := clock.NewStepped(time.Unix(0, 0))
	settings := testSettings()
	settings.AlignmentTimeout = time.Second
	// The robot never moves, so it never faces the waypoint.
	f := NewPathFollower(0, staticPoses{robot: geometry.RobotPose{Heading: math.Pi}}, sink, clk,
		customlog.NewDiscardLogger(), settings)

	outcome, err := f.Follow(context.Background(), geometry.Path{{X: 1, Y: 0}})
	if outcome != OutcomeApproachFailed {
		t.Fatalf("outcome = %q, want approach_failed", outcome)
	}
	var timeout *fleet.CoordinationTimeout
	if !errors.As(err, &timeout) || timeout.Phase != "alignment" {
		t.Fatalf("err = %v, want alignment CoordinationTimeout", err)
	}
	last := sink.commands[len(sink.commands)-1]
	if last != [2]float64{0, 0} {
		t.Errorf("last command = %v, want stop", last)
	}
}

func TestFollowCancelled(t *testing.T) {
	clk := clock.NewStepped(time.Unix(0, 0))
	f := NewPathFollower(0, staticPoses{robot: geometry.RobotPose{Heading: math.Pi}}, &recordingSink{}, clk,
		customlog.NewDiscardLogger(), testSettings())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	outcome, err := f.Follow(ctx, geometry.Path{{X: 1, Y: 0}})
	if outcome != "" || !errors.Is(err, context.Canceled) {
		t.Errorf("Follow() = (%q, %v), want abort with context.Canceled", outcome, err)
	}
}

// fixture is a simulated fleet sharing one stepped clock.
type fixture struct {
	clk   *clock.Stepped
	world *sim.World
	bcast *sim.Broadcast
	cfg   *config.Config
}

func newFixture(starts ...geometry.RobotPose) *fixture {
	clk := clock.NewStepped(time.Unix(0, 0))
	return &fixture{
		clk:   clk,
		world: sim.NewWorld(clk, geometry.BoxPose{}, starts...),
		bcast: sim.NewBroadcast(),
		cfg:   config.Default(),
	}
}

func (f *fixture) mission(t *testing.T, index int, customize func(*Deps)) *Mission {
	t.Helper()
	coord := fleet.NewCoordinator(f.bcast, f.clk, customlog.NewDiscardLogger(), fleet.Options{})
	f.bcast.Subscribe(coord.HandleAnnouncement)

	deps := Deps{
		RobotIndex:  index,
		Poses:       f.world,
		Sink:        f.world.Sink(index),
		Coordinator: coord,
		Planner:     planning.NewGridPlanner(),
		Config:      func() *config.Config { return f.cfg },
		Clock:       f.clk,
		Logger:      customlog.NewDiscardLogger(),
	}
	if customize != nil {
		customize(&deps)
	}
	m, err := New(deps)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m
}

func TestMissionSingleRobotTransport(t *testing.T) {
	fx := newFixture(geometry.RobotPose{X: -3, Y: 0, Heading: math.Pi / 2})
	carry := sim.NewCarryController(1)
	m := fx.mission(t, 0, func(d *Deps) {
		d.MoveBox = &CarryHandoff{
			RobotIndex: 0,
			Notifier:   carry,
			Results:    carry.Results(0),
			Clock:      fx.clk,
			PollRate:   10,
			Timeout:    time.Minute,
			Logger:     customlog.NewDiscardLogger(),
		}
	})
	log := &transitionLog{}
	m.Observe(log.observe)

	result, err := m.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.Succeeded() || result.Err != nil {
		t.Fatalf("result = %+v", result)
	}
	if result.Path.Len() == 0 {
		t.Error("expected a planned path")
	}

	pose, _ := fx.world.Robot(0)
	contact := geometry.Waypoint{X: -(0.5 + 0.2 + 0.02), Y: 0}
	if d := geometry.Distance(pose.X, pose.Y, contact.X, contact.Y); d > 0.06 {
		t.Errorf("robot docked at (%.3f, %.3f), %.3f m from contact point", pose.X, pose.Y, d)
	}

	wantAttachment := []string{
		"WAIT_FOR_TURN>my_turn", "PLAN_TRAJECTORY>path_found",
		"BOX_APPROACH>approach_ok", "BOX_FINE_APPROACH>attachment_ok",
	}
	if got := log.path(StateBoxAttachment); !equalSteps(got, wantAttachment) {
		t.Errorf("attachment transitions = %v, want %v", got, wantAttachment)
	}
	wantMission := []string{"BOX_ATTACHMENT>attachment_ok", "MOVE_BOX>transport_ok"}
	if got := log.path(MachineMission); !equalSteps(got, wantMission) {
		t.Errorf("mission transitions = %v, want %v", got, wantMission)
	}
	for _, tr := range log.all {
		if tr.RunID != result.RunID {
			t.Fatalf("transition %+v not stamped with run id %s", tr, result.RunID)
		}
	}
	if sent := fx.bcast.Sent(); len(sent) != 1 || sent[0] != 0 {
		t.Errorf("announcements = %v, want [0]", sent)
	}
}

func TestMissionThreeRobotsTakeTurns(t *testing.T) {
	fx := newFixture(
		geometry.RobotPose{X: -3, Y: 0},
		geometry.RobotPose{X: 3, Y: 0, Heading: math.Pi},
		geometry.RobotPose{X: 0, Y: 3, Heading: -math.Pi / 2},
	)
	missions := []*Mission{fx.mission(t, 0, nil), fx.mission(t, 1, nil), fx.mission(t, 2, nil)}

	for i, m := range missions {
		result, err := m.Run(context.Background())
		if err != nil {
			t.Fatalf("robot %d: Run: %v", i, err)
		}
		if result.Outcome != OutcomeTransportOK {
			t.Fatalf("robot %d: outcome %s: %v", i, result.Outcome, result.Err)
		}
	}

	if sent := fx.bcast.Sent(); !(len(sent) == 3 && sent[0] == 0 && sent[1] == 1 && sent[2] == 2) {
		t.Errorf("announcements = %v, want [0 1 2]", sent)
	}
	for i := 0; i < 3; i++ {
		pose, _ := fx.world.Robot(i)
		box := geometry.Rectangular{Length: 1, Width: 0.6}
		if box.Contains(pose.X, pose.Y, 0.2) {
			t.Errorf("robot %d overlaps the box at (%.3f, %.3f)", i, pose.X, pose.Y)
		}
		if !box.Contains(pose.X, pose.Y, 0.3) {
			t.Errorf("robot %d did not reach the box: (%.3f, %.3f)", i, pose.X, pose.Y)
		}
	}
}

func TestMissionTurnTimeoutDoesNotRelease(t *testing.T) {
	fx := newFixture(geometry.RobotPose{X: -3, Y: 0}, geometry.RobotPose{X: 3, Y: 0})
	fx.cfg.Timeouts.TurnWait = 3 * time.Second
	m := fx.mission(t, 1, nil)

	result, err := m.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Outcome != OutcomeTransportFailed {
		t.Errorf("outcome = %s, want transport_failed", result.Outcome)
	}
	if !errors.Is(result.Err, fleet.ErrCoordinationTimeout) {
		t.Errorf("Err = %v, want coordination timeout", result.Err)
	}
	if sent := fx.bcast.Sent(); len(sent) != 0 {
		t.Errorf("robot without a turn announced %v", sent)
	}
	if fx.world.CommandCount(1) != 0 {
		t.Error("robot moved without its turn")
	}
}

func TestMissionAnnouncesOnlyAfterAttachment(t *testing.T) {
	fx := newFixture(geometry.RobotPose{X: -3, Y: 0})
	sentDuringApproach := -1
	m := fx.mission(t, 0, func(d *Deps) {
		d.FineApproach = fsm.StateFunc(func(context.Context) (fsm.Outcome, error) {
			sentDuringApproach = len(fx.bcast.Sent())
			return OutcomeAttachmentOK, nil
		})
	})

	result, err := m.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Outcome != OutcomeTransportOK {
		t.Fatalf("outcome = %s: %v", result.Outcome, result.Err)
	}
	if sentDuringApproach != 0 {
		t.Errorf("%d announcements before the turn ended, want 0", sentDuringApproach)
	}
	if sent := fx.bcast.Sent(); len(sent) != 1 || sent[0] != 0 {
		t.Errorf("announcements = %v, want [0]", sent)
	}
}

func TestAttachmentFailureSkipsMoveBox(t *testing.T) {
	fx := newFixture(geometry.RobotPose{X: -3, Y: 0})
	moveBoxRan := false
	m := fx.mission(t, 0, func(d *Deps) {
		d.Planner = planning.PlannerFunc(func(context.Context, planning.Request) (geometry.Path, error) {
			return nil, planning.ErrPlanningFailure
		})
		d.MoveBox = fsm.StateFunc(func(context.Context) (fsm.Outcome, error) {
			moveBoxRan = true
			return OutcomeTransportOK, nil
		})
	})

	result, err := m.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Outcome != OutcomeTransportFailed {
		t.Errorf("outcome = %s, want transport_failed", result.Outcome)
	}
	if moveBoxRan {
		t.Error("MOVE_BOX ran after a failed attachment")
	}
	if !errors.Is(result.Err, planning.ErrPlanningFailure) {
		t.Errorf("Err = %v, want ErrPlanningFailure", result.Err)
	}
	// The turn was taken, so it is released despite the failure.
	if sent := fx.bcast.Sent(); len(sent) != 1 || sent[0] != 0 {
		t.Errorf("announcements = %v, want [0]", sent)
	}
}

func TestFineApproachFailureFailsTransport(t *testing.T) {
	fx := newFixture(geometry.RobotPose{X: -3, Y: 0})
	m := fx.mission(t, 0, func(d *Deps) {
		d.Planner = planning.PlannerFunc(func(context.Context, planning.Request) (geometry.Path, error) {
			return geometry.Path{}, nil
		})
		d.FineApproach = fsm.StateFunc(func(context.Context) (fsm.Outcome, error) {
			return OutcomeAttachmentFailed, errors.New("bumper not engaged")
		})
	})

	result, err := m.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Outcome != OutcomeTransportFailed {
		t.Errorf("outcome = %s, want transport_failed", result.Outcome)
	}
	if fx.world.CommandCount(0) != 0 {
		t.Error("empty path should not move the robot")
	}
}

func TestMissionRejectsConcurrentRun(t *testing.T) {
	fx := newFixture(geometry.RobotPose{X: -3, Y: 0})
	started := make(chan struct{})
	unblock := make(chan struct{})
	m := fx.mission(t, 0, func(d *Deps) {
		d.Planner = planning.PlannerFunc(func(context.Context, planning.Request) (geometry.Path, error) {
			close(started)
			<-unblock
			return nil, planning.ErrPlanningFailure
		})
	})

	done := make(chan error, 1)
	go func() {
		_, err := m.Run(context.Background())
		done <- err
	}()

	<-started
	if _, err := m.Run(context.Background()); !errors.Is(err, ErrMissionRunning) {
		t.Errorf("second Run err = %v, want ErrMissionRunning", err)
	}
	close(unblock)
	if err := <-done; err != nil {
		t.Errorf("first Run err = %v", err)
	}
}

func TestMissionCancelledAborts(t *testing.T) {
	fx := newFixture(geometry.RobotPose{X: -3, Y: 0}, geometry.RobotPose{X: 3, Y: 0})
	m := fx.mission(t, 1, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result, err := m.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if result.Outcome != "" {
		t.Errorf("outcome = %q, want none", result.Outcome)
	}
}

func TestNewRequiresDependencies(t *testing.T) {
	if _, err := New(Deps{}); !errors.Is(err, ErrMissingDep) {
		t.Errorf("err = %v, want ErrMissingDep", err)
	}
}

func TestDockingContactPoint(t *testing.T) {
	a := &DockingApproach{Length: 1, Width: 0.6, RobotRadius: 0.2, ContactGap: 0.02}

	tests := []struct {
		name string
		box  geometry.BoxPose
		x, y float64
		want geometry.Waypoint
	}{
		{"long face", geometry.BoxPose{}, -1, 0.1, geometry.Waypoint{X: -0.72, Y: 0}},
		{"short face", geometry.BoxPose{}, 0.1, 0.8, geometry.Waypoint{X: 0, Y: 0.52}},
		{"rotated box", geometry.BoxPose{X: 1, Y: 1, Heading: math.Pi / 2}, 1, 2, geometry.Waypoint{X: 1, Y: 1.72}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := a.ContactPoint(tt.box, tt.x, tt.y)
			if geometry.Distance(got.X, got.Y, tt.want.X, tt.want.Y) > 1e-9 {
				t.Errorf("ContactPoint = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestCarryHandoff(t *testing.T) {
	newHandoff := func(results chan fleet.CarryResult) (*CarryHandoff, *[]fleet.AttachedStatus) {
		var notified []fleet.AttachedStatus
		return &CarryHandoff{
			RobotIndex: 2,
			Notifier: AttachedNotifierFunc(func(_ context.Context, s fleet.AttachedStatus) error {
				notified = append(notified, s)
				return nil
			}),
			Results:  results,
			Clock:    clock.NewStepped(time.Unix(0, 0)),
			PollRate: 10,
			Timeout:  2 * time.Second,
			Logger:   customlog.NewDiscardLogger(),
		}, &notified
	}

	t.Run("success addressed to all", func(t *testing.T) {
		results := make(chan fleet.CarryResult, 1)
		results <- fleet.CarryResult{RobotID: fleet.AllRobots, OK: true}
		h, notified := newHandoff(results)
		if outcome, err := h.Execute(context.Background()); outcome != OutcomeTransportOK || err != nil {
			t.Errorf("Execute() = (%q, %v)", outcome, err)
		}
		if len(*notified) != 1 || (*notified)[0].RobotID != 2 {
			t.Errorf("notified = %+v", *notified)
		}
	})

	t.Run("failure", func(t *testing.T) {
		results := make(chan fleet.CarryResult, 1)
		results <- fleet.CarryResult{RobotID: 2, OK: false, Reason: "box slipped"}
		h, _ := newHandoff(results)
		outcome, err := h.Execute(context.Background())
		if outcome != OutcomeTransportFailed || err == nil {
			t.Errorf("Execute() = (%q, %v)", outcome, err)
		}
	})

	t.Run("result for another robot then timeout", func(t *testing.T) {
		results := make(chan fleet.CarryResult, 1)
		results <- fleet.CarryResult{RobotID: 0, OK: true}
		h, _ := newHandoff(results)
		outcome, err := h.Execute(context.Background())
		if outcome != OutcomeTransportFailed || !errors.Is(err, fleet.ErrCoordinationTimeout) {
			t.Errorf("Execute() = (%q, %v), want timeout failure", outcome, err)
		}
	})

	t.Run("notify error", func(t *testing.T) {
		h, _ := newHandoff(make(chan fleet.CarryResult))
		h.Notifier = AttachedNotifierFunc(func(context.Context, fleet.AttachedStatus) error {
			return errors.New("bus closed")
		})
		if outcome, _ := h.Execute(context.Background()); outcome != OutcomeTransportFailed {
			t.Errorf("outcome = %q, want transport_failed", outcome)
		}
	})
}
