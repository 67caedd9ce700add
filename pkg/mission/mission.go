// Package mission composes the per-robot state machines: the box attachment
// machine (turn taking, planning, path following, fine approach) and the
// top-level transport mission around it.
package mission

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/coop-transport/controller/pkg/clock"
	"github.com/coop-transport/controller/pkg/config"
	"github.com/coop-transport/controller/pkg/fleet"
	"github.com/coop-transport/controller/pkg/fsm"
	"github.com/coop-transport/controller/pkg/geometry"
	customlog "github.com/coop-transport/controller/pkg/log"
	"github.com/coop-transport/controller/pkg/motion"
	"github.com/coop-transport/controller/pkg/planning"
)

// PoseSource is the pose feed read by every control loop.
type PoseSource = geometry.PoseSource

// Outcomes
const (
	OutcomeMyTurn           fsm.Outcome = "my_turn"
	OutcomeTurnTimeout      fsm.Outcome = "turn_timeout"
	OutcomePathFound        fsm.Outcome = "path_found"
	OutcomePlanFailed       fsm.Outcome = "plan_failed"
	OutcomeAlignmentOK      fsm.Outcome = "alignment_ok"
	OutcomePointReached     fsm.Outcome = "point_reached"
	OutcomeApproachContinue fsm.Outcome = "approach_continue"
	OutcomeApproachOK       fsm.Outcome = "approach_ok"
	OutcomeApproachFailed   fsm.Outcome = "approach_failed"
	OutcomeAttachmentOK     fsm.Outcome = "attachment_ok"
	OutcomeAttachmentFailed fsm.Outcome = "attachment_failed"
	OutcomeTransportOK      fsm.Outcome = "transport_ok"
	OutcomeTransportFailed  fsm.Outcome = "transport_failed"
)

// State and machine names
const (
	MachineMission       = "MISSION"
	StateBoxAttachment   = "BOX_ATTACHMENT"
	StateMoveBox         = "MOVE_BOX"
	StateWaitForTurn     = "WAIT_FOR_TURN"
	StatePlanTrajectory  = "PLAN_TRAJECTORY"
	StateBoxApproach     = "BOX_APPROACH"
	StateBoxFineApproach = "BOX_FINE_APPROACH"
	StateAlignment       = "ALIGNMENT"
	StateGoToPoint       = "GO_TO_POINT"
)

// Common errors
var (
	ErrMissionRunning = errors.New("mission already running")
	ErrMissingDep     = errors.New("missing mission dependency")
)

// Deps are the collaborators of a Mission.
type Deps struct {
	RobotIndex  int
	Poses       PoseSource
	Sink        motion.CommandSink
	Coordinator *fleet.Coordinator
	Planner     planning.Planner
	// Config returns the mission configuration; it is read once per run.
	Config func() *config.Config
	Clock  clock.Clock
	Logger customlog.Logger

	// FineApproach replaces the default DockingApproach.
	FineApproach fsm.State
	// MoveBox is the carry phase. Without one the transport completes as
	// soon as the box is attached.
	MoveBox fsm.State
}

// MissionResult summarizes one run.
type MissionResult struct {
	RunID      string        `json:"run_id"`
	RobotIndex int           `json:"robot_index"`
	Outcome    fsm.Outcome   `json:"outcome"`
	Err        error         `json:"-"`
	Error      string        `json:"error,omitempty"`
	Path       geometry.Path `json:"path,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
}

// Succeeded reports whether the box was transported.
func (r MissionResult) Succeeded() bool {
	return r.Outcome == OutcomeTransportOK
}

// Mission runs the transport state machine of one robot.
type Mission struct {
	deps Deps

	mu        sync.Mutex
	observers []fsm.Observer
	running   bool
}

// New validates deps and creates a mission.
func New(deps Deps) (*Mission, error) {
	switch {
	case deps.Poses == nil:
		return nil, fmt.Errorf("%w: pose source", ErrMissingDep)
	case deps.Sink == nil:
		return nil, fmt.Errorf("%w: command sink", ErrMissingDep)
	case deps.Coordinator == nil:
		return nil, fmt.Errorf("%w: turn coordinator", ErrMissingDep)
	case deps.Planner == nil:
		return nil, fmt.Errorf("%w: planner", ErrMissingDep)
	case deps.Config == nil:
		return nil, fmt.Errorf("%w: configuration", ErrMissingDep)
	}
	if deps.Clock == nil {
		deps.Clock = clock.Wall{}
	}
	if deps.Logger == nil {
		deps.Logger = customlog.NewDiscardLogger()
	}
	return &Mission{deps: deps}, nil
}

// Observe registers o for the transitions of every later run.
func (m *Mission) Observe(o fsm.Observer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, o)
}

// Run executes the mission once. The returned error is non-nil only when the
// run was aborted without an outcome (cancellation or an invalid machine);
// diagnostics of a failed transport are in MissionResult.Err.
func (m *Mission) Run(ctx context.Context) (MissionResult, error) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return MissionResult{}, ErrMissionRunning
	}
	m.running = true
	observers := append([]fsm.Observer(nil), m.observers...)
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
	}()

	r := m.newRun()
	result := MissionResult{RunID: r.id, RobotIndex: m.deps.RobotIndex, StartedAt: m.deps.Clock.Now()}

	top := r.build()
	top.SetClock(m.deps.Clock.Now)
	top.Observe(func(t fsm.Transition) {
		t.RunID = r.id
		for _, o := range observers {
			o(t)
		}
	})

	r.logger.Infof("Mission started")
	outcome, err := top.Execute(ctx)

	result.Outcome = outcome
	result.Path = r.path
	result.FinishedAt = m.deps.Clock.Now()
	if err != nil {
		result.Err = err
		result.Error = err.Error()
	}

	if outcome == "" {
		r.logger.Errorf("Mission aborted: %v", err)
		return result, err
	}
	if err != nil {
		r.logger.Warnf("Mission finished with %s: %v", outcome, err)
	} else {
		r.logger.Infof("Mission finished with %s", outcome)
	}
	return result, nil
}

// run holds the state of one execution.
type run struct {
	id       string
	deps     Deps
	cfg      *config.Config
	logger   customlog.Logger
	follower *PathFollower

	path      geometry.Path
	turnTaken bool
}

func (m *Mission) newRun() *run {
	id := uuid.NewString()
	cfg := m.deps.Config()
	if cfg == nil {
		cfg = config.Default()
	}
	logger := m.deps.Logger.WithFields(map[string]interface{}{
		"robot": m.deps.RobotIndex,
		"run":   id[:8],
	})

	m.deps.Coordinator.Configure(fleet.Options{
		PollRate: cfg.Control.TurnPollRateHz,
		Timeout:  cfg.Timeouts.TurnWait,
	})

	return &run{
		id:     id,
		deps:   m.deps,
		cfg:    cfg,
		logger: logger,
		follower: NewPathFollower(m.deps.RobotIndex, m.deps.Poses, m.deps.Sink, m.deps.Clock,
			logger.WithField("machine", StateBoxApproach), SettingsFromConfig(cfg)),
	}
}

// build assembles the mission machine for this run.
func (r *run) build() *fsm.Machine {
	attachment := r.attachmentMachine()

	moveBox := r.deps.MoveBox
	if moveBox == nil {
		moveBox = fsm.StateFunc(func(context.Context) (fsm.Outcome, error) {
			r.logger.Warnf("No carry phase configured, transport completes at attachment")
			return OutcomeTransportOK, nil
		})
	}

	top := fsm.NewMachine(MachineMission, OutcomeTransportOK, OutcomeTransportFailed)
	top.Add(StateBoxAttachment, attachment, fsm.Transitions{
		OutcomeAttachmentOK:     StateMoveBox,
		OutcomeAttachmentFailed: string(OutcomeTransportFailed),
	})
	top.Add(StateMoveBox, moveBox, fsm.Transitions{
		OutcomeTransportOK:     string(OutcomeTransportOK),
		OutcomeTransportFailed: string(OutcomeTransportFailed),
	})
	return top
}

func (r *run) attachmentMachine() *fsm.Machine {
	fine := r.deps.FineApproach
	if fine == nil {
		docking := &DockingApproach{
			driver:      r.follower.driver,
			Length:      r.cfg.Box.Length,
			Width:       r.cfg.Box.Width,
			RobotRadius: r.cfg.Robot.Radius,
			ContactGap:  r.cfg.Control.ContactGap,
		}
		docking.logger = r.logger.WithField("machine", StateBoxFineApproach)
		fine = docking
	}

	m := fsm.NewMachine(StateBoxAttachment, OutcomeAttachmentOK, OutcomeAttachmentFailed)
	m.Add(StateWaitForTurn, fsm.StateFunc(r.waitForTurn), fsm.Transitions{
		OutcomeMyTurn:      StatePlanTrajectory,
		OutcomeTurnTimeout: string(OutcomeAttachmentFailed),
	})
	m.Add(StatePlanTrajectory, fsm.StateFunc(r.planTrajectory), fsm.Transitions{
		OutcomePathFound:  StateBoxApproach,
		OutcomePlanFailed: string(OutcomeAttachmentFailed),
	})
	m.Add(StateBoxApproach, r.follower.State(), fsm.Transitions{
		OutcomeApproachOK:     StateBoxFineApproach,
		OutcomeApproachFailed: string(OutcomeAttachmentFailed),
	})
	m.Add(StateBoxFineApproach, fine, fsm.Transitions{
		OutcomeAttachmentOK:     string(OutcomeAttachmentOK),
		OutcomeAttachmentFailed: string(OutcomeAttachmentFailed),
	})
	m.OnTerminate(r.releaseTurn)
	return m
}

func (r *run) waitForTurn(ctx context.Context) (fsm.Outcome, error) {
	err := r.deps.Coordinator.WaitForTurn(ctx, r.deps.RobotIndex)
	switch {
	case err == nil:
		r.turnTaken = true
		return OutcomeMyTurn, nil
	case errors.Is(err, fleet.ErrCoordinationTimeout):
		return OutcomeTurnTimeout, err
	default:
		return "", err
	}
}

func (r *run) planTrajectory(ctx context.Context) (fsm.Outcome, error) {
	req, err := planning.BuildRequest(r.deps.RobotIndex, r.deps.Poses, r.cfg)
	if err != nil {
		return OutcomePlanFailed, err
	}
	r.logger.Infof("Planning from (%.3f, %.3f) around %d obstacles", req.Start.X, req.Start.Y, len(req.Obstacles))

	path, err := r.deps.Planner.Plan(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return "", err
		}
		return OutcomePlanFailed, err
	}

	r.path = path
	r.follower.SetPath(path)
	r.logger.Infof("Path found with %d waypoints", path.Len())
	return OutcomePathFound, nil
}

// releaseTurn lets the next robot go once this robot's attachment is over,
// whatever its outcome.
func (r *run) releaseTurn(ctx context.Context, _ fsm.Outcome) error {
	if !r.turnTaken {
		return nil
	}
	return r.deps.Coordinator.Release(context.WithoutCancel(ctx), r.deps.RobotIndex)
}
