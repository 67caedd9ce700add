package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/coop-transport/controller/domain/drive"
	"github.com/coop-transport/controller/domain/pose"
	"github.com/coop-transport/controller/domain/status"
	"github.com/coop-transport/controller/pkg/api"
	"github.com/coop-transport/controller/pkg/clock"
	"github.com/coop-transport/controller/pkg/config"
	"github.com/coop-transport/controller/pkg/fleet"
	"github.com/coop-transport/controller/pkg/fsm"
	customlog "github.com/coop-transport/controller/pkg/log"
	"github.com/coop-transport/controller/pkg/mission"
	"github.com/coop-transport/controller/pkg/planning"
	"github.com/coop-transport/controller/pkg/store"
	"github.com/coop-transport/controller/pkg/zeromq"
	"github.com/coop-transport/controller/services"
)

// poseWaitRate is how often the first poses are checked for at startup.
const poseWaitRate = 2.0

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the controller of one robot",
		RunE: func(cmd *cobra.Command, args []string) error {
			configDir, _ := cmd.Flags().GetString("config-dir")
			if cmd.Flags().Changed("robot-index") {
				idx, _ := cmd.Flags().GetInt("robot-index")
				_ = os.Setenv(config.EnvRobotIndex, strconv.Itoa(idx))
			}
			if level, _ := cmd.Flags().GetString("log-level"); level != "" {
				_ = os.Setenv(config.EnvLogLevel, level)
			}
			poseTimeout, _ := cmd.Flags().GetDuration("pose-timeout")

			bootstrap, err := config.LoadBootstrapConfig(configDir)
			if err != nil {
				return err
			}
			return runController(bootstrap, poseTimeout)
		},
	}
	cmd.Flags().String("config-dir", "./config", "directory holding controller_config.yaml")
	cmd.Flags().Int("robot-index", 0, "override fleet.robot_index")
	cmd.Flags().String("log-level", "", "override logging.level (debug, info, warn, error)")
	cmd.Flags().Duration("pose-timeout", time.Minute, "how long to wait for the first robot and box poses")
	return cmd
}

func runController(bootstrap *config.BootstrapConfig, poseTimeout time.Duration) error {
	robot := bootstrap.Fleet.RobotIndex

	logger, err := customlog.NewLogrusLogger(bootstrap.Logging.Level, bootstrap.Logging.LogPath)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger = logger.WithField("robot", robot)
	logger.Infof("Starting controller %s for robot %d of %d", version, robot, bootstrap.Fleet.Size)

	configService, err := services.NewMissionConfigService(bootstrap.MissionConfigPath(), logger.WithField("component", "config"))
	if err != nil {
		return err
	}

	bus, err := zeromq.NewZeroMQService(bootstrap.ZeroMQ, logger.WithField("component", "zeromq"))
	if err != nil {
		return fmt.Errorf("failed to create ZeroMQ service: %w", err)
	}
	defer bus.Stop()

	poses := pose.NewPoseService(bootstrap.Fleet.Size)
	coordinator := fleet.NewCoordinator(
		zeromq.NewTurnPublisher(bus, logger.WithField("component", "turns")),
		clock.Wall{}, logger.WithField("component", "turns"), fleet.Options{})
	carryResults := zeromq.NewCarryResultHandler(robot, 4, logger)

	zeromq.RegisterFleetHandlers(bus, zeromq.FleetHandlers{
		Turn:  zeromq.NewTurnHandler(coordinator.HandleAnnouncement, logger),
		Pose:  zeromq.NewPoseHandler(poses, logger),
		Carry: carryResults,
	})
	if err := bus.Start(); err != nil {
		return fmt.Errorf("failed to start ZeroMQ service: %w", err)
	}

	driveService := drive.NewDriveService(robot, zeromq.NewTwistPublisher(bus),
		drive.LimitsFromConfig(configService.GetCurrentConfig()), logger.WithField("component", "drive"))
	configService.OnUpdate(func(cfg *config.Config) {
		driveService.SetLimits(drive.LimitsFromConfig(cfg))
	})

	statusService := status.NewStatusService(robot, logger)

	var history *store.Store
	if path := bootstrap.HistoryDBPath(); path != "" {
		if err := os.MkdirAll(bootstrap.Data.Directory, 0o755); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}
		history, err = store.NewStore(path)
		if err != nil {
			return fmt.Errorf("failed to open mission history: %w", err)
		}
		defer history.Close()
	}

	attached := zeromq.NewAttachedPublisher(bus, logger)
	m, err := mission.New(mission.Deps{
		RobotIndex:  robot,
		Poses:       poses,
		Sink:        driveService,
		Coordinator: coordinator,
		Planner:     planning.NewGridPlanner(),
		Config:      configService.GetCurrentConfig,
		Clock:       clock.Wall{},
		Logger:      logger,
		MoveBox: fsm.StateFunc(func(ctx context.Context) (fsm.Outcome, error) {
			cfg := configService.GetCurrentConfig()
			handoff := &mission.CarryHandoff{
				RobotIndex: robot,
				Notifier:   attached,
				Results:    carryResults.Results(),
				Clock:      clock.Wall{},
				PollRate:   cfg.Control.ControlRateHz,
				Timeout:    cfg.Timeouts.Carry,
				Logger:     logger.WithField("machine", mission.StateMoveBox),
			}
			return handoff.Execute(ctx)
		}),
	})
	if err != nil {
		return err
	}
	m.Observe(statusService.Observe)
	if history != nil {
		m.Observe(history.Observer(logger))
	}

	app := api.NewApp("Cooperative Transport Controller")
	api.RegisterRoutes(app, api.Services{
		RobotIndex:  robot,
		Status:      statusService,
		Poses:       poses,
		Drive:       driveService,
		Coordinator: coordinator,
		Config:      configService,
		History:     history,
	}, logger.WithField("component", "api"))

	go func() {
		addr := fmt.Sprintf(":%d", bootstrap.Server.HTTPPort)
		logger.Infof("HTTP server listening on %s", addr)
		if err := app.Listen(addr); err != nil {
			logger.Errorf("HTTP server stopped: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	missionDone := make(chan struct{})
	go func() {
		defer close(missionDone)
		if err := waitForPoses(ctx, poses, robot, poseTimeout); err != nil {
			logger.Errorf("Not starting mission: %v", err)
			return
		}
		release := configService.BeginRun()
		result, err := m.Run(ctx)
		release()
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Errorf("Mission aborted: %v", err)
		}
		statusService.RecordResult(result)
		if history != nil {
			if err := history.SaveRun(context.WithoutCancel(ctx), result); err != nil {
				logger.Warnf("Failed to save mission result: %v", err)
			}
		}
	}()

	<-ctx.Done()
	logger.Infof("Shutting down controller...")

	select {
	case <-missionDone:
	case <-time.After(5 * time.Second):
		logger.Warnf("Mission did not stop within 5s")
	}
	driveService.SetControl(0, 0)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Warnf("HTTP server forced to shutdown: %v", err)
	}

	logger.Infof("Controller exited properly")
	return nil
}

// waitForPoses blocks until the pose feed has delivered this robot's pose and
// the box pose.
func waitForPoses(ctx context.Context, poses *pose.PoseService, robot int, timeout time.Duration) error {
	clk := clock.Wall{}
	rate := clk.NewRate(poseWaitRate)
	start := clk.Now()
	for {
		_, haveRobot := poses.Robot(robot)
		_, haveBox := poses.Box()
		if haveRobot && haveBox {
			return nil
		}
		if timeout > 0 && clk.Now().Sub(start) >= timeout {
			return &fleet.CoordinationTimeout{
				Phase:   "initial poses",
				RobotID: robot,
				Elapsed: clk.Now().Sub(start),
				Detail:  fmt.Sprintf("robot pose received: %v, box pose received: %v", haveRobot, haveBox),
			}
		}
		if err := rate.Sleep(ctx); err != nil {
			return err
		}
	}
}
