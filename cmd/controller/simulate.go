package main

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"os"
	"os/signal"
	"syscall"

	"github.com/sourcegraph/conc"
	"github.com/spf13/cobra"

	"github.com/coop-transport/controller/pkg/clock"
	"github.com/coop-transport/controller/pkg/config"
	"github.com/coop-transport/controller/pkg/fleet"
	"github.com/coop-transport/controller/pkg/geometry"
	customlog "github.com/coop-transport/controller/pkg/log"
	"github.com/coop-transport/controller/pkg/mission"
	"github.com/coop-transport/controller/pkg/motion"
	"github.com/coop-transport/controller/pkg/planning"
	"github.com/coop-transport/controller/pkg/sim"
)

// simulateOptions are the flags of the simulate command.
type simulateOptions struct {
	robots     int
	seed       int64
	speed      float64
	radius     float64
	invert     bool
	configPath string
	logLevel   string
}

func newSimulateCmd() *cobra.Command {
	opts := simulateOptions{}
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a whole fleet against a simulated world",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runSimulation(ctx, opts)
		},
	}
	cmd.Flags().IntVar(&opts.robots, "robots", 3, "number of robots")
	cmd.Flags().Int64Var(&opts.seed, "seed", 1, "seed of the start pose layout")
	cmd.Flags().Float64Var(&opts.speed, "speed", 10, "simulated seconds per wall second")
	cmd.Flags().Float64Var(&opts.radius, "radius", 3, "distance of the start poses from the box (m)")
	cmd.Flags().BoolVar(&opts.invert, "invert", false, "simulate robots with inverted angular polarity")
	cmd.Flags().StringVar(&opts.configPath, "config", "", "mission configuration file (defaults when empty)")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "info", "log level")
	return cmd
}

func runSimulation(ctx context.Context, opts simulateOptions) error {
	if opts.robots <= 0 {
		return fmt.Errorf("--robots must be positive, got %d", opts.robots)
	}
	if opts.speed <= 0 {
		return fmt.Errorf("--speed must be positive, got %v", opts.speed)
	}

	logger := customlog.NewWriterLogger(opts.logLevel, os.Stderr)

	cfg := config.Default()
	if opts.configPath != "" {
		loaded, err := config.LoadConfig(opts.configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if opts.invert {
		cfg.Robot.AngularSign = -1
	}

	clk := clock.NewScaled(opts.speed)
	world := sim.NewWorld(clk, geometry.BoxPose{}, startPoses(opts.robots, opts.radius, opts.seed)...)
	if opts.invert {
		world.InvertAngular()
	}
	bcast := sim.NewBroadcast()
	carry := sim.NewCarryController(opts.robots)

	missions := make([]*mission.Mission, opts.robots)
	for i := range missions {
		robotLogger := logger.WithField("robot", i)
		coordinator := fleet.NewCoordinator(bcast, clk, robotLogger.WithField("component", "turns"), fleet.Options{})
		bcast.Subscribe(coordinator.HandleAnnouncement)

		m, err := mission.New(mission.Deps{
			RobotIndex:  i,
			Poses:       world,
			Sink:        motion.NewPolaritySink(world.Sink(i), cfg.Robot.AngularSign),
			Coordinator: coordinator,
			Planner:     planning.NewGridPlanner(),
			Config:      func() *config.Config { return cfg },
			Clock:       clk,
			Logger:      robotLogger,
			MoveBox: &mission.CarryHandoff{
				RobotIndex: i,
				Notifier:   carry,
				Results:    carry.Results(i),
				Clock:      clk,
				PollRate:   cfg.Control.ControlRateHz,
				Timeout:    cfg.Timeouts.Carry,
				Logger:     robotLogger.WithField("machine", mission.StateMoveBox),
			},
		})
		if err != nil {
			return err
		}
		missions[i] = m
	}

	results := make([]mission.MissionResult, opts.robots)
	var wg conc.WaitGroup
	for i, m := range missions {
		wg.Go(func() {
			result, err := m.Run(ctx)
			if err != nil && result.Err == nil {
				result.Err = err
			}
			results[i] = result
		})
	}
	if r := wg.WaitAndRecover(); r != nil {
		return fmt.Errorf("simulation panicked: %v", r.Value)
	}

	failed := 0
	for i, r := range results {
		pose, _ := world.Robot(i)
		fmt.Printf("robot %d: %-16s at (%6.3f, %6.3f) heading %6.3f  commands %d",
			i, r.Outcome, pose.X, pose.Y, pose.Heading, world.CommandCount(i))
		if r.Err != nil {
			fmt.Printf("  error: %v", r.Err)
		}
		fmt.Println()
		if !r.Succeeded() {
			failed++
		}
	}
	fmt.Printf("turn order: %v, attached: %d/%d\n", bcast.Sent(), carry.Attached(), opts.robots)

	if failed > 0 {
		return fmt.Errorf("%d of %d robots failed", failed, opts.robots)
	}
	return nil
}

// startPoses spreads n robots evenly on a circle around the origin with a
// seeded jitter, each facing a random direction.
func startPoses(n int, radius float64, seed int64) []geometry.RobotPose {
	rng := rand.New(rand.NewSource(seed))
	poses := make([]geometry.RobotPose, n)
	for i := range poses {
		angle := 2*math.Pi*float64(i)/float64(n) + (rng.Float64()-0.5)*math.Pi/float64(2*n)
		r := radius * (1 + 0.2*(rng.Float64()-0.5))
		poses[i] = geometry.RobotPose{
			X:       r * math.Cos(angle),
			Y:       r * math.Sin(angle),
			Heading: geometry.WrapAngle(rng.Float64()*2*math.Pi - math.Pi),
		}
	}
	return poses
}
