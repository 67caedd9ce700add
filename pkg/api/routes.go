// Package api exposes the controller's state over HTTP and WebSocket.
package api

import (
	"errors"
	"net/http"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/coop-transport/controller/domain/drive"
	"github.com/coop-transport/controller/domain/pose"
	"github.com/coop-transport/controller/domain/status"
	"github.com/coop-transport/controller/pkg/fleet"
	customlog "github.com/coop-transport/controller/pkg/log"
	"github.com/coop-transport/controller/pkg/store"
	"github.com/coop-transport/controller/services"
)

// Services are the backends of the API. Nil members disable their routes.
type Services struct {
	RobotIndex  int
	Status      *status.StatusService
	Poses       *pose.PoseService
	Drive       *drive.DriveService
	Coordinator *fleet.Coordinator
	Config      services.MissionConfigService
	History     *store.Store
}

// NewApp creates the Fiber app with the controller's error handler.
func NewApp(name string) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               name,
		ErrorHandler:          customErrorHandler,
		DisableStartupMessage: true,
	})
	app.Use(recover.New())
	return app
}

// RegisterRoutes registers every endpoint backed by svc.
func RegisterRoutes(app *fiber.App, svc Services, logger customlog.Logger) {
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":      "online",
			"service":     "cooperative transport controller",
			"robot_index": svc.RobotIndex,
		})
	})
	app.Get("/health", func(c *fiber.Ctx) error {
		if svc.History != nil {
			if err := svc.History.Ping(c.UserContext()); err != nil {
				return c.Status(http.StatusServiceUnavailable).JSON(fiber.Map{"status": "unhealthy", "error": err.Error()})
			}
		}
		return c.JSON(fiber.Map{"status": "healthy"})
	})

	v1 := app.Group("/api/v1")
	if svc.Status != nil {
		v1.Get("/mission", svc.Status.GetMissionHandler)
	}
	if svc.Coordinator != nil {
		v1.Get("/fleet/turns", turnsHandler(svc.RobotIndex, svc.Coordinator))
	}
	if svc.Poses != nil {
		v1.Get("/poses", svc.Poses.GetPosesHandler)
	}
	if svc.Drive != nil {
		v1.Get("/drive", svc.Drive.GetLastCommandHandler)
	}
	if svc.History != nil {
		v1.Get("/missions/history", historyHandler(svc.History))
		v1.Get("/missions/:id/transitions", transitionsHandler(svc.History))
	}
	if svc.Config != nil {
		RegisterConfigRoutes(app, svc.Config, logger)
	}

	if svc.Status != nil {
		app.Use("/ws", func(c *fiber.Ctx) error {
			if websocket.IsWebSocketUpgrade(c) {
				return c.Next()
			}
			return fiber.ErrUpgradeRequired
		})
		app.Get("/ws/mission", websocket.New(func(conn *websocket.Conn) {
			MissionWebSocketHandler(conn, logger, svc.Status)
		}))
	}
}

func turnsHandler(robot int, coordinator *fleet.Coordinator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		registry := coordinator.Registry()
		return c.JSON(TurnsResponse{
			RobotIndex: robot,
			Registered: registry.IDs(),
			Size:       registry.Size(),
			MyTurn:     coordinator.IsMyTurn(robot),
		})
	}
}

func historyHandler(history *store.Store) fiber.Handler {
	return func(c *fiber.Ctx) error {
		limit := c.QueryInt("limit", store.DefaultListLimit)
		if limit <= 0 {
			return fiber.NewError(http.StatusBadRequest, "limit must be positive")
		}
		runs, err := history.ListRuns(c.UserContext(), limit)
		if err != nil {
			return err
		}
		return c.JSON(HistoryResponse{Runs: runs})
	}
}

func transitionsHandler(history *store.Store) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Params("id")
		if _, err := history.GetRun(c.UserContext(), id); err != nil {
			if errors.Is(err, store.ErrRunNotFound) {
				return fiber.NewError(http.StatusNotFound, err.Error())
			}
			return err
		}
		transitions, err := history.Transitions(c.UserContext(), id)
		if err != nil {
			return err
		}
		return c.JSON(fiber.Map{"run_id": id, "transitions": transitions})
	}
}

// customErrorHandler renders every error as an ErrorResponse.
func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError

	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
	}
	return c.Status(code).JSON(ErrorResponse{Error: err.Error()})
}
