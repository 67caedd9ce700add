package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/coop-transport/controller/pkg/config"
	customlog "github.com/coop-transport/controller/pkg/log"
	"github.com/coop-transport/controller/services"
)

// ConfigHandler holds dependencies for configuration API endpoints.
type ConfigHandler struct {
	configService services.MissionConfigService
	logger        customlog.Logger
}

// NewConfigHandler creates a new handler for configuration endpoints.
func NewConfigHandler(configService services.MissionConfigService, logger customlog.Logger) *ConfigHandler {
	if configService == nil {
		panic("ConfigService cannot be nil in NewConfigHandler")
	}
	if logger == nil {
		panic("Logger cannot be nil in NewConfigHandler")
	}
	return &ConfigHandler{
		configService: configService,
		logger:        logger,
	}
}

// RegisterConfigRoutes registers the configuration API endpoints with the Fiber app.
func RegisterConfigRoutes(app *fiber.App, configService services.MissionConfigService, logger customlog.Logger) {
	h := NewConfigHandler(configService, logger)

	apiGroup := app.Group("/api/v1/config")
	apiGroup.Get("/mission", h.handleGetMissionConfig)
	apiGroup.Put("/mission", h.handleUpdateMissionConfig)

	logger.Debugf("Registered mission configuration API endpoints under /api/v1/config")
}

// handleGetMissionConfig returns the mission config file as YAML.
func (h *ConfigHandler) handleGetMissionConfig(c *fiber.Ctx) error {
	yamlData, err := h.configService.GetCurrentConfigYAML()
	if err != nil {
		h.logger.Warnf("Failed to get mission config YAML: %v", err)
		return c.Status(http.StatusNotFound).JSON(ErrorResponse{
			Error: fmt.Sprintf("Mission configuration not found: %v", err),
		})
	}

	c.Set(fiber.HeaderContentType, "application/x-yaml")
	return c.Send(yamlData)
}

// handleUpdateMissionConfig replaces the mission config with the YAML body.
func (h *ConfigHandler) handleUpdateMissionConfig(c *fiber.Ctx) error {
	newConfigYAML := c.Body()
	if len(newConfigYAML) == 0 {
		return c.Status(http.StatusBadRequest).JSON(ErrorResponse{
			Error: "Request body cannot be empty.",
		})
	}

	err := h.configService.UpdateConfig(newConfigYAML)
	switch {
	case err == nil:
	case errors.Is(err, services.ErrMissionActive):
		return c.Status(http.StatusConflict).JSON(ErrorResponse{Error: err.Error()})
	case errors.Is(err, config.ErrInvalidConfig):
		return c.Status(http.StatusBadRequest).JSON(ErrorResponse{
			Error: fmt.Sprintf("Configuration update failed: %v", err),
		})
	default:
		h.logger.Errorf("Failed to update mission configuration: %v", err)
		return c.Status(http.StatusInternalServerError).JSON(ErrorResponse{
			Error: fmt.Sprintf("Internal server error during configuration update: %v", err),
		})
	}

	cfg := h.configService.GetCurrentConfig()
	h.logger.Infof("Mission configuration updated to %s", cfg.ConfigID)
	return c.JSON(fiber.Map{
		"message":   "Mission configuration updated successfully. It applies from the next run.",
		"config_id": cfg.ConfigID,
	})
}
