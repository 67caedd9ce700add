package services

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/coop-transport/controller/pkg/config"
	customlog "github.com/coop-transport/controller/pkg/log"
)

// ErrMissionActive is returned by UpdateConfig while a mission run holds the
// configuration.
var ErrMissionActive = errors.New("mission configuration is locked by an active run")

// ConfigListener is called with every successfully applied configuration.
type ConfigListener func(cfg *config.Config)

// MissionConfigService manages the mission configuration file.
type MissionConfigService interface {
	LoadConfig() error
	GetCurrentConfig() *config.Config
	GetCurrentConfigYAML() ([]byte, error)
	UpdateConfig(newConfigYAML []byte) error
	BeginRun() (release func())
	ActiveRuns() int
	OnUpdate(l ConfigListener)
}

type missionConfigService struct {
	path      string
	logger    customlog.Logger
	listeners []ConfigListener

	mu      sync.RWMutex
	current *config.Config
	active  int
}

// NewMissionConfigService creates the service for the file at path. A file
// that cannot be loaded leaves the defaults in place; it can be provided
// later through UpdateConfig.
func NewMissionConfigService(path string, logger customlog.Logger) (MissionConfigService, error) {
	if path == "" {
		return nil, fmt.Errorf("mission configuration path cannot be empty")
	}
	if logger == nil {
		logger = customlog.NewDiscardLogger()
	}

	s := &missionConfigService{
		path:    path,
		logger:  logger,
		current: config.Default(),
	}
	if err := s.LoadConfig(); err != nil {
		logger.Warnf("Initial load of mission config '%s' failed: %v. Using defaults.", path, err)
		return s, nil
	}
	logger.Infof("MissionConfigService initialized for path: %s", path)
	return s, nil
}

// LoadConfig reads the configuration file from disk. On failure the current
// configuration is kept.
func (s *missionConfigService) LoadConfig() error {
	s.logger.Infof("Loading mission configuration from: %s", s.path)
	cfg, err := config.LoadConfig(s.path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.current = cfg
	s.mu.Unlock()

	s.logger.Infof("Loaded mission configuration ID: %s, Version: %s", cfg.ConfigID, cfg.Version)
	return nil
}

// GetCurrentConfig returns the configuration in effect. The value is never
// nil and must be treated as read-only.
func (s *missionConfigService) GetCurrentConfig() *config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// GetCurrentConfigYAML returns the raw file content.
func (s *missionConfigService) GetCurrentConfigYAML() ([]byte, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("error reading mission config file '%s': %w", s.path, err)
	}
	return data, nil
}

// UpdateConfig validates, persists and applies a new configuration. It is
// rejected with ErrMissionActive while a run is in progress, and with
// config.ErrInvalidConfig when the YAML does not validate.
func (s *missionConfigService) UpdateConfig(newConfigYAML []byte) error {
	cfg, err := config.ParseConfig(newConfigYAML)
	if err != nil {
		if errors.Is(err, config.ErrInvalidConfig) {
			return err
		}
		return fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
	}

	s.mu.Lock()
	if s.active > 0 {
		s.mu.Unlock()
		return ErrMissionActive
	}
	if err := s.persist(newConfigYAML); err != nil {
		s.mu.Unlock()
		return err
	}
	old := s.current.ConfigID
	s.current = cfg
	listeners := append([]ConfigListener(nil), s.listeners...)
	s.mu.Unlock()

	s.logger.Infof("Updated mission configuration. ID %s -> %s, Version: %s", old, cfg.ConfigID, cfg.Version)
	for _, l := range listeners {
		l(cfg)
	}
	return nil
}

// persist writes the file through a temporary file in the same directory.
func (s *missionConfigService) persist(data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".mission-config-*")
	if err != nil {
		return fmt.Errorf("error writing mission config file '%s': %w", s.path, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("error writing mission config file '%s': %w", s.path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("error writing mission config file '%s': %w", s.path, err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("error writing mission config file '%s': %w", s.path, err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("error writing mission config file '%s': %w", s.path, err)
	}
	return nil
}

// BeginRun locks the configuration until release is called. Runs may
// overlap; the lock is held while any of them is active.
func (s *missionConfigService) BeginRun() func() {
	s.mu.Lock()
	s.active++
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			s.active--
			s.mu.Unlock()
		})
	}
}

// ActiveRuns returns the number of runs holding the configuration.
func (s *missionConfigService) ActiveRuns() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// OnUpdate registers l for later updates.
func (s *missionConfigService) OnUpdate(l ConfigListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}
