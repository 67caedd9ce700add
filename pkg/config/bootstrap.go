package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// BootstrapFileName is the process bootstrap file inside the config directory.
const BootstrapFileName = "controller_config.yaml"

// Environment overrides applied after the bootstrap file is read.
const (
	EnvRobotIndex = "COOP_ROBOT_INDEX"
	EnvLogLevel   = "COOP_LOG_LEVEL"
	EnvHTTPPort   = "COOP_HTTP_PORT"
)

// BootstrapConfig holds the initial configuration loaded from controller_config.yaml
type BootstrapConfig struct {
	Logging LoggingConfig         `yaml:"logging"`
	Server  BootstrapServerConfig `yaml:"server"`
	ZeroMQ  ZeroMQBootstrap       `yaml:"zeromq"`
	Data    DataConfig            `yaml:"data"`
	Fleet   FleetConfig           `yaml:"fleet"`
}

// LoggingConfig holds logging settings from bootstrap
type LoggingConfig struct {
	Level   string `yaml:"level"`
	LogPath string `yaml:"log_path,omitempty"`
}

// BootstrapServerConfig holds bootstrap server settings
type BootstrapServerConfig struct {
	HTTPPort int `yaml:"http_port"`
}

// ZeroMQBootstrap holds ZeroMQ settings from bootstrap
type ZeroMQBootstrap struct {
	// PublishBindAddress is where this robot's PUB socket binds.
	PublishBindAddress string `yaml:"publish_bind_address"`
	// PeerAddresses are the PUB endpoints of every fleet member, this robot included.
	PeerAddresses []string `yaml:"peer_addresses"`
	// PoseFeedAddress is the PUB endpoint of the pose estimator.
	PoseFeedAddress  string `yaml:"pose_feed_address"`
	ReceiveTimeoutMs int    `yaml:"receive_timeout_ms"`
}

// DataConfig holds data directory settings from bootstrap
type DataConfig struct {
	Directory         string `yaml:"directory"`
	MissionConfigFile string `yaml:"mission_config_file"`
	HistoryDB         string `yaml:"history_db"`
}

// FleetConfig identifies this robot within the fleet
type FleetConfig struct {
	Size       int `yaml:"size"`
	RobotIndex int `yaml:"robot_index"`
}

// MissionConfigPath returns the absolute path of the mission config file.
func (b *BootstrapConfig) MissionConfigPath() string {
	return filepath.Join(b.Data.Directory, b.Data.MissionConfigFile)
}

// HistoryDBPath returns the mission history database path, or "" when disabled.
func (b *BootstrapConfig) HistoryDBPath() string {
	if b.Data.HistoryDB == "" {
		return ""
	}
	return filepath.Join(b.Data.Directory, b.Data.HistoryDB)
}

// LoadBootstrapConfig loads the bootstrap configuration from controller_config.yaml.
// An optional .env file next to it is loaded first; environment variables
// override the file.
func LoadBootstrapConfig(configDir string) (*BootstrapConfig, error) {
	envPath := filepath.Join(configDir, ".env")
	if _, err := os.Stat(envPath); err == nil {
		if err := godotenv.Load(envPath); err != nil {
			return nil, fmt.Errorf("error loading env file '%s': %w", envPath, err)
		}
	}

	bootstrapConfigPath := filepath.Join(configDir, BootstrapFileName)

	data, err := os.ReadFile(bootstrapConfigPath)
	if err != nil {
		return nil, fmt.Errorf("error reading bootstrap config file '%s': %w", bootstrapConfigPath, err)
	}

	var bootstrapCfg BootstrapConfig
	if err := yaml.Unmarshal(data, &bootstrapCfg); err != nil {
		return nil, fmt.Errorf("error parsing bootstrap config file '%s': %w", bootstrapConfigPath, err)
	}

	if err := bootstrapCfg.ApplyEnvOverrides(); err != nil {
		return nil, err
	}
	bootstrapCfg.applyDefaults()

	if bootstrapCfg.ZeroMQ.PublishBindAddress == "" {
		return nil, fmt.Errorf("missing required field in bootstrap config: zeromq.publish_bind_address")
	}
	if len(bootstrapCfg.ZeroMQ.PeerAddresses) == 0 {
		return nil, fmt.Errorf("missing required field in bootstrap config: zeromq.peer_addresses")
	}
	if bootstrapCfg.Data.Directory == "" {
		return nil, fmt.Errorf("missing required field in bootstrap config: data.directory")
	}
	if bootstrapCfg.Data.MissionConfigFile == "" {
		return nil, fmt.Errorf("missing required field in bootstrap config: data.mission_config_file")
	}
	if bootstrapCfg.Fleet.Size <= 0 {
		return nil, fmt.Errorf("missing required field in bootstrap config: fleet.size")
	}
	if bootstrapCfg.Fleet.RobotIndex < 0 || bootstrapCfg.Fleet.RobotIndex >= bootstrapCfg.Fleet.Size {
		return nil, fmt.Errorf("fleet.robot_index %d out of range for fleet of %d", bootstrapCfg.Fleet.RobotIndex, bootstrapCfg.Fleet.Size)
	}

	return &bootstrapCfg, nil
}

// ApplyEnvOverrides replaces file values with COOP_* environment variables.
func (b *BootstrapConfig) ApplyEnvOverrides() error {
	if v := os.Getenv(EnvRobotIndex); v != "" {
		idx, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", EnvRobotIndex, v, err)
		}
		b.Fleet.RobotIndex = idx
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		b.Logging.Level = v
	}
	if v := os.Getenv(EnvHTTPPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", EnvHTTPPort, v, err)
		}
		b.Server.HTTPPort = port
	}
	return nil
}

func (b *BootstrapConfig) applyDefaults() {
	if b.Logging.Level == "" {
		b.Logging.Level = "info"
	}
	if b.Server.HTTPPort == 0 {
		b.Server.HTTPPort = 8080
	}
	if b.ZeroMQ.ReceiveTimeoutMs == 0 {
		b.ZeroMQ.ReceiveTimeoutMs = 500
	}
}
