// Package config loads driver settings from YAML, a .env file and the
// environment, in that order of increasing precedence.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/shaunagostinho/roomba-oi/internal/oi"
)

// DefaultPath is where roombactl looks for its config file.
const DefaultPath = "/etc/roomba-oi/config.yaml"

// Config holds all driver configuration.
type Config struct {
	mu sync.RWMutex

	Robot     RobotConfig     `yaml:"robot" json:"robot"`
	Server    ServerConfig    `yaml:"server" json:"server"`
	Telemetry TelemetryConfig `yaml:"telemetry" json:"telemetry"`
	Log       LogConfig       `yaml:"log" json:"log"`

	path string // file path for save/load
}

type RobotConfig struct {
	PortPath      string `yaml:"port_path" json:"portPath"`            // empty scans every port
	ScanOrder     string `yaml:"scan_order" json:"scanOrder"`          // "sorted" or "host"
	ReadTimeoutMs int    `yaml:"read_timeout_ms" json:"readTimeoutMs"` // 0 blocks forever
	Demo          bool   `yaml:"demo" json:"demo"`                     // use the simulated robot
}

type ServerConfig struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	ListenAddr string `yaml:"listen_addr" json:"listenAddr"`
}

// TelemetryConfig selects the packets the bridge polls while the robot is
// not off. Hz of 0 disables polling.
type TelemetryConfig struct {
	Hz      int      `yaml:"hz" json:"hz"`
	Packets []string `yaml:"packets" json:"packets"`
}

type LogConfig struct {
	Level  string `yaml:"level" json:"level"`   // logrus level name
	Format string `yaml:"format" json:"format"` // "text" or "json"
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Robot: RobotConfig{
			ScanOrder:     "sorted",
			ReadTimeoutMs: 0,
		},
		Server: ServerConfig{
			Enabled:    false,
			ListenAddr: ":8080",
		},
		Telemetry: TelemetryConfig{
			Hz:      2,
			Packets: []string{"oi_mode", "battery_charge", "bumps_wheel_drops", "wall"},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// log starts on the standard logrus logger because the process logger is
// built from the config this package loads. SetLogger replaces it once that
// logger exists.
var log = logrus.WithField("component", "config")

// SetLogger routes config log lines to l. Call it before the config is shared
// between goroutines.
func SetLogger(l *logrus.Entry) {
	if l != nil {
		log = l
	}
}

// LoadConfig reads config from a YAML file, then applies .env and environment
// variable overrides. Falls back to defaults if the YAML is missing or bad.
func LoadConfig(path string) *Config {
	cfg := DefaultConfig()
	cfg.path = path

	data, err := os.ReadFile(path)
	if err != nil {
		log.WithField("path", path).Info("no config file, using defaults")
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		log.WithField("path", path).WithError(err).Warn("bad config file, using defaults")
		cfg = DefaultConfig()
		cfg.path = path
	} else {
		log.WithField("path", path).Info("config loaded")
	}

	for _, ep := range []string{filepath.Join(filepath.Dir(path), ".env"), ".env"} {
		loadEnvFile(ep)
	}

	cfg.applyEnvOverrides()
	return cfg
}

// loadEnvFile reads a simple KEY=VALUE .env file and sets os env vars.
// Variables already present in the environment win.
func loadEnvFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	log.WithField("path", path).Debug("loading .env")
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		val = strings.Trim(strings.TrimSpace(val), `"'`)
		if os.Getenv(key) == "" {
			os.Setenv(key, val)
		}
	}
}

// applyEnvOverrides reads environment variables and overrides config values.
// Supported: ROOMBA_PORT, ROOMBA_SCAN_ORDER, ROOMBA_READ_TIMEOUT_MS,
// ROOMBA_DEMO, SERVER_ENABLED, LISTEN_ADDR, TELEMETRY_HZ, TELEMETRY_PACKETS,
// LOG_LEVEL, LOG_FORMAT
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("ROOMBA_PORT"); v != "" {
		c.Robot.PortPath = v
	}
	if v := os.Getenv("ROOMBA_SCAN_ORDER"); v != "" {
		c.Robot.ScanOrder = v
	}
	if v := os.Getenv("ROOMBA_READ_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Robot.ReadTimeoutMs = n
		}
	}
	if v := os.Getenv("ROOMBA_DEMO"); v != "" {
		c.Robot.Demo = truthy(v)
	}
	if v := os.Getenv("SERVER_ENABLED"); v != "" {
		c.Server.Enabled = truthy(v)
	}
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		c.Server.ListenAddr = v
	}
	if v := os.Getenv("TELEMETRY_HZ"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Telemetry.Hz = n
		}
	}
	if v := os.Getenv("TELEMETRY_PACKETS"); v != "" {
		c.Telemetry.Packets = strings.Split(v, ",")
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}
}

func truthy(v string) bool {
	return v == "1" || v == "true" || v == "yes"
}

// Validate checks values that cannot be defaulted silently.
func (c *Config) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	switch c.Robot.ScanOrder {
	case "sorted", "host":
	default:
		return fmt.Errorf("config: robot.scan_order must be \"sorted\" or \"host\", got %q", c.Robot.ScanOrder)
	}
	if c.Robot.ReadTimeoutMs < 0 {
		return fmt.Errorf("config: robot.read_timeout_ms must not be negative")
	}
	if c.Telemetry.Hz < 0 || c.Telemetry.Hz > 20 {
		return fmt.Errorf("config: telemetry.hz must be within 0-20, got %d", c.Telemetry.Hz)
	}
	if _, err := c.telemetryPackets(); err != nil {
		return fmt.Errorf("config: telemetry.packets: %w", err)
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("config: log.level: %w", err)
	}
	return nil
}

// RobotSettings returns a copy of the robot section.
func (c *Config) RobotSettings() RobotConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Robot
}

// ReadTimeout converts Robot.ReadTimeoutMs.
func (r RobotConfig) ReadTimeout() time.Duration {
	return time.Duration(r.ReadTimeoutMs) * time.Millisecond
}

// ServerSettings returns a copy of the server section.
func (c *Config) ServerSettings() ServerConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Server
}

// TelemetryRate returns the polling interval, or 0 when polling is off.
func (c *Config) TelemetryRate() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.Telemetry.Hz <= 0 {
		return 0
	}
	return time.Second / time.Duration(c.Telemetry.Hz)
}

// TelemetryPackets resolves the configured packet names. An unknown name is
// an error.
func (c *Config) TelemetryPackets() ([]oi.PacketID, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.telemetryPackets()
}

func (c *Config) telemetryPackets() ([]oi.PacketID, error) {
	ids := make([]oi.PacketID, 0, len(c.Telemetry.Packets))
	for _, name := range c.Telemetry.Packets {
		id, err := oi.ParsePacket(name)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Path returns the file the config was loaded from.
func (c *Config) Path() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.path
}

// Save writes the config to its YAML file.
func (c *Config) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.path == "" {
		c.path = DefaultPath
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0755); err != nil {
		return fmt.Errorf("config: mkdir: %w", err)
	}
	if err := os.WriteFile(c.path, data, 0644); err != nil {
		return fmt.Errorf("config: write: %w", err)
	}
	log.WithField("path", c.path).Info("config saved")
	return nil
}

// ToJSON serializes config for the API.
func (c *Config) ToJSON() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return json.Marshal(c)
}

// UpdateFromJSON applies a partial JSON config update by deep-merging
// incoming fields into the existing config. Fields not present in the
// incoming JSON are preserved.
func (c *Config) UpdateFromJSON(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	currentBytes, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal current config: %w", err)
	}
	var base map[string]interface{}
	if err := json.Unmarshal(currentBytes, &base); err != nil {
		return fmt.Errorf("unmarshal current config: %w", err)
	}

	var patch map[string]interface{}
	if err := json.Unmarshal(data, &patch); err != nil {
		return fmt.Errorf("unmarshal patch: %w", err)
	}

	deepMerge(base, patch)

	merged, err := json.Marshal(base)
	if err != nil {
		return fmt.Errorf("marshal merged config: %w", err)
	}
	return json.Unmarshal(merged, c)
}

// deepMerge recursively merges src into dst. For nested maps, values are
// merged rather than replaced. For all other types, src overwrites dst.
func deepMerge(dst, src map[string]interface{}) {
	for key, srcVal := range src {
		if srcMap, ok := srcVal.(map[string]interface{}); ok {
			if dstMap, ok := dst[key].(map[string]interface{}); ok {
				deepMerge(dstMap, srcMap)
				continue
			}
		}
		dst[key] = srcVal
	}
}
