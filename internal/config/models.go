package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bryanchriswhite/CamStreamer/internal/logger"
	"gopkg.in/yaml.v3"
)

// Frame rates the camera accepts
var FrameRates = []int{5, 10, 15, 20, 25, 30}

// MaxResolution is the largest square side, in pixels, the camera is opened with
const MaxResolution = 4096

// Config represents the application configuration
type Config struct {
	ServerHost string        `json:"server_host" yaml:"server_host"`
	ServerPort int           `json:"server_port" yaml:"server_port"`
	LogLevel   string        `json:"log_level" yaml:"log_level"`
	LogPretty  bool          `json:"log_pretty" yaml:"log_pretty"`
	Camera     CameraConfig  `json:"camera" yaml:"camera"`
	Stream     StreamConfig  `json:"stream" yaml:"stream"`
	Control    ControlConfig `json:"control" yaml:"control"`
	Light      LightConfig   `json:"light" yaml:"light"`
}

// CameraConfig selects the capture driver and its startup parameters
type CameraConfig struct {
	// Driver is one of "v4l2", "rpicam", "synthetic" or "none"
	Driver      string        `json:"driver" yaml:"driver"`
	Device      string        `json:"device" yaml:"device"`
	FrameRate   int           `json:"fps" yaml:"fps"`
	Resolution  int           `json:"resolution" yaml:"resolution"`
	Rotation    int           `json:"rotation" yaml:"rotation"`
	JPEGQuality int           `json:"jpeg_quality" yaml:"jpeg_quality"`
	WarmUp      time.Duration `json:"warm_up" yaml:"warm_up"`
	PhotoWait   time.Duration `json:"photo_wait" yaml:"photo_wait"`
	AutoStart   bool          `json:"autostart" yaml:"autostart"`
}

// StreamConfig tunes MJPEG client sessions
type StreamConfig struct {
	WaitTimeout time.Duration `json:"wait_timeout" yaml:"wait_timeout"`
}

// ControlConfig tunes the /control endpoint
type ControlConfig struct {
	LockTimeout         time.Duration `json:"lock_timeout" yaml:"lock_timeout"`
	MinResolutionChange int           `json:"min_resolution_change" yaml:"min_resolution_change"`
}

// LightConfig selects the auxiliary light backend
type LightConfig struct {
	// Driver is one of "none", "sysfs" or "gpio"
	Driver    string `json:"driver" yaml:"driver"`
	Path      string `json:"path,omitempty" yaml:"path,omitempty"`
	Pin       string `json:"pin,omitempty" yaml:"pin,omitempty"`
	ActiveLow bool   `json:"active_low" yaml:"active_low"`
}

// Manager handles configuration
type Manager struct {
	configPath string
	config     *Config
	mu         sync.RWMutex
}

// NewManager creates a new configuration manager
func NewManager(configFile string) (*Manager, error) {
	actualConfigPath := configFile
	if actualConfigPath == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		actualConfigPath = filepath.Join(homeDir, ".config", "camstreamer", "config.yaml")
	}

	if err := os.MkdirAll(filepath.Dir(actualConfigPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	m := &Manager{
		configPath: actualConfigPath,
	}

	if err := m.load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		logger.WithComponent("config").Info().
			Str("path", m.configPath).
			Msg("Config file not found, creating new config")
		m.config = Defaults()
		if err := m.Save(); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	}

	logger.WithComponent("config").Info().
		Str("path", m.configPath).
		Str("driver", m.config.Camera.Driver).
		Msg("Config loaded")

	return m, nil
}

// NewMemoryManager returns a manager that never touches disk
func NewMemoryManager(cfg *Config) *Manager {
	if cfg == nil {
		cfg = Defaults()
	}
	c := *cfg
	return &Manager{config: &c}
}

// Defaults returns the default configuration
func Defaults() *Config {
	return &Config{
		ServerHost: "",
		ServerPort: 8000,
		LogLevel:   "info",
		Camera: CameraConfig{
			Driver:      "v4l2",
			Device:      "/dev/video0",
			FrameRate:   5,
			Resolution:  720,
			Rotation:    0,
			JPEGQuality: 85,
			WarmUp:      2 * time.Second,
			PhotoWait:   time.Second,
		},
		Stream: StreamConfig{
			WaitTimeout: time.Second,
		},
		Control: ControlConfig{
			LockTimeout:         10 * time.Millisecond,
			MinResolutionChange: 10,
		},
		Light: LightConfig{
			Driver: "none",
		},
	}
}

// load reads the configuration from disk
func (m *Manager) load() error {
	data, err := os.ReadFile(m.configPath)
	if err != nil {
		return err
	}

	// Missing keys keep their default values
	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config %s: %w", m.configPath, err)
	}

	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()

	return nil
}

// Validate checks that the configuration values are usable
func (c *Config) Validate() error {
	if c.ServerPort < 1 || c.ServerPort > 65535 {
		return fmt.Errorf("invalid server port: %d", c.ServerPort)
	}

	switch c.Camera.Driver {
	case "v4l2", "rpicam", "synthetic", "none":
	default:
		return fmt.Errorf("unknown camera driver: %q", c.Camera.Driver)
	}

	if !ValidFrameRate(c.Camera.FrameRate) {
		return fmt.Errorf("invalid frame rate %d (use one of %v)", c.Camera.FrameRate, FrameRates)
	}
	if c.Camera.Resolution <= 0 || c.Camera.Resolution > MaxResolution {
		return fmt.Errorf("invalid resolution: %d (use 1 to %d)", c.Camera.Resolution, MaxResolution)
	}
	if c.Camera.Rotation%90 != 0 || c.Camera.Rotation < 0 || c.Camera.Rotation >= 360 {
		return fmt.Errorf("invalid rotation: %d (use 0, 90, 180 or 270)", c.Camera.Rotation)
	}
	if c.Camera.JPEGQuality < 1 || c.Camera.JPEGQuality > 100 {
		return fmt.Errorf("invalid jpeg quality: %d", c.Camera.JPEGQuality)
	}
	if c.Camera.WarmUp < 0 || c.Camera.PhotoWait <= 0 {
		return errors.New("camera warm_up must be >= 0 and photo_wait > 0")
	}
	if c.Stream.WaitTimeout <= 0 {
		return errors.New("stream wait_timeout must be positive")
	}
	if c.Control.LockTimeout <= 0 || c.Control.MinResolutionChange < 0 {
		return errors.New("control lock_timeout must be positive and min_resolution_change >= 0")
	}

	switch c.Light.Driver {
	case "none":
	case "sysfs":
		if c.Light.Path == "" {
			return errors.New("light driver sysfs requires light.path")
		}
	case "gpio":
		if c.Light.Pin == "" {
			return errors.New("light driver gpio requires light.pin")
		}
	default:
		return fmt.Errorf("unknown light driver: %q", c.Light.Driver)
	}

	return nil
}

// ValidFrameRate reports whether fps is one of FrameRates
func ValidFrameRate(fps int) bool {
	for _, f := range FrameRates {
		if f == fps {
			return true
		}
	}
	return false
}

// Address returns the host:port the HTTP server listens on
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.ServerHost, c.ServerPort)
}

// Get returns a copy of the current configuration
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c := *m.config
	return &c
}

// Save writes the configuration to disk
func (m *Manager) Save() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.configPath == "" {
		return nil
	}

	data, err := yaml.Marshal(m.config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(m.configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// Update replaces the configuration after validating it
func (m *Manager) Update(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	c := *cfg
	m.config = &c
	m.mu.Unlock()

	return m.Save()
}

// SetPort sets the server port (not persisted)
func (m *Manager) SetPort(port int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.config.ServerPort = port
}

// SetLogLevel sets the log level (not persisted)
func (m *Manager) SetLogLevel(level string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.config.LogLevel = level
}

// SetDriver sets the camera driver and optionally its device (not persisted)
func (m *Manager) SetDriver(driver, device string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if driver != "" {
		m.config.Camera.Driver = driver
	}
	if device != "" {
		m.config.Camera.Device = device
	}
}

// Set parses value for a dotted key, validates the result and saves it
func (m *Manager) Set(key, value string) error {
	cfg := m.Get()

	if err := setField(cfg, key, value); err != nil {
		return err
	}

	return m.Update(cfg)
}

// Lookup returns the value stored under a dotted key
func (m *Manager) Lookup(key string) (interface{}, error) {
	cfg := m.Get()

	switch key {
	case "server_host":
		return cfg.ServerHost, nil
	case "server_port":
		return cfg.ServerPort, nil
	case "log_level":
		return cfg.LogLevel, nil
	case "log_pretty":
		return cfg.LogPretty, nil
	case "camera.driver":
		return cfg.Camera.Driver, nil
	case "camera.device":
		return cfg.Camera.Device, nil
	case "camera.fps":
		return cfg.Camera.FrameRate, nil
	case "camera.resolution":
		return cfg.Camera.Resolution, nil
	case "camera.rotation":
		return cfg.Camera.Rotation, nil
	case "camera.jpeg_quality":
		return cfg.Camera.JPEGQuality, nil
	case "camera.warm_up":
		return cfg.Camera.WarmUp, nil
	case "camera.photo_wait":
		return cfg.Camera.PhotoWait, nil
	case "camera.autostart":
		return cfg.Camera.AutoStart, nil
	case "stream.wait_timeout":
		return cfg.Stream.WaitTimeout, nil
	case "control.lock_timeout":
		return cfg.Control.LockTimeout, nil
	case "control.min_resolution_change":
		return cfg.Control.MinResolutionChange, nil
	case "light.driver":
		return cfg.Light.Driver, nil
	case "light.path":
		return cfg.Light.Path, nil
	case "light.pin":
		return cfg.Light.Pin, nil
	case "light.active_low":
		return cfg.Light.ActiveLow, nil
	}

	return nil, fmt.Errorf("configuration key not found: %s", key)
}

func setField(cfg *Config, key, value string) error {
	value = strings.TrimSpace(value)

	switch key {
	case "server_host":
		cfg.ServerHost = value
	case "server_port":
		return parseInt(value, &cfg.ServerPort)
	case "log_level":
		validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
		if !validLevels[value] {
			return fmt.Errorf("invalid log level: %s (use: debug, info, warn, error)", value)
		}
		cfg.LogLevel = value
	case "log_pretty":
		return parseBool(value, &cfg.LogPretty)
	case "camera.driver":
		cfg.Camera.Driver = value
	case "camera.device":
		cfg.Camera.Device = value
	case "camera.fps":
		return parseInt(value, &cfg.Camera.FrameRate)
	case "camera.resolution":
		return parseInt(value, &cfg.Camera.Resolution)
	case "camera.rotation":
		return parseInt(value, &cfg.Camera.Rotation)
	case "camera.jpeg_quality":
		return parseInt(value, &cfg.Camera.JPEGQuality)
	case "camera.warm_up":
		return parseDuration(value, &cfg.Camera.WarmUp)
	case "camera.photo_wait":
		return parseDuration(value, &cfg.Camera.PhotoWait)
	case "camera.autostart":
		return parseBool(value, &cfg.Camera.AutoStart)
	case "stream.wait_timeout":
		return parseDuration(value, &cfg.Stream.WaitTimeout)
	case "control.lock_timeout":
		return parseDuration(value, &cfg.Control.LockTimeout)
	case "control.min_resolution_change":
		return parseInt(value, &cfg.Control.MinResolutionChange)
	case "light.driver":
		cfg.Light.Driver = value
	case "light.path":
		cfg.Light.Path = value
	case "light.pin":
		cfg.Light.Pin = value
	case "light.active_low":
		return parseBool(value, &cfg.Light.ActiveLow)
	default:
		return fmt.Errorf("configuration key not found: %s", key)
	}

	return nil
}

func parseInt(value string, dst *int) error {
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid number: %s", value)
	}
	*dst = n
	return nil
}

func parseBool(value string, dst *bool) error {
	b, err := strconv.ParseBool(value)
	if err != nil {
		return fmt.Errorf("invalid boolean: %s (use: true or false)", value)
	}
	*dst = b
	return nil
}

func parseDuration(value string, dst *time.Duration) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("invalid duration: %s (e.g. 2s, 500ms)", value)
	}
	*dst = d
	return nil
}

// GetConfigPath returns the configuration file path
func (m *Manager) GetConfigPath() string {
	return m.configPath
}
