// Package config loads recorder configuration from an optional YAML file and
// the environment. Every timing the coordinator and page agent depend on is a
// field here rather than a constant.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level recorder configuration.
type Config struct {
	Address      string            `yaml:"address"`
	DatabasePath string            `yaml:"database_path"`
	LogLevel     string            `yaml:"log_level"`
	HostContext  string            `yaml:"host_context"`
	Coordinator  CoordinatorConfig `yaml:"coordinator"`
	Agent        AgentConfig       `yaml:"agent"`
	WebSocket    WebSocketConfig   `yaml:"websocket"`
}

// CoordinatorConfig bounds every cross-context wait of the session
// coordinator.
type CoordinatorConfig struct {
	ReadyAttempts    int           `yaml:"ready_attempts"`
	ReadyInterval    time.Duration `yaml:"ready_interval"`
	RequestTimeout   time.Duration `yaml:"request_timeout"`
	ViewportTimeout  time.Duration `yaml:"viewport_timeout"`
	CountdownSeconds int           `yaml:"countdown_seconds"`
	CountdownTimeout time.Duration `yaml:"countdown_timeout"`
	OverlayClearance time.Duration `yaml:"overlay_clearance"`
	CaptureWarmup    time.Duration `yaml:"capture_warmup"`
	StopTimeout      time.Duration `yaml:"stop_timeout"`
}

// AgentConfig holds the page agent's polling and classification thresholds.
type AgentConfig struct {
	MousePollInterval   time.Duration `yaml:"mouse_poll_interval"`
	FocusPollInterval   time.Duration `yaml:"focus_poll_interval"`
	ClickMaxDuration    time.Duration `yaml:"click_max_duration"`
	ClickMaxDistance    float64       `yaml:"click_max_distance"`
	TypingRecency       time.Duration `yaml:"typing_recency"`
	TypingMinDuration   time.Duration `yaml:"typing_min_duration"`
	ScrollIdle          time.Duration `yaml:"scroll_idle"`
	ScrollMinDuration   time.Duration `yaml:"scroll_min_duration"`
	CardDwell           time.Duration `yaml:"card_dwell"`
	CardMinSize         float64       `yaml:"card_min_size"`
	CardMaxViewportFrac float64       `yaml:"card_max_viewport_fraction"`
	CardMoveThreshold   float64       `yaml:"card_move_threshold"`
	IframeProbeDelay    time.Duration `yaml:"iframe_probe_delay"`
}

// WebSocketConfig controls the context hub.
type WebSocketConfig struct {
	PingInterval   time.Duration `yaml:"ping_interval"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	MaxMessageSize int64         `yaml:"max_message_size"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		Address:     "127.0.0.1:8123",
		LogLevel:    "info",
		HostContext: "host",
		Coordinator: DefaultCoordinator(),
		Agent:       DefaultAgent(),
		WebSocket: WebSocketConfig{
			PingInterval:   30 * time.Second,
			WriteTimeout:   10 * time.Second,
			ReadTimeout:    60 * time.Second,
			MaxMessageSize: 1 << 20,
		},
	}
}

// DefaultCoordinator returns the coordinator timings.
func DefaultCoordinator() CoordinatorConfig {
	return CoordinatorConfig{
		ReadyAttempts:    20,
		ReadyInterval:    100 * time.Millisecond,
		RequestTimeout:   5 * time.Second,
		ViewportTimeout:  2 * time.Second,
		CountdownSeconds: 3,
		CountdownTimeout: 5 * time.Second,
		OverlayClearance: 100 * time.Millisecond,
		CaptureWarmup:    500 * time.Millisecond,
		StopTimeout:      10 * time.Second,
	}
}

// DefaultAgent returns the page agent thresholds.
func DefaultAgent() AgentConfig {
	return AgentConfig{
		MousePollInterval:   100 * time.Millisecond,
		FocusPollInterval:   100 * time.Millisecond,
		ClickMaxDuration:    500 * time.Millisecond,
		ClickMaxDistance:    5,
		TypingRecency:       1000 * time.Millisecond,
		TypingMinDuration:   100 * time.Millisecond,
		ScrollIdle:          1000 * time.Millisecond,
		CardDwell:           2000 * time.Millisecond,
		CardMinSize:         200,
		CardMaxViewportFrac: 0.8,
		CardMoveThreshold:   1,
		IframeProbeDelay:    100 * time.Millisecond,
	}
}

// Load reads the file at path (skipped when empty) over the defaults and then
// applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	c.Address = getEnv("BROWSETRACE_ADDRESS", c.Address)
	c.DatabasePath = getEnv("BROWSETRACE_DB", c.DatabasePath)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.HostContext = getEnv("BROWSETRACE_HOST_CONTEXT", c.HostContext)
	c.Coordinator.CountdownSeconds = getEnvInt("BROWSETRACE_COUNTDOWN_SECONDS", c.Coordinator.CountdownSeconds)
	c.Coordinator.CaptureWarmup = getEnvMillis("BROWSETRACE_CAPTURE_WARMUP_MS", c.Coordinator.CaptureWarmup)
}

// Validate rejects configurations the coordinator cannot run with.
func (c *Config) Validate() error {
	if c.Address == "" {
		return fmt.Errorf("config: address is required")
	}
	if c.Coordinator.ReadyAttempts <= 0 {
		return fmt.Errorf("config: coordinator.ready_attempts must be positive")
	}
	if c.Coordinator.CountdownTimeout <= 0 {
		return fmt.Errorf("config: coordinator.countdown_timeout must be positive")
	}
	if c.Agent.CardMaxViewportFrac <= 0 || c.Agent.CardMaxViewportFrac > 1 {
		return fmt.Errorf("config: agent.card_max_viewport_fraction must be in (0, 1]")
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvMillis(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if ms, err := strconv.Atoi(val); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return defaultVal
}
