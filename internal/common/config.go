package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"
)

// Config represents the harness configuration
type Config struct {
	Service     ServiceConfig     `toml:"service"`
	Browser     BrowserConfig     `toml:"browser"`
	Scenario    ScenarioConfig    `toml:"scenario"`
	Storage     StorageConfig     `toml:"storage"`
	Diagnostics DiagnosticsConfig `toml:"diagnostics"`
	Output      OutputConfig      `toml:"output"`
	Logging     LoggingConfig     `toml:"logging"`
}

// ServiceConfig describes how the server under test is launched and probed
type ServiceConfig struct {
	Command        string            `toml:"command" validate:"required"`
	Args           []string          `toml:"args"`
	Dir            string            `toml:"dir"`
	Env            map[string]string `toml:"env"` // Layered over the inherited environment, these win
	BaseURL        string            `toml:"base_url" validate:"required,url"`
	ReadyPath      string            `toml:"ready_path"`
	StartupTimeout string            `toml:"startup_timeout" validate:"required"` // e.g. "30s"
	PollInterval   string            `toml:"poll_interval" validate:"required"`
	ShutdownGrace  string            `toml:"shutdown_grace"`
}

// BrowserConfig configures the browser automation session
type BrowserConfig struct {
	Headless          bool   `toml:"headless"`
	ExecPath          string `toml:"exec_path"`
	RemoteURL         string `toml:"remote_url"` // DevTools websocket/http endpoint; when set no local browser is started
	UserDataDir       string `toml:"user_data_dir"`
	NoSandbox         bool   `toml:"no_sandbox"` // Needed when running as root in containers
	WindowWidth       int    `toml:"window_width" validate:"gte=0"`
	WindowHeight      int    `toml:"window_height" validate:"gte=0"`
	NavigationTimeout string `toml:"navigation_timeout" validate:"required"`
	ActionTimeout     string `toml:"action_timeout" validate:"required"`
	NewPageTimeout    string `toml:"new_page_timeout" validate:"required"`
	PollInterval      string `toml:"poll_interval" validate:"required"`
}

// ScenarioConfig selects the workflow to run
type ScenarioConfig struct {
	File     string `toml:"file"`     // YAML workflow; empty runs the built-in mouseadmin workflow
	Schedule string `toml:"schedule"` // Cron expression; empty runs once
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents the run history database
type BadgerConfig struct {
	Enabled        bool   `toml:"enabled"`
	Path           string `toml:"path"`
	ResetOnStartup bool   `toml:"reset_on_startup"`
}

// DiagnosticsConfig controls failure capture and the post-failure pause
type DiagnosticsConfig struct {
	Pause       string `toml:"pause" validate:"required"` // e.g. "30m"
	CapturePage bool   `toml:"capture_page"`
	Color       bool   `toml:"color"`
}

type OutputConfig struct {
	ResultsDir string `toml:"results_dir" validate:"required"`
}

type LoggingConfig struct {
	Level  string   `toml:"level" validate:"oneof=debug info warn error"`
	Output []string `toml:"output"` // "console", "file"
}

// NewDefaultConfig creates a configuration matching the reference mouseadmin setup
func NewDefaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			Command: "flask",
			Args:    []string{"run", "--port", "5555"},
			Env: map[string]string{
				"MOUSEADMIN_DB":      "test.db",
				"FLASK_APP":          "mouseadmin.app",
				"WERKZEUG_DEBUG_PIN": "off",
			},
			BaseURL:        "http://localhost:5555",
			ReadyPath:      "/",
			StartupTimeout: "30s",
			PollInterval:   "500ms",
			ShutdownGrace:  "5s",
		},
		Browser: BrowserConfig{
			Headless:          false,
			WindowWidth:       1920,
			WindowHeight:      1080,
			NavigationTimeout: "30s",
			ActionTimeout:     "10s",
			NewPageTimeout:    "10s",
			PollInterval:      "250ms",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Enabled: true,
				Path:    "./data/runs",
			},
		},
		Diagnostics: DiagnosticsConfig{
			Pause:       "30m",
			CapturePage: true,
			Color:       true,
		},
		Output: OutputConfig{
			ResultsDir: "./results",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"console", "file"},
		},
	}
}

// LoadFromFiles loads configuration with priority: default -> file1 -> file2 -> ... -> env
// Later files override earlier files. CLI flags are applied afterwards via ApplyFlagOverrides.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if baseURL := os.Getenv("MOUSEADMIN_E2E_BASE_URL"); baseURL != "" {
		config.Service.BaseURL = baseURL
	}
	if command := os.Getenv("MOUSEADMIN_E2E_COMMAND"); command != "" {
		config.Service.Command = command
	}
	if headless := os.Getenv("MOUSEADMIN_E2E_HEADLESS"); headless != "" {
		if h, err := strconv.ParseBool(headless); err == nil {
			config.Browser.Headless = h
		}
	}
	if remote := os.Getenv("MOUSEADMIN_E2E_REMOTE_URL"); remote != "" {
		config.Browser.RemoteURL = remote
	}
	if noSandbox := os.Getenv("MOUSEADMIN_E2E_NO_SANDBOX"); noSandbox != "" {
		if v, err := strconv.ParseBool(noSandbox); err == nil {
			config.Browser.NoSandbox = v
		}
	}
	if execPath := os.Getenv("MOUSEADMIN_E2E_CHROME"); execPath != "" {
		config.Browser.ExecPath = execPath
	}
	if scenario := os.Getenv("MOUSEADMIN_E2E_SCENARIO"); scenario != "" {
		config.Scenario.File = scenario
	}
	if pause := os.Getenv("MOUSEADMIN_E2E_PAUSE"); pause != "" {
		config.Diagnostics.Pause = pause
	}
	if resultsDir := os.Getenv("MOUSEADMIN_E2E_RESULTS_DIR"); resultsDir != "" {
		config.Output.ResultsDir = resultsDir
	}
	if level := os.Getenv("MOUSEADMIN_E2E_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("MOUSEADMIN_E2E_LOG_OUTPUT"); output != "" {
		var outputs []string
		for _, o := range strings.Split(output, ",") {
			if o = strings.TrimSpace(o); o != "" {
				outputs = append(outputs, o)
			}
		}
		config.Logging.Output = outputs
	}
}

// FlagOverrides carries command-line values; zero values leave the config untouched
type FlagOverrides struct {
	Scenario string
	Headless *bool
	Pause    string
	Schedule string
}

// ApplyFlagOverrides applies command-line flag overrides to config
func ApplyFlagOverrides(config *Config, flags FlagOverrides) {
	if flags.Scenario != "" {
		config.Scenario.File = flags.Scenario
	}
	if flags.Headless != nil {
		config.Browser.Headless = *flags.Headless
	}
	if flags.Pause != "" {
		config.Diagnostics.Pause = flags.Pause
	}
	if flags.Schedule != "" {
		config.Scenario.Schedule = flags.Schedule
	}
}

// Validate checks struct constraints, duration strings and the schedule expression
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	durations := map[string]string{
		"service.startup_timeout":    c.Service.StartupTimeout,
		"service.poll_interval":      c.Service.PollInterval,
		"browser.navigation_timeout": c.Browser.NavigationTimeout,
		"browser.action_timeout":     c.Browser.ActionTimeout,
		"browser.new_page_timeout":   c.Browser.NewPageTimeout,
		"browser.poll_interval":      c.Browser.PollInterval,
		"diagnostics.pause":          c.Diagnostics.Pause,
	}
	if c.Service.ShutdownGrace != "" {
		durations["service.shutdown_grace"] = c.Service.ShutdownGrace
	}
	for key, value := range durations {
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid duration for %s: %w", key, err)
		}
	}

	if c.Scenario.Schedule != "" {
		if err := ValidateSchedule(c.Scenario.Schedule); err != nil {
			return err
		}
	}

	return nil
}

// ValidateSchedule validates a cron expression or descriptor such as "@every 1h"
func ValidateSchedule(schedule string) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	return nil
}

// Duration parses a duration string, falling back when it is empty or malformed.
// Config values have already passed Validate by the time they are read.
func Duration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

// ReadyURL returns the URL polled to decide the service is up
func (s ServiceConfig) ReadyURL() string {
	return strings.TrimRight(s.BaseURL, "/") + "/" + strings.TrimLeft(s.ReadyPath, "/")
}
