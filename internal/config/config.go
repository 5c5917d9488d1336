package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Configuration system:
// - an example config is written by the -generate-config flag (GenerateExampleConfig)
// - Use brief comments here for reference only

// BundleSizeMax is the bundle slot-array capacity; the effective size is
// configured at runtime and may not exceed it.
const BundleSizeMax = 8

// TSC measurement modes for the LAME handler.
const (
	TSCOff     = "off"
	TSCPretend = "pretend"
	TSCNop     = "nop"
)

// Registration modes for the LAME kernel device.
const (
	RegisterNone  = "none"
	RegisterInt   = "int"
	RegisterPMU   = "pmu"
	RegisterStall = "stall"
	RegisterNop   = "nop"
)

// AppConfig represents the complete application configuration
type AppConfig struct {
	// Server configuration
	Server ServerConfig `toml:"server"`

	// LAME bundle scheduling configuration
	Lame LameConfig `toml:"lame"`

	// Runtime worker configuration
	Runtime RuntimeConfig `toml:"runtime"`

	// Logging configuration
	Logging LoggingConfig `toml:"logging"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	// Listen address (default: "localhost:9190")
	ListenAddress string `toml:"listen_address"`

	// Metrics endpoint path (default: "/metrics")
	MetricsPath string `toml:"metrics_path"`

	// Enable pprof endpoint for debugging (default: true)
	PprofEnabled bool `toml:"pprof_enabled"`
}

// LameConfig contains LAME bundle scheduler settings.
type LameConfig struct {
	// Effective bundle size per worker, 1..BundleSizeMax (default: 2).
	// Bundle scheduling is statically enabled when greater than 1.
	BundleSize int `toml:"bundle_size"`

	// TSC measurement mode: "off", "pretend", "nop" (default: "off").
	// Modes other than "off" require bundle_size = 2.
	TSC string `toml:"tsc"`

	// Handler registration mode: "none", "int", "pmu", "stall", "nop"
	// (default: "none"). "none" leaves the kernel device untouched.
	Register string `toml:"register"`

	// Page size exponent for the static-site bitmap (default: -1).
	// Negative disables the bitmap; the handler then assumes extended
	// state is always live.
	BitmapPgszFactor int `toml:"bitmap_pgsz_factor"`
}

// RuntimeConfig contains worker pool settings.
type RuntimeConfig struct {
	// Number of workers to spawn (default: 0 = one per CPU).
	Workers int `toml:"workers"`

	// Interval in milliseconds between the software switch triggers each
	// demo member issues, whatever the registration mode (default: 10).
	TriggerIntervalMs int `toml:"trigger_interval_ms"`
}

// LoggingConfig contains the complete logging configuration
type LoggingConfig struct {
	// Default logging settings applied to all loggers
	Defaults LogDefaults `toml:"defaults"`

	// Output configurations - can have multiple outputs
	Outputs []LogOutput `toml:"outputs"`
}

// LogDefaults contains default logger settings
type LogDefaults struct {
	// Log level (default: "info")
	Level string `toml:"level"`

	// Include caller information (default: 0)
	Caller int `toml:"caller"`

	// Time field name (default: "time")
	TimeField string `toml:"time_field"`

	// Time format (default: "" = RFC3339 with milliseconds)
	TimeFormat string `toml:"time_format"`

	// Time zone (default: "Local")
	TimeLocation string `toml:"time_location"`
}

// LogOutput represents a single output configuration
type LogOutput struct {
	// Output type: "console", "file", "syslog"
	Type string `toml:"type"`

	// Enable this output (default: false when omitted; the default config
	// enables only the console output)
	Enabled bool `toml:"enabled"`

	// Configuration specific to the output type
	Console *ConsoleConfig `toml:"console,omitempty"`
	File    *FileConfig    `toml:"file,omitempty"`
	Syslog  *SyslogConfig  `toml:"syslog,omitempty"`
}

// ConsoleConfig contains console/terminal output settings
type ConsoleConfig struct {
	// Use fast JSON output (default: false)
	FastIO bool `toml:"fast_io"`

	// Output format when fast_io=false (default: "auto")
	Format string `toml:"format"`

	// Enable colored output (default: true)
	ColorOutput bool `toml:"color_output"`

	// Quote string values (default: true)
	QuoteString bool `toml:"quote_string"`

	// Output destination (default: "stderr")
	Writer string `toml:"writer"`

	// Use asynchronous writing (default: false)
	Async bool `toml:"async"`
}

// FileConfig contains file output settings
type FileConfig struct {
	// Log file path (required)
	Filename string `toml:"filename"`

	// Maximum file size in megabytes (default: 10)
	MaxSize int64 `toml:"max_size"`

	// Maximum number of old log files to keep (default: 7)
	MaxBackups int `toml:"max_backups"`

	// Time format for rotated filenames (default: "2006-01-02T15-04-05")
	TimeFormat string `toml:"time_format"`

	// Use local time for rotation timestamps (default: true)
	LocalTime bool `toml:"local_time"`

	// Include hostname in filename (default: true)
	HostName bool `toml:"host_name"`

	// Include process ID in filename (default: true)
	ProcessID bool `toml:"process_id"`

	// Create directory if it doesn't exist (default: true)
	EnsureFolder bool `toml:"ensure_folder"`

	// Use asynchronous writing (default: true)
	Async bool `toml:"async"`
}

// SyslogConfig contains syslog output settings
type SyslogConfig struct {
	// Network protocol (default: "udp")
	Network string `toml:"network"`

	// Syslog server address (default: "localhost:514")
	Address string `toml:"address"`

	// Hostname for syslog messages (default: system hostname)
	Hostname string `toml:"hostname"`

	// Syslog tag/program name (default: "lame_sched")
	Tag string `toml:"tag"`

	// Message prefix marker (default: "@cee:")
	Marker string `toml:"marker"`

	// Use asynchronous writing (default: true)
	Async bool `toml:"async"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			ListenAddress: "localhost:9190",
			MetricsPath:   "/metrics",
			PprofEnabled:  true,
		},
		Lame: LameConfig{
			BundleSize:       2,
			TSC:              TSCOff,
			Register:         RegisterNone,
			BitmapPgszFactor: -1,
		},
		Runtime: RuntimeConfig{
			Workers:           0,
			TriggerIntervalMs: 10,
		},
		Logging: LoggingConfig{
			Defaults: LogDefaults{
				Level:        "info",
				Caller:       0,
				TimeField:    "time",
				TimeFormat:   "",
				TimeLocation: "Local",
			},
			Outputs: []LogOutput{
				{
					Type:    "console",
					Enabled: true,
					Console: &ConsoleConfig{
						FastIO:      false,
						Format:      "auto",
						ColorOutput: true,
						QuoteString: true,
						Writer:      "stderr",
						Async:       false,
					},
				},
				{
					Type:    "file",
					Enabled: false,
					File: &FileConfig{
						Filename:     "logs/app.log",
						MaxSize:      10, // 10MB
						MaxBackups:   7,
						TimeFormat:   "2006-01-02T15-04-05",
						LocalTime:    true,
						HostName:     true,
						ProcessID:    true,
						EnsureFolder: true,
						Async:        true,
					},
				},
				{
					Type:    "syslog",
					Enabled: false,
					Syslog: &SyslogConfig{
						Network:  "udp",
						Address:  "localhost:514",
						Tag:      "lame_sched",
						Hostname: "", // Uses system hostname by default
						Marker:   "@cee:",
						Async:    true, // Syslog is typically asynchronous
					},
				},
			},
		},
	}
}

// LoadConfig loads configuration from a TOML file, falling back to defaults
func LoadConfig(configPath string) (*AppConfig, error) {
	config := DefaultConfig()

	// If no config file specified or doesn't exist, use defaults
	if configPath == "" {
		return config, nil
	}

	if _, err := os.Stat(configPath); errors.Is(err, fs.ErrNotExist) {
		return config, fmt.Errorf("config file not found: %s", configPath)
	}

	// Parse TOML file
	if _, err := toml.DecodeFile(configPath, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	return config, nil
}

// SaveConfig saves the configuration to a TOML file
func SaveConfig(configPath string, config *AppConfig) error {
	// Ensure directory exists
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	// Create file
	file, err := os.Create(configPath)
	if err != nil {
		return fmt.Errorf("failed to create config file %s: %w", configPath, err)
	}
	defer file.Close()

	// Encode to TOML
	if err := toml.NewEncoder(file).Encode(config); err != nil {
		return fmt.Errorf("failed to encode config to TOML: %w", err)
	}

	return nil
}

// GenerateExampleConfig generates a TOML configuration file with default values
func GenerateExampleConfig(outputPath string) error {
	file, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer file.Close()

	// Write header comments
	header := `# LAME Scheduler Example Configuration
# This file is auto-generated and serves as an example configuration.
# Copy this file to create your own configuration and modify as needed.
#
# Format: TOML (Tom's Obvious, Minimal Language)

`
	if _, err := file.WriteString(header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	// Create default config and encode to TOML
	config := DefaultConfig()
	encoder := toml.NewEncoder(file)
	if err := encoder.Encode(config); err != nil {
		return fmt.Errorf("failed to encode config to TOML: %w", err)
	}

	return nil
}

// Validate checks the configuration for errors
func (c *AppConfig) Validate() error {
	// Validate server config
	if c.Server.ListenAddress == "" {
		return fmt.Errorf("server.listen_address cannot be empty")
	}
	if c.Server.MetricsPath == "" {
		return fmt.Errorf("server.metrics_path cannot be empty")
	}

	// Validate LAME config
	if c.Lame.BundleSize < 1 || c.Lame.BundleSize > BundleSizeMax {
		return fmt.Errorf("lame.bundle_size must be in [1, %d], got %d",
			BundleSizeMax, c.Lame.BundleSize)
	}
	switch c.Lame.TSC {
	case TSCOff, TSCPretend, TSCNop:
	default:
		return fmt.Errorf("lame.tsc must be one of off, pretend, nop; got %q", c.Lame.TSC)
	}
	if c.Lame.TSC != TSCOff && c.Lame.BundleSize != 2 {
		return fmt.Errorf("lame.tsc measurement mode requires bundle_size = 2, got %d",
			c.Lame.BundleSize)
	}
	switch c.Lame.Register {
	case RegisterNone, RegisterInt, RegisterPMU, RegisterStall, RegisterNop:
	default:
		return fmt.Errorf("lame.register must be one of none, int, pmu, stall, nop; got %q",
			c.Lame.Register)
	}

	// Validate runtime config
	if c.Runtime.Workers < 0 {
		return fmt.Errorf("runtime.workers cannot be negative")
	}
	if c.Runtime.TriggerIntervalMs < 1 {
		return fmt.Errorf("runtime.trigger_interval_ms must be at least 1")
	}

	// Validate that at least one output is enabled
	hasEnabledOutput := false
	for _, output := range c.Logging.Outputs {
		if output.Enabled {
			hasEnabledOutput = true
			break
		}
	}
	if !hasEnabledOutput {
		return fmt.Errorf("at least one logging output must be enabled")
	}

	return nil
}

// Flags holds the command-line flags
type Flags struct {
	ListenAddress  string
	MetricsPath    string
	ConfigPath     string
	GenerateConfig string
}

// NewConfig creates a new configuration by parsing flags and loading the config file.
func NewConfig() (*AppConfig, error) {
	flags := &Flags{}

	// Define flags and bind them to the Flags struct
	flag.StringVar(&flags.ListenAddress,
		"web.listen-address",
		"localhost:9190",
		"Address to listen on for web interface and telemetry.")
	flag.StringVar(&flags.MetricsPath,
		"web.telemetry-path",
		"/metrics",
		"Path under which to expose metrics.")
	flag.StringVar(&flags.ConfigPath,
		"config",
		"",
		"Path to configuration file (optional).")
	flag.StringVar(&flags.GenerateConfig,
		"generate-config",
		"",
		"Generate example config file to specified path and exit.")
	flag.Parse()

	// Handle config generation and exit.
	// We return a special error to signal that the program should exit cleanly.
	if flags.GenerateConfig != "" {
		if err := GenerateExampleConfig(flags.GenerateConfig); err != nil {
			return nil, fmt.Errorf("error generating example config: %w", err)
		}
		fmt.Printf("Generated %s successfully\n", flags.GenerateConfig)
		return nil, nil // Signal clean exit
	}

	// Start with default config
	config := DefaultConfig()

	// Load configuration from file if a path is provided
	if flags.ConfigPath != "" {
		var err error
		config, err = LoadConfig(flags.ConfigPath)
		if err != nil {
			return nil, err
		}
	}

	// Override config with command-line flags if they were set by the user
	if isFlagPassed("web.listen-address") {
		config.Server.ListenAddress = flags.ListenAddress
	}
	if isFlagPassed("web.telemetry-path") {
		config.Server.MetricsPath = flags.MetricsPath
	}

	// Validate the final configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// isFlagPassed checks if a flag was explicitly set on the command line.
func isFlagPassed(name string) bool {
	found := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}
