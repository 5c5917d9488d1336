package config

import (
	"os"
	"path/filepath"
	"testing"
)

// TestConfigData tests configuration data, defaults, edge cases, and validation
func TestConfigData(t *testing.T) {
	tests := []struct {
		name       string
		config     *AppConfig
		configTOML string
		setupFunc  func(*AppConfig)
		expectErr  bool
		validate   func(*testing.T, *AppConfig)
	}{
		{
			name:   "default config",
			config: DefaultConfig(),
			validate: func(t *testing.T, c *AppConfig) {
				if c.Server.ListenAddress != "localhost:9190" {
					t.Errorf("Expected ListenAddress 'localhost:9190', got %s", c.Server.ListenAddress)
				}
				if c.Lame.BundleSize != 2 {
					t.Errorf("Expected default bundle size 2, got %d", c.Lame.BundleSize)
				}
				if c.Lame.TSC != TSCOff {
					t.Errorf("Expected default tsc 'off', got %s", c.Lame.TSC)
				}
				if c.Lame.Register != RegisterNone {
					t.Errorf("Expected default register 'none', got %s", c.Lame.Register)
				}
				if c.Lame.BitmapPgszFactor >= 0 {
					t.Errorf("Expected bitmap disabled by default, got factor %d", c.Lame.BitmapPgszFactor)
				}
				if c.Logging.Defaults.Level != "info" {
					t.Errorf("Expected default log level 'info', got %s", c.Logging.Defaults.Level)
				}
				if len(c.Logging.Outputs) != 3 {
					t.Errorf("Expected 3 outputs, got %d", len(c.Logging.Outputs))
				}
			},
		},
		{
			name: "custom lame config",
			configTOML: `
[lame]
bundle_size = 4
register = "pmu"
bitmap_pgsz_factor = 6
`,
			validate: func(t *testing.T, c *AppConfig) {
				if c.Lame.BundleSize != 4 {
					t.Errorf("Expected bundle size 4, got %d", c.Lame.BundleSize)
				}
				if c.Lame.Register != RegisterPMU {
					t.Errorf("Expected register 'pmu', got %s", c.Lame.Register)
				}
				if c.Lame.BitmapPgszFactor != 6 {
					t.Errorf("Expected bitmap factor 6, got %d", c.Lame.BitmapPgszFactor)
				}
			},
		},
		{
			name: "custom logging config",
			configTOML: `
[logging.defaults]
level = "debug"

[[logging.outputs]]
type = "console"
enabled = true

[[logging.outputs]]
type = "file"
enabled = true
[logging.outputs.file]
filename = "app.log"
`,
			validate: func(t *testing.T, c *AppConfig) {
				if c.Logging.Defaults.Level != "debug" {
					t.Errorf("Expected debug level, got %s", c.Logging.Defaults.Level)
				}
				if len(c.Logging.Outputs) != 2 {
					t.Errorf("Expected 2 outputs, got %d", len(c.Logging.Outputs))
				}
				if c.Logging.Outputs[0].Type != "console" {
					t.Errorf("Expected first output 'console', got %s", c.Logging.Outputs[0].Type)
				}
			},
		},
		{
			name:   "invalid empty listen address",
			config: DefaultConfig(),
			setupFunc: func(c *AppConfig) {
				c.Server.ListenAddress = ""
			},
			expectErr: true,
		},
		{
			name:   "invalid bundle size zero",
			config: DefaultConfig(),
			setupFunc: func(c *AppConfig) {
				c.Lame.BundleSize = 0
			},
			expectErr: true,
		},
		{
			name:   "invalid bundle size beyond capacity",
			config: DefaultConfig(),
			setupFunc: func(c *AppConfig) {
				c.Lame.BundleSize = BundleSizeMax + 1
			},
			expectErr: true,
		},
		{
			name:   "invalid tsc mode",
			config: DefaultConfig(),
			setupFunc: func(c *AppConfig) {
				c.Lame.TSC = "sometimes"
			},
			expectErr: true,
		},
		{
			name:   "tsc measurement requires bundle size two",
			config: DefaultConfig(),
			setupFunc: func(c *AppConfig) {
				c.Lame.TSC = TSCPretend
				c.Lame.BundleSize = 4
			},
			expectErr: true,
		},
		{
			name:   "invalid register mode",
			config: DefaultConfig(),
			setupFunc: func(c *AppConfig) {
				c.Lame.Register = "maybe"
			},
			expectErr: true,
		},
		{
			name:   "invalid no outputs enabled",
			config: DefaultConfig(),
			setupFunc: func(c *AppConfig) {
				for i := range c.Logging.Outputs {
					c.Logging.Outputs[i].Enabled = false
				}
			},
			expectErr: true,
		},
		{
			name: "valid custom server config",
			configTOML: `
[server]
listen_address = ":8080"
metrics_path = "/custom"

[lame]
bundle_size = 2
tsc = "pretend"
`,
			validate: func(t *testing.T, c *AppConfig) {
				if c.Server.ListenAddress != ":8080" {
					t.Errorf("Expected listen address ':8080', got %s", c.Server.ListenAddress)
				}
				if c.Lame.TSC != TSCPretend {
					t.Errorf("Expected tsc 'pretend', got %s", c.Lame.TSC)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.config

			if tt.configTOML != "" {
				path := filepath.Join(t.TempDir(), "config.toml")
				if err := os.WriteFile(path, []byte(tt.configTOML), 0644); err != nil {
					t.Fatalf("writing config file: %v", err)
				}
				loaded, err := LoadConfig(path)
				if err != nil {
					t.Fatalf("LoadConfig failed: %v", err)
				}
				cfg = loaded
			}

			if tt.setupFunc != nil {
				tt.setupFunc(cfg)
			}

			err := cfg.Validate()
			if tt.expectErr {
				if err == nil {
					t.Error("expected validation error, got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected validation error: %v", err)
			}
			if tt.validate != nil {
				tt.validate(t, cfg)
			}
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.toml"))
	if err == nil {
		t.Error("expected error for missing config file")
	}
	if cfg == nil {
		t.Error("missing file should still return defaults")
	}
}

func TestLoadConfigEmptyPathUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("empty path should load defaults: %v", err)
	}
	if cfg.Lame.BundleSize != 2 {
		t.Errorf("defaults not applied: bundle size %d", cfg.Lame.BundleSize)
	}
}

func TestSaveAndReloadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roundtrip.toml")

	cfg := DefaultConfig()
	cfg.Lame.BundleSize = 6
	cfg.Lame.Register = RegisterInt

	if err := SaveConfig(path, cfg); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}
	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if loaded.Lame.BundleSize != 6 {
		t.Errorf("bundle size = %d after reload, want 6", loaded.Lame.BundleSize)
	}
	if loaded.Lame.Register != RegisterInt {
		t.Errorf("register = %s after reload, want int", loaded.Lame.Register)
	}
}
