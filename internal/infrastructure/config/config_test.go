package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	content := `
site:
  id: "test-brewery"
serial:
  port: "/dev/ttyUSB1"
  baud_rate: 9600
  read_timeout_ms: 50
  poll_interval_ms: 500
brewery:
  entities_file: "/tmp/brewery.conf"
database:
  path: "/tmp/test.db"
mqtt:
  broker:
    host: "localhost"
    port: 1883
    client_id: "test-client"
  qos: 1
api:
  host: "0.0.0.0"
  port: 8080
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Site.ID != "test-brewery" {
		t.Errorf("Site.ID = %q, want %q", cfg.Site.ID, "test-brewery")
	}
	if cfg.Serial.Port != "/dev/ttyUSB1" {
		t.Errorf("Serial.Port = %q, want %q", cfg.Serial.Port, "/dev/ttyUSB1")
	}
	if cfg.PollInterval() != 500*time.Millisecond {
		t.Errorf("PollInterval() = %v, want 500ms", cfg.PollInterval())
	}
	// Unset fields keep their defaults.
	if cfg.Brewery.Defaults.GallonSlope != 8.2759 {
		t.Errorf("GallonSlope = %v, want 8.2759", cfg.Brewery.Defaults.GallonSlope)
	}
	if cfg.Control.Mode != "inline" {
		t.Errorf("Control.Mode = %q, want inline", cfg.Control.Mode)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "invalid: [yaml: content"))
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	content := `
site:
  id: ""
serial:
  port: "/dev/ttyACM0"
`
	_, err := Load(writeConfig(t, content))
	if err == nil {
		t.Error("Load() expected validation error for empty site.id, got nil")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("CCBC_SERIAL_PORT", "/dev/ttyS9")
	t.Setenv("CCBC_SERIAL_BAUD_RATE", "115200")
	t.Setenv("CCBC_API_PORT", "9090")
	t.Setenv("CCBC_LOG_LEVEL", "debug")

	cfg, err := Load(writeConfig(t, "site:\n  id: env-test\n"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Serial.Port != "/dev/ttyS9" {
		t.Errorf("Serial.Port = %q, want /dev/ttyS9", cfg.Serial.Port)
	}
	if cfg.Serial.BaudRate != 115200 {
		t.Errorf("Serial.BaudRate = %d, want 115200", cfg.Serial.BaudRate)
	}
	if cfg.API.Port != 9090 {
		t.Errorf("API.Port = %d, want 9090", cfg.API.Port)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(*Config) {},
		},
		{
			name:    "missing serial port",
			mutate:  func(c *Config) { c.Serial.Port = "" },
			wantErr: "serial.port is required",
		},
		{
			name:    "read timeout longer than poll interval",
			mutate:  func(c *Config) { c.Serial.ReadTimeoutMS = 2000 },
			wantErr: "serial.read_timeout_ms must be shorter",
		},
		{
			name:    "unknown control mode",
			mutate:  func(c *Config) { c.Control.Mode = "adaptive" },
			wantErr: "control.mode",
		},
		{
			name: "timer mode without interval",
			mutate: func(c *Config) {
				c.Control.Mode = "timer"
				c.Control.IntervalMS = 0
			},
			wantErr: "control.interval_ms",
		},
		{
			name: "inverted pump defaults",
			mutate: func(c *Config) {
				c.Brewery.Defaults.PumpLowerGallons = 20
			},
			wantErr: "pump_lower_gallons",
		},
		{
			name:    "invalid qos",
			mutate:  func(c *Config) { c.MQTT.QoS = 3 },
			wantErr: "mqtt.qos",
		},
		{
			name:    "short jwt secret",
			mutate:  func(c *Config) { c.Security.JWT.Secret = "short" },
			wantErr: "security.jwt.secret",
		},
		{
			name: "influx enabled without url",
			mutate: func(c *Config) {
				c.InfluxDB.Enabled = true
				c.InfluxDB.URL = ""
			},
			wantErr: "influxdb.url",
		},
		{
			name: "api disabled ignores port",
			mutate: func(c *Config) {
				c.API.Enabled = false
				c.API.Port = 0
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() error = nil, want %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_Durations(t *testing.T) {
	cfg := defaultConfig()

	if got := cfg.ReadTimeout(); got != 50*time.Millisecond {
		t.Errorf("ReadTimeout() = %v, want 50ms", got)
	}
	if got := cfg.StaleAfter(); got != 5*time.Second {
		t.Errorf("StaleAfter() = %v, want 5s", got)
	}
	if got := cfg.StartupDelay(); got != 2*time.Second {
		t.Errorf("StartupDelay() = %v, want 2s", got)
	}
	if got := cfg.HealthInterval(); got != 30*time.Second {
		t.Errorf("HealthInterval() = %v, want 30s", got)
	}
	if got := cfg.GetReadTimeout(); got != 30*time.Second {
		t.Errorf("GetReadTimeout() = %v, want 30s", got)
	}
	if got := cfg.GetIdleTimeout(); got != 60*time.Second {
		t.Errorf("GetIdleTimeout() = %v, want 60s", got)
	}
}
