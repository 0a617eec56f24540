package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for CCBC Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site      SiteConfig      `yaml:"site"`
	Serial    SerialConfig    `yaml:"serial"`
	Control   ControlConfig   `yaml:"control"`
	Brewery   BreweryConfig   `yaml:"brewery"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
}

// SiteConfig contains site-specific information.
type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// SerialConfig contains the microcontroller link settings.
type SerialConfig struct {
	// Port is the serial device path (e.g. "/dev/ttyACM0", "COM3").
	Port     string `yaml:"port"`
	BaudRate int    `yaml:"baud_rate"`

	// ReadTimeoutMS bounds a single read. Once a read returns no bytes the
	// device is considered to have finished its dump.
	ReadTimeoutMS int `yaml:"read_timeout_ms"`

	// PollIntervalMS is the period between dump requests.
	PollIntervalMS int `yaml:"poll_interval_ms"`

	// StaleAfterCycles is how many poll intervals may pass without an
	// applied device line before readings are flagged stale.
	StaleAfterCycles int `yaml:"stale_after_cycles"`

	// StartupDelayMS is waited after opening the port. Most boards reset
	// when the port is opened and ignore input until the bootloader exits.
	StartupDelayMS int `yaml:"startup_delay_ms"`

	// HealthInterval is how often bridge health is published to MQTT (seconds).
	HealthInterval int `yaml:"health_interval"`
}

// Control modes.
const (
	ControlModeInline = "inline"
	ControlModeTimer  = "timer"
)

// ControlConfig contains control engine settings.
type ControlConfig struct {
	// Mode is "inline" (evaluate at the end of every poll cycle) or
	// "timer" (evaluate on an independent ticker).
	Mode       string `yaml:"mode"`
	IntervalMS int    `yaml:"interval_ms"`

	// Band is the half-width applied around a setpoint when it is edited.
	Band float64 `yaml:"band"`
}

// BreweryConfig describes where entities come from and their defaults.
type BreweryConfig struct {
	EntitiesFile string         `yaml:"entities_file"`
	Defaults     BreweryDefault `yaml:"defaults"`
}

// BreweryDefault holds the initial values given to newly declared entities.
type BreweryDefault struct {
	HeaterSetpoint    float64 `yaml:"heater_setpoint"`
	HeaterMaxTemp     float64 `yaml:"heater_max_temp"`
	InitialTemp       float64 `yaml:"initial_temp"`
	PressureSlope     float64 `yaml:"pressure_slope"`
	PressureIntercept float64 `yaml:"pressure_intercept"`
	GallonSlope       float64 `yaml:"gallon_slope"`
	GallonIntercept   float64 `yaml:"gallon_intercept"`
	PumpUpperGallons  float64 `yaml:"pump_upper_gallons"`
	PumpLowerGallons  float64 `yaml:"pump_lower_gallons"`
}

// TelemetryConfig controls the periodic state fan-out.
type TelemetryConfig struct {
	IntervalMS int `yaml:"interval_ms"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains JWT verification settings for operator writes.
// An empty secret leaves the write endpoints open, which matches a
// brewery panel on an isolated LAN.
type JWTConfig struct {
	Secret string `yaml:"secret"`
	Issuer string `yaml:"issuer"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. A ".env" file next to the working directory, if present
//  4. Environment variables (override file values)
//
// Environment variables follow the pattern: CCBC_SECTION_KEY
// For example: CCBC_SERIAL_PORT, CCBC_API_PORT
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// godotenv never overrides variables that are already set.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:   "brewery-001",
			Name: "CCBC",
		},
		Serial: SerialConfig{
			Port:             "/dev/ttyACM0",
			BaudRate:         9600,
			ReadTimeoutMS:    50,
			PollIntervalMS:   1000,
			StaleAfterCycles: 5,
			StartupDelayMS:   2000,
			HealthInterval:   30,
		},
		Control: ControlConfig{
			Mode:       ControlModeInline,
			IntervalMS: 1000,
			Band:       2.0,
		},
		Brewery: BreweryConfig{
			EntitiesFile: "./configs/brewery.conf",
			Defaults: BreweryDefault{
				HeaterSetpoint:    32.0,
				HeaterMaxTemp:     212.0,
				InitialTemp:       32.0,
				PressureSlope:     0.3215,
				PressureIntercept: -0.063,
				GallonSlope:       8.2759,
				GallonIntercept:   0.0,
				PumpUpperGallons:  14.0,
				PumpLowerGallons:  14.0 * 0.95,
			},
		},
		Telemetry: TelemetryConfig{
			IntervalMS: 2000,
		},
		Database: DatabaseConfig{
			Enabled:     true,
			Path:        "./data/ccbc.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "ccbc-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				Issuer: "ccbc",
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: CCBC_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Serial
	if v := os.Getenv("CCBC_SERIAL_PORT"); v != "" {
		cfg.Serial.Port = v
	}
	if v := os.Getenv("CCBC_SERIAL_BAUD_RATE"); v != "" {
		if baud, err := strconv.Atoi(v); err == nil {
			cfg.Serial.BaudRate = baud
		}
	}

	// Brewery
	if v := os.Getenv("CCBC_BREWERY_ENTITIES_FILE"); v != "" {
		cfg.Brewery.EntitiesFile = v
	}

	// Database
	if v := os.Getenv("CCBC_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("CCBC_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("CCBC_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("CCBC_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("CCBC_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("CCBC_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	// InfluxDB
	if v := os.Getenv("CCBC_INFLUXDB_URL"); v != "" {
		cfg.InfluxDB.URL = v
	}
	if v := os.Getenv("CCBC_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv("CCBC_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// Security
	if v := os.Getenv("CCBC_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
}

// Validate checks the configuration for errors.
//
// All problems are collected so an operator can fix the file in one pass.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	// Serial validation
	if c.Serial.Port == "" {
		errs = append(errs, "serial.port is required")
	}
	if c.Serial.BaudRate <= 0 {
		errs = append(errs, "serial.baud_rate must be positive")
	}
	if c.Serial.ReadTimeoutMS <= 0 {
		errs = append(errs, "serial.read_timeout_ms must be positive")
	}
	if c.Serial.PollIntervalMS <= 0 {
		errs = append(errs, "serial.poll_interval_ms must be positive")
	} else if c.Serial.ReadTimeoutMS >= c.Serial.PollIntervalMS {
		errs = append(errs, "serial.read_timeout_ms must be shorter than serial.poll_interval_ms")
	}
	if c.Serial.StaleAfterCycles < 1 {
		errs = append(errs, "serial.stale_after_cycles must be at least 1")
	}

	// Control validation
	switch c.Control.Mode {
	case ControlModeInline:
	case ControlModeTimer:
		if c.Control.IntervalMS <= 0 {
			errs = append(errs, "control.interval_ms must be positive in timer mode")
		}
	default:
		errs = append(errs, "control.mode must be \"inline\" or \"timer\"")
	}
	if c.Control.Band <= 0 {
		errs = append(errs, "control.band must be positive")
	}

	// Brewery validation
	if c.Brewery.EntitiesFile == "" {
		errs = append(errs, "brewery.entities_file is required")
	}
	if c.Brewery.Defaults.PumpLowerGallons >= c.Brewery.Defaults.PumpUpperGallons {
		errs = append(errs, "brewery.defaults.pump_lower_gallons must be below pump_upper_gallons")
	}

	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	const minJWTSecretLength = 32
	if s := c.Security.JWT.Secret; s != "" && len(s) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// PollInterval returns the serial poll interval as a Duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Serial.PollIntervalMS) * time.Millisecond
}

// ReadTimeout returns the per-read serial timeout as a Duration.
func (c *Config) ReadTimeout() time.Duration {
	return time.Duration(c.Serial.ReadTimeoutMS) * time.Millisecond
}

// StaleAfter returns how long readings may go unrefreshed before they are stale.
func (c *Config) StaleAfter() time.Duration {
	return time.Duration(c.Serial.StaleAfterCycles) * c.PollInterval()
}

// StartupDelay returns the post-open wait as a Duration.
func (c *Config) StartupDelay() time.Duration {
	return time.Duration(c.Serial.StartupDelayMS) * time.Millisecond
}

// HealthInterval returns the bridge health publish period as a Duration.
func (c *Config) HealthInterval() time.Duration {
	return time.Duration(c.Serial.HealthInterval) * time.Second
}

// ControlInterval returns the control timer period as a Duration.
func (c *Config) ControlInterval() time.Duration {
	return time.Duration(c.Control.IntervalMS) * time.Millisecond
}

// TelemetryInterval returns the state fan-out period as a Duration.
func (c *Config) TelemetryInterval() time.Duration {
	return time.Duration(c.Telemetry.IntervalMS) * time.Millisecond
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
