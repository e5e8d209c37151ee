package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the hub link.
// Values come from defaults, an optional YAML file and environment overrides.
type Config struct {
	Hub       HubConfig       `yaml:"hub"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// HubConfig describes the hub connection.
type HubConfig struct {
	// Name identifies this client in logs and MQTT client ids.
	Name        string `yaml:"name"`
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	AccessToken string `yaml:"access_token"`
	// Secure selects wss:// and https:// instead of ws:// and http://.
	Secure bool `yaml:"secure"`
	// StartStateStream controls the state_changed subscription. When false the
	// session authenticates and loads initial state only.
	StartStateStream bool `yaml:"start_state_stream"`
	// ConnectTimeout is the dial and handshake timeout in seconds.
	ConnectTimeout int `yaml:"connect_timeout"`
	// RequestTimeout bounds each correlated request in seconds.
	RequestTimeout int `yaml:"request_timeout"`
	// ReconnectDelay is the supervisor's delay between sessions in seconds.
	// Zero selects the default.
	ReconnectDelay int `yaml:"reconnect_delay"`
}

// DispatchConfig bounds user callback execution.
type DispatchConfig struct {
	MaxInFlight     int `yaml:"max_in_flight"`
	CallbackTimeout int `yaml:"callback_timeout"`
	EventBuffer     int `yaml:"event_buffer"`
}

// SchedulerConfig contains scheduler settings.
type SchedulerConfig struct {
	// Sandbox disables wall-clock timers; tasks fire on demand only.
	Sandbox  bool   `yaml:"sandbox"`
	Timezone string `yaml:"timezone"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
	// RetentionDays prunes state history older than this. Zero keeps everything.
	RetentionDays int `yaml:"retention_days"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled bool             `yaml:"enabled"`
	Broker  MQTTBrokerConfig `yaml:"broker"`
	Auth    MQTTAuthConfig   `yaml:"auth"`
	QoS     int              `yaml:"qos"`
	// Commands enables service calls from graylogic/hass/command/# topics.
	Commands bool `yaml:"commands"`
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

// APIConfig contains status API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
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
	// Domains limits telemetry to these entity domains. Empty writes all.
	Domains []string `yaml:"domains"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load builds the configuration and validates it.
//
// The loading order is:
//  1. Default values
//  2. YAML file values, when path is non-empty and the file exists
//  3. Environment variables
//
// Hub settings use HASS_* variables (HASS_HOST, HASS_ACCESS_TOKEN, ...);
// infrastructure settings use GRAYLOGIC_SECTION_KEY.
//
// Parameters:
//   - path: Path to the YAML configuration file, or "" for env-only
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If the file cannot be parsed or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			// env-only deployment
		case err != nil:
			return nil, fmt.Errorf("reading config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config file: %w", err)
			}
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("applying environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Hub: HubConfig{
			Name:             "GrayLogic",
			Host:             "localhost",
			Port:             8123,
			StartStateStream: true,
			ConnectTimeout:   10,
			RequestTimeout:   30,
			ReconnectDelay:   5,
		},
		Dispatch: DispatchConfig{
			MaxInFlight:     16,
			CallbackTimeout: 30,
			EventBuffer:     256,
		},
		Scheduler: SchedulerConfig{
			Timezone: "Local",
		},
		Database: DatabaseConfig{
			Path:        "./data/graylogic-hass.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "graylogic-hass",
			},
			QoS: 1,
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8090,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) error {
	var errs []string

	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: not an integer: %q", key, v))
				return
			}
			*dst = n
		}
	}
	setBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: not a boolean: %q", key, v))
				return
			}
			*dst = b
		}
	}

	// Hub
	setString("HASS_NAME", &cfg.Hub.Name)
	setString("HASS_HOST", &cfg.Hub.Host)
	setInt("HASS_PORT", &cfg.Hub.Port)
	setString("HASS_ACCESS_TOKEN", &cfg.Hub.AccessToken)
	setBool("HASS_SECURE", &cfg.Hub.Secure)
	setBool("HASS_START_STATE_STREAM", &cfg.Hub.StartStateStream)
	setBool("HASS_SANDBOX", &cfg.Scheduler.Sandbox)

	// Database
	setString("GRAYLOGIC_DATABASE_PATH", &cfg.Database.Path)

	// MQTT
	setString("GRAYLOGIC_MQTT_HOST", &cfg.MQTT.Broker.Host)
	setString("GRAYLOGIC_MQTT_USERNAME", &cfg.MQTT.Auth.Username)
	setString("GRAYLOGIC_MQTT_PASSWORD", &cfg.MQTT.Auth.Password)

	// API
	setString("GRAYLOGIC_API_HOST", &cfg.API.Host)

	// InfluxDB
	setString("GRAYLOGIC_INFLUXDB_TOKEN", &cfg.InfluxDB.Token)

	// Logging
	setString("GRAYLOGIC_LOG_LEVEL", &cfg.Logging.Level)

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Hub validation
	if c.Hub.Host == "" {
		errs = append(errs, "hub.host is required")
	}
	if c.Hub.Port < 1 || c.Hub.Port > 65535 {
		errs = append(errs, "hub.port must be between 1 and 65535")
	}
	if c.Hub.AccessToken == "" {
		errs = append(errs, "hub.access_token is required (set HASS_ACCESS_TOKEN environment variable)")
	}
	if c.Hub.ConnectTimeout < 1 {
		errs = append(errs, "hub.connect_timeout must be positive")
	}
	if c.Hub.RequestTimeout < 1 {
		errs = append(errs, "hub.request_timeout must be positive")
	}

	// Dispatch validation
	if c.Dispatch.MaxInFlight < 1 {
		errs = append(errs, "dispatch.max_in_flight must be at least 1")
	}
	if c.Dispatch.CallbackTimeout < 1 {
		errs = append(errs, "dispatch.callback_timeout must be positive")
	}
	if c.Dispatch.EventBuffer < 1 {
		errs = append(errs, "dispatch.event_buffer must be at least 1")
	}

	// Scheduler validation
	if c.Scheduler.Timezone != "" {
		if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
			errs = append(errs, fmt.Sprintf("scheduler.timezone %q is not a known zone", c.Scheduler.Timezone))
		}
	}

	// Database validation
	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	// API validation
	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// InfluxDB validation
	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// Location returns the scheduler's time zone, falling back to time.Local.
func (c *Config) Location() *time.Location {
	if c.Scheduler.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Scheduler.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// HubScheme returns the websocket scheme for the hub connection.
func (c *Config) HubScheme() string {
	if c.Hub.Secure {
		return "wss"
	}
	return "ws"
}

// HubHTTPScheme returns the REST scheme for the hub connection.
func (c *Config) HubHTTPScheme() string {
	if c.Hub.Secure {
		return "https"
	}
	return "http"
}

// GetConnectTimeout returns the hub dial timeout as a Duration.
func (c *Config) GetConnectTimeout() time.Duration {
	return time.Duration(c.Hub.ConnectTimeout) * time.Second
}

// GetRequestTimeout returns the correlated request timeout as a Duration.
func (c *Config) GetRequestTimeout() time.Duration {
	return time.Duration(c.Hub.RequestTimeout) * time.Second
}

// GetCallbackTimeout returns the per-dispatch callback join timeout.
func (c *Config) GetCallbackTimeout() time.Duration {
	return time.Duration(c.Dispatch.CallbackTimeout) * time.Second
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
