package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the whole of config.yaml.
type Config struct {
	Site      SiteConfig      `yaml:"site"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
	Registry  RegistryConfig  `yaml:"registry"`
	Heartbeat HeartbeatConfig `yaml:"heartbeat"`
	EventLog  EventLogConfig  `yaml:"event_log"`
}

// SiteConfig identifies the substation this instance manages.
type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled     bool                `yaml:"enabled"`
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	QoS         int                 `yaml:"qos"`
	TopicPrefix string              `yaml:"topic_prefix"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect"`
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
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
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
	Level  string            `yaml:"level"`
	Format string            `yaml:"format"`
	Output string            `yaml:"output"`
	File   FileLoggingConfig `yaml:"file"`
}

// FileLoggingConfig contains rolling file settings, used when output is "file".
type FileLoggingConfig struct {
	Path       string `yaml:"path"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
	Compress   bool   `yaml:"compress"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	AuthEnabled bool            `yaml:"auth_enabled"`
	JWT         JWTConfig       `yaml:"jwt"`
	Users       []UserConfig    `yaml:"users"`
	RateLimit   RateLimitConfig `yaml:"rate_limit"`
}

// JWTConfig contains JWT token settings.
type JWTConfig struct {
	Secret         string `yaml:"secret"`
	AccessTokenTTL int    `yaml:"access_token_ttl"` // minutes
}

// UserConfig is an operator account. PasswordHash is an Argon2id PHC string.
type UserConfig struct {
	Username     string `yaml:"username"`
	PasswordHash string `yaml:"password_hash"`
	Role         string `yaml:"role"`
}

// RateLimitConfig contains rate limiting settings.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
	Burst             int  `yaml:"burst"`
}

// RegistryConfig contains device registry settings.
type RegistryConfig struct {
	// HeartbeatLogQuietPeriod is the minimum gap between "still connected"
	// log entries for one device. Zero disables them.
	HeartbeatLogQuietPeriod time.Duration `yaml:"heartbeat_log_quiet_period"`

	// SeedSamples populates an empty registry with the demonstration bay.
	SeedSamples bool `yaml:"seed_samples"`

	// DefaultMMSPort is assigned to new devices.
	DefaultMMSPort int `yaml:"default_mms_port"`
}

// HeartbeatConfig contains connection monitoring settings.
type HeartbeatConfig struct {
	Enabled bool `yaml:"enabled"`

	// Timeout is how long a connected device may stay silent before it is
	// marked disconnected.
	Timeout time.Duration `yaml:"timeout"`

	// SweepInterval is how often silent devices are checked for.
	SweepInterval time.Duration `yaml:"sweep_interval"`

	// Workers bounds the number of concurrent transitions.
	Workers int `yaml:"workers"`

	// QueueSize bounds pending heartbeats; overflow is dropped.
	QueueSize int `yaml:"queue_size"`

	// CallTimeout bounds each transition call.
	CallTimeout time.Duration `yaml:"call_timeout"`
}

// EventLogConfig contains event log settings.
type EventLogConfig struct {
	MemoryCapacity int    `yaml:"memory_capacity"`
	RetentionDays  int    `yaml:"retention_days"`
	PruneSchedule  string `yaml:"prune_schedule"`
}

// Load builds the configuration in three layers: built-in defaults, then
// the YAML file at path, then SUBSTATION_* environment variables. The
// result is validated before it is returned.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := defaultConfig()
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return defaultConfig()
}

func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:   "substation-001",
			Name: "Substation",
		},
		Database: DatabaseConfig{
			Path:        "./data/substation.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Enabled: true,
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "substation-core",
			},
			QoS:         1,
			TopicPrefix: "substation",
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		InfluxDB: InfluxDBConfig{
			Bucket:        "substation",
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
			File: FileLoggingConfig{
				Path:       "./logs/substation.log",
				MaxSize:    50,
				MaxBackups: 5,
				MaxAge:     30,
			},
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				AccessTokenTTL: 60,
			},
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerMinute: 600,
				Burst:             50,
			},
		},
		Registry: RegistryConfig{
			HeartbeatLogQuietPeriod: 15 * time.Minute,
			DefaultMMSPort:          102,
		},
		Heartbeat: HeartbeatConfig{
			Enabled:       true,
			Timeout:       30 * time.Second,
			SweepInterval: 5 * time.Second,
			Workers:       4,
			QueueSize:     256,
			CallTimeout:   2 * time.Second,
		},
		EventLog: EventLogConfig{
			MemoryCapacity: 10000,
			RetentionDays:  90,
			PruneSchedule:  "@daily",
		},
	}
}

type envBinding struct {
	name string
	set  func(cfg *Config, v string) error
}

func str(dst func(*Config) *string) func(*Config, string) error {
	return func(c *Config, v string) error { *dst(c) = v; return nil }
}

func integer(dst func(*Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*dst(c) = n
		return nil
	}
}

func boolean(dst func(*Config) *bool) func(*Config, string) error {
	return func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*dst(c) = b
		return nil
	}
}

// envBindings lists every supported override. Secrets belong here rather
// than in the file.
var envBindings = []envBinding{
	{"SUBSTATION_SITE_ID", str(func(c *Config) *string { return &c.Site.ID })},
	{"SUBSTATION_DATABASE_PATH", str(func(c *Config) *string { return &c.Database.Path })},
	{"SUBSTATION_MQTT_ENABLED", boolean(func(c *Config) *bool { return &c.MQTT.Enabled })},
	{"SUBSTATION_MQTT_HOST", str(func(c *Config) *string { return &c.MQTT.Broker.Host })},
	{"SUBSTATION_MQTT_PORT", integer(func(c *Config) *int { return &c.MQTT.Broker.Port })},
	{"SUBSTATION_MQTT_USERNAME", str(func(c *Config) *string { return &c.MQTT.Auth.Username })},
	{"SUBSTATION_MQTT_PASSWORD", str(func(c *Config) *string { return &c.MQTT.Auth.Password })},
	{"SUBSTATION_API_HOST", str(func(c *Config) *string { return &c.API.Host })},
	{"SUBSTATION_API_PORT", integer(func(c *Config) *int { return &c.API.Port })},
	{"SUBSTATION_INFLUXDB_ENABLED", boolean(func(c *Config) *bool { return &c.InfluxDB.Enabled })},
	{"SUBSTATION_INFLUXDB_URL", str(func(c *Config) *string { return &c.InfluxDB.URL })},
	{"SUBSTATION_INFLUXDB_TOKEN", str(func(c *Config) *string { return &c.InfluxDB.Token })},
	{"SUBSTATION_LOG_LEVEL", str(func(c *Config) *string { return &c.Logging.Level })},
	{"SUBSTATION_AUTH_ENABLED", boolean(func(c *Config) *bool { return &c.Security.AuthEnabled })},
	{"SUBSTATION_JWT_SECRET", str(func(c *Config) *string { return &c.Security.JWT.Secret })},
}

// applyEnvOverrides copies set SUBSTATION_* variables into cfg. A value
// that does not parse is an error rather than silently ignored.
func applyEnvOverrides(cfg *Config) error {
	for _, b := range envBindings {
		v, ok := os.LookupEnv(b.name)
		if !ok || v == "" {
			continue
		}
		if err := b.set(cfg, v); err != nil {
			return fmt.Errorf("environment %s=%q: %w", b.name, v, err)
		}
	}
	return nil
}

const minJWTSecretLength = 32

// Validate reports every problem in c at once.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}
	validPort := func(p int) bool { return p > 0 && p <= 65535 }

	check(c.Site.ID != "", "site.id is required")
	check(c.Database.Path != "", "database.path is required")
	check(c.MQTT.QoS >= 0 && c.MQTT.QoS <= 2, "mqtt.qos must be 0, 1, or 2")
	check(!c.MQTT.Enabled || c.MQTT.TopicPrefix != "", "mqtt.topic_prefix is required when mqtt is enabled")
	check(validPort(c.API.Port), "api.port must be between 1 and 65535")
	check(!c.API.TLS.Enabled || (c.API.TLS.CertFile != "" && c.API.TLS.KeyFile != ""),
		"api.tls.cert_file and api.tls.key_file are required when tls is enabled")
	check(!c.InfluxDB.Enabled || c.InfluxDB.URL != "", "influxdb.url is required when influxdb is enabled")

	if sec := c.Security; sec.AuthEnabled {
		switch {
		case sec.JWT.Secret == "":
			check(false, "security.jwt.secret is required (set SUBSTATION_JWT_SECRET)")
		case len(sec.JWT.Secret) < minJWTSecretLength:
			check(false, "security.jwt.secret must be at least %d characters", minJWTSecretLength)
		}
		check(len(sec.Users) > 0, "security.users needs at least one account when auth is enabled")
	}

	check(c.Registry.HeartbeatLogQuietPeriod >= 0, "registry.heartbeat_log_quiet_period must not be negative")
	check(validPort(c.Registry.DefaultMMSPort), "registry.default_mms_port must be between 1 and 65535")

	if hb := c.Heartbeat; hb.Enabled {
		check(hb.Timeout > 0, "heartbeat.timeout must be positive")
		check(hb.SweepInterval > 0, "heartbeat.sweep_interval must be positive")
		check(hb.Workers >= 1, "heartbeat.workers must be at least 1")
		check(hb.CallTimeout > 0, "heartbeat.call_timeout must be positive")
	}

	check(c.EventLog.MemoryCapacity >= 1, "event_log.memory_capacity must be at least 1")
	check(c.EventLog.RetentionDays >= 0, "event_log.retention_days must not be negative")

	return errors.Join(errs...)
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

// ReadTimeout is Read as a duration.
func (t APITimeoutConfig) ReadTimeout() time.Duration { return seconds(t.Read) }

// WriteTimeout is Write as a duration.
func (t APITimeoutConfig) WriteTimeout() time.Duration { return seconds(t.Write) }

// IdleTimeout is Idle as a duration.
func (t APITimeoutConfig) IdleTimeout() time.Duration { return seconds(t.Idle) }

// Retention is how long event log entries are kept. Zero keeps them forever.
func (e EventLogConfig) Retention() time.Duration {
	return time.Duration(e.RetentionDays) * 24 * time.Hour
}
