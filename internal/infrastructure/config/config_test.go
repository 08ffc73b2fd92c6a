package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_ValidConfig(t *testing.T) {
	content := `
site:
  id: "bay-7"
database:
  path: "/tmp/test.db"
  wal_mode: true
  busy_timeout: 5
mqtt:
  broker:
    host: "localhost"
    port: 1883
    client_id: "test-client"
  qos: 1
  topic_prefix: "ss7"
api:
  host: "0.0.0.0"
  port: 8080
registry:
  heartbeat_log_quiet_period: 5m
  default_mms_port: 102
heartbeat:
  timeout: 45s
`
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Site.ID != "bay-7" {
		t.Errorf("Site.ID = %q, want %q", cfg.Site.ID, "bay-7")
	}
	if cfg.Database.Path != "/tmp/test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/tmp/test.db")
	}
	if cfg.MQTT.TopicPrefix != "ss7" {
		t.Errorf("MQTT.TopicPrefix = %q, want %q", cfg.MQTT.TopicPrefix, "ss7")
	}
	if cfg.Registry.HeartbeatLogQuietPeriod != 5*time.Minute {
		t.Errorf("Registry.HeartbeatLogQuietPeriod = %v, want 5m", cfg.Registry.HeartbeatLogQuietPeriod)
	}
	if cfg.Heartbeat.Timeout != 45*time.Second {
		t.Errorf("Heartbeat.Timeout = %v, want 45s", cfg.Heartbeat.Timeout)
	}
	// Untouched sections keep their defaults.
	if cfg.EventLog.MemoryCapacity != 10000 {
		t.Errorf("EventLog.MemoryCapacity = %d, want 10000", cfg.EventLog.MemoryCapacity)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("invalid: [yaml: content"), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	content := `
site:
  id: ""
database:
  path: "/tmp/test.db"
api:
  port: 8080
`
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected validation error for empty site.id, got nil")
	}
}

func TestConfig_Validate(t *testing.T) {
	validJWTSecret := "test-secret-key-at-least-32-chars!"

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "missing site ID",
			mutate:  func(c *Config) { c.Site.ID = "" },
			wantErr: "site.id",
		},
		{
			name:    "missing database path",
			mutate:  func(c *Config) { c.Database.Path = "" },
			wantErr: "database.path",
		},
		{
			name:    "invalid QoS",
			mutate:  func(c *Config) { c.MQTT.QoS = 3 },
			wantErr: "mqtt.qos",
		},
		{
			name:    "missing topic prefix",
			mutate:  func(c *Config) { c.MQTT.TopicPrefix = "" },
			wantErr: "mqtt.topic_prefix",
		},
		{
			name:   "topic prefix not needed when mqtt disabled",
			mutate: func(c *Config) { c.MQTT.Enabled = false; c.MQTT.TopicPrefix = "" },
		},
		{
			name:    "invalid port low",
			mutate:  func(c *Config) { c.API.Port = 0 },
			wantErr: "api.port",
		},
		{
			name:    "invalid port high",
			mutate:  func(c *Config) { c.API.Port = 70000 },
			wantErr: "api.port",
		},
		{
			name:    "tls without certificate",
			mutate:  func(c *Config) { c.API.TLS.Enabled = true },
			wantErr: "api.tls.cert_file",
		},
		{
			name:    "influxdb without url",
			mutate:  func(c *Config) { c.InfluxDB.Enabled = true },
			wantErr: "influxdb.url",
		},
		{
			name:    "auth without JWT secret",
			mutate:  func(c *Config) { c.Security.AuthEnabled = true; c.Security.Users = []UserConfig{{Username: "op"}} },
			wantErr: "security.jwt.secret is required",
		},
		{
			name: "auth with short JWT secret",
			mutate: func(c *Config) {
				c.Security.AuthEnabled = true
				c.Security.JWT.Secret = "short"
				c.Security.Users = []UserConfig{{Username: "op"}}
			},
			wantErr: "at least 32 characters",
		},
		{
			name: "auth without users",
			mutate: func(c *Config) {
				c.Security.AuthEnabled = true
				c.Security.JWT.Secret = validJWTSecret
			},
			wantErr: "security.users",
		},
		{
			name:    "negative quiet period",
			mutate:  func(c *Config) { c.Registry.HeartbeatLogQuietPeriod = -time.Second },
			wantErr: "heartbeat_log_quiet_period",
		},
		{
			name:    "bad default MMS port",
			mutate:  func(c *Config) { c.Registry.DefaultMMSPort = 0 },
			wantErr: "default_mms_port",
		},
		{
			name:    "zero heartbeat timeout",
			mutate:  func(c *Config) { c.Heartbeat.Timeout = 0 },
			wantErr: "heartbeat.timeout",
		},
		{
			name:   "heartbeat settings ignored when disabled",
			mutate: func(c *Config) { c.Heartbeat.Enabled = false; c.Heartbeat.Workers = 0 },
		},
		{
			name:    "zero memory capacity",
			mutate:  func(c *Config) { c.EventLog.MemoryCapacity = 0 },
			wantErr: "event_log.memory_capacity",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestDurations(t *testing.T) {
	timeouts := APITimeoutConfig{Read: 30, Write: 45, Idle: 60}
	if got := timeouts.ReadTimeout(); got != 30*time.Second {
		t.Errorf("ReadTimeout() = %v", got)
	}
	if got := timeouts.WriteTimeout(); got != 45*time.Second {
		t.Errorf("WriteTimeout() = %v", got)
	}
	if got := timeouts.IdleTimeout(); got != time.Minute {
		t.Errorf("IdleTimeout() = %v", got)
	}
	if got := (EventLogConfig{RetentionDays: 2}).Retention(); got != 48*time.Hour {
		t.Errorf("Retention() = %v, want 48h", got)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	env := map[string]string{
		"SUBSTATION_SITE_ID":          "bay-9",
		"SUBSTATION_DATABASE_PATH":    "/custom/path.db",
		"SUBSTATION_MQTT_ENABLED":     "false",
		"SUBSTATION_MQTT_HOST":        "mqtt.example.com",
		"SUBSTATION_MQTT_PORT":        "8883",
		"SUBSTATION_MQTT_USERNAME":    "testuser",
		"SUBSTATION_MQTT_PASSWORD":    "testpass",
		"SUBSTATION_API_PORT":         "9090",
		"SUBSTATION_INFLUXDB_TOKEN":   "secret-token",
		"SUBSTATION_LOG_LEVEL":        "debug",
		"SUBSTATION_AUTH_ENABLED":     "true",
		"SUBSTATION_JWT_SECRET":       "jwt-secret",
		"SUBSTATION_INFLUXDB_ENABLED": "",
	}
	for k, v := range env {
		t.Setenv(k, v)
	}

	cfg := defaultConfig()
	if err := applyEnvOverrides(cfg); err != nil {
		t.Fatalf("applyEnvOverrides() error = %v", err)
	}

	checks := []struct {
		name      string
		got, want any
	}{
		{"Site.ID", cfg.Site.ID, "bay-9"},
		{"Database.Path", cfg.Database.Path, "/custom/path.db"},
		{"MQTT.Enabled", cfg.MQTT.Enabled, false},
		{"MQTT.Broker.Host", cfg.MQTT.Broker.Host, "mqtt.example.com"},
		{"MQTT.Broker.Port", cfg.MQTT.Broker.Port, 8883},
		{"MQTT.Auth.Username", cfg.MQTT.Auth.Username, "testuser"},
		{"MQTT.Auth.Password", cfg.MQTT.Auth.Password, "testpass"},
		{"API.Port", cfg.API.Port, 9090},
		{"InfluxDB.Token", cfg.InfluxDB.Token, "secret-token"},
		{"InfluxDB.Enabled", cfg.InfluxDB.Enabled, false},
		{"Logging.Level", cfg.Logging.Level, "debug"},
		{"Security.AuthEnabled", cfg.Security.AuthEnabled, true},
		{"Security.JWT.Secret", cfg.Security.JWT.Secret, "jwt-secret"},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
}

func TestApplyEnvOverrides_RejectsUnparsable(t *testing.T) {
	for name, value := range map[string]string{
		"SUBSTATION_API_PORT":     "not-a-port",
		"SUBSTATION_AUTH_ENABLED": "sometimes",
	} {
		t.Run(name, func(t *testing.T) {
			t.Setenv(name, value)
			err := applyEnvOverrides(defaultConfig())
			if err == nil || !strings.Contains(err.Error(), name) {
				t.Errorf("applyEnvOverrides() error = %v, want one naming %s", err, name)
			}
		})
	}
}

func TestLoad_RejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("site:\n  id: bay-1\n  nmae: typo\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "nmae") {
		t.Errorf("Load() error = %v, want one naming the unknown key", err)
	}
}

func TestLoad_EmptyFileUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, nil, 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.API.Port != 8080 {
		t.Errorf("API.Port = %d, want 8080", cfg.API.Port)
	}
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	cfg := defaultConfig()
	cfg.Site.ID = ""
	cfg.API.Port = 0
	cfg.EventLog.MemoryCapacity = 0

	err := cfg.Validate()
	for _, want := range []string{"site.id", "api.port", "event_log.memory_capacity"} {
		if err == nil || !strings.Contains(err.Error(), want) {
			t.Errorf("Validate() error = %v, missing %q", err, want)
		}
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := Default()

	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("Default() MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}
	if cfg.Registry.DefaultMMSPort != 102 {
		t.Errorf("Default() Registry.DefaultMMSPort = %d, want 102", cfg.Registry.DefaultMMSPort)
	}
	if cfg.Heartbeat.Timeout <= 0 {
		t.Error("Default() should have a positive heartbeat timeout")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default().Validate() error = %v", err)
	}
}

func TestLoad_ShippedConfig(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "..", "configs", "config.yaml"))
	if err != nil {
		t.Fatalf("Load(configs/config.yaml) error = %v", err)
	}
	if cfg.Site.ID != "substation-001" {
		t.Errorf("Site.ID = %q", cfg.Site.ID)
	}
	if cfg.EventLog.PruneSchedule != "@daily" {
		t.Errorf("EventLog.PruneSchedule = %q", cfg.EventLog.PruneSchedule)
	}
}
