package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Server     ServerConfig                `yaml:"server"`
	Database   DatabaseConfig              `yaml:"database"`
	Push       PushConfig                  `yaml:"push"`
	MQTT       MQTTConfig                  `yaml:"mqtt"`
	WorkerPool WorkerPoolConfig            `yaml:"worker_pool"`
	Clock      ClockConfig                 `yaml:"clock"`
	Sync       SyncConfig                  `yaml:"sync"`
	Fault      FaultConfig                 `yaml:"fault"`
	Machines   MachinesConfig              `yaml:"machines"`
	Categories map[string]map[string]int   `yaml:"categories"` // type -> category -> minutes
	Identity   IdentityConfig              `yaml:"identity"`
	Log        LogConfig                   `yaml:"log"`
}

// ServerConfig holds the server-related configuration.
type ServerConfig struct {
	Port            int     `yaml:"port"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int     `yaml:"rate_limit_burst"`
	CacheTTLSeconds int     `yaml:"cache_ttl_seconds"`
	LockFile        string  `yaml:"lock_file"`
}

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	Driver                 string `yaml:"driver"` // postgres or sqlite
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
	RecorderQueue          int    `yaml:"recorder_queue"`
}

// PushConfig holds the VAPID keys for web push notifications.
type PushConfig struct {
	Enabled    bool   `yaml:"enabled"`
	PublicKey  string `yaml:"vapid_public_key"`
	PrivateKey string `yaml:"vapid_private_key"`
	Subject    string `yaml:"subject"`
	TTL        int    `yaml:"ttl"`
}

// MQTTConfig configures the optional MQTT alert sink.
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	BrokerURL   string `yaml:"broker_url"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	KeepAlive   uint16 `yaml:"keep_alive"`
}

// WorkerPoolConfig holds the configuration for the notification worker pool.
type WorkerPoolConfig struct {
	Size  int `yaml:"size"`
	Queue int `yaml:"queue"`
}

// ClockConfig controls the shared countdown sweep.
type ClockConfig struct {
	IntervalMillis int           `yaml:"interval_ms"`
	Interval       time.Duration `yaml:"-"`
}

// SyncConfig controls the realtime channel.
type SyncConfig struct {
	HandshakeTimeoutSeconds int `yaml:"handshake_timeout_seconds"`
	PingIntervalSeconds     int `yaml:"ping_interval_seconds"`
	SendBuffer              int `yaml:"send_buffer"`
	PendingLimit            int `yaml:"pending_limit"`
	HubQueue                int `yaml:"hub_queue"`

	// Client-side reconnect policy.
	InitialRetryDelayMillis int `yaml:"initial_retry_delay_ms"`
	MaxRetryDelayMillis     int `yaml:"max_retry_delay_ms"`
	MaxRetries              int `yaml:"max_retries"`
}

// FaultConfig holds the auto-disable policy.
type FaultConfig struct {
	Threshold int `yaml:"threshold"`
}

// MachinesConfig describes the provisioned pool.
type MachinesConfig struct {
	Washers int `yaml:"washers"`
	Dryers  int `yaml:"dryers"`
}

// IdentityConfig lists statically provisioned tokens.
type IdentityConfig struct {
	TokenTTLMinutes int           `yaml:"token_ttl_minutes"`
	Tokens          []StaticToken `yaml:"tokens"`
}

// StaticToken binds a token to a user.
type StaticToken struct {
	Token  string `yaml:"token"`
	UserID string `yaml:"user_id"`
	Admin  bool   `yaml:"admin"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json, console or auto
}

// DefaultCategories returns the stock cycle profiles, in minutes.
func DefaultCategories() map[string]map[string]int {
	return map[string]map[string]int{
		"washer": {"quick": 15, "normal": 30, "heavy": 45},
		"dryer":  {"quick": 20, "normal": 40, "heavy": 60},
	}
}

// Load reads the configuration from the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.ApplyDefaults(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills unset fields and validates the cycle catalog.
func (cfg *Config) ApplyDefaults() error {
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RateLimitPerSec <= 0 {
		cfg.Server.RateLimitPerSec = 10
	}
	if cfg.Server.RateLimitBurst <= 0 {
		cfg.Server.RateLimitBurst = 5
	}
	if cfg.Server.CacheTTLSeconds <= 0 {
		cfg.Server.CacheTTLSeconds = 5
	}
	if cfg.Server.LockFile == "" {
		cfg.Server.LockFile = "./laundryd.lock"
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "postgres"
	}
	if cfg.Database.RecorderQueue <= 0 {
		cfg.Database.RecorderQueue = 1024
	}

	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = "laundry/notifications"
	}
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "laundryd"
	}

	if cfg.WorkerPool.Size <= 0 {
		cfg.WorkerPool.Size = 1
	}
	if cfg.WorkerPool.Queue <= 0 {
		cfg.WorkerPool.Queue = 64
	}

	if cfg.Clock.IntervalMillis <= 0 {
		cfg.Clock.IntervalMillis = 1000
	}
	cfg.Clock.Interval = time.Duration(cfg.Clock.IntervalMillis) * time.Millisecond

	if cfg.Sync.HandshakeTimeoutSeconds <= 0 {
		cfg.Sync.HandshakeTimeoutSeconds = 10
	}
	if cfg.Sync.PingIntervalSeconds <= 0 {
		cfg.Sync.PingIntervalSeconds = 30
	}
	if cfg.Sync.SendBuffer <= 0 {
		cfg.Sync.SendBuffer = 256
	}
	if cfg.Sync.PendingLimit <= 0 {
		cfg.Sync.PendingLimit = 100
	}
	if cfg.Sync.HubQueue <= 0 {
		cfg.Sync.HubQueue = 1024
	}
	if cfg.Sync.InitialRetryDelayMillis <= 0 {
		cfg.Sync.InitialRetryDelayMillis = 1000
	}
	if cfg.Sync.MaxRetryDelayMillis <= 0 {
		cfg.Sync.MaxRetryDelayMillis = 30000
	}
	if cfg.Sync.MaxRetries <= 0 {
		cfg.Sync.MaxRetries = 5
	}

	if cfg.Fault.Threshold <= 0 {
		cfg.Fault.Threshold = 3
	}

	if cfg.Machines.Washers <= 0 && cfg.Machines.Dryers <= 0 {
		cfg.Machines.Washers = 6
		cfg.Machines.Dryers = 6
	}

	if len(cfg.Categories) == 0 {
		cfg.Categories = DefaultCategories()
	}
	for typ, cats := range cfg.Categories {
		if typ != "washer" && typ != "dryer" {
			return fmt.Errorf("categories: unknown machine type %q", typ)
		}
		for name, minutes := range cats {
			if minutes <= 0 {
				return fmt.Errorf("categories: %s/%s must last at least one minute, got %d", typ, name, minutes)
			}
		}
	}

	if cfg.Identity.TokenTTLMinutes <= 0 {
		cfg.Identity.TokenTTLMinutes = 24 * 60
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "auto"
	}
	return nil
}

// InitialRetryDelay returns the client's first reconnect delay.
func (s SyncConfig) InitialRetryDelay() time.Duration {
	return time.Duration(s.InitialRetryDelayMillis) * time.Millisecond
}

// MaxRetryDelay returns the cap on reconnect delays.
func (s SyncConfig) MaxRetryDelay() time.Duration {
	return time.Duration(s.MaxRetryDelayMillis) * time.Millisecond
}
