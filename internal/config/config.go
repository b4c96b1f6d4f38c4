package config

import (
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config holds all configuration for the automation engine. It is constructed
// once at process start and passed into each component's constructor.
type Config struct {
	Server     ServerConfig     `toml:"server"`
	Database   DatabaseConfig   `toml:"database"`
	Redis      RedisConfig      `toml:"redis"`
	Ledger     LedgerConfig     `toml:"ledger"`
	Matchmaker MatchmakerConfig `toml:"matchmaker"`
	Queue      QueueConfig      `toml:"queue"`
	Webhooks   WebhooksConfig   `toml:"webhooks"`
	Metrics    MetricsConfig    `toml:"metrics"`
	Auth       AuthConfig       `toml:"auth"`
	Log        LogConfig        `toml:"log"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string `toml:"host"`
	Port         int    `toml:"port"`
	ReadTimeout  int    `toml:"read_timeout"`
	WriteTimeout int    `toml:"write_timeout"`
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Database string `toml:"database"`
	SSLMode  string `toml:"ssl_mode"`
}

// RedisConfig holds Redis configuration for the match queue
type RedisConfig struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
}

// LedgerConfig holds the ledger RPC endpoint and the monitored program ids
type LedgerConfig struct {
	WebsocketURL           string `toml:"websocket_url"`
	Commitment             string `toml:"commitment"`
	NodeRegistryProgram    string `toml:"node_registry_program"`
	JobReceiptProgram      string `toml:"job_receipt_program"`
	PaymentSplitterProgram string `toml:"payment_splitter_program"`
}

// MatchmakerConfig holds matching parameters
type MatchmakerConfig struct {
	FreshnessWindowMinutes int `toml:"freshness_window_minutes"`
	CandidateLimit         int `toml:"candidate_limit"`
	AttemptTimeoutSeconds  int `toml:"attempt_timeout_seconds"`
}

// FreshnessWindow returns the maximum heartbeat age for an available node
func (c MatchmakerConfig) FreshnessWindow() time.Duration {
	return time.Duration(c.FreshnessWindowMinutes) * time.Minute
}

// AttemptTimeout returns the per-attempt deadline for a match run
func (c MatchmakerConfig) AttemptTimeout() time.Duration {
	return time.Duration(c.AttemptTimeoutSeconds) * time.Second
}

// QueueConfig holds dispatcher settings
type QueueConfig struct {
	Workers           int `toml:"workers"`
	MaxAttempts       int `toml:"max_attempts"`
	PollIntervalMs    int `toml:"poll_interval_ms"`
	VisibilitySeconds int `toml:"visibility_seconds"`
}

// PollInterval returns how long an idle worker waits before polling again
func (c QueueConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// Visibility returns how long a claimed job may stay unacknowledged before it
// is handed back to the ready queue. Must exceed the match attempt timeout.
func (c QueueConfig) Visibility() time.Duration {
	return time.Duration(c.VisibilitySeconds) * time.Second
}

// WebhooksConfig holds notification sink endpoints
type WebhooksConfig struct {
	DiscordURL     string   `toml:"discord_url"`
	SlackURL       string   `toml:"slack_url"`
	ExtraURLs      []string `toml:"extra_urls"`
	TimeoutSeconds int      `toml:"timeout_seconds"`
}

// Timeout returns the per-sink delivery deadline
func (c WebhooksConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// MetricsConfig holds snapshot settings
type MetricsConfig struct {
	IntervalMinutes int `toml:"interval_minutes"`
	RecentJobs      int `toml:"recent_jobs"`
	RecentNodes     int `toml:"recent_nodes"`
}

// Interval returns the snapshot period
func (c MetricsConfig) Interval() time.Duration {
	return time.Duration(c.IntervalMinutes) * time.Minute
}

// AuthConfig holds node agent token settings. An empty secret disables
// heartbeat authentication.
type AuthConfig struct {
	TokenSecret   string `toml:"token_secret"`
	TokenTTLHours int    `toml:"token_ttl_hours"`
}

// TokenTTL returns the node token lifetime
func (c AuthConfig) TokenTTL() time.Duration {
	return time.Duration(c.TokenTTLHours) * time.Hour
}

// LogConfig holds logging configuration
type LogConfig struct {
	File  string `toml:"file"`
	Level string `toml:"level"`
}

// Load loads configuration from a TOML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := toml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.SetDefaults()

	return &config, nil
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.SetDefaults()
	return cfg
}

// DatabaseURL returns the PostgreSQL connection URL
func (c *DatabaseConfig) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}

// SetDefaults sets default values for config
func (c *Config) SetDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 3002
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 30
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 30
	}
	if c.Database.Host == "" {
		c.Database.Host = "localhost"
	}
	if c.Database.Port == 0 {
		c.Database.Port = 5432
	}
	if c.Database.User == "" {
		c.Database.User = "postgres"
	}
	if c.Database.Database == "" {
		c.Database.Database = "hypernode"
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Ledger.WebsocketURL == "" {
		c.Ledger.WebsocketURL = "ws://localhost:8900"
	}
	if c.Ledger.Commitment == "" {
		c.Ledger.Commitment = "confirmed"
	}
	if c.Matchmaker.FreshnessWindowMinutes == 0 {
		c.Matchmaker.FreshnessWindowMinutes = 5
	}
	if c.Matchmaker.CandidateLimit == 0 {
		c.Matchmaker.CandidateLimit = 50
	}
	if c.Matchmaker.AttemptTimeoutSeconds == 0 {
		c.Matchmaker.AttemptTimeoutSeconds = 10
	}
	if c.Queue.Workers == 0 {
		c.Queue.Workers = 4
	}
	if c.Queue.MaxAttempts == 0 {
		c.Queue.MaxAttempts = 3
	}
	if c.Queue.PollIntervalMs == 0 {
		c.Queue.PollIntervalMs = 500
	}
	if c.Queue.VisibilitySeconds == 0 {
		c.Queue.VisibilitySeconds = 30
	}
	if c.Webhooks.TimeoutSeconds == 0 {
		c.Webhooks.TimeoutSeconds = 10
	}
	if c.Metrics.IntervalMinutes == 0 {
		c.Metrics.IntervalMinutes = 5
	}
	if c.Metrics.RecentJobs == 0 {
		c.Metrics.RecentJobs = 50
	}
	if c.Metrics.RecentNodes == 0 {
		c.Metrics.RecentNodes = 20
	}
	if c.Auth.TokenTTLHours == 0 {
		c.Auth.TokenTTLHours = 24 * 30
	}
	if c.Log.File == "" {
		c.Log.File = "engine.log"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}
