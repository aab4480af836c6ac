// Package config provides configuration management for agentdesk.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for agentdesk.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Events    EventsConfig    `mapstructure:"events"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Agents    AgentsConfig    `mapstructure:"agents"`
	Dispatch  DispatchConfig  `mapstructure:"dispatch"`
	Tracker   TrackerConfig   `mapstructure:"tracker"`
	Streaming StreamingConfig `mapstructure:"streaming"`
	Indexing  IndexingConfig  `mapstructure:"indexing"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	CI        CIConfig        `mapstructure:"ci"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // in seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // in seconds
}

// DatabaseConfig holds relational store configuration. SQLite is the default;
// driver=postgres switches to a PostgreSQL connection described by the
// remaining fields.
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"` // sqlite, postgres
	Path     string `mapstructure:"path"`   // sqlite file path
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbName"`
	SSLMode  string `mapstructure:"sslMode"`
	MaxConns int    `mapstructure:"maxConns"`
}

// EventsConfig selects the event bus implementation. An empty NATS URL means
// the in-process memory bus.
type EventsConfig struct {
	NATSURL       string `mapstructure:"natsUrl"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// AgentsConfig holds agent registry bootstrap configuration.
type AgentsConfig struct {
	// SeedPath points at a YAML file with agent definitions that are
	// upserted at boot. Empty disables seeding.
	SeedPath string `mapstructure:"seedPath"`
}

// DispatchConfig holds broker and task queue configuration.
type DispatchConfig struct {
	DedupWindow int `mapstructure:"dedupWindow"` // seconds
}

// TrackerConfig holds agent shadow-state tracker configuration.
type TrackerConfig struct {
	DebounceMs      int `mapstructure:"debounceMs"`
	ThrottleSeconds int `mapstructure:"throttleSeconds"`
}

// StreamingConfig holds streaming-comment configuration.
type StreamingConfig struct {
	FlushIntervalMs int `mapstructure:"flushIntervalMs"`
	SweepInterval   int `mapstructure:"sweepInterval"` // seconds
	SweepAfter      int `mapstructure:"sweepAfter"`    // seconds a generating comment may linger
}

// IndexingConfig holds the indexing queue and worker configuration.
type IndexingConfig struct {
	Enabled      bool            `mapstructure:"enabled"`      // run the worker inside the server process
	PollInterval int             `mapstructure:"pollInterval"` // seconds
	BatchSize    int             `mapstructure:"batchSize"`
	VectorDir    string          `mapstructure:"vectorDir"`
	ReposRoot    string          `mapstructure:"reposRoot"` // checked-out repositories, one dir per id
	DocsRoot     string          `mapstructure:"docsRoot"`  // markdown corpus root
	Embedding    EmbeddingConfig `mapstructure:"embedding"`
	Chunk        ChunkConfig     `mapstructure:"chunk"`
}

// EmbeddingConfig holds embedding provider configuration.
type EmbeddingConfig struct {
	BaseURL    string `mapstructure:"baseUrl"`
	APIKeyEnv  string `mapstructure:"apiKeyEnv"` // env var holding the key, never the key itself
	Model      string `mapstructure:"model"`
	Dimensions int    `mapstructure:"dimensions"`
	CacheSize  int    `mapstructure:"cacheSize"`
}

// ChunkConfig holds chunking limits shared by the doc and code chunkers.
type ChunkConfig struct {
	MaxTokens     int `mapstructure:"maxTokens"`
	OverlapTokens int `mapstructure:"overlapTokens"`
}

// WorkerConfig holds agent worker process configuration.
type WorkerConfig struct {
	ServerURL        string `mapstructure:"serverUrl"`
	ReconnectMax     int    `mapstructure:"reconnectMax"`     // attempts before giving up
	ReconnectDelayMs int    `mapstructure:"reconnectDelayMs"` // base backoff delay
	StopGraceSeconds int    `mapstructure:"stopGraceSeconds"` // bounded drain on stop
}

// CIConfig holds the thin CI wrapper configuration.
type CIConfig struct {
	RunnerURL string `mapstructure:"runnerUrl"` // external runner endpoint; empty disables
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// DedupWindowDuration returns the broker dedup window as a time.Duration.
func (d *DispatchConfig) DedupWindowDuration() time.Duration {
	return time.Duration(d.DedupWindow) * time.Second
}

// Debounce returns the tracker group window as a time.Duration.
func (t *TrackerConfig) Debounce() time.Duration {
	return time.Duration(t.DebounceMs) * time.Millisecond
}

// Throttle returns the tracker broadcast floor as a time.Duration.
func (t *TrackerConfig) Throttle() time.Duration {
	return time.Duration(t.ThrottleSeconds) * time.Second
}

// FlushInterval returns the streaming flush cadence as a time.Duration.
func (s *StreamingConfig) FlushInterval() time.Duration {
	return time.Duration(s.FlushIntervalMs) * time.Millisecond
}

// SweepIntervalDuration returns the sweeper cadence as a time.Duration.
func (s *StreamingConfig) SweepIntervalDuration() time.Duration {
	return time.Duration(s.SweepInterval) * time.Second
}

// SweepAfterDuration returns the generating-comment age limit as a time.Duration.
func (s *StreamingConfig) SweepAfterDuration() time.Duration {
	return time.Duration(s.SweepAfter) * time.Second
}

// PollIntervalDuration returns the indexing poll cadence as a time.Duration.
func (i *IndexingConfig) PollIntervalDuration() time.Duration {
	return time.Duration(i.PollInterval) * time.Second
}

// ReconnectDelay returns the worker base backoff delay as a time.Duration.
func (w *WorkerConfig) ReconnectDelay() time.Duration {
	return time.Duration(w.ReconnectDelayMs) * time.Millisecond
}

// StopGrace returns the worker stop drain budget as a time.Duration.
func (w *WorkerConfig) StopGrace() time.Duration {
	return time.Duration(w.StopGraceSeconds) * time.Second
}

// detectDefaultLogFormat returns the appropriate log format based on environment.
// Returns "json" if running in Kubernetes or other production environments.
// Returns "text" for terminal/development use (human-readable console format).
func detectDefaultLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	if env := os.Getenv("AGENTDESK_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)

	// Database defaults - sqlite file next to the binary
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "agentdesk.db")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "agentdesk")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbName", "agentdesk")
	v.SetDefault("database.sslMode", "disable")
	v.SetDefault("database.maxConns", 25)

	// Events defaults - empty URL means use the in-memory event bus
	v.SetDefault("events.natsUrl", "")
	v.SetDefault("events.clientId", "agentdesk")
	v.SetDefault("events.maxReconnects", 10)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")

	// Agents defaults
	v.SetDefault("agents.seedPath", "agents.yaml")

	// Dispatch defaults
	v.SetDefault("dispatch.dedupWindow", 30)

	// Tracker defaults
	v.SetDefault("tracker.debounceMs", 50)
	v.SetDefault("tracker.throttleSeconds", 2)

	// Streaming defaults
	v.SetDefault("streaming.flushIntervalMs", 500)
	v.SetDefault("streaming.sweepInterval", 60)
	v.SetDefault("streaming.sweepAfter", 600)

	// Indexing defaults
	v.SetDefault("indexing.enabled", true)
	v.SetDefault("indexing.pollInterval", 5)
	v.SetDefault("indexing.batchSize", 3)
	v.SetDefault("indexing.vectorDir", "vectors")
	v.SetDefault("indexing.reposRoot", "repos")
	v.SetDefault("indexing.docsRoot", "docs")
	v.SetDefault("indexing.embedding.baseUrl", "")
	v.SetDefault("indexing.embedding.apiKeyEnv", "AGENTDESK_EMBEDDING_API_KEY")
	v.SetDefault("indexing.embedding.model", "text-embedding-3-small")
	v.SetDefault("indexing.embedding.dimensions", 768)
	v.SetDefault("indexing.embedding.cacheSize", 2048)
	v.SetDefault("indexing.chunk.maxTokens", 512)
	v.SetDefault("indexing.chunk.overlapTokens", 50)

	// Worker defaults
	v.SetDefault("worker.serverUrl", "ws://localhost:8080/ws")
	v.SetDefault("worker.reconnectMax", 10)
	v.SetDefault("worker.reconnectDelayMs", 500)
	v.SetDefault("worker.stopGraceSeconds", 30)

	// CI defaults - empty runner URL disables the wrapper
	v.SetDefault("ci.runnerUrl", "")
}

// Load reads configuration from environment variables, config file, and defaults.
// Environment variables use the prefix AGENTDESK_ with snake_case naming.
// Config file should be named config.yaml and placed in the current directory
// or /etc/agentdesk/.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults first
	setDefaults(v)

	// Configure environment variables
	v.SetEnvPrefix("AGENTDESK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit bindings for snake_case env vars (camelCase config keys).
	// AutomaticEnv does not convert camelCase keys to SNAKE_CASE names.
	_ = v.BindEnv("database.dbName", "AGENTDESK_DATABASE_DB_NAME")
	_ = v.BindEnv("events.natsUrl", "AGENTDESK_EVENTS_NATS_URL", "NATS_URL")
	_ = v.BindEnv("worker.serverUrl", "AGENTDESK_WORKER_SERVER_URL")
	_ = v.BindEnv("agents.seedPath", "AGENTDESK_AGENTS_SEED_PATH")
	_ = v.BindEnv("indexing.vectorDir", "AGENTDESK_INDEXING_VECTOR_DIR")

	// Configure config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/agentdesk/")

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate checks that all required configuration fields are set.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	switch cfg.Database.Driver {
	case "sqlite":
		if cfg.Database.Path == "" {
			errs = append(errs, "database.path is required for the sqlite driver")
		}
	case "postgres":
		if cfg.Database.Host == "" {
			errs = append(errs, "database.host is required for the postgres driver")
		}
		if cfg.Database.Port <= 0 || cfg.Database.Port > 65535 {
			errs = append(errs, "database.port must be between 1 and 65535")
		}
		if cfg.Database.User == "" {
			errs = append(errs, "database.user is required for the postgres driver")
		}
		if cfg.Database.DBName == "" {
			errs = append(errs, "database.dbName is required for the postgres driver")
		}
	default:
		errs = append(errs, "database.driver must be one of: sqlite, postgres")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	if cfg.Dispatch.DedupWindow < 0 {
		errs = append(errs, "dispatch.dedupWindow must not be negative")
	}
	if cfg.Tracker.DebounceMs <= 0 {
		errs = append(errs, "tracker.debounceMs must be positive")
	}
	if cfg.Streaming.FlushIntervalMs <= 0 {
		errs = append(errs, "streaming.flushIntervalMs must be positive")
	}
	if cfg.Indexing.BatchSize <= 0 {
		errs = append(errs, "indexing.batchSize must be positive")
	}
	if cfg.Indexing.Embedding.Dimensions <= 0 {
		errs = append(errs, "indexing.embedding.dimensions must be positive")
	}
	if cfg.Indexing.Chunk.MaxTokens <= 0 {
		errs = append(errs, "indexing.chunk.maxTokens must be positive")
	}
	if cfg.Indexing.Chunk.OverlapTokens < 0 ||
		cfg.Indexing.Chunk.OverlapTokens >= cfg.Indexing.Chunk.MaxTokens {
		errs = append(errs, "indexing.chunk.overlapTokens must be smaller than maxTokens")
	}
	if cfg.Worker.ReconnectMax < 5 {
		errs = append(errs, "worker.reconnectMax must be at least 5")
	}
	if cfg.Worker.StopGraceSeconds <= 0 {
		errs = append(errs, "worker.stopGraceSeconds must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}

// DSN returns the connection string for the configured driver.
func (d *DatabaseConfig) DSN() string {
	if d.Driver == "postgres" {
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
		)
	}
	return d.Path
}
