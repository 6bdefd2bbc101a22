// Package config provides configuration loading and management for the hub server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultContentSyncInterval = 10 * time.Minute
	defaultMonitorInterval     = 2 * time.Minute
	defaultBatchDelay          = 500 * time.Millisecond
	defaultItemBatchSize       = 50
	defaultCollectionBatchSize = 25
	defaultOfflineThreshold    = 3
	defaultSnapshotRetention   = 50
	defaultFeedCacheTTL        = 15 * time.Second
	defaultSessionTTL          = 2 * time.Hour
	defaultProbeTimeout        = 2 * time.Second
)

// Option defines the interface for configuration options
type Option func(*loaderConfig) error

// loaderConfig defines the configuration for loading a configuration
type loaderConfig struct {
	path string
}

// WithConfigPath loads configuration from a YAML file
func WithConfigPath(path string) Option {
	return func(cfg *loaderConfig) error {
		if path == "" {
			return fmt.Errorf("path is required")
		}

		// Resolve symlinks to prevent symlink attacks.
		// Note that this calls filepath.Clean internally.
		realPath, err := filepath.EvalSymlinks(path)
		if err != nil {
			return fmt.Errorf("failed to evaluate symlinks: %w", err)
		}

		if !filepath.IsAbs(realPath) {
			if !filepath.IsLocal(realPath) {
				return fmt.Errorf("path is not local or contains invalid traversal: %s", path)
			}
		}

		cfg.path = realPath
		return nil
	}
}

// Config represents the root configuration structure
type Config struct {
	Database  *DatabaseConfig  `yaml:"database"`
	Sync      *SyncConfig      `yaml:"sync,omitempty"`
	Auth      *AuthConfig      `yaml:"auth,omitempty"`
	Feed      *FeedConfig      `yaml:"feed,omitempty"`
	Telemetry *TelemetryConfig `yaml:"telemetry,omitempty"`
}

// DatabaseConfig defines database connection settings
type DatabaseConfig struct {
	// Host is the database server hostname or IP address
	Host string `yaml:"host"`

	// Port is the database server port
	Port int `yaml:"port"`

	// User is the database username
	User string `yaml:"user"`

	// PasswordFile is the path to a file containing the database password.
	// The file should contain only the password with optional trailing whitespace.
	PasswordFile string `yaml:"passwordFile,omitempty"`

	// Database is the database name
	Database string `yaml:"database"`

	// SSLMode is the SSL mode for the connection (disable, require, verify-ca, verify-full)
	SSLMode string `yaml:"sslMode,omitempty"`

	// MaxOpenConns is the maximum number of open connections to the database
	MaxOpenConns int32 `yaml:"maxOpenConns,omitempty"`

	// ConnMaxLifetime is the maximum lifetime of a connection (e.g., "1h", "30m")
	ConnMaxLifetime string `yaml:"connMaxLifetime,omitempty"`
}

// SyncConfig defines the polling schedule for external sources.
type SyncConfig struct {
	// Enabled switches the background schedulers on. When false the feed
	// only reflects manually authored posts.
	Enabled bool `yaml:"enabled"`

	// ContentInterval is the interval between workshop/collection sync runs
	ContentInterval string `yaml:"contentInterval,omitempty"`

	// MonitorInterval is the interval between server liveness checks
	MonitorInterval string `yaml:"monitorInterval,omitempty"`

	// BatchDelay is the pause between consecutive bulk fetches within a run
	BatchDelay string `yaml:"batchDelay,omitempty"`

	// ItemBatchSize is the number of workshop items fetched per request
	ItemBatchSize int `yaml:"itemBatchSize,omitempty"`

	// CollectionBatchSize is the number of collections fetched per request
	CollectionBatchSize int `yaml:"collectionBatchSize,omitempty"`

	// OfflineThreshold is the number of consecutive offline snapshots that
	// must precede an online probe before a recovery post is published
	OfflineThreshold int `yaml:"offlineThreshold,omitempty"`

	// SnapshotRetention is the per-server cap on retained liveness snapshots
	SnapshotRetention int `yaml:"snapshotRetention,omitempty"`

	// ProbeTimeout is the socket timeout for a single server probe
	ProbeTimeout string `yaml:"probeTimeout,omitempty"`
}

// AuthConfig defines identity verification and session settings
type AuthConfig struct {
	// BotTokenFile is the path to a file containing the Telegram bot token
	// used to verify login payloads
	BotTokenFile string `yaml:"botTokenFile,omitempty"`

	// SessionSecretFile is the path to a file containing the JWT signing secret
	SessionSecretFile string `yaml:"sessionSecretFile,omitempty"`

	// SessionTTL is the lifetime of minted session tokens (e.g., "2h")
	SessionTTL string `yaml:"sessionTTL,omitempty"`

	// AdminTelegramIDs lists the Telegram account ids granted admin access
	AdminTelegramIDs []string `yaml:"adminTelegramIds,omitempty"`
}

// FeedConfig defines feed read settings
type FeedConfig struct {
	// CacheTTL is the time-to-live for cached feed pages (e.g., "15s")
	CacheTTL string `yaml:"cacheTTL,omitempty"`
}

// TelemetryConfig defines metrics settings
type TelemetryConfig struct {
	// Enabled controls whether OpenTelemetry metrics are collected.
	// When false a no-op meter provider is used.
	Enabled bool `yaml:"enabled"`

	// ServiceName identifies this instance in exported metrics
	ServiceName string `yaml:"serviceName,omitempty"`

	// Endpoint is the OTLP metrics endpoint, host:port
	Endpoint string `yaml:"endpoint,omitempty"`

	// Insecure disables TLS for the OTLP exporter
	Insecure bool `yaml:"insecure,omitempty"`
}

// GetPassword returns the database password using the following priority:
// 1. Read from PasswordFile if specified
// 2. Read from HUB_DATABASE_PASSWORD environment variable
//
// The password from file will have leading/trailing whitespace trimmed.
func (d *DatabaseConfig) GetPassword() (string, error) {
	return secretFromFileOrEnv(d.PasswordFile, "HUB_DATABASE_PASSWORD", "database password")
}

// GetConnectionString builds a PostgreSQL connection string.
func (d *DatabaseConfig) GetConnectionString() (string, error) {
	password, err := d.GetPassword()
	if err != nil {
		return "", err
	}

	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "require"
	}

	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User,
		password,
		d.Host,
		d.Port,
		d.Database,
		sslMode,
	), nil
}

// GetBotToken returns the Telegram bot token from file or the
// HUB_TELEGRAM_BOT_TOKEN environment variable.
func (a *AuthConfig) GetBotToken() (string, error) {
	if a == nil {
		return "", fmt.Errorf("auth configuration is required")
	}
	return secretFromFileOrEnv(a.BotTokenFile, "HUB_TELEGRAM_BOT_TOKEN", "bot token")
}

// GetSessionSecret returns the JWT signing secret from file or the
// HUB_SESSION_SECRET environment variable.
func (a *AuthConfig) GetSessionSecret() (string, error) {
	if a == nil {
		return "", fmt.Errorf("auth configuration is required")
	}
	return secretFromFileOrEnv(a.SessionSecretFile, "HUB_SESSION_SECRET", "session secret")
}

// GetSessionTTL returns the session token lifetime, using the default when unset.
func (a *AuthConfig) GetSessionTTL() time.Duration {
	if a == nil || a.SessionTTL == "" {
		return defaultSessionTTL
	}
	d, err := time.ParseDuration(a.SessionTTL)
	if err != nil {
		return defaultSessionTTL
	}
	return d
}

// IsAdmin reports whether the given Telegram id is in the configured admin list.
func (a *AuthConfig) IsAdmin(telegramID string) bool {
	if a == nil {
		return false
	}
	for _, id := range a.AdminTelegramIDs {
		if id == telegramID {
			return true
		}
	}
	return false
}

// secretFromFileOrEnv resolves a secret with file-then-env priority.
func secretFromFileOrEnv(file, envVar, what string) (string, error) {
	if file != "" {
		// Use filepath.Clean to prevent path traversal attacks
		cleanPath := filepath.Clean(file)

		data, err := os.ReadFile(cleanPath)
		if err != nil {
			return "", fmt.Errorf("failed to read %s from file %s: %w", what, file, err)
		}

		return strings.TrimSpace(string(data)), nil
	}

	if envValue := os.Getenv(envVar); envValue != "" {
		return strings.TrimSpace(envValue), nil
	}

	return "", fmt.Errorf("no %s configured: set the file path or %s environment variable", what, envVar)
}

// LoadConfig loads and parses configuration from a YAML file
func LoadConfig(opts ...Option) (*Config, error) {
	loaderCfg := &loaderConfig{}
	for _, opt := range opts {
		if err := opt(loaderCfg); err != nil {
			return nil, err
		}
	}

	if loaderCfg.path == "" {
		return nil, fmt.Errorf("path is required")
	}

	data, err := os.ReadFile(loaderCfg.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if c == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if c.Database == nil {
		return fmt.Errorf("database configuration is required")
	}
	if c.Database.Host == "" {
		return fmt.Errorf("database.host is required")
	}
	if c.Database.Port == 0 {
		return fmt.Errorf("database.port is required")
	}
	if c.Database.User == "" {
		return fmt.Errorf("database.user is required")
	}
	if c.Database.Database == "" {
		return fmt.Errorf("database.database is required")
	}

	if err := c.validateSync(); err != nil {
		return err
	}

	if c.Feed != nil && c.Feed.CacheTTL != "" {
		if _, err := time.ParseDuration(c.Feed.CacheTTL); err != nil {
			return fmt.Errorf("feed.cacheTTL must be a valid duration: %w", err)
		}
	}

	if c.Telemetry != nil && c.Telemetry.Enabled && c.Telemetry.Endpoint == "" {
		return fmt.Errorf("telemetry.endpoint is required when telemetry is enabled")
	}

	if c.Auth != nil && c.Auth.SessionTTL != "" {
		if _, err := time.ParseDuration(c.Auth.SessionTTL); err != nil {
			return fmt.Errorf("auth.sessionTTL must be a valid duration: %w", err)
		}
	}

	return nil
}

// validateSync checks the duration strings and batch bounds of the sync section
func (c *Config) validateSync() error {
	if c.Sync == nil {
		return nil
	}

	for name, value := range map[string]string{
		"sync.contentInterval": c.Sync.ContentInterval,
		"sync.monitorInterval": c.Sync.MonitorInterval,
		"sync.batchDelay":      c.Sync.BatchDelay,
		"sync.probeTimeout":    c.Sync.ProbeTimeout,
	} {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("%s must be a valid duration (e.g., '10m', '500ms'): %w", name, err)
		}
	}

	if c.Sync.ItemBatchSize < 0 {
		return fmt.Errorf("sync.itemBatchSize must not be negative")
	}
	if c.Sync.CollectionBatchSize < 0 {
		return fmt.Errorf("sync.collectionBatchSize must not be negative")
	}
	if c.Sync.OfflineThreshold < 0 {
		return fmt.Errorf("sync.offlineThreshold must not be negative")
	}

	return nil
}

// SyncEnabled reports whether the background schedulers should run.
func (c *Config) SyncEnabled() bool {
	return c.Sync != nil && c.Sync.Enabled
}

// GetContentInterval returns the content sync interval, using the default when unset.
func (s *SyncConfig) GetContentInterval() time.Duration {
	if s == nil {
		return defaultContentSyncInterval
	}
	return parseDurationOr(s.ContentInterval, defaultContentSyncInterval)
}

// GetMonitorInterval returns the liveness check interval, using the default when unset.
func (s *SyncConfig) GetMonitorInterval() time.Duration {
	if s == nil {
		return defaultMonitorInterval
	}
	return parseDurationOr(s.MonitorInterval, defaultMonitorInterval)
}

// GetBatchDelay returns the inter-batch delay, using the default when unset.
func (s *SyncConfig) GetBatchDelay() time.Duration {
	if s == nil {
		return defaultBatchDelay
	}
	return parseDurationOr(s.BatchDelay, defaultBatchDelay)
}

// GetProbeTimeout returns the per-probe socket timeout, using the default when unset.
func (s *SyncConfig) GetProbeTimeout() time.Duration {
	if s == nil {
		return defaultProbeTimeout
	}
	return parseDurationOr(s.ProbeTimeout, defaultProbeTimeout)
}

// GetItemBatchSize returns the workshop item batch size, using the default when unset.
func (s *SyncConfig) GetItemBatchSize() int {
	if s == nil || s.ItemBatchSize == 0 {
		return defaultItemBatchSize
	}
	return s.ItemBatchSize
}

// GetCollectionBatchSize returns the collection batch size, using the default when unset.
func (s *SyncConfig) GetCollectionBatchSize() int {
	if s == nil || s.CollectionBatchSize == 0 {
		return defaultCollectionBatchSize
	}
	return s.CollectionBatchSize
}

// GetOfflineThreshold returns the debounce window size, using the default when unset.
func (s *SyncConfig) GetOfflineThreshold() int {
	if s == nil || s.OfflineThreshold == 0 {
		return defaultOfflineThreshold
	}
	return s.OfflineThreshold
}

// GetSnapshotRetention returns the per-server snapshot cap, using the default when unset.
func (s *SyncConfig) GetSnapshotRetention() int {
	if s == nil || s.SnapshotRetention == 0 {
		return defaultSnapshotRetention
	}
	return s.SnapshotRetention
}

// GetCacheTTL returns the feed cache time-to-live, using the default when unset.
func (f *FeedConfig) GetCacheTTL() time.Duration {
	if f == nil {
		return defaultFeedCacheTTL
	}
	return parseDurationOr(f.CacheTTL, defaultFeedCacheTTL)
}

// GetServiceName returns the telemetry service name, using "hub-api" if not specified.
func (t *TelemetryConfig) GetServiceName() string {
	if t == nil || t.ServiceName == "" {
		return "hub-api"
	}
	return t.ServiceName
}

func parseDurationOr(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}
