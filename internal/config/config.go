// Package config provides YAML-based configuration loading for Jigged.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level Jigged configuration, loaded from jig.yaml.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
	Import   ImportConfig   `yaml:"import"`
	Storage  StorageConfig  `yaml:"storage"`
	Notify   NotifyConfig   `yaml:"notify"`
	Authz    AuthzConfig    `yaml:"authz"`
}

// DatabaseConfig holds connection settings for the backing SQL database.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // sqlite, mysql, postgres
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`
	Name   string `yaml:"name"`
	User   string `yaml:"user"`
	Path   string `yaml:"path"` // sqlite file
	SSL    bool   `yaml:"ssl"`
}

// ServerConfig controls the HTTP API.
type ServerConfig struct {
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	PublicURL      string   `yaml:"public_url"`
}

// LogConfig selects logrus level and formatter.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
}

// ImportConfig tunes the CSV import pipeline.
type ImportConfig struct {
	MaxFileBytes    int64         `yaml:"max_file_bytes"`
	SampleRows      int           `yaml:"sample_rows"`
	RateLimit       string        `yaml:"rate_limit"` // ulule formatted, e.g. "10-M"
	RateLimitStore  string        `yaml:"rate_limit_store"`
	RedisURL        string        `yaml:"redis_url"`
	CacheDir        string        `yaml:"cache_dir"` // empty keeps the cache in memory
	CacheTTL        time.Duration `yaml:"cache_ttl"`
	CacheGCSchedule string        `yaml:"cache_gc_schedule"`
	DefaultProvider string        `yaml:"default_provider"`
	DefaultModel    string        `yaml:"default_model"`
}

// StorageConfig selects the attachment blob backend.
type StorageConfig struct {
	Backend         string        `yaml:"backend"` // local or gcs
	Dir             string        `yaml:"dir"`
	Bucket          string        `yaml:"bucket"`
	CredentialsFile string        `yaml:"credentials_file"`
	SignedURLTTL    time.Duration `yaml:"signed_url_ttl"`
}

// NotifyConfig holds webhook destinations for operational notifications.
type NotifyConfig struct {
	SlackWebhookURL  string `yaml:"slack_webhook_url"`
	DiscordWebhookID string `yaml:"discord_webhook_id"`
}

// AuthzConfig adds permission policies on top of the built-in role set.
type AuthzConfig struct {
	Policies [][]string `yaml:"policies"` // [role, object, action]
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a validated configuration for a local sqlite deployment.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			c.Database.Path = "jigged.db"
		}
	case "mysql":
		if c.Database.Port == 0 {
			c.Database.Port = 3306
		}
	case "postgres":
		if c.Database.Port == 0 {
			c.Database.Port = 5432
		}
	}
	if c.Database.Host == "" && c.Database.Driver != "sqlite" {
		c.Database.Host = "127.0.0.1"
	}
	if c.Database.Name == "" && c.Database.Driver != "sqlite" {
		c.Database.Name = "jigged"
	}

	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if len(c.Server.AllowedOrigins) == 0 {
		c.Server.AllowedOrigins = []string{"http://localhost:3000"}
	}
	if c.Server.PublicURL == "" {
		c.Server.PublicURL = fmt.Sprintf("http://localhost:%d", c.Server.Port)
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}

	if c.Import.MaxFileBytes == 0 {
		c.Import.MaxFileBytes = 10 << 20
	}
	if c.Import.SampleRows == 0 {
		c.Import.SampleRows = 5
	}
	if c.Import.RateLimit == "" {
		c.Import.RateLimit = "10-M"
	}
	if c.Import.RateLimitStore == "" {
		c.Import.RateLimitStore = "memory"
	}
	if c.Import.CacheTTL == 0 {
		c.Import.CacheTTL = 24 * time.Hour
	}
	if c.Import.CacheGCSchedule == "" {
		c.Import.CacheGCSchedule = "*/10 * * * *"
	}
	if c.Import.DefaultProvider == "" {
		c.Import.DefaultProvider = "builtin"
	}

	if c.Storage.Backend == "" {
		c.Storage.Backend = "local"
	}
	if c.Storage.Backend == "local" && c.Storage.Dir == "" {
		c.Storage.Dir = "attachments"
	}
	if c.Storage.SignedURLTTL == 0 {
		c.Storage.SignedURLTTL = time.Hour
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	switch c.Database.Driver {
	case "sqlite", "mysql", "postgres":
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q is not one of sqlite, mysql, postgres", c.Database.Driver))
	}
	if c.Database.Driver != "sqlite" && c.Database.User == "" {
		errs = append(errs, "database.user is required for "+c.Database.Driver)
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port %d is out of range", c.Server.Port))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Sprintf("log.format %q is not one of text, json", c.Log.Format))
	}
	if c.Import.MaxFileBytes < 0 {
		errs = append(errs, "import.max_file_bytes must be positive")
	}
	if c.Import.SampleRows < 1 {
		errs = append(errs, "import.sample_rows must be at least 1")
	}
	switch c.Import.RateLimitStore {
	case "memory":
	case "redis":
		if c.Import.RedisURL == "" {
			errs = append(errs, "import.redis_url is required when rate_limit_store is redis")
		}
	default:
		errs = append(errs, fmt.Sprintf("import.rate_limit_store %q is not one of memory, redis", c.Import.RateLimitStore))
	}
	switch c.Import.DefaultProvider {
	case "builtin", "openai", "anthropic":
	default:
		errs = append(errs, fmt.Sprintf("import.default_provider %q is not one of builtin, openai, anthropic", c.Import.DefaultProvider))
	}
	switch c.Storage.Backend {
	case "local":
	case "gcs":
		if c.Storage.Bucket == "" {
			errs = append(errs, "storage.bucket is required for the gcs backend")
		}
	default:
		errs = append(errs, fmt.Sprintf("storage.backend %q is not one of local, gcs", c.Storage.Backend))
	}
	for i, p := range c.Authz.Policies {
		if len(p) != 3 {
			errs = append(errs, fmt.Sprintf("authz.policies[%d] must be [role, object, action]", i))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
