// Package config provides YAML-based configuration loading for datayard.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level datayard configuration, loaded from datayard.yaml.
type Config struct {
	Database    DatabaseConfig    `yaml:"database"`
	Index       IndexConfig       `yaml:"index"`
	Storage     StorageConfig     `yaml:"storage"`
	Pipeline    PipelineConfig    `yaml:"pipeline"`
	Workers     int               `yaml:"workers"`
	Logging     LoggingConfig     `yaml:"logging"`
	Notify      NotifyConfig      `yaml:"notify"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
	Server      ServerConfig      `yaml:"server"`
}

// DatabaseConfig selects the catalog store. Driver is one of sqlite, mysql
// or postgres; sqlite uses Path, the others use the network fields.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"`
	Path     string `yaml:"path"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
}

// IndexConfig locates the Solr-compatible index service.
type IndexConfig struct {
	Endpoint     string        `yaml:"endpoint"`
	DataCore     string        `yaml:"data_core"`
	DatasetsCore string        `yaml:"datasets_core"`
	Timeout      time.Duration `yaml:"timeout"`
	Retries      int           `yaml:"retries"`
}

// StorageConfig is the root under which uploads and exports live.
type StorageConfig struct {
	Root       string       `yaml:"root"`
	ExportsDir string       `yaml:"exports_dir"`
	Mirror     MirrorConfig `yaml:"mirror"`
}

// MirrorConfig optionally copies finished exports to an S3-compatible bucket.
type MirrorConfig struct {
	Endpoint  string `yaml:"endpoint"`
	Bucket    string `yaml:"bucket"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl"`
	Prefix    string `yaml:"prefix"`
}

// Enabled reports whether a mirror is configured.
func (m MirrorConfig) Enabled() bool {
	return m.Endpoint != "" && m.Bucket != ""
}

// PipelineConfig tunes import, reindex and export runs.
type PipelineConfig struct {
	BatchSize        int           `yaml:"batch_size"`
	Throttle         time.Duration `yaml:"throttle"`
	SnifferMaxSample int           `yaml:"sniffer_max_sample"`
	SampleRows       int           `yaml:"sample_rows"`
	TypeSampleSize   int           `yaml:"type_sample_size"`
	PageSize         int           `yaml:"page_size"`
}

// LoggingConfig configures log/slog output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// NotifyConfig holds optional chat destinations for run summaries.
type NotifyConfig struct {
	SlackToken     string `yaml:"slack_token"`
	SlackChannel   string `yaml:"slack_channel"`
	DiscordToken   string `yaml:"discord_token"`
	DiscordChannel string `yaml:"discord_channel"`
	// Command is a shell command run per finished task, e.g.
	// "notify-send datayard '{{.Title}}'".
	Command string `yaml:"command"`
}

// MaintenanceConfig drives the periodic housekeeping job.
type MaintenanceConfig struct {
	Schedule        string        `yaml:"schedule"`
	StaleLockAfter  time.Duration `yaml:"stale_lock_after"`
	ExportRetention time.Duration `yaml:"export_retention"`
}

// ServerConfig configures the status API.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse expands ${VAR} references and unmarshals YAML bytes into a
// validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			c.Database.Path = "datayard.db"
		}
	case "mysql":
		if c.Database.Host == "" {
			c.Database.Host = "127.0.0.1"
		}
		if c.Database.Port == 0 {
			c.Database.Port = 3306
		}
	case "postgres":
		if c.Database.Host == "" {
			c.Database.Host = "127.0.0.1"
		}
		if c.Database.Port == 0 {
			c.Database.Port = 5432
		}
		if c.Database.SSLMode == "" {
			c.Database.SSLMode = "disable"
		}
	}
	if c.Database.Name == "" {
		c.Database.Name = "datayard"
	}

	c.Index.Endpoint = strings.TrimRight(c.Index.Endpoint, "/")
	if c.Index.DataCore == "" {
		c.Index.DataCore = "data"
	}
	if c.Index.DatasetsCore == "" {
		c.Index.DatasetsCore = "datasets"
	}
	if c.Index.Timeout == 0 {
		c.Index.Timeout = 30 * time.Second
	}

	if c.Storage.ExportsDir == "" {
		c.Storage.ExportsDir = "exports"
	}

	if c.Pipeline.BatchSize == 0 {
		c.Pipeline.BatchSize = 500
	}
	if c.Pipeline.Throttle == 0 {
		c.Pipeline.Throttle = 50 * time.Millisecond
	}
	if c.Pipeline.SnifferMaxSample == 0 {
		c.Pipeline.SnifferMaxSample = 100 * 1024
	}
	if c.Pipeline.SampleRows == 0 {
		c.Pipeline.SampleRows = 5
	}
	if c.Pipeline.TypeSampleSize == 0 {
		c.Pipeline.TypeSampleSize = 1000
	}
	if c.Pipeline.PageSize == 0 {
		c.Pipeline.PageSize = 1000
	}

	if c.Workers == 0 {
		c.Workers = 4
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Maintenance.Schedule == "" {
		c.Maintenance.Schedule = "*/15 * * * *"
	}
	if c.Maintenance.StaleLockAfter == 0 {
		c.Maintenance.StaleLockAfter = 6 * time.Hour
	}
	if c.Maintenance.ExportRetention == 0 {
		c.Maintenance.ExportRetention = 7 * 24 * time.Hour
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	switch c.Database.Driver {
	case "sqlite", "mysql", "postgres":
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q must be sqlite, mysql or postgres", c.Database.Driver))
	}
	if c.Database.Driver != "sqlite" && c.Database.User == "" {
		errs = append(errs, "database.user is required for "+c.Database.Driver)
	}
	if c.Index.Endpoint == "" {
		errs = append(errs, "index.endpoint is required")
	} else if u, err := url.Parse(c.Index.Endpoint); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Sprintf("index.endpoint %q is not an absolute URL", c.Index.Endpoint))
	}
	if c.Storage.Root == "" {
		errs = append(errs, "storage.root is required")
	}
	if m := c.Storage.Mirror; (m.Endpoint == "") != (m.Bucket == "") {
		errs = append(errs, "storage.mirror needs both endpoint and bucket")
	}
	if c.Pipeline.BatchSize < 0 {
		errs = append(errs, "pipeline.batch_size must be positive")
	}
	if c.Pipeline.Throttle < 0 {
		errs = append(errs, "pipeline.throttle must not be negative")
	}
	if c.Pipeline.PageSize < 0 {
		errs = append(errs, "pipeline.page_size must be positive")
	}
	if c.Workers < 0 {
		errs = append(errs, "workers must be positive")
	}
	if (c.Notify.SlackToken == "") != (c.Notify.SlackChannel == "") {
		errs = append(errs, "notify.slack_token and notify.slack_channel go together")
	}
	if (c.Notify.DiscordToken == "") != (c.Notify.DiscordChannel == "") {
		errs = append(errs, "notify.discord_token and notify.discord_channel go together")
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
