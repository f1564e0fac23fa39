// Package config loads the PetStock runtime configuration from YAML with
// environment overrides.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kimhsiao/petstock/internal/errors"
)

// Remote backend names. BackendNone leaves the core offline with its queue
// and mirror kept on the device.
const (
	BackendNone     = ""
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendS3       = "s3"
)

// Environment variables that override file values.
const (
	EnvDataDir       = "PETSTOCK_DATA_DIR"
	EnvRemoteBackend = "PETSTOCK_REMOTE_BACKEND"
	EnvDatabaseURL   = "PETSTOCK_DATABASE_URL"
	EnvLogLevel      = "PETSTOCK_LOG_LEVEL"
)

// Config is the full runtime configuration.
type Config struct {
	DataDir      string             `yaml:"data_dir"`
	LogLevel     string             `yaml:"log_level"`
	UserID       string             `yaml:"user_id"`
	Remote       RemoteConfig       `yaml:"remote"`
	Sync         SyncConfig         `yaml:"sync"`
	Connectivity ConnectivityConfig `yaml:"connectivity"`
	Desktop      DesktopConfig      `yaml:"desktop"`
}

// RemoteConfig selects and configures the remote document store.
type RemoteConfig struct {
	Backend  string         `yaml:"backend"`
	Postgres PostgresConfig `yaml:"postgres"`
	S3       S3Config       `yaml:"s3"`
}

// PostgresConfig configures the Postgres document store.
type PostgresConfig struct {
	URL string `yaml:"url"`
}

// S3Config configures the S3 document store.
type S3Config struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	Prefix          string `yaml:"prefix"`
	UsePathStyle    bool   `yaml:"use_path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// SyncConfig tunes the reconciliation engine and scheduler.
type SyncConfig struct {
	SettleDelay         time.Duration `yaml:"settle_delay"`
	SyncInterval        time.Duration `yaml:"sync_interval"`
	RemoteTimeout       time.Duration `yaml:"remote_timeout"`
	MaxAttempts         int           `yaml:"max_attempts"`
	DeadLetterPermanent bool          `yaml:"dead_letter_permanent"`
	AsyncOnlineWrites   bool          `yaml:"async_online_writes"`
}

// ConnectivityConfig configures the reachability probe. An empty
// ProbeAddress disables probing.
type ConnectivityConfig struct {
	ProbeAddress  string        `yaml:"probe_address"`
	ProbeInterval time.Duration `yaml:"probe_interval"`
	ProbeTimeout  time.Duration `yaml:"probe_timeout"`
}

// DesktopConfig configures the desktop HTTP shell.
type DesktopConfig struct {
	Listen string `yaml:"listen"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		DataDir:  "./data",
		LogLevel: "INFO",
		UserID:   "local",
		Remote: RemoteConfig{
			Backend: BackendNone,
			S3: S3Config{
				Region: "us-east-1",
				Prefix: "petstock/",
			},
		},
		Sync: SyncConfig{
			SettleDelay:   time.Second,
			RemoteTimeout: 15 * time.Second,
		},
		Connectivity: ConnectivityConfig{
			ProbeInterval: 10 * time.Second,
			ProbeTimeout:  3 * time.Second,
		},
		Desktop: DesktopConfig{
			Listen: "127.0.0.1:8090",
		},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path loads defaults only.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(errors.ErrConfigInvalid, "failed to read config file", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrap(errors.ErrConfigInvalid, "failed to parse config file", err)
		}
	}
	cfg.ApplyEnv(os.Getenv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from the environment through getenv.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv(EnvDataDir); v != "" {
		c.DataDir = v
	}
	if v := getenv(EnvRemoteBackend); v != "" {
		c.Remote.Backend = v
	}
	if v := getenv(EnvDatabaseURL); v != "" {
		c.Remote.Postgres.URL = v
	}
	if v := getenv(EnvLogLevel); v != "" {
		c.LogLevel = v
	}
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	var problems []string

	if c.DataDir == "" {
		problems = append(problems, "data_dir is required")
	}
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG", "INFO", "WARN", "ERROR":
	default:
		problems = append(problems, fmt.Sprintf("log_level %q is not one of DEBUG, INFO, WARN, ERROR", c.LogLevel))
	}

	switch c.Remote.Backend {
	case BackendNone, BackendMemory:
	case BackendPostgres:
		if c.Remote.Postgres.URL == "" {
			problems = append(problems, "remote.postgres.url is required for the postgres backend")
		}
	case BackendS3:
		if c.Remote.S3.Bucket == "" {
			problems = append(problems, "remote.s3.bucket is required for the s3 backend")
		}
		if (c.Remote.S3.AccessKeyID == "") != (c.Remote.S3.SecretAccessKey == "") {
			problems = append(problems, "remote.s3 access_key_id and secret_access_key must be set together")
		}
	default:
		problems = append(problems, fmt.Sprintf("remote.backend %q is not one of memory, postgres, s3 or empty", c.Remote.Backend))
	}

	if c.Sync.SettleDelay < 0 || c.Sync.SyncInterval < 0 || c.Sync.RemoteTimeout < 0 {
		problems = append(problems, "sync durations must not be negative")
	}
	if c.Sync.MaxAttempts < 0 {
		problems = append(problems, "sync.max_attempts must not be negative")
	}

	if len(problems) > 0 {
		return errors.New(errors.ErrConfigInvalid, strings.Join(problems, "; "))
	}
	return nil
}
