// Package config provides configuration management for the fixture.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Defaults mirror the values the original Cassandra test suites were written against.
const (
	DefaultLocalDatacenter   = "datacenter1"
	DefaultKeyspace          = "test"
	DefaultRequestTimeoutMS  = 12000
	DefaultCassandraImage    = "cassandra:3.11.2"
	DefaultToxiproxyImage    = "ghcr.io/shopify/toxiproxy:2.5.0"
	DefaultRetryMaxAttempts  = 5
	DefaultRetryDelayMS      = 1000
	DefaultPort              = "8080"
	DefaultReplicationFactor = 1
)

// Config holds the fixture configuration
type Config struct {
	Cassandra  CassandraConfig  `mapstructure:"cassandra"`
	Containers ContainersConfig `mapstructure:"containers"`
	Fixture    FixtureConfig    `mapstructure:"fixture"`
	Retry      RetryConfig      `mapstructure:"retry"`
	Server     ServerConfig     `mapstructure:"server"`
	Log        LogConfig        `mapstructure:"log"`
}

// CassandraConfig holds the client-side settings consumed when opening a session.
// ContactPoints and Port override the provisioned endpoint when set.
type CassandraConfig struct {
	ContactPoints     []string `mapstructure:"contact_points"`
	Port              int      `mapstructure:"port"`
	LocalDatacenter   string   `mapstructure:"local_datacenter"`
	Keyspace          string   `mapstructure:"keyspace"`
	ReplicationFactor int      `mapstructure:"replication_factor"`
	RequestTimeoutMS  int      `mapstructure:"request_timeout_ms"`
	SchemaTimeoutMS   int      `mapstructure:"schema_timeout_ms"`
	ConnectTimeoutMS  int      `mapstructure:"connect_timeout_ms"`
}

// RequestTimeout returns the per-request client timeout.
func (c CassandraConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMS) * time.Millisecond
}

// SchemaTimeout returns how long the client waits for schema agreement.
func (c CassandraConfig) SchemaTimeout() time.Duration {
	return time.Duration(c.SchemaTimeoutMS) * time.Millisecond
}

// ConnectTimeout returns the connection-init timeout.
func (c CassandraConfig) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutMS) * time.Millisecond
}

// ContainersConfig holds the container runtime settings
type ContainersConfig struct {
	CassandraImage string        `mapstructure:"cassandra_image"`
	ToxiproxyImage string        `mapstructure:"toxiproxy_image"`
	FaultInjection bool          `mapstructure:"fault_injection"`
	Reuse          bool          `mapstructure:"reuse"`
	Network        string        `mapstructure:"network"`
	StartupTimeout time.Duration `mapstructure:"startup_timeout"`
}

// FixtureConfig controls what the bootstrapper does once the environment is up.
type FixtureConfig struct {
	// SeedFile is a YAML list of users; empty means the built-in rows.
	SeedFile string `mapstructure:"seed_file"`
	// Seed disables seeding when false.
	Seed bool `mapstructure:"seed"`
	// DropOnClose drops the user table at teardown.
	DropOnClose bool `mapstructure:"drop_on_close"`
}

// RetryConfig holds the retry policy applied to fixture operations
type RetryConfig struct {
	MaxAttempts int `mapstructure:"max_attempts"`
	DelayMS     int `mapstructure:"delay_ms"`
}

// Delay returns the base delay between attempts.
func (r RetryConfig) Delay() time.Duration {
	return time.Duration(r.DelayMS) * time.Millisecond
}

// ServerConfig holds the admin HTTP server configuration
type ServerConfig struct {
	Port           string `mapstructure:"port"`
	MetricsEnabled bool   `mapstructure:"metrics_enabled"`
	// AdminKey protects the toxic endpoints with a bearer token when set.
	AdminKey string `mapstructure:"admin_key"`
}

// LogConfig selects the slog handler
type LogConfig struct {
	Format string `mapstructure:"format"`
	Level  string `mapstructure:"level"`
}

// envBindings maps config keys to the environment variables that override them.
var envBindings = map[string]string{
	"cassandra.contact_points":     "CASSANDRA_CONTACT_POINTS",
	"cassandra.port":               "CASSANDRA_PORT",
	"cassandra.local_datacenter":   "CASSANDRA_LOCAL_DATACENTER",
	"cassandra.keyspace":           "CASSANDRA_KEYSPACE_NAME",
	"cassandra.replication_factor": "CASSANDRA_REPLICATION_FACTOR",
	"cassandra.request_timeout_ms": "CASSANDRA_REQUEST_TIMEOUT_MS",
	"cassandra.schema_timeout_ms":  "CASSANDRA_SCHEMA_TIMEOUT_MS",
	"cassandra.connect_timeout_ms": "CASSANDRA_CONNECT_TIMEOUT_MS",
	"containers.cassandra_image":   "CASSANDRA_IMAGE",
	"containers.toxiproxy_image":   "TOXIPROXY_IMAGE",
	"containers.fault_injection":   "FIXTURE_FAULT_INJECTION",
	"containers.reuse":             "TESTCONTAINERS_REUSE_ENABLE",
	"containers.network":           "FIXTURE_NETWORK",
	"containers.startup_timeout":   "FIXTURE_STARTUP_TIMEOUT",
	"fixture.seed_file":            "FIXTURE_SEED_FILE",
	"fixture.seed":                 "FIXTURE_SEED",
	"fixture.drop_on_close":        "FIXTURE_DROP_ON_CLOSE",
	"retry.max_attempts":           "FIXTURE_RETRY_MAX_ATTEMPTS",
	"retry.delay_ms":               "FIXTURE_RETRY_DELAY_MS",
	"server.port":                  "PORT",
	"server.metrics_enabled":       "METRICS_ENABLED",
	"server.admin_key":             "FIXTURE_ADMIN_KEY",
	"log.format":                   "LOG_FORMAT",
	"log.level":                    "LOG_LEVEL",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("cassandra.contact_points", []string{})
	v.SetDefault("cassandra.port", 0)
	v.SetDefault("cassandra.local_datacenter", DefaultLocalDatacenter)
	v.SetDefault("cassandra.keyspace", DefaultKeyspace)
	v.SetDefault("cassandra.replication_factor", DefaultReplicationFactor)
	v.SetDefault("cassandra.request_timeout_ms", DefaultRequestTimeoutMS)
	v.SetDefault("cassandra.schema_timeout_ms", DefaultRequestTimeoutMS)
	v.SetDefault("cassandra.connect_timeout_ms", DefaultRequestTimeoutMS)
	v.SetDefault("containers.cassandra_image", DefaultCassandraImage)
	v.SetDefault("containers.toxiproxy_image", DefaultToxiproxyImage)
	v.SetDefault("containers.fault_injection", false)
	v.SetDefault("containers.reuse", false)
	v.SetDefault("containers.network", "")
	v.SetDefault("containers.startup_timeout", 3*time.Minute)
	v.SetDefault("fixture.seed_file", "")
	v.SetDefault("fixture.seed", true)
	v.SetDefault("fixture.drop_on_close", true)
	v.SetDefault("retry.max_attempts", DefaultRetryMaxAttempts)
	v.SetDefault("retry.delay_ms", DefaultRetryDelayMS)
	v.SetDefault("server.port", DefaultPort)
	v.SetDefault("server.metrics_enabled", true)
	v.SetDefault("server.admin_key", "")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.level", "info")
}

// Load reads configuration from defaults, an optional YAML file and the environment.
// Precedence (highest first): environment, YAML file, defaults.
// A .env file in the working directory is loaded first and never overrides
// variables that are already set.
func Load() (*Config, error) {
	_ = godotenv.Load() // Ignore error if .env file doesn't exist

	v := viper.New()
	setDefaults(v)

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	if path := os.Getenv("FIXTURE_CONFIG_FILE"); path != "" {
		if err := readYAML(v, path); err != nil {
			return nil, err
		}
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.Cassandra.ContactPoints = compact(cfg.Cassandra.ContactPoints)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func readYAML(v *viper.Viper, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader([]byte(expandString(string(raw))))); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// Validate checks the configuration for values the fixture cannot work with.
func (c *Config) Validate() error {
	var errs []error
	if c.Cassandra.Port < 0 || c.Cassandra.Port > 65535 {
		errs = append(errs, fmt.Errorf("cassandra port out of range: %d", c.Cassandra.Port))
	}
	if c.Cassandra.Port != 0 && len(c.Cassandra.ContactPoints) == 0 {
		errs = append(errs, errors.New("cassandra port only applies to CASSANDRA_CONTACT_POINTS; provisioned containers use their mapped port"))
	}
	if c.Cassandra.Keyspace == "" {
		errs = append(errs, errors.New("cassandra keyspace is required"))
	}
	if c.Cassandra.LocalDatacenter == "" {
		errs = append(errs, errors.New("cassandra local datacenter is required"))
	}
	if c.Cassandra.ReplicationFactor < 1 {
		errs = append(errs, fmt.Errorf("replication factor must be at least 1, got %d", c.Cassandra.ReplicationFactor))
	}
	if c.Cassandra.RequestTimeoutMS <= 0 || c.Cassandra.SchemaTimeoutMS <= 0 || c.Cassandra.ConnectTimeoutMS <= 0 {
		errs = append(errs, errors.New("cassandra timeouts must be positive"))
	}
	if c.Containers.CassandraImage == "" {
		errs = append(errs, errors.New("cassandra image is required"))
	}
	if c.Containers.FaultInjection && len(c.Cassandra.ContactPoints) > 0 {
		errs = append(errs, errors.New("fault injection needs a provisioned environment; unset CASSANDRA_CONTACT_POINTS"))
	}
	if c.Containers.FaultInjection && c.Containers.ToxiproxyImage == "" {
		errs = append(errs, errors.New("toxiproxy image is required when fault injection is enabled"))
	}
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("retry max attempts must be at least 1, got %d", c.Retry.MaxAttempts))
	}
	if c.Retry.DelayMS < 0 {
		errs = append(errs, fmt.Errorf("retry delay must not be negative, got %d", c.Retry.DelayMS))
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text", "tint", "pretty":
	default:
		errs = append(errs, fmt.Errorf("unknown log format: %s (valid: json, text, tint, pretty)", c.Log.Format))
	}
	return errors.Join(errs...)
}

func compact(values []string) []string {
	out := values[:0]
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

var placeholder = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// expandString resolves ${VAR} and ${VAR:-default} placeholders.
// Placeholders without a value or default are left untouched.
func expandString(s string) string {
	return placeholder.ReplaceAllStringFunc(s, func(match string) string {
		parts := placeholder.FindStringSubmatch(match)
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		if parts[2] != "" {
			return parts[3]
		}
		return match
	})
}
