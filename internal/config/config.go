// Package config loads gotrs-ingest settings from YAML, .env files and
// GOTRS_INGEST_* environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// GOTRS_INGEST_POLL_WORKERS.
const EnvPrefix = "GOTRS_INGEST"

var (
	cfg       *Config
	mu        sync.RWMutex
	listeners []func(*Config)
)

// Config represents the application configuration
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Valkey    ValkeyConfig    `mapstructure:"valkey"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Crypto    CryptoConfig    `mapstructure:"crypto"`
	Poll      PollConfig      `mapstructure:"poll"`
	Dedup     DedupConfig     `mapstructure:"dedup"`
	Filters   FiltersConfig   `mapstructure:"filters"`
	Normalize NormalizeConfig `mapstructure:"normalize"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Ops       OpsConfig       `mapstructure:"ops"`
}

type AppConfig struct {
	Name     string `mapstructure:"name"`
	Env      string `mapstructure:"env"`
	Timezone string `mapstructure:"timezone"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

type ValkeyConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Host        string        `mapstructure:"host"`
	Port        int           `mapstructure:"port"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	ClusterMode bool          `mapstructure:"cluster_mode"`
	KeyPrefix   string        `mapstructure:"key_prefix"`
	StatusTTL   time.Duration `mapstructure:"status_ttl"`
}

type NATSConfig struct {
	URL             string        `mapstructure:"url"`
	Stream          string        `mapstructure:"stream"`
	SubjectPrefix   string        `mapstructure:"subject_prefix"`
	DuplicateWindow time.Duration `mapstructure:"duplicate_window"`
	MaxAge          time.Duration `mapstructure:"max_age"`
	RedispatchLimit int           `mapstructure:"redispatch_limit"`
}

type CryptoConfig struct {
	Secret         string `mapstructure:"secret"`
	KeyringService string `mapstructure:"keyring_service"`
	KeyringKey     string `mapstructure:"keyring_key"`
}

type PollConfig struct {
	Schedule         string        `mapstructure:"schedule"`
	Workers          int           `mapstructure:"workers"`
	ConnectTimeout   time.Duration `mapstructure:"connect_timeout"`
	AuthTimeout      time.Duration `mapstructure:"auth_timeout"`
	SessionTimeout   time.Duration `mapstructure:"session_timeout"`
	Folder           string        `mapstructure:"folder"`
	DeleteAfterFetch bool          `mapstructure:"delete_after_fetch"`
}

type DedupConfig struct {
	Tolerance time.Duration `mapstructure:"tolerance"`
}

type FiltersConfig struct {
	AutomatedSubjects []string `mapstructure:"automated_subjects"`
	AutomatedSenders  []string `mapstructure:"automated_senders"`
	DropAutoSubmitted bool     `mapstructure:"drop_auto_submitted"`
}

type NormalizeConfig struct {
	MaxBodyBytes int64 `mapstructure:"max_body_bytes"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type OpsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Addr      string `mapstructure:"addr"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "gotrs-ingest")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.timezone", "UTC")

	v.SetDefault("database.driver", "sqlite3")
	v.SetDefault("database.dsn", "gotrs-ingest.db")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("valkey.enabled", false)
	v.SetDefault("valkey.host", "localhost")
	v.SetDefault("valkey.port", 6379)
	v.SetDefault("valkey.password", "")
	v.SetDefault("valkey.db", 0)
	v.SetDefault("valkey.cluster_mode", false)
	v.SetDefault("valkey.key_prefix", "")
	v.SetDefault("valkey.status_ttl", 24*time.Hour)

	v.SetDefault("nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("nats.stream", "INGEST")
	v.SetDefault("nats.subject_prefix", "ingest")
	v.SetDefault("nats.duplicate_window", 24*time.Hour)
	v.SetDefault("nats.max_age", 7*24*time.Hour)
	v.SetDefault("nats.redispatch_limit", 100)

	v.SetDefault("crypto.secret", "")
	v.SetDefault("crypto.keyring_service", "")
	v.SetDefault("crypto.keyring_key", "vault-secret")

	v.SetDefault("poll.schedule", "*/2 * * * *")
	v.SetDefault("poll.workers", 1)
	v.SetDefault("poll.connect_timeout", 10*time.Second)
	v.SetDefault("poll.auth_timeout", 5*time.Second)
	v.SetDefault("poll.session_timeout", 2*time.Minute)
	v.SetDefault("poll.folder", "INBOX")
	v.SetDefault("poll.delete_after_fetch", false)

	v.SetDefault("dedup.tolerance", 5*time.Second)

	v.SetDefault("filters.automated_subjects", []string{})
	v.SetDefault("filters.automated_senders", []string{})
	v.SetDefault("filters.drop_auto_submitted", false)

	v.SetDefault("normalize.max_body_bytes", 1<<20)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	v.SetDefault("ops.enabled", true)
	v.SetDefault("ops.addr", ":8089")
	v.SetDefault("ops.jwt_secret", "")
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	out := &Config{}
	if err := v.Unmarshal(out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return out, nil
}

// Load reads .env files, then configFile (optional; "" searches ./ and
// ./config for gotrs-ingest.yaml), then environment overrides. When a file
// was read it is watched and reloaded on change.
func Load(configFile string, logger *slog.Logger) (*Config, error) {
	if logger == nil {
		logger = slog.Default()
	}
	// .env is optional.
	_ = godotenv.Load()

	v := newViper()
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("gotrs-ingest")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		fileLoaded = false
	}

	loaded, err := decode(v)
	if err != nil {
		return nil, err
	}
	set(loaded)

	if fileLoaded {
		v.OnConfigChange(func(e fsnotify.Event) {
			next, err := decode(v)
			if err != nil {
				logger.Error("failed to reload config", "file", e.Name, "error", err)
				return
			}
			set(next)
			logger.Info("configuration reloaded", "file", e.Name)
			notify(next)
		})
		v.WatchConfig()
	}
	return loaded, nil
}

// LoadFromFile loads configuration from a specific file without watching it
// (useful for testing).
func LoadFromFile(configFile string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(configFile)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	loaded, err := decode(v)
	if err != nil {
		return nil, err
	}
	set(loaded)
	return loaded, nil
}

// Defaults returns the configuration used when nothing is configured.
func Defaults() *Config {
	out := &Config{}
	_ = newViper().Unmarshal(out)
	return out
}

// OnChange registers fn to run after every successful hot reload.
func OnChange(fn func(*Config)) {
	mu.Lock()
	listeners = append(listeners, fn)
	mu.Unlock()
}

func notify(next *Config) {
	mu.RLock()
	fns := append(([]func(*Config))(nil), listeners...)
	mu.RUnlock()
	for _, fn := range fns {
		fn(next)
	}
}

func set(next *Config) {
	mu.Lock()
	cfg = next
	mu.Unlock()
}

// Get returns the current configuration (thread-safe). It is nil before Load.
func Get() *Config {
	mu.RLock()
	defer mu.RUnlock()
	return cfg
}

// Validate rejects settings no component can run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Poll.Workers < 1 {
		errs = append(errs, fmt.Errorf("poll.workers must be at least 1, got %d", c.Poll.Workers))
	}
	if c.Dedup.Tolerance < 0 {
		errs = append(errs, errors.New("dedup.tolerance must not be negative"))
	}
	if c.Normalize.MaxBodyBytes < 0 {
		errs = append(errs, errors.New("normalize.max_body_bytes must not be negative"))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format))
	}
	return errors.Join(errs...)
}

// ValkeyAddr returns the Valkey server address
func (c *ValkeyConfig) ValkeyAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// IsProduction returns true if running in production mode
func (c *AppConfig) IsProduction() bool {
	return c.Env == "production" || c.Env == "prod"
}
