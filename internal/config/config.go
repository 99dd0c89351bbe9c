package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// BaseConfig holds base configuration
type BaseConfig struct {
	Debug     bool   `mapstructure:"debug"`
	SentryDSN string `mapstructure:"sentry_dsn"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
}

// NATSConfig holds NATS JetStream configuration
type NATSConfig struct {
	URL            string        `mapstructure:"url"`
	StreamName     string        `mapstructure:"stream_name"`
	MaxReconnects  int           `mapstructure:"max_reconnects"`
	ReconnectWait  time.Duration `mapstructure:"reconnect_wait"`
	ConnectionName string        `mapstructure:"connection_name"`
}

// StorageConfig holds export bucket configuration
type StorageConfig struct {
	Bucket string `mapstructure:"bucket"`
	Region string `mapstructure:"region"`
	// Endpoint overrides the S3 endpoint, for MinIO and localstack setups
	Endpoint string `mapstructure:"endpoint"`
	// Prefix is the key prefix the exporter writes partitions under
	Prefix string `mapstructure:"prefix"`
	// Workers bounds parallel object downloads
	Workers int `mapstructure:"workers"`
}

// LoopConfig holds the pipeline loop tuning knobs
type LoopConfig struct {
	PollInterval            time.Duration `mapstructure:"poll_interval"`
	SessionWindow           time.Duration `mapstructure:"session_window"`
	TrailingPageAllowance   time.Duration `mapstructure:"trailing_page_allowance"`
	RechargeThreshold       int64         `mapstructure:"recharge_threshold"`
	ResolverAmbiguityPolicy string        `mapstructure:"resolver_ambiguity_policy"`
}

// SyntheticConfig enables the synthetic event source for local runs
type SyntheticConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ClientID  string `mapstructure:"client_id"`
	Domain    string `mapstructure:"domain"`
	Seed      int64  `mapstructure:"seed"`
	BatchSize int    `mapstructure:"batch_size"`
	Visitors  int    `mapstructure:"visitors"`
}

// PipelineConfig holds configuration for the pipeline program
type PipelineConfig struct {
	BaseConfig `mapstructure:",squash"`
	Database   DatabaseConfig  `mapstructure:"database"`
	NATS       NATSConfig      `mapstructure:"nats"`
	Storage    StorageConfig   `mapstructure:"storage"`
	Pipeline   LoopConfig      `mapstructure:"pipeline"`
	Synthetic  SyntheticConfig `mapstructure:"synthetic"`
}

// LoadPipelineConfig loads configuration for the pipeline program
func LoadPipelineConfig(configFile string, envPath string) (*PipelineConfig, error) {
	v := configureViper("pipeline", configFile, envPath)

	// Set defaults
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 5)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.conn_max_idle_time", "10m")
	v.SetDefault("nats.max_reconnects", 10)
	v.SetDefault("nats.reconnect_wait", "2s")
	v.SetDefault("nats.stream_name", "ATTRIBUTION")
	v.SetDefault("nats.connection_name", "attribution-pipeline")
	v.SetDefault("storage.prefix", "exports/")
	v.SetDefault("storage.workers", 4)
	v.SetDefault("pipeline.poll_interval", "10m")
	v.SetDefault("pipeline.session_window", "30m")
	v.SetDefault("pipeline.trailing_page_allowance", "10s")
	v.SetDefault("pipeline.recharge_threshold", 100)
	v.SetDefault("pipeline.resolver_ambiguity_policy", "drop")
	v.SetDefault("synthetic.seed", 1)
	v.SetDefault("synthetic.batch_size", 50)
	v.SetDefault("synthetic.visitors", 10)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Environment-only configuration is fine
	}

	var cfg PipelineConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate required fields
	if cfg.Database.Host == "" {
		return nil, errors.New("database.host is required")
	}
	if cfg.Database.DBName == "" {
		return nil, errors.New("database.dbname is required")
	}
	if !cfg.Synthetic.Enabled && cfg.Storage.Bucket == "" {
		return nil, errors.New("storage.bucket is required")
	}

	return &cfg, nil
}

// configureViper returns a viper instance with the config file and environment variables set
func configureViper(service string, configFile string, envPath string) *viper.Viper {
	v := viper.New()

	// Load environment variables
	loadEnv(envPath, service)

	// Set config file
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(fmt.Sprintf("cmd/%s/", service))
		v.AddConfigPath("config/")
	}

	// Set environment variables
	v.SetEnvPrefix("ATTRIBUTION")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicitly bind all environment variables
	bindAllEnvVars(v)
	return v
}

// bindAllEnvVars explicitly binds all possible environment variables.
// This is required for viper to map env vars to config struct fields when no
// config file exists.
func bindAllEnvVars(v *viper.Viper) {
	keys := []string{
		"debug",
		"sentry_dsn",
		// Database
		"database.host",
		"database.port",
		"database.user",
		"database.password",
		"database.dbname",
		"database.sslmode",
		"database.max_open_conns",
		"database.max_idle_conns",
		"database.conn_max_lifetime",
		"database.conn_max_idle_time",
		// NATS
		"nats.url",
		"nats.stream_name",
		"nats.max_reconnects",
		"nats.reconnect_wait",
		"nats.connection_name",
		// Storage
		"storage.bucket",
		"storage.region",
		"storage.endpoint",
		"storage.prefix",
		"storage.workers",
		// Pipeline
		"pipeline.poll_interval",
		"pipeline.session_window",
		"pipeline.trailing_page_allowance",
		"pipeline.recharge_threshold",
		"pipeline.resolver_ambiguity_policy",
		// Synthetic
		"synthetic.enabled",
		"synthetic.client_id",
		"synthetic.domain",
		"synthetic.seed",
		"synthetic.batch_size",
		"synthetic.visitors",
	}

	for _, key := range keys {
		_ = v.BindEnv(key)
	}
}

// loadEnv loads environment variables from the config directory
func loadEnv(envPath string, service string) {
	envFiles := []string{".env", ".env.local"}
	if service != "" {
		envFiles = append(envFiles, ".env."+service+".local")
	}

	if envPath == "" {
		envPath = "config/"
	}

	for _, envFile := range envFiles {
		candidate := filepath.Join(envPath, envFile)
		_ = godotenv.Overload(candidate)
	}
}

// ChdirRepoRoot changes the current working directory to the repository root
func ChdirRepoRoot() {
	cwd, _ := os.Getwd()
	for range 5 {
		if _, err := os.Stat(filepath.Join(cwd, "config")); err == nil {
			_ = os.Chdir(cwd)
			return
		}
		cwd = filepath.Dir(cwd)
	}
}

// DSN returns the database connection string
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}
