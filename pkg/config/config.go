// Package config loads and validates docstore configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Server, Storage, Catalog, Postgres, SQLite, Redis, Kafka,
// Assembler, Search, RPC, etc.).
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Catalog backends understood by CatalogConfig.Driver.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Catalog   CatalogConfig   `yaml:"catalog"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	SQLite    SQLiteConfig    `yaml:"sqlite"`
	Redis     RedisConfig     `yaml:"redis"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Assembler AssemblerConfig `yaml:"assembler"`
	Search    SearchConfig    `yaml:"search"`
	Analytics AnalyticsConfig `yaml:"analytics"`
	RPC       RPCConfig       `yaml:"rpc"`
	CORS      CORSConfig      `yaml:"cors"`
	RateLimit RateLimitConfig `yaml:"rateLimit"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings. RequestTimeout applies to every
// route except the streaming search socket.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	RequestTimeout  time.Duration `yaml:"requestTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// StorageConfig describes where uploaded files and staged chunks live.
type StorageConfig struct {
	UploadRoot     string `yaml:"uploadRoot"`
	MaxChunkBytes  int64  `yaml:"maxChunkBytes"`
	MaxUploadBytes int64  `yaml:"maxUploadBytes"`
}

// CatalogConfig selects the catalog backend.
type CatalogConfig struct {
	Driver string `yaml:"driver"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// SQLiteConfig holds the on-disk database location for the embedded catalog.
type SQLiteConfig struct {
	Path        string        `yaml:"path"`
	BusyTimeout time.Duration `yaml:"busyTimeout"`
}

// DSN returns a modernc.org/sqlite data source name with WAL journaling and
// the configured busy timeout.
func (s SQLiteConfig) DSN() string {
	return fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)",
		s.Path, s.BusyTimeout.Milliseconds())
}

// RedisConfig holds Redis connection and caching parameters. An empty Addr
// disables the search cache.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// KafkaConfig holds Kafka broker and topic settings. An empty broker list
// disables event publishing.
type KafkaConfig struct {
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	CatalogEvents string `yaml:"catalogEvents"`
	SearchEvents  string `yaml:"searchEvents"`
}

// AssemblerConfig sizes the background pool that reassembles chunked
// uploads.
type AssemblerConfig struct {
	Workers   int           `yaml:"workers"`
	QueueSize int           `yaml:"queueSize"`
	Timeout   time.Duration `yaml:"timeout"`
}

// SearchConfig controls the byte search engine.
type SearchConfig struct {
	ContextBytes    int `yaml:"contextBytes"`
	StreamBuffer    int `yaml:"streamBuffer"`
	MaxPatternBytes int `yaml:"maxPatternBytes"`
}

// AnalyticsConfig controls search and catalog event collection. Events go
// to Kafka when brokers are configured and straight to the in-process
// aggregator otherwise. A zero SnapshotInterval disables persisting
// aggregated stats to the catalog database.
type AnalyticsConfig struct {
	BufferSize       int           `yaml:"bufferSize"`
	SnapshotInterval time.Duration `yaml:"snapshotInterval"`
}

// RPCConfig controls the JSON-over-TCP command server. Port 0 disables it.
type RPCConfig struct {
	Port int `yaml:"port"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	AllowOrigins []string `yaml:"allowOrigins"`
	MaxAge       int      `yaml:"maxAge"`
}

// RateLimitConfig bounds upload requests per client address.
type RateLimitConfig struct {
	UploadsPerWindow int           `yaml:"uploadsPerWindow"`
	Window           time.Duration `yaml:"window"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides on top of the defaults. The result is validated before return.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every field that holds an unusable value.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if strings.TrimSpace(c.Storage.UploadRoot) == "" {
		errs = append(errs, errors.New("storage.uploadRoot is required"))
	}
	if c.Storage.MaxChunkBytes <= 0 {
		errs = append(errs, errors.New("storage.maxChunkBytes must be positive"))
	}
	switch c.Catalog.Driver {
	case DriverMemory, DriverSQLite, DriverPostgres:
	default:
		errs = append(errs, fmt.Errorf("catalog.driver %q is not one of memory, sqlite, postgres", c.Catalog.Driver))
	}
	if c.Catalog.Driver == DriverSQLite && c.SQLite.Path == "" {
		errs = append(errs, errors.New("sqlite.path is required for the sqlite catalog"))
	}
	if c.Assembler.Workers <= 0 {
		errs = append(errs, errors.New("assembler.workers must be positive"))
	}
	if c.Assembler.QueueSize <= 0 {
		errs = append(errs, errors.New("assembler.queueSize must be positive"))
	}
	if c.Search.ContextBytes < 0 {
		errs = append(errs, errors.New("search.contextBytes must not be negative"))
	}
	return errors.Join(errs...)
}

// defaultConfig returns a Config suitable for local development: an
// embedded SQLite catalog, no Redis, no Kafka.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            5000,
			ReadTimeout:     5 * time.Minute,
			WriteTimeout:    5 * time.Minute,
			RequestTimeout:  2 * time.Minute,
			ShutdownTimeout: 15 * time.Second,
		},
		Storage: StorageConfig{
			UploadRoot:     "uploaded_files",
			MaxChunkBytes:  64 << 20,
			MaxUploadBytes: 8_000_000_000,
		},
		Catalog: CatalogConfig{
			Driver: DriverSQLite,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "docstore",
			User:            "docstore",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		SQLite: SQLiteConfig{
			Path:        "docstore.db",
			BusyTimeout: 5 * time.Second,
		},
		Redis: RedisConfig{
			PoolSize: 10,
			CacheTTL: 60 * time.Second,
		},
		Kafka: KafkaConfig{
			ConsumerGroup: "docstore-group",
			Topics: KafkaTopics{
				CatalogEvents: "docstore.catalog",
				SearchEvents:  "docstore.search",
			},
		},
		Assembler: AssemblerConfig{
			Workers:   4,
			QueueSize: 64,
			Timeout:   10 * time.Minute,
		},
		Search: SearchConfig{
			ContextBytes:    20,
			StreamBuffer:    256,
			MaxPatternBytes: 4096,
		},
		Analytics: AnalyticsConfig{
			BufferSize:       10000,
			SnapshotInterval: 5 * time.Minute,
		},
		CORS: CORSConfig{
			AllowOrigins: []string{"*"},
			MaxAge:       86400,
		},
		RateLimit: RateLimitConfig{
			UploadsPerWindow: 6000,
			Window:           time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// applyEnvOverrides reads DS_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	setInt("DS_SERVER_PORT", &cfg.Server.Port)
	setString("DS_STORAGE_UPLOAD_ROOT", &cfg.Storage.UploadRoot)
	setString("DS_CATALOG_DRIVER", &cfg.Catalog.Driver)
	setString("DS_POSTGRES_HOST", &cfg.Postgres.Host)
	setInt("DS_POSTGRES_PORT", &cfg.Postgres.Port)
	setString("DS_POSTGRES_DATABASE", &cfg.Postgres.Database)
	setString("DS_POSTGRES_USER", &cfg.Postgres.User)
	setString("DS_POSTGRES_PASSWORD", &cfg.Postgres.Password)
	setString("DS_POSTGRES_SSLMODE", &cfg.Postgres.SSLMode)
	setString("DS_SQLITE_PATH", &cfg.SQLite.Path)
	setString("DS_REDIS_ADDR", &cfg.Redis.Addr)
	setString("DS_REDIS_PASSWORD", &cfg.Redis.Password)
	if v := os.Getenv("DS_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	setInt("DS_ASSEMBLER_WORKERS", &cfg.Assembler.Workers)
	setInt("DS_ANALYTICS_BUFFER_SIZE", &cfg.Analytics.BufferSize)
	setInt("DS_RPC_PORT", &cfg.RPC.Port)
	setString("DS_LOGGING_LEVEL", &cfg.Logging.Level)
	setString("DS_LOGGING_FORMAT", &cfg.Logging.Format)
	setInt("DS_METRICS_PORT", &cfg.Metrics.Port)
}
