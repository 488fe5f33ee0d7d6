// Package config loads and validates the decree-search configuration from a
// YAML file with DS_* environment-variable overrides. Every subsystem
// (crawler, index, embedding, OCR, Postgres mirror, Redis, Kafka, ...) has
// its own typed section.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Redis     RedisConfig     `yaml:"redis"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Crawler   CrawlerConfig   `yaml:"crawler"`
	Index     IndexConfig     `yaml:"index"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	OCR       OCRConfig       `yaml:"ocr"`
	Search    SearchConfig    `yaml:"search"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings for the query API.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	AllowedOrigins  []string      `yaml:"allowedOrigins"`
	MaxUploadBytes  int64         `yaml:"maxUploadBytes"`
}

// PostgresConfig holds the connection parameters of the document-database
// mirror. The mirror is best effort; Enabled=false runs without it.
type PostgresConfig struct {
	Enabled         bool          `yaml:"enabled"`
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

// RedisConfig holds Redis connection and query-cache parameters.
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// KafkaConfig holds broker and topic settings for index and search events.
type KafkaConfig struct {
	Enabled       bool        `yaml:"enabled"`
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	AnalyticsEvents string `yaml:"analyticsEvents"`
}

// CrawlerConfig controls change detection over the document folder.
type CrawlerConfig struct {
	DocumentsDir string        `yaml:"documentsDir"`
	Extension    string        `yaml:"extension"`
	PollInterval time.Duration `yaml:"pollInterval"`
	Workers      int           `yaml:"workers"`
	LedgerPath   string        `yaml:"ledgerPath"`
	Watch        bool          `yaml:"watch"`
	JobTimeout   time.Duration `yaml:"jobTimeout"`
}

// IndexConfig locates the two persisted stores. LockPath guards them, and
// the ledger, against a second writing process.
type IndexConfig struct {
	SnapshotPath   string `yaml:"snapshotPath"`
	EmbeddingsPath string `yaml:"embeddingsPath"`
	LockPath       string `yaml:"lockPath"`
}

// EmbeddingConfig points at an OpenAI-compatible embedding service.
type EmbeddingConfig struct {
	BaseURL          string        `yaml:"baseUrl"`
	Model            string        `yaml:"model"`
	Token            string        `yaml:"token"`
	Timeout          time.Duration `yaml:"timeout"`
	MaxAttempts      int           `yaml:"maxAttempts"`
	FailureThreshold int           `yaml:"failureThreshold"`
	ResetTimeout     time.Duration `yaml:"resetTimeout"`
}

// OCRConfig selects how text is extracted from deposited files. Mode "pdf"
// reads the PDF text layer, "service" posts the file to an OCR service and
// "chain" tries the text layer first.
type OCRConfig struct {
	Mode       string        `yaml:"mode"`
	ServiceURL string        `yaml:"serviceUrl"`
	Timeout    time.Duration `yaml:"timeout"`
}

// SearchConfig controls result limits for the query API.
type SearchConfig struct {
	MaxResults   int `yaml:"maxResults"`
	DefaultLimit int `yaml:"defaultLimit"`
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

// Load reads a YAML config file (if provided and present) and applies
// environment-variable overrides on top of the defaults, then validates the
// result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config file %s: %w", path, err)
			}
		case os.IsNotExist(err):
		default:
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Default returns the configuration used when no file is supplied.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			MaxUploadBytes:  64 << 20,
		},
		Postgres: PostgresConfig{
			Enabled:         true,
			Host:            "localhost",
			Port:            5432,
			Database:        "decretos",
			User:            "decretos",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			Enabled:  true,
			Addr:     "localhost:6379",
			PoolSize: 10,
			CacheTTL: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Enabled:       false,
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "decree-search",
			Topics: KafkaTopics{
				AnalyticsEvents: "decree-search.analytics",
			},
		},
		Crawler: CrawlerConfig{
			DocumentsDir: "data/decretos",
			Extension:    ".pdf",
			PollInterval: 120 * time.Second,
			Workers:      4,
			LedgerPath:   "data/archivos_procesados.txt",
			Watch:        true,
		},
		Index: IndexConfig{
			SnapshotPath:   "data/indice_invertido.json",
			EmbeddingsPath: "data/embeddings.json",
			LockPath:       "data/decreesearch.lock",
		},
		Embedding: EmbeddingConfig{
			BaseURL:          "http://localhost:11434/v1",
			Model:            "nomic-embed-text",
			Token:            "none",
			Timeout:          60 * time.Second,
			MaxAttempts:      3,
			FailureThreshold: 5,
			ResetTimeout:     30 * time.Second,
		},
		OCR: OCRConfig{
			Mode:       "chain",
			ServiceURL: "http://localhost:8884/ocr",
			Timeout:    5 * time.Minute,
		},
		Search: SearchConfig{
			MaxResults:   100,
			DefaultLimit: 20,
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

// Validate checks every section.
func (c *Config) Validate() error {
	if err := validation.ValidateStruct(&c.Server,
		validation.Field(&c.Server.Port, validation.Required, validation.Min(1), validation.Max(65535)),
		validation.Field(&c.Server.MaxUploadBytes, validation.Required, validation.Min(int64(1))),
	); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if err := validation.ValidateStruct(&c.Crawler,
		validation.Field(&c.Crawler.DocumentsDir, validation.Required),
		validation.Field(&c.Crawler.Extension, validation.Required),
		validation.Field(&c.Crawler.LedgerPath, validation.Required),
		validation.Field(&c.Crawler.PollInterval, validation.Required, validation.Min(time.Second)),
		validation.Field(&c.Crawler.Workers, validation.Required, validation.Min(1)),
	); err != nil {
		return fmt.Errorf("crawler: %w", err)
	}
	if err := validation.ValidateStruct(&c.Index,
		validation.Field(&c.Index.SnapshotPath, validation.Required),
		validation.Field(&c.Index.EmbeddingsPath, validation.Required),
		validation.Field(&c.Index.LockPath, validation.Required),
	); err != nil {
		return fmt.Errorf("index: %w", err)
	}
	if err := validation.ValidateStruct(&c.Embedding,
		validation.Field(&c.Embedding.BaseURL, validation.Required),
		validation.Field(&c.Embedding.Model, validation.Required),
	); err != nil {
		return fmt.Errorf("embedding: %w", err)
	}
	if err := validation.ValidateStruct(&c.OCR,
		validation.Field(&c.OCR.Mode, validation.Required, validation.In("pdf", "service", "chain")),
		validation.Field(&c.OCR.ServiceURL, validation.When(c.OCR.Mode != "pdf", validation.Required)),
	); err != nil {
		return fmt.Errorf("ocr: %w", err)
	}
	if err := validation.ValidateStruct(&c.Search,
		validation.Field(&c.Search.DefaultLimit, validation.Required, validation.Min(1)),
		validation.Field(&c.Search.MaxResults, validation.Required, validation.Min(c.Search.DefaultLimit)),
	); err != nil {
		return fmt.Errorf("search: %w", err)
	}
	if err := validation.ValidateStruct(&c.Logging,
		validation.Field(&c.Logging.Format, validation.In("json", "text")),
	); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	return nil
}

// applyEnvOverrides reads DS_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DS_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("DS_POSTGRES_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Postgres.Enabled = b
		}
	}
	if v := os.Getenv("DS_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("DS_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("DS_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("DS_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("DS_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("DS_POSTGRES_SSLMODE"); v != "" {
		cfg.Postgres.SSLMode = v
	}
	if v := os.Getenv("DS_REDIS_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Redis.Enabled = b
		}
	}
	if v := os.Getenv("DS_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("DS_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("DS_KAFKA_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Kafka.Enabled = b
		}
	}
	if v := os.Getenv("DS_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("DS_CRAWLER_DOCUMENTS_DIR"); v != "" {
		cfg.Crawler.DocumentsDir = v
	}
	if v := os.Getenv("DS_CRAWLER_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Crawler.PollInterval = d
		}
	}
	if v := os.Getenv("DS_CRAWLER_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Crawler.Workers = n
		}
	}
	if v := os.Getenv("DS_CRAWLER_LEDGER_PATH"); v != "" {
		cfg.Crawler.LedgerPath = v
	}
	if v := os.Getenv("DS_INDEX_SNAPSHOT_PATH"); v != "" {
		cfg.Index.SnapshotPath = v
	}
	if v := os.Getenv("DS_INDEX_EMBEDDINGS_PATH"); v != "" {
		cfg.Index.EmbeddingsPath = v
	}
	if v := os.Getenv("DS_INDEX_LOCK_PATH"); v != "" {
		cfg.Index.LockPath = v
	}
	if v := os.Getenv("DS_EMBEDDING_BASE_URL"); v != "" {
		cfg.Embedding.BaseURL = v
	}
	if v := os.Getenv("DS_EMBEDDING_MODEL"); v != "" {
		cfg.Embedding.Model = v
	}
	if v := os.Getenv("DS_EMBEDDING_TOKEN"); v != "" {
		cfg.Embedding.Token = v
	}
	if v := os.Getenv("DS_OCR_MODE"); v != "" {
		cfg.OCR.Mode = v
	}
	if v := os.Getenv("DS_OCR_SERVICE_URL"); v != "" {
		cfg.OCR.ServiceURL = v
	}
	if v := os.Getenv("DS_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("DS_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
