package config

import (
	"os"
	"time"

	"github.com/Gobusters/ectoenv"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

type Config struct {
	AppName            string `env:"APP_NAME" env-default:"mef"`
	LogLevel           string `env:"LOG_LEVEL" env-default:"info"`
	PrettyLogs         bool   `env:"PRETTY_LOGS" env-default:"false"`
	BaseURL            string `env:"MEF_BASE_URL" env-default:"https://mef.rero.ch/api"`
	OpsPort            int    `env:"OPS_PORT" env-default:"3004" validate:"min=0,max=65535"`
	StartupMaxAttempts int    `env:"STARTUP_MAX_ATTEMPTS" env-default:"5" validate:"min=1"`

	// Store
	StoreDriver    string `env:"STORE_DRIVER" env-default:"memory" validate:"oneof=memory bolt postgres"`
	BoltPath       string `env:"BOLT_PATH" env-default:"mef.db"`
	StoreRetries   int    `env:"STORE_RETRIES" env-default:"3" validate:"min=0"`
	SourcesFile    string `env:"SOURCES_FILE" env-default:""`
	MigrationsPath string `env:"MIGRATIONS_PATH" env-default:"db/migrations"`

	// PostgreSQL
	DatabaseHost            string        `env:"DB_HOST" env-default:"localhost"`
	DatabasePort            string        `env:"DB_PORT" env-default:"5432"`
	DatabaseUserName        string        `env:"DB_USER_NAME" env-default:""`
	DatabasePassword        string        `env:"DB_PASSWORD" env-default:""`
	DatabaseName            string        `env:"DB_NAME" env-default:"mef"`
	DatabaseSSLMode         string        `env:"DB_SSL_MODE" env-default:"disable"`
	DatabaseMaxOpenConns    int           `env:"DB_MAX_OPEN_CONNS" env-default:"25"`
	DatabaseMaxIdleConns    int           `env:"DB_MAX_IDLE_CONNS" env-default:"10"`
	DatabaseConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" env-default:"10s"`

	// Index and locks
	IndexDriver   string        `env:"INDEX_DRIVER" env-default:"memory" validate:"oneof=memory redis"`
	LockDriver    string        `env:"LOCK_DRIVER" env-default:"memory" validate:"oneof=memory redis"`
	LockTTL       time.Duration `env:"LOCK_TTL" env-default:"30s"`
	RedisAddr     string        `env:"REDIS_ADDR" env-default:"localhost:6379"`
	RedisPassword string        `env:"REDIS_PASSWORD" env-default:""`
	RedisDB       int           `env:"REDIS_DB" env-default:"0"`
	RedisPrefix   string        `env:"REDIS_PREFIX" env-default:"mef"`

	// Kafka
	KafkaEnabled      bool     `env:"KAFKA_ENABLED" env-default:"false"`
	KafkaBrokers      []string `env:"KAFKA_BROKERS" env-default:"localhost:9092"`
	KafkaEventsTopic  string   `env:"KAFKA_EVENTS_TOPIC" env-default:"mef-events"`
	KafkaJobsTopic    string   `env:"KAFKA_JOBS_TOPIC" env-default:"mef-harvest-jobs"`
	KafkaViafTopic    string   `env:"KAFKA_VIAF_TOPIC" env-default:"mef-viaf-deltas"`
	KafkaGroupID      string   `env:"KAFKA_GROUP_ID" env-default:"mef-worker"`
	KafkaBatchSize    int      `env:"KAFKA_BATCH_SIZE" env-default:"100"`
	KafkaBatchTimeout int      `env:"KAFKA_BATCH_TIMEOUT_MS" env-default:"100"`
	KafkaRequiredAcks int      `env:"KAFKA_REQUIRED_ACKS" env-default:"1"`
	KafkaCompression  string   `env:"KAFKA_COMPRESSION" env-default:"snappy"`

	// Graph projection (Neo4j / Memgraph)
	GraphEnabled    bool   `env:"GRAPH_ENABLED" env-default:"false"`
	GraphDBHost     string `env:"GRAPH_DB_HOST" env-default:"localhost"`
	GraphDBPort     int    `env:"GRAPH_DB_PORT" env-default:"7687"`
	GraphDBUser     string `env:"GRAPH_DB_USER" env-default:""`
	GraphDBPassword string `env:"GRAPH_DB_PASSWORD" env-default:""`
	GraphDBName     string `env:"GRAPH_DB_NAME" env-default:""`

	// Harvesting
	HarvestSpanDays       int           `env:"HARVEST_SPAN_DAYS" env-default:"30" validate:"min=1"`
	HarvestRetries        int           `env:"HARVEST_RETRIES" env-default:"5" validate:"min=0"`
	HarvestRetryBase      time.Duration `env:"HARVEST_RETRY_BASE" env-default:"1s"`
	HarvestWindowTimeout  time.Duration `env:"HARVEST_WINDOW_TIMEOUT" env-default:"30m"`
	HarvestRequestTimeout time.Duration `env:"HARVEST_REQUEST_TIMEOUT" env-default:"60s"`
	HarvestSchedule       string        `env:"HARVEST_SCHEDULE" env-default:"0 2 * * *"`
	HarvestParallelism    int           `env:"HARVEST_PARALLELISM" env-default:"3" validate:"min=1"`
	SnapshotDir           string        `env:"SNAPSHOT_DIR" env-default:""`

	// Engine
	RedirectMaxDepth          int `env:"REDIRECT_MAX_DEPTH" env-default:"10" validate:"min=1"`
	AssociationMatchThreshold int `env:"ASSOCIATION_MATCH_THRESHOLD" env-default:"1" validate:"min=0"`

	// Tracing
	TracingEnabled  bool          `env:"TRACING_ENABLED" env-default:"false"`
	TracingExporter string        `env:"TRACING_EXPORTER" env-default:"otlp" validate:"oneof=otlp console"`
	TracingEndpoint string        `env:"TRACING_ENDPOINT" env-default:"localhost:4318"`
	TracingProtocol string        `env:"TRACING_PROTOCOL" env-default:"http" validate:"oneof=http grpc"`
	TracingInsecure bool          `env:"TRACING_INSECURE" env-default:"true"`
	TracingTimeout  time.Duration `env:"TRACING_TIMEOUT" env-default:"10s"`
}

// Load reads an optional .env file, then the environment.
func Load() (*Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, errors.Wrap(err, "failed to load .env")
		}
	}

	cfg := &Config{}
	if err := ectoenv.BindEnv(cfg); err != nil {
		return nil, errors.Wrap(err, "failed to read environment")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges and driver names.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return errors.Wrap(err, "invalid configuration")
	}
	return nil
}

// HarvestSpan is the window length.
func (c *Config) HarvestSpan() time.Duration {
	return time.Duration(c.HarvestSpanDays) * 24 * time.Hour
}
