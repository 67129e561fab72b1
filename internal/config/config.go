// Package config provides configuration structures and validation for the
// sync service. It handles environment-based configuration for all major
// components: the local HTTP server, the remote store backends, device
// storage, and the sync engine's operational parameters.
package config

import (
	"errors"
	"strings"
	"time"
)

// Backend selects which remote store adapter the service talks to.
const (
	BackendPostgres = "postgres"
	BackendMongo    = "mongo"
)

// Storage driver names for the device key-value store.
const (
	StorageSQLite = "sqlite"
	StorageMemory = "memory"
)

// Config holds the complete application configuration. Each field represents
// a major subsystem's configuration and is validated during startup.
type Config struct {
	Application  ApplicationConfig
	Logging      LoggingConfig
	Server       ServerConfig
	Remote       RemoteConfig
	Postgres     PostgresConfig
	MongoDB      MongoDBConfig
	Storage      StorageConfig
	Sync         SyncConfig
	Connectivity ConnectivityConfig
	Kafka        KafkaConfig
	WorkerPool   WorkerPoolConfig
}

// ApplicationConfig contains general application configuration
type ApplicationConfig struct {
	Env  string
	Name string
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level string
}

// ServerConfig contains HTTP server configuration settings
type ServerConfig struct {
	Port            int           // Port to listen on
	ShutdownTimeout time.Duration // Grace period for server shutdown
	ReadTimeout     time.Duration // Maximum duration for reading entire request
	WriteTimeout    time.Duration // Maximum duration for writing response
	IdleTimeout     time.Duration // Maximum duration to wait for next request
}

// RemoteConfig selects and bounds the remote store.
type RemoteConfig struct {
	Backend string        // "postgres" or "mongo"
	Timeout time.Duration // Per-call deadline; expiry is treated as a transport failure
}

// PostgresConfig contains PostgreSQL configuration
type PostgresConfig struct {
	URL             string        // Database connection string
	MaxConns        int32         // Maximum number of open connections
	MinConns        int32         // Minimum number of idle connections
	ConnMaxLifetime time.Duration // Maximum lifetime of a connection
	ConnMaxIdleTime time.Duration // Maximum idle time of a connection
	MigrationsPath  string        // Path to migration files
}

// MongoDBConfig contains MongoDB configuration
type MongoDBConfig struct {
	URI             string
	Database        string
	Timeout         time.Duration
	MaxPoolSize     uint64
	MinPoolSize     uint64
	MaxConnIdleTime time.Duration
}

// StorageConfig configures the device key-value store that backs the durable
// mutation queue and the read cache.
type StorageConfig struct {
	Driver string // "sqlite" or "memory"
	Path   string // SQLite database file path
}

// SyncConfig contains sync engine configuration
type SyncConfig struct {
	UserID     string        // Identity supplied by the auth subsystem
	Interval   time.Duration // Periodic replay interval while online
	MaxRetries int           // Replay attempts before a mutation is dead-lettered
	PageSize   int           // Transactions per fetched page
}

// ConnectivityConfig configures the reachability monitor.
type ConnectivityConfig struct {
	ProbeInterval time.Duration
	ProbeTimeout  time.Duration
}

// KafkaConfig configures the optional dead-letter export. The export is
// disabled when DeadLetterTopic is empty.
type KafkaConfig struct {
	Brokers           string
	DeadLetterTopic   string
	NumPartitions     int
	ReplicationFactor int
	WriteTimeout      time.Duration
}

// WorkerPoolConfig contains background worker pool configuration
type WorkerPoolConfig struct {
	Size int // Maximum number of workers in the pool
}

// validate performs comprehensive validation of all configuration values,
// ensuring they meet minimum requirements and logical constraints
func (c *Config) validate() error {
	var validationErrors []string

	// Validate Server config
	if c.Server.Port <= 0 {
		validationErrors = append(validationErrors, "SERVER_PORT must be greater than 0")
	}
	if c.Server.ShutdownTimeout <= 0 {
		validationErrors = append(validationErrors, "SERVER_SHUTDOWN_TIMEOUT must be greater than 0")
	}
	if c.Server.ReadTimeout <= 0 {
		validationErrors = append(validationErrors, "SERVER_READ_TIMEOUT must be greater than 0")
	}
	if c.Server.WriteTimeout <= 0 {
		validationErrors = append(validationErrors, "SERVER_WRITE_TIMEOUT must be greater than 0")
	}
	if c.Server.IdleTimeout <= 0 {
		validationErrors = append(validationErrors, "SERVER_IDLE_TIMEOUT must be greater than 0")
	}

	// Validate Remote config, and only the selected backend's settings
	switch c.Remote.Backend {
	case BackendPostgres:
		if c.Postgres.URL == "" {
			validationErrors = append(validationErrors, "POSTGRES_URL is required")
		}
		if c.Postgres.MaxConns <= 0 {
			validationErrors = append(validationErrors, "POSTGRES_MAX_CONNS must be greater than 0")
		}
		if c.Postgres.MinConns <= 0 {
			validationErrors = append(validationErrors, "POSTGRES_MIN_CONNS must be greater than 0")
		}
		if c.Postgres.ConnMaxLifetime <= 0 {
			validationErrors = append(validationErrors, "POSTGRES_MAX_CONN_LIFETIME must be greater than 0")
		}
		if c.Postgres.ConnMaxIdleTime <= 0 {
			validationErrors = append(validationErrors, "POSTGRES_MAX_CONN_IDLE_TIME must be greater than 0")
		}
	case BackendMongo:
		if c.MongoDB.URI == "" {
			validationErrors = append(validationErrors, "MONGO_URI is required")
		}
		if c.MongoDB.Database == "" {
			validationErrors = append(validationErrors, "MONGO_DATABASE is required")
		}
		if c.MongoDB.Timeout <= 0 {
			validationErrors = append(validationErrors, "MONGO_TIMEOUT must be greater than 0")
		}
		if c.MongoDB.MaxPoolSize <= 0 {
			validationErrors = append(validationErrors, "MONGO_MAX_POOL_SIZE must be greater than 0")
		}
		if c.MongoDB.MinPoolSize <= 0 {
			validationErrors = append(validationErrors, "MONGO_MIN_POOL_SIZE must be greater than 0")
		}
		if c.MongoDB.MaxConnIdleTime <= 0 {
			validationErrors = append(validationErrors, "MONGO_MAX_CONN_IDLE_TIME must be greater than 0")
		}
	default:
		validationErrors = append(validationErrors, "REMOTE_BACKEND must be 'postgres' or 'mongo'")
	}
	if c.Remote.Timeout <= 0 {
		validationErrors = append(validationErrors, "REMOTE_TIMEOUT must be greater than 0")
	}

	// Validate Storage config
	switch c.Storage.Driver {
	case StorageSQLite:
		if c.Storage.Path == "" {
			validationErrors = append(validationErrors, "STORAGE_PATH is required for the sqlite driver")
		}
	case StorageMemory:
	default:
		validationErrors = append(validationErrors, "STORAGE_DRIVER must be 'sqlite' or 'memory'")
	}

	// Validate Sync config
	if c.Sync.UserID == "" {
		validationErrors = append(validationErrors, "SYNC_USER_ID is required")
	}
	if c.Sync.Interval <= 0 {
		validationErrors = append(validationErrors, "SYNC_INTERVAL must be greater than 0")
	}
	if c.Sync.MaxRetries <= 0 {
		validationErrors = append(validationErrors, "SYNC_MAX_RETRIES must be greater than 0")
	}
	if c.Sync.PageSize <= 0 {
		validationErrors = append(validationErrors, "SYNC_PAGE_SIZE must be greater than 0")
	}

	// Validate Connectivity config
	if c.Connectivity.ProbeInterval <= 0 {
		validationErrors = append(validationErrors, "CONNECTIVITY_PROBE_INTERVAL must be greater than 0")
	}
	if c.Connectivity.ProbeTimeout <= 0 {
		validationErrors = append(validationErrors, "CONNECTIVITY_PROBE_TIMEOUT must be greater than 0")
	}

	// Validate Kafka config only when the dead-letter export is enabled
	if c.Kafka.DeadLetterTopic != "" {
		if c.Kafka.Brokers == "" {
			validationErrors = append(validationErrors, "KAFKA_BROKERS is required when KAFKA_DEAD_LETTER_TOPIC is set")
		}
		if c.Kafka.WriteTimeout <= 0 {
			validationErrors = append(validationErrors, "KAFKA_WRITE_TIMEOUT must be greater than 0")
		}
	}

	// Validate WorkerPool config
	if c.WorkerPool.Size <= 0 {
		validationErrors = append(validationErrors, "WORKER_POOL_SIZE must be greater than 0")
	}

	if len(validationErrors) > 0 {
		return errors.New(strings.Join(validationErrors, ", "))
	}

	return nil
}
