// Package config reads LUMA_* settings from a .env file, the process environment and
// Secret Manager references.
package config

import "time"

const (
	defaultEnvFile             = ".env"
	defaultPort                = "8080"
	defaultReadTimeout         = 15 * time.Second
	defaultWriteTimeout        = 30 * time.Second
	defaultIdleTimeout         = 120 * time.Second
	defaultRequestTimeout      = 60 * time.Second
	defaultSecurityEnvironment = "local"
	defaultJWTIssuer           = "lumasachi"
	defaultPersistenceBackend  = PersistenceSQL
	defaultDatabaseDriver      = "postgres"
	defaultMaxOpenConns        = 20
	defaultMaxIdleConns        = 5
	defaultConnMaxLifetime     = 30 * time.Minute
	defaultCacheBackend        = CacheMemory
	defaultRedisKeyPrefix      = "lumasachi:"
	defaultNotificationsTopic  = "order-notifications"
	defaultLogLevel            = "info"
	defaultStorageBackend      = StorageNone
	defaultDownloadURLTTL      = 5 * time.Minute
	defaultAttachmentWindow    = 2 * time.Minute
	defaultIdempotencyHeader   = "Idempotency-Key"
	defaultIdempotencyTTL      = 24 * time.Hour
)

// Persistence backends.
const (
	PersistenceSQL       = "sql"
	PersistenceFirestore = "firestore"
)

// Cache version backends.
const (
	CacheRedis     = "redis"
	CacheFirestore = "firestore"
	CacheSQL       = "sql"
	CacheMemory    = "memory"
)

// Attachment storage backends.
const (
	StorageNone  = "none"
	StorageGCS   = "gcs"
	StorageMinIO = "minio"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server      ServerConfig
	Firebase    FirebaseConfig
	Firestore   FirestoreConfig
	Persistence PersistenceConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	Cache       CacheConfig
	PubSub      PubSubConfig
	Storage     StorageConfig
	History     HistoryConfig
	Security    SecurityConfig
	Idempotency IdempotencyConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	RequestTimeout time.Duration
	LogLevel       string
}

// FirebaseConfig stores Firebase project settings used for ID token verification.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// PersistenceConfig selects the order store.
type PersistenceConfig struct {
	Backend string
}

// DatabaseConfig configures the relational order store.
type DatabaseConfig struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	LogQueries      bool
}

// RedisConfig configures the shared Redis client.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// CacheConfig selects where cache version counters live.
type CacheConfig struct {
	Backend string
}

// PubSubConfig configures the notification topic.
type PubSubConfig struct {
	ProjectID          string
	NotificationsTopic string
	EmulatorHost       string
}

// StorageConfig configures where order attachments are listed from.
type StorageConfig struct {
	Backend string
	Bucket  string
	// SignerKeyPath points at a service account JSON key used to sign GCS download URLs.
	SignerKeyPath  string
	DownloadURLTTL time.Duration
	MinIO          MinIOConfig
}

// MinIOConfig configures the S3-compatible attachment store.
type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// HistoryConfig tunes the order history timeline.
type HistoryConfig struct {
	AttachmentWindow time.Duration
}

// SecurityConfig groups authentication settings.
type SecurityConfig struct {
	Environment string
	JWTSecret   string
	JWTIssuer   string
}

// IdempotencyConfig controls idempotency middleware behaviour.
type IdempotencyConfig struct {
	Header string
	TTL    time.Duration
}
