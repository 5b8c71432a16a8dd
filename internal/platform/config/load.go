package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// SecretResolver turns a secret:// reference into its value. The secrets package provides the
// Secret Manager implementation.
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

type SecretResolverFunc func(context.Context, string) (string, error)

func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

type Option func(*loader)

type loader struct {
	envFile           string
	overrides         map[string]string
	systemEnv         bool
	resolver          SecretResolver
	required          []string
	requireReferenced bool
	panicOnMissing    bool
}

// WithEnvFile reads path instead of ./.env. An empty path skips the file.
func WithEnvFile(path string) Option {
	return func(l *loader) { l.envFile = path }
}

// WithEnvMap supplies values that win over both the process environment and the .env file.
func WithEnvMap(values map[string]string) Option {
	return func(l *loader) { l.overrides = values }
}

func WithoutSystemEnv() Option {
	return func(l *loader) { l.systemEnv = false }
}

func WithSecretResolver(resolver SecretResolver) Option {
	return func(l *loader) { l.resolver = resolver }
}

// WithRequiredSecrets names secret fields (e.g. "Database.DSN") that must end up non-empty.
func WithRequiredSecrets(names ...string) Option {
	return func(l *loader) { l.required = append(l.required, names...) }
}

// WithReferencedSecretsRequired treats every secret field configured as a secret:// or sm://
// reference as required. A plain value or an unset field is left alone.
func WithReferencedSecretsRequired() Option {
	return func(l *loader) { l.requireReferenced = true }
}

// WithPanicOnMissingSecrets makes Load panic with *MissingSecretsError instead of returning it.
func WithPanicOnMissingSecrets() Option {
	return func(l *loader) { l.panicOnMissing = true }
}

func newLoader(opts []Option) *loader {
	l := &loader{envFile: defaultEnvFile, systemEnv: true}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l
}

// lookup layers the sources: explicit map, then process environment, then .env.
func (l *loader) lookup() (func(string) (string, bool), error) {
	dotenv, err := readDotEnv(l.envFile)
	if err != nil {
		return nil, err
	}
	return func(key string) (string, bool) {
		if v, ok := l.overrides[key]; ok {
			return v, true
		}
		if l.systemEnv {
			if v, ok := os.LookupEnv(key); ok {
				return v, true
			}
		}
		v, ok := dotenv[key]
		return v, ok
	}, nil
}

// EnvironmentValues flattens the same sources Load reads, so main can build the logger and
// secret fetcher before the full configuration is available.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	l := newLoader(opts)
	values, err := readDotEnv(l.envFile)
	if err != nil {
		return nil, err
	}
	if values == nil {
		values = map[string]string{}
	}
	if l.systemEnv {
		for _, entry := range os.Environ() {
			if key, value, ok := strings.Cut(entry, "="); ok && strings.TrimSpace(key) != "" {
				values[strings.TrimSpace(key)] = value
			}
		}
	}
	for key, value := range l.overrides {
		values[key] = value
	}
	return values, nil
}

// Load builds the Config. Values that do not parse and inconsistent backend choices come back
// together in one *ValidationError.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	l := newLoader(opts)
	lookup, err := l.lookup()
	if err != nil {
		return Config{}, err
	}
	r := &reader{lookup: lookup}
	cfg := r.read()

	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}
	if cfg.PubSub.ProjectID == "" {
		cfg.PubSub.ProjectID = cfg.Firestore.ProjectID
	}

	required := append([]string(nil), l.required...)
	resolved := make(map[string]string)
	for _, field := range cfg.secretFields() {
		raw := strings.TrimSpace(*field.value)
		if isSecretReference(raw) && l.requireReferenced {
			required = append(required, field.name)
		}
		value, err := resolveSecret(ctx, raw, l.resolver)
		if err != nil {
			return Config{}, err
		}
		*field.value = value
		resolved[field.name] = strings.TrimSpace(value)
	}

	if problems := append(r.malformed, validate(cfg)...); len(problems) > 0 {
		return Config{}, &ValidationError{fields: problems}
	}
	if missing := missingSecrets(required, resolved); missing != nil {
		if l.panicOnMissing {
			fmt.Fprintf(os.Stderr, "config: %v\n", missing)
			panic(missing)
		}
		return Config{}, missing
	}
	return cfg, nil
}

type secretField struct {
	name  string
	value *string
}

// secretFields lists the settings that may hold a secret reference instead of a value.
func (c *Config) secretFields() []secretField {
	return []secretField{
		{"Database.DSN", &c.Database.DSN},
		{"Redis.Password", &c.Redis.Password},
		{"Storage.MinIO.SecretKey", &c.Storage.MinIO.SecretKey},
		{"Security.JWTSecret", &c.Security.JWTSecret},
	}
}

// reader pulls typed values out of a lookup, noting keys whose values do not parse.
type reader struct {
	lookup    func(string) (string, bool)
	malformed []string
}

func (r *reader) read() Config {
	return Config{
		Server: ServerConfig{
			Port:           r.text("LUMA_SERVER_PORT", defaultPort),
			ReadTimeout:    r.duration("LUMA_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout:   r.duration("LUMA_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:    r.duration("LUMA_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
			RequestTimeout: r.duration("LUMA_SERVER_REQUEST_TIMEOUT", defaultRequestTimeout),
			LogLevel:       r.lower("LUMA_LOG_LEVEL", defaultLogLevel),
		},
		Firebase: FirebaseConfig{
			ProjectID:       r.text("LUMA_FIREBASE_PROJECT_ID", ""),
			CredentialsFile: r.text("LUMA_FIREBASE_CREDENTIALS_FILE", ""),
		},
		Firestore: FirestoreConfig{
			ProjectID:    r.text("LUMA_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: r.text("LUMA_FIRESTORE_EMULATOR_HOST", ""),
		},
		Persistence: PersistenceConfig{Backend: r.lower("LUMA_PERSISTENCE_BACKEND", defaultPersistenceBackend)},
		Database: DatabaseConfig{
			Driver:          r.lower("LUMA_DATABASE_DRIVER", defaultDatabaseDriver),
			DSN:             r.text("LUMA_DATABASE_DSN", ""),
			MaxOpenConns:    r.integer("LUMA_DATABASE_MAX_OPEN_CONNS", defaultMaxOpenConns),
			MaxIdleConns:    r.integer("LUMA_DATABASE_MAX_IDLE_CONNS", defaultMaxIdleConns),
			ConnMaxLifetime: r.duration("LUMA_DATABASE_CONN_MAX_LIFETIME", defaultConnMaxLifetime),
			LogQueries:      r.flag("LUMA_DATABASE_LOG_QUERIES", false),
		},
		Redis: RedisConfig{
			Addr:      r.text("LUMA_REDIS_ADDR", ""),
			Password:  r.text("LUMA_REDIS_PASSWORD", ""),
			DB:        r.integer("LUMA_REDIS_DB", 0),
			KeyPrefix: r.text("LUMA_REDIS_KEY_PREFIX", defaultRedisKeyPrefix),
		},
		Cache: CacheConfig{Backend: r.lower("LUMA_CACHE_BACKEND", defaultCacheBackend)},
		PubSub: PubSubConfig{
			ProjectID:          r.text("LUMA_PUBSUB_PROJECT_ID", ""),
			NotificationsTopic: r.text("LUMA_PUBSUB_NOTIFICATIONS_TOPIC", defaultNotificationsTopic),
			EmulatorHost:       r.text("LUMA_PUBSUB_EMULATOR_HOST", ""),
		},
		Storage: StorageConfig{
			Backend:        r.lower("LUMA_STORAGE_BACKEND", defaultStorageBackend),
			Bucket:         r.text("LUMA_STORAGE_BUCKET", ""),
			SignerKeyPath:  r.text("LUMA_STORAGE_SIGNER_KEY_PATH", ""),
			DownloadURLTTL: r.duration("LUMA_STORAGE_DOWNLOAD_URL_TTL", defaultDownloadURLTTL),
			MinIO: MinIOConfig{
				Endpoint:  r.text("LUMA_MINIO_ENDPOINT", ""),
				AccessKey: r.text("LUMA_MINIO_ACCESS_KEY", ""),
				SecretKey: r.text("LUMA_MINIO_SECRET_KEY", ""),
				UseSSL:    r.flag("LUMA_MINIO_USE_SSL", false),
			},
		},
		History: HistoryConfig{AttachmentWindow: r.duration("LUMA_HISTORY_ATTACHMENT_WINDOW", defaultAttachmentWindow)},
		Security: SecurityConfig{
			Environment: r.lower("LUMA_SECURITY_ENVIRONMENT", defaultSecurityEnvironment),
			JWTSecret:   r.text("LUMA_SECURITY_JWT_SECRET", ""),
			JWTIssuer:   r.text("LUMA_SECURITY_JWT_ISSUER", defaultJWTIssuer),
		},
		Idempotency: IdempotencyConfig{
			Header: r.text("LUMA_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:    r.duration("LUMA_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
		},
	}
}

func (r *reader) value(key string) (string, bool) {
	v, ok := r.lookup(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (r *reader) text(key, fallback string) string {
	if v, ok := r.value(key); ok {
		return v
	}
	return fallback
}

func (r *reader) lower(key, fallback string) string {
	return strings.ToLower(r.text(key, fallback))
}

func (r *reader) duration(key string, fallback time.Duration) time.Duration {
	v, ok := r.value(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.malformed = append(r.malformed, key)
		return fallback
	}
	return d
}

func (r *reader) integer(key string, fallback int) int {
	v, ok := r.value(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.malformed = append(r.malformed, key)
		return fallback
	}
	return n
}

func (r *reader) flag(key string, fallback bool) bool {
	v, ok := r.value(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(v) {
	case "yes", "on":
		return true
	case "no", "off":
		return false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.malformed = append(r.malformed, key)
		return fallback
	}
	return b
}

// validate reports fields that are missing or contradict the selected backends.
func validate(cfg Config) []string {
	var bad []string
	check := func(ok bool, field string) {
		if !ok {
			bad = append(bad, field)
		}
	}

	check(cfg.Server.Port != "", "Server.Port")

	switch cfg.Persistence.Backend {
	case PersistenceSQL:
		check(cfg.Database.Driver == "postgres" || cfg.Database.Driver == "sqlite", "Database.Driver")
		check(strings.TrimSpace(cfg.Database.DSN) != "", "Database.DSN")
	case PersistenceFirestore:
		check(cfg.Firestore.ProjectID != "", "Firestore.ProjectID")
	default:
		bad = append(bad, "Persistence.Backend")
	}

	switch cfg.Cache.Backend {
	case CacheMemory:
	case CacheRedis:
		check(cfg.Redis.Addr != "", "Redis.Addr")
	case CacheFirestore:
		check(cfg.Firestore.ProjectID != "", "Firestore.ProjectID")
	case CacheSQL:
		check(cfg.Persistence.Backend == PersistenceSQL, "Cache.Backend")
	default:
		bad = append(bad, "Cache.Backend")
	}

	switch cfg.Storage.Backend {
	case StorageNone:
	case StorageGCS:
		check(cfg.Storage.Bucket != "", "Storage.Bucket")
	case StorageMinIO:
		check(cfg.Storage.Bucket != "", "Storage.Bucket")
		check(cfg.Storage.MinIO.Endpoint != "", "Storage.MinIO.Endpoint")
	default:
		bad = append(bad, "Storage.Backend")
	}

	check(cfg.Firebase.ProjectID != "" || cfg.Security.JWTSecret != "", "Firebase.ProjectID|Security.JWTSecret")
	check(cfg.History.AttachmentWindow > 0, "History.AttachmentWindow")
	check(strings.TrimSpace(cfg.Idempotency.Header) != "", "Idempotency.Header")
	check(cfg.Idempotency.TTL > 0, "Idempotency.TTL")
	return bad
}

func readDotEnv(path string) (map[string]string, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	values, err := godotenv.Read(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return values, nil
}
