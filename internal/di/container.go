package di

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	gcs "cloud.google.com/go/storage"
	"github.com/go-redis/redis/v8"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"gorm.io/gorm"

	"github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/platform/auth"
	"github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/platform/cache"
	"github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/platform/config"
	pfirestore "github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/platform/firestore"
	"github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/platform/idempotency"
	"github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/platform/jobs"
	"github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/platform/observability"
	"github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/platform/sqlstore"
	"github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/platform/storage"
	"github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/repositories"
	firestorerepo "github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/repositories/firestore"
	"github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/repositories/sqlrepo"
	"github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/services"
)

const (
	storeProbeTimeout     = 1500 * time.Millisecond
	auxiliaryProbeTimeout = time.Second
	idempotencyKeyPrefix  = "idempotency:"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Orders        services.OrderLifecycleService
	Catalog       services.CatalogService
	CacheVersions services.CacheVersionService
	System        services.SystemService
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config        config.Config
	Repositories  repositories.Registry
	Services      Services
	Authenticator *auth.Authenticator
	Idempotency   idempotency.Store
	Notifications services.NotificationSink
	// Attachments is nil when object storage is disabled.
	Attachments storage.AttachmentStore

	closers []func(context.Context) error
}

// Option customises container construction.
type Option func(*options)

type options struct {
	logger      *zap.Logger
	registry    repositories.Registry
	verifier    auth.TokenVerifier
	build       services.BuildInfo
	meter       metric.MeterProvider
	checks      []repositories.DependencyCheck
	autoMigrate bool
	clock       func() time.Time
}

// WithLogger sets the base logger for infrastructure and service events.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithRegistry supplies a prebuilt repository registry instead of opening the configured store.
func WithRegistry(reg repositories.Registry) Option {
	return func(o *options) { o.registry = reg }
}

// WithTokenVerifier replaces the verifier derived from the security configuration.
func WithTokenVerifier(verifier auth.TokenVerifier) Option {
	return func(o *options) { o.verifier = verifier }
}

// WithBuildInfo records version metadata reported by /healthz.
func WithBuildInfo(build services.BuildInfo) Option {
	return func(o *options) { o.build = build }
}

// WithMeterProvider overrides the global OpenTelemetry meter provider.
func WithMeterProvider(provider metric.MeterProvider) Option {
	return func(o *options) { o.meter = provider }
}

// WithHealthChecks appends readiness probes, e.g. for Secret Manager.
func WithHealthChecks(checks ...repositories.DependencyCheck) Option {
	return func(o *options) { o.checks = append(o.checks, checks...) }
}

// WithAutoMigrate applies the SQL schema on startup. Intended for sqlite and local runs.
func WithAutoMigrate() Option {
	return func(o *options) { o.autoMigrate = true }
}

// WithClock injects the clock used by services.
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// NewContainer constructs the runtime dependencies from configuration. On failure every
// resource opened so far is released.
func NewContainer(ctx context.Context, cfg config.Config, opts ...Option) (c *Container, err error) {
	o := options{logger: zap.NewNop(), clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	c = &Container{Config: cfg}
	defer func() {
		if err != nil {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if closeErr := c.Close(closeCtx); closeErr != nil {
				o.logger.Warn("container cleanup failed", zap.Error(closeErr))
			}
			c = nil
		}
	}()

	b := &builder{cfg: cfg, opts: o, container: c, logger: o.logger}
	if err := b.build(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// Close releases clients in reverse order of creation.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

func (c *Container) onClose(fn func(context.Context) error) {
	c.closers = append(c.closers, fn)
}

type builder struct {
	cfg       config.Config
	opts      options
	container *Container
	logger    *zap.Logger

	db       *gorm.DB
	provider *pfirestore.Provider
	redis    *redis.Client
	checks   []repositories.DependencyCheck
	versions repositories.CacheVersionRepository
	health   repositories.HealthRepository
}

func (b *builder) build(ctx context.Context) error {
	steps := []struct {
		name string
		run  func(context.Context) error
	}{
		{"cache client", b.openRedis},
		{"order store", b.openStore},
		{"cache versions", b.openCacheVersions},
		{"notifications", b.openNotifications},
		{"attachments", b.openAttachments},
		{"registry", b.openRegistry},
		{"services", b.buildServices},
		{"authentication", b.buildAuthenticator},
		{"idempotency", b.buildIdempotency},
	}
	for _, step := range steps {
		if err := step.run(ctx); err != nil {
			return fmt.Errorf("di: %s: %w", step.name, err)
		}
	}
	return nil
}

func (b *builder) openRedis(ctx context.Context) error {
	if b.cfg.Cache.Backend != config.CacheRedis {
		return nil
	}
	client, err := cache.NewRedisClient(ctx, b.cfg.Redis)
	if err != nil {
		return err
	}
	b.redis = client
	b.container.onClose(func(context.Context) error { return client.Close() })
	b.checks = append(b.checks, repositories.DependencyCheck{
		Name:    "redis",
		Timeout: auxiliaryProbeTimeout,
		Check: func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		},
	})
	return nil
}

func (b *builder) firestoreProvider() *pfirestore.Provider {
	if b.provider != nil {
		return b.provider
	}
	provider := pfirestore.NewProvider(b.cfg.Firestore)
	b.provider = provider
	b.container.onClose(provider.Close)
	b.checks = append(b.checks, repositories.DependencyCheck{
		Name:     "firestore",
		Timeout:  storeProbeTimeout,
		Critical: b.cfg.Persistence.Backend == config.PersistenceFirestore,
		Check:    provider.Ping,
	})
	return provider
}

func (b *builder) openStore(ctx context.Context) error {
	if b.opts.registry != nil {
		return nil
	}
	switch b.cfg.Persistence.Backend {
	case config.PersistenceSQL:
		db, err := sqlstore.Open(b.cfg.Database, b.logger.Named("sql"))
		if err != nil {
			return err
		}
		b.db = db
		b.container.onClose(func(context.Context) error { return sqlstore.Close(db) })
		if b.opts.autoMigrate {
			if err := sqlrepo.Migrate(ctx, db); err != nil {
				return err
			}
		}
		b.checks = append(b.checks, repositories.DependencyCheck{
			Name:     "database",
			Timeout:  storeProbeTimeout,
			Critical: true,
			Check: func(ctx context.Context) error {
				return sqlstore.Ping(ctx, db)
			},
		})
	case config.PersistenceFirestore:
		b.firestoreProvider()
	default:
		return fmt.Errorf("unsupported persistence backend %q", b.cfg.Persistence.Backend)
	}
	return nil
}

func (b *builder) openCacheVersions(context.Context) error {
	switch b.cfg.Cache.Backend {
	case config.CacheRedis:
		store, err := cache.NewRedisVersionStore(b.redis, b.cfg.Redis.KeyPrefix)
		if err != nil {
			return err
		}
		b.versions = store
	case config.CacheMemory:
		b.versions = cache.NewMemoryVersionStore()
	case config.CacheFirestore:
		if b.cfg.Persistence.Backend == config.PersistenceFirestore {
			return nil
		}
		repo, err := firestorerepo.NewCacheVersionRepository(b.firestoreProvider())
		if err != nil {
			return err
		}
		b.versions = repo
	case config.CacheSQL:
		// The SQL registry keeps its own counter table.
	default:
		return fmt.Errorf("unsupported cache backend %q", b.cfg.Cache.Backend)
	}
	return nil
}

func (b *builder) openNotifications(ctx context.Context) error {
	projectID := strings.TrimSpace(b.cfg.PubSub.ProjectID)
	topicName := strings.TrimSpace(b.cfg.PubSub.NotificationsTopic)
	if projectID == "" || topicName == "" {
		b.logger.Info("pubsub not configured; notifications go to the log")
		b.container.Notifications = jobs.NewLogNotificationSink(b.logger)
		return nil
	}

	var clientOpts []option.ClientOption
	if host := strings.TrimSpace(b.cfg.PubSub.EmulatorHost); host != "" {
		clientOpts = append(clientOpts,
			option.WithEndpoint(host),
			option.WithoutAuthentication(),
			option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		)
	}
	client, err := pubsub.NewClient(ctx, projectID, clientOpts...)
	if err != nil {
		return fmt.Errorf("pubsub client: %w", err)
	}
	topic := client.Topic(topicName)
	b.container.onClose(func(context.Context) error {
		topic.Stop()
		return client.Close()
	})

	publisher, err := jobs.NewPubSubNotificationPublisher(topic)
	if err != nil {
		return err
	}
	b.container.Notifications = publisher
	b.checks = append(b.checks, repositories.DependencyCheck{
		Name:    "pubsub",
		Timeout: auxiliaryProbeTimeout,
		Check: func(ctx context.Context) error {
			ok, err := topic.Exists(ctx)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("topic %s does not exist", topicName)
			}
			return nil
		},
	})
	return nil
}

func (b *builder) openAttachments(ctx context.Context) error {
	var store storage.AttachmentStore
	switch b.cfg.Storage.Backend {
	case config.StorageNone, "":
		return nil
	case config.StorageGCS:
		signer, err := storage.LoadSigner(b.cfg.Storage.SignerKeyPath)
		if err != nil {
			return err
		}
		client, err := gcs.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("gcs client: %w", err)
		}
		b.container.onClose(func(context.Context) error { return client.Close() })
		gcsOpts := []storage.GCSOption{storage.WithDownloadExpiry(b.cfg.Storage.DownloadURLTTL)}
		if signer != nil {
			gcsOpts = append(gcsOpts, storage.WithSigner(signer))
		} else {
			b.logger.Warn("storage signer key not configured; attachment download links disabled")
		}
		gcsStore, err := storage.NewGCSAttachmentStore(client, b.cfg.Storage.Bucket, gcsOpts...)
		if err != nil {
			return err
		}
		store = gcsStore
	case config.StorageMinIO:
		client, err := storage.NewMinIOClient(storage.MinIOOptions{
			Endpoint:  b.cfg.Storage.MinIO.Endpoint,
			AccessKey: b.cfg.Storage.MinIO.AccessKey,
			SecretKey: b.cfg.Storage.MinIO.SecretKey,
			UseSSL:    b.cfg.Storage.MinIO.UseSSL,
		})
		if err != nil {
			return err
		}
		minioStore, err := storage.NewMinIOAttachmentStore(client, b.cfg.Storage.Bucket, b.cfg.Storage.DownloadURLTTL)
		if err != nil {
			return err
		}
		store = minioStore
	default:
		return fmt.Errorf("unsupported storage backend %q", b.cfg.Storage.Backend)
	}

	b.container.Attachments = store
	b.checks = append(b.checks, repositories.DependencyCheck{
		Name:    "attachments",
		Timeout: auxiliaryProbeTimeout,
		Check:   store.Ping,
	})
	return nil
}

func (b *builder) openRegistry(context.Context) error {
	checks := append(append([]repositories.DependencyCheck(nil), b.checks...), b.opts.checks...)
	if len(checks) > 0 {
		health, err := repositories.NewDependencyHealthRepository(checks)
		if err != nil {
			return err
		}
		b.health = health
	}

	if b.opts.registry != nil {
		b.container.Repositories = b.opts.registry
		b.container.onClose(b.opts.registry.Close)
		return nil
	}

	// Registries share the pool or provider opened above, which is already registered for close.
	switch {
	case b.db != nil:
		reg, err := sqlrepo.NewRegistry(b.db, sqlrepo.WithHealth(b.health), sqlrepo.WithCacheVersions(b.versions))
		if err != nil {
			return err
		}
		b.container.Repositories = reg
	case b.provider != nil:
		reg, err := firestorerepo.NewRegistry(b.provider, firestorerepo.WithHealth(b.health), firestorerepo.WithCacheVersions(b.versions))
		if err != nil {
			return err
		}
		b.container.Repositories = reg
	default:
		return errors.New("no order store opened")
	}
	return nil
}

func (b *builder) buildServices(context.Context) error {
	reg := b.container.Repositories

	catalog, err := services.NewCatalogService(services.CatalogServiceDeps{Catalog: reg.Catalog()})
	if err != nil {
		return err
	}

	var versions services.CacheVersionService
	if repo := reg.CacheVersions(); repo != nil {
		versions, err = services.NewCacheVersionService(services.CacheVersionServiceDeps{Repository: repo})
		if err != nil {
			return err
		}
	}

	metrics, err := services.NewLifecycleMetrics(b.opts.meter)
	if err != nil {
		return fmt.Errorf("lifecycle metrics: %w", err)
	}

	var attachments services.AttachmentLister
	if b.container.Attachments != nil {
		attachments = b.container.Attachments
	}

	orders, err := services.NewOrderLifecycleService(services.OrderLifecycleServiceDeps{
		Orders:        reg.Orders(),
		Services:      reg.OrderServices(),
		MotorInfo:     reg.MotorInfo(),
		History:       reg.History(),
		Users:         reg.Users(),
		Catalog:       catalog,
		UnitOfWork:    reg,
		CacheVersions: versions,
		Notifications: b.container.Notifications,
		Attachments:   attachments,
		Correlator:    services.NewAttachmentCorrelator(b.cfg.History.AttachmentWindow),
		Metrics:       metrics,
		Clock:         b.opts.clock,
		Logger:        observability.ServiceEventLogger(b.logger.Named("orders")),
	})
	if err != nil {
		return err
	}

	b.container.Services = Services{
		Orders:        orders,
		Catalog:       catalog,
		CacheVersions: versions,
	}

	health := reg.Health()
	if health == nil {
		health = b.health
	}
	if health == nil {
		b.logger.Warn("no readiness checks configured; /readyz reports ok unconditionally")
		return nil
	}
	system, err := services.NewSystemService(services.SystemServiceDeps{
		HealthRepository: health,
		Clock:            b.opts.clock,
		Build:            b.opts.build,
		CacheVersions:    versions,
	})
	if err != nil {
		return err
	}
	b.container.Services.System = system
	return nil
}

func (b *builder) buildAuthenticator(ctx context.Context) error {
	verifier := b.opts.verifier
	if verifier == nil {
		var chain auth.ChainVerifier
		if secret := strings.TrimSpace(b.cfg.Security.JWTSecret); secret != "" {
			local, err := auth.NewHS256Verifier(secret, b.cfg.Security.JWTIssuer)
			if err != nil {
				return err
			}
			chain = append(chain, local)
		}
		if strings.TrimSpace(b.cfg.Firebase.ProjectID) != "" {
			firebase, err := auth.NewFirebaseVerifier(ctx, b.cfg.Firebase)
			if err != nil {
				return err
			}
			chain = append(chain, firebase)
		}
		switch len(chain) {
		case 0:
			return errors.New("no token verifier configured")
		case 1:
			verifier = chain[0]
		default:
			verifier = chain
		}
	}
	b.container.Authenticator = auth.NewAuthenticator(verifier)
	return nil
}

func (b *builder) buildIdempotency(context.Context) error {
	switch {
	case b.redis != nil:
		store, err := idempotency.NewRedisStore(b.redis, b.cfg.Redis.KeyPrefix+idempotencyKeyPrefix)
		if err != nil {
			return err
		}
		b.container.Idempotency = store
	case b.provider != nil && b.cfg.Persistence.Backend == config.PersistenceFirestore:
		b.container.Idempotency = idempotency.NewFirestoreStore(b.provider)
	default:
		b.container.Idempotency = idempotency.NewMemoryStore()
	}
	return nil
}
