package di

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	domain "github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/domain"
	"github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/platform/config"
	"github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/platform/idempotency"
	"github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/platform/jobs"
	"github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/platform/sqlstore"
	"github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/repositories/sqlrepo"
	"github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/services"
)

func sqliteConfig() config.Config {
	return config.Config{
		Server:      config.ServerConfig{Port: "8080"},
		Persistence: config.PersistenceConfig{Backend: config.PersistenceSQL},
		Database:    config.DatabaseConfig{Driver: "sqlite", DSN: "file::memory:"},
		Cache:       config.CacheConfig{Backend: config.CacheMemory},
		Storage:     config.StorageConfig{Backend: config.StorageNone},
		History:     config.HistoryConfig{AttachmentWindow: 2 * time.Minute},
		Security:    config.SecurityConfig{Environment: "test", JWTSecret: "test-secret", JWTIssuer: "lumasachi"},
		Idempotency: config.IdempotencyConfig{Header: "Idempotency-Key", TTL: time.Hour},
	}
}

func TestNewContainerWiresSQLiteStack(t *testing.T) {
	ctx := context.Background()
	c, err := NewContainer(ctx, sqliteConfig(),
		WithAutoMigrate(),
		WithBuildInfo(services.BuildInfo{Version: "1.2.3", Environment: "test"}),
		WithClock(func() time.Time { return time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC) }),
	)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, c.Close(context.Background())) })

	require.NotNil(t, c.Services.Orders)
	require.NotNil(t, c.Services.Catalog)
	require.NotNil(t, c.Services.CacheVersions)
	require.NotNil(t, c.Services.System)
	require.NotNil(t, c.Authenticator)
	require.Nil(t, c.Attachments)
	require.IsType(t, &jobs.LogNotificationSink{}, c.Notifications)
	require.IsType(t, &idempotency.MemoryStore{}, c.Idempotency)

	report, err := c.Services.System.HealthReport(ctx)
	require.NoError(t, err)
	require.Equal(t, domain.HealthStatusOK, report.Status)
	require.Contains(t, report.Checks, "database")
	require.Equal(t, "1.2.3", report.Version)

	actor := "emp_1"
	order, err := c.Services.Orders.CreateOrderWithMotorItems(ctx, services.CreateOrderCommand{
		CustomerID: "cus_1",
		Title:      "Block boring",
		Items:      []services.CreateOrderItemInput{{ItemType: "engine_block"}},
		Actor:      &actor,
	})
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusReceived, order.Status)

	version, err := c.Services.CacheVersions.CurrentVersion(ctx, services.CacheNamespaceOrders)
	require.NoError(t, err)
	require.Equal(t, int64(1), version)
}

func TestNewContainerUsesSuppliedRegistry(t *testing.T) {
	ctx := context.Background()
	db, err := sqlstore.Open(config.DatabaseConfig{Driver: "sqlite", DSN: "file::memory:"}, nil)
	require.NoError(t, err)
	require.NoError(t, sqlrepo.Migrate(ctx, db))
	reg, err := sqlrepo.NewRegistry(db)
	require.NoError(t, err)

	cfg := sqliteConfig()
	cfg.Cache.Backend = config.CacheSQL
	c, err := NewContainer(ctx, cfg, WithRegistry(reg))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, c.Close(context.Background())) })

	require.Same(t, reg, c.Repositories)
	// No probes were registered, so readiness has nothing to report.
	require.Nil(t, c.Services.System)
}

func TestNewContainerRejectsUnknownBackends(t *testing.T) {
	cfg := sqliteConfig()
	cfg.Persistence.Backend = "mongo"
	_, err := NewContainer(context.Background(), cfg)
	require.ErrorContains(t, err, "unsupported persistence backend")

	cfg = sqliteConfig()
	cfg.Storage.Backend = "ftp"
	_, err = NewContainer(context.Background(), cfg)
	require.ErrorContains(t, err, "unsupported storage backend")
}

func TestNewContainerRequiresVerifier(t *testing.T) {
	cfg := sqliteConfig()
	cfg.Security.JWTSecret = ""
	_, err := NewContainer(context.Background(), cfg)
	require.ErrorContains(t, err, "no token verifier configured")
}
