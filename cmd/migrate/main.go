// Command migrate applies the SQL schema and loads the service catalog seed.
package main

import (
	"bytes"
	"context"
	_ "embed"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/platform/config"
	pfirestore "github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/platform/firestore"
	"github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/platform/observability"
	"github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/platform/secrets"
	"github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/platform/sqlstore"
	"github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/repositories"
	firestorerepo "github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/repositories/firestore"
	"github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/repositories/sqlrepo"
)

//go:embed catalog.yaml
var defaultCatalog []byte

func main() {
	seedPath := flag.String("seed", "", "seed file to load instead of the built-in catalog")
	skipSeed := flag.Bool("skip-seed", false, "apply the schema only")
	timeout := flag.Duration("timeout", 2*time.Minute, "overall deadline")
	flag.Parse()

	envValues, err := config.EnvironmentValues()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read environment values: %v\n", err)
		os.Exit(1)
	}
	baseLogger, err := observability.NewLogger(envValues["LUMA_LOG_LEVEL"], envValues["LUMA_SECURITY_ENVIRONMENT"])
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()
	logger := baseLogger.Named("migrate")

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := run(ctx, logger, envValues, *seedPath, *skipSeed); err != nil {
		logger.Error("migration failed", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("migration completed")
}

func run(ctx context.Context, logger *zap.Logger, env map[string]string, seedPath string, skipSeed bool) error {
	fetcher, err := secrets.NewFetcher(ctx,
		secrets.WithEnvironment(strings.ToLower(strings.TrimSpace(env["LUMA_SECURITY_ENVIRONMENT"]))),
		secrets.WithDefaultProject(strings.TrimSpace(env["LUMA_FIREBASE_PROJECT_ID"])),
		secrets.WithLogger(logger.Named("secrets")),
	)
	if err != nil {
		return fmt.Errorf("secret fetcher: %w", err)
	}
	defer func() {
		_ = fetcher.Close()
	}()

	cfg, err := config.Load(ctx, config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)))
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	var seed Seed
	if !skipSeed {
		seed, err = loadSeed(seedPath)
		if err != nil {
			return err
		}
	}

	reg, err := openRegistry(ctx, logger, cfg)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := reg.Close(closeCtx); err != nil {
			logger.Warn("registry close error", zap.Error(err))
		}
	}()

	if skipSeed {
		return nil
	}
	if err := seed.Apply(ctx, reg); err != nil {
		return err
	}
	logger.Info("seed applied",
		zap.Int("services", len(seed.Services)),
		zap.Int("users", len(seed.Users)),
	)
	return nil
}

func loadSeed(path string) (Seed, error) {
	var r io.Reader = bytes.NewReader(defaultCatalog)
	if path = strings.TrimSpace(path); path != "" {
		f, err := os.Open(path)
		if err != nil {
			return Seed{}, fmt.Errorf("open seed: %w", err)
		}
		defer f.Close()
		r = f
	}
	return ParseSeed(r)
}

// openRegistry migrates the SQL schema when needed. Firestore is schemaless.
func openRegistry(ctx context.Context, logger *zap.Logger, cfg config.Config) (repositories.Registry, error) {
	switch cfg.Persistence.Backend {
	case config.PersistenceSQL:
		db, err := sqlstore.Open(cfg.Database, logger.Named("sql"))
		if err != nil {
			return nil, err
		}
		if err := sqlrepo.Migrate(ctx, db); err != nil {
			_ = sqlstore.Close(db)
			return nil, fmt.Errorf("migrate schema: %w", err)
		}
		logger.Info("schema migrated", zap.String("driver", cfg.Database.Driver))
		reg, err := sqlrepo.NewRegistry(db)
		if err != nil {
			_ = sqlstore.Close(db)
			return nil, err
		}
		return reg, nil
	case config.PersistenceFirestore:
		provider := pfirestore.NewProvider(cfg.Firestore)
		reg, err := firestorerepo.NewRegistry(provider)
		if err != nil {
			_ = provider.Close(ctx)
			return nil, err
		}
		return reg, nil
	default:
		return nil, fmt.Errorf("unsupported persistence backend %q", cfg.Persistence.Backend)
	}
}
