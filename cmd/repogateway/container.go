package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/redis/go-redis/v9"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/dig"

	"github.com/greg-hellings/repogateway/pkg/cache"
	"github.com/greg-hellings/repogateway/pkg/config"
	"github.com/greg-hellings/repogateway/pkg/credentials"
	"github.com/greg-hellings/repogateway/pkg/gateway"
	"github.com/greg-hellings/repogateway/pkg/identity"
	"github.com/greg-hellings/repogateway/pkg/logging"
	"github.com/greg-hellings/repogateway/pkg/options"
	"github.com/greg-hellings/repogateway/pkg/postgres"
	"github.com/greg-hellings/repogateway/pkg/registry"
	"github.com/greg-hellings/repogateway/pkg/repository"
)

// errNoSecret is returned by commands that need the credential store when no
// encryption secret is configured.
var errNoSecret = errors.New("no credential secret configured: set REPOGW_SECRET or secret in the config file")

// cleanup collects close functions run after a command finishes.
type cleanup struct {
	fns []func()
}

func (c *cleanup) add(fn func()) { c.fns = append(c.fns, fn) }

func (c *cleanup) run() {
	for i := len(c.fns) - 1; i >= 0; i-- {
		c.fns[i]()
	}
	c.fns = nil
}

// storage bundles the option and registry backends selected by storage.driver.
type storage struct {
	options  options.Store
	registry registry.Store
}

// app is what most commands need.
type app struct {
	dig.In

	Config   *config.Config
	Logger   *slog.Logger
	Gateway  *gateway.Gateway
	Identity identity.Resolver
}

// newContainer registers every provider. Nothing is constructed until a
// command invokes something that needs it.
func newContainer(ctx context.Context, g *globals, cl *cleanup) (*dig.Container, error) {
	container := dig.New()
	providers := []any{
		func() context.Context { return ctx },
		func() *globals { return g },
		func() *cleanup { return cl },
		loadConfig,
		newLogger,
		newStorage,
		func(s *storage) options.Store { return s.options },
		func(s *storage) registry.Store { return s.registry },
		newCache,
		registry.New,
		newCredentialStore,
		newCredentialSource,
		newAdapterFactory,
		newTelemetry,
		newGateway,
		newIdentity,
	}
	for _, p := range providers {
		if err := container.Provide(p); err != nil {
			return nil, fmt.Errorf("register provider: %w", err)
		}
	}
	return container, nil
}

// loadConfig reads --config, or the default path when it exists.
func loadConfig(g *globals) (*config.Config, error) {
	path := g.configPath
	if path == "" {
		if _, err := os.Stat(config.DefaultPath()); err == nil {
			path = config.DefaultPath()
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func newLogger(g *globals, cfg *config.Config) *slog.Logger {
	logger := logging.New(logging.LevelFromFlags(g.verbose, g.debug, cfg.Log.Level), cfg.Log.Format, g.stderr)
	slog.SetDefault(logger)
	logger.Debug("Logging initialized", "storage", cfg.Storage.Driver, "cache", cfg.Cache.Driver)
	return logger
}

func newStorage(ctx context.Context, cfg *config.Config, cl *cleanup, logger *slog.Logger) (*storage, error) {
	switch cfg.Storage.Driver {
	case "memory":
		return &storage{options: options.NewMemoryStore(), registry: registry.NewMemoryStore()}, nil
	case "postgres":
		pool, err := postgres.Open(ctx, cfg.Storage.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		cl.add(pool.Close)
		return &storage{options: options.NewPostgresStore(pool), registry: registry.NewPostgresStore(pool)}, nil
	}

	if err := os.MkdirAll(cfg.Storage.Path, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	opts, err := options.OpenFileStore(filepath.Join(cfg.Storage.Path, "options.yaml"))
	if err != nil {
		return nil, err
	}
	repos, err := registry.OpenFileStore(filepath.Join(cfg.Storage.Path, "repositories.yaml"))
	if err != nil {
		return nil, err
	}
	logger.Debug("Opened file storage", "path", cfg.Storage.Path)
	return &storage{options: opts, registry: repos}, nil
}

func newCache(cfg *config.Config, cl *cleanup, logger *slog.Logger) cache.Cache {
	switch cfg.Cache.Driver {
	case "redis":
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Cache.RedisAddr, DB: cfg.Cache.RedisDB})
		cl.add(func() { _ = rdb.Close() })
		return cache.NewRedisCache(rdb, logger)
	case "none":
		return cache.Nop{}
	}
	return cache.NewMemoryCache()
}

func newCredentialStore(cfg *config.Config, opts options.Store, logger *slog.Logger) (*credentials.Store, error) {
	if cfg.Secret == "" {
		return nil, errNoSecret
	}
	return credentials.NewStore(opts, cfg.Secret, logger)
}

// newCredentialSource layers the environment over the encrypted store. Without
// a secret only environment credentials are available.
func newCredentialSource(cfg *config.Config, opts options.Store, logger *slog.Logger) (credentials.Source, error) {
	if cfg.Secret == "" {
		logger.Debug("No credential secret configured; using environment credentials only")
		return credentials.NewEnvSource(nil), nil
	}
	store, err := credentials.NewStore(opts, cfg.Secret, logger)
	if err != nil {
		return nil, err
	}
	return credentials.NewEnvSource(store), nil
}

func newAdapterFactory(cfg *config.Config, logger *slog.Logger) *repository.Factory {
	retry := repository.DefaultRetryPolicy()
	retry.MaxAttempts = cfg.HTTP.Retries() + 1
	retry.Logger = logger
	return repository.NewFactory(repository.FactoryOptions{
		Timeout:  cfg.HTTP.Timeout.Duration,
		BaseURLs: cfg.BaseURLs(),
		Retry:    retry,
	})
}

func newGateway(reg *registry.Registry, src credentials.Source, factory *repository.Factory, c cache.Cache, cfg *config.Config, logger *slog.Logger, tel *telemetry) *gateway.Gateway {
	return gateway.New(reg, src, factory, c, gateway.Options{
		CacheTTL:      cfg.Cache.TTL.Duration,
		Logger:        logger,
		MeterProvider: tel.provider,
	})
}

// newIdentity resolves the owner from --owner, then owner_id, then the OS user.
func newIdentity(g *globals, cfg *config.Config) identity.Resolver {
	return identity.Chain{identity.Static(g.owner), identity.Static(cfg.OwnerID), identity.OSUser{}}
}

// telemetry keeps the command's metrics in memory so they can be logged at
// debug level when the command ends.
type telemetry struct {
	reader   *sdkmetric.ManualReader
	provider *sdkmetric.MeterProvider
}

func newTelemetry(cl *cleanup) *telemetry {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	cl.add(func() { _ = provider.Shutdown(context.Background()) })
	return &telemetry{reader: reader, provider: provider}
}
