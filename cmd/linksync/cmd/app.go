package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.pilab.hu/linksync/config"
	"go.pilab.hu/linksync/domain"
	"go.pilab.hu/linksync/eventbus"
	"go.pilab.hu/linksync/internal/metrics"
	"go.pilab.hu/linksync/internal/server"
	"go.pilab.hu/linksync/listeners"
	"go.pilab.hu/linksync/log"
	"go.pilab.hu/linksync/memory"
	"go.pilab.hu/linksync/mongodb"
	"go.pilab.hu/linksync/services"
)

// app is the wired service graph shared by the serve and merge commands.
type app struct {
	cfg    *config.Config
	logger log.Logger

	bus         *eventbus.InProcessBus
	bridge      *eventbus.RedisBridge
	redis       *redis.Client
	agencies    *services.AgencyService
	links       *services.ConnectionLinkService
	results     *services.ConnectionResultService
	linkMerge   *services.ConnectionLinkMergeService
	agencyMerge *services.AgencyMergeService
	reconciler  *listeners.Reconciler
	health      server.HealthCheck

	closers []func(ctx context.Context)
}

type repositories struct {
	agencies domain.AgencyRepository
	links    domain.ConnectionLinkRepository
	results  domain.ConnectionResultRepository
	users    domain.UserDirectory
	tx       domain.Transactor
	health   server.HealthCheck
}

func openRepositories(ctx context.Context, cfg *config.Config, logger log.Logger) (*repositories, func(context.Context), error) {
	switch cfg.StorageBackend {
	case config.StorageMemory:
		logger.Warn(ctx, "Using in-memory storage, data is lost on exit", nil)
		store := memory.NewStore()
		return &repositories{
			agencies: store,
			links:    store,
			results:  store,
			users:    store,
			tx:       store,
			health:   func(context.Context) error { return nil },
		}, func(context.Context) {}, nil

	case config.StorageMongoDB:
		if err := mongodb.InitMongoDB(ctx, cfg.MongoURI, cfg.MongoDBName); err != nil {
			return nil, nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
		}
		db := mongodb.GetDB()

		agencyRepo, err := mongodb.NewAgencyRepositoryMongo(ctx, db)
		if err != nil {
			mongodb.CloseMongoDB(ctx)
			return nil, nil, fmt.Errorf("failed to create agency repository: %w", err)
		}
		linkRepo, err := mongodb.NewConnectionLinkRepositoryMongo(ctx, db)
		if err != nil {
			mongodb.CloseMongoDB(ctx)
			return nil, nil, fmt.Errorf("failed to create connection link repository: %w", err)
		}
		resultRepo, err := mongodb.NewConnectionResultRepositoryMongo(ctx, db)
		if err != nil {
			mongodb.CloseMongoDB(ctx)
			return nil, nil, fmt.Errorf("failed to create connection result repository: %w", err)
		}
		logger.Info(ctx, "Connected to MongoDB", map[string]interface{}{"database": cfg.MongoDBName})

		return &repositories{
			agencies: agencyRepo,
			links:    linkRepo,
			results:  resultRepo,
			users:    mongodb.NewUserDirectoryMongo(db),
			tx:       mongodb.NewTransactor(mongodb.GetClient()),
			health:   mongodb.Ping,
		}, mongodb.CloseMongoDB, nil
	}
	return nil, nil, fmt.Errorf("unknown storage_backend %q", cfg.StorageBackend)
}

// newApp wires storage, the event bus, the services and the reconciler.
// Handlers are not subscribed until start is called.
func newApp(ctx context.Context, cfg *config.Config, logger log.Logger, reg prometheus.Registerer) (*app, error) {
	if reg != nil {
		metrics.InitCustomMetrics(reg)
	}

	repos, closeRepos, err := openRepositories(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, health: repos.health}
	a.closers = append(a.closers, closeRepos)

	a.bus = eventbus.NewInProcessBus(logger)
	if cfg.RedisAddr != "" {
		a.redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			a.close(ctx)
			return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.RedisAddr, err)
		}
		a.bridge = eventbus.NewRedisBridge(a.redis, cfg.RedisChannelPrefix, logger)
		a.closers = append(a.closers, func(ctx context.Context) {
			a.bridge.Detach()
			if err := a.redis.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
				logger.Warn(ctx, "Failed to close Redis client", map[string]interface{}{"error": err.Error()})
			}
		})
	}

	a.agencies = services.NewAgencyService(repos.agencies, a.bus, logger)
	a.links = services.NewConnectionLinkService(repos.links, repos.agencies, logger, cfg.DefaultLinkCacheTTL)
	a.closers = append(a.closers, func(context.Context) { a.links.Close() })
	a.results = services.NewConnectionResultService(repos.results, logger)
	a.linkMerge = services.NewConnectionLinkMergeService(repos.links, repos.tx, a.links, logger)
	a.agencyMerge = services.NewAgencyMergeService(repos.agencies, repos.results, repos.tx, a.linkMerge, a.bus, logger)

	a.reconciler = listeners.NewReconciler(listeners.Config{
		Agencies:    a.agencies,
		Links:       a.links,
		LinkMerge:   a.linkMerge,
		AgencyMerge: a.agencyMerge,
		Users:       repos.users,
		Bus:         a.bus,
		Logger:      logger,
	})
	return a, nil
}

// start subscribes the reconciler and, when configured, the Redis bridge.
func (a *app) start() {
	a.reconciler.Register()
	if a.bridge != nil {
		a.bridge.Attach(a.bus, eventbus.PublishedTopics...)
	}
}

// close releases resources in reverse order of acquisition.
func (a *app) close(ctx context.Context) {
	if a.reconciler != nil {
		a.reconciler.Close()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i](ctx)
	}
	a.closers = nil
}

func (a *app) opsAPI(gatherer prometheus.Gatherer) *server.OpsAPI {
	return server.NewOpsAPI(server.Deps{
		Agencies:    a.agencies,
		Links:       a.links,
		Results:     a.results,
		AgencyMerge: a.agencyMerge,
		LinkMerge:   a.linkMerge,
		Gatherer:    gatherer,
		Health:      a.health,
		Logger:      a.logger,
	})
}
