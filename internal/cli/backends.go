package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/raphaelgruber/livability/internal/cache"
	"github.com/raphaelgruber/livability/internal/config"
	"github.com/raphaelgruber/livability/internal/db"
	"github.com/raphaelgruber/livability/internal/events"
	"github.com/raphaelgruber/livability/internal/metrics"
	"github.com/raphaelgruber/livability/internal/pgstore"
	"github.com/raphaelgruber/livability/internal/service"
	"github.com/raphaelgruber/livability/internal/sources"
)

// backends opens stores, caches and upstream clients on first use so that
// commands only connect to what they need.
type backends struct {
	cfg       config.Config
	logger    *slog.Logger
	collector *metrics.Collector

	surreal   *db.Client
	pg        *pgstore.Store
	jobStore  service.JobStore
	nbStore   service.NeighborhoodStore
	redis     *cache.Redis
	publisher *events.Publisher
	clients   *sources.Clients
	reports   *service.ContextReportService
}

func newBackends(cfg config.Config, logger *slog.Logger) *backends {
	return &backends{cfg: cfg, logger: logger, collector: metrics.NewCollector()}
}

// stores connects to the configured job and neighborhood store and
// initializes its schema.
func (b *backends) stores(ctx context.Context) (service.JobStore, service.NeighborhoodStore, error) {
	if b.jobStore != nil {
		return b.jobStore, b.nbStore, nil
	}

	switch b.cfg.Store {
	case config.StorePostgres:
		store, err := pgstore.Open(ctx, b.cfg.DatabaseURL, b.logger)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to postgres: %w", err)
		}
		if err := store.Migrate(ctx); err != nil {
			store.Close()
			return nil, nil, fmt.Errorf("migrate postgres: %w", err)
		}
		b.pg = store
		b.jobStore, b.nbStore = store.Jobs(), store.Neighborhoods()
	default:
		client, err := db.NewClient(ctx, db.Config{
			URL:       b.cfg.SurrealDBURL,
			Namespace: b.cfg.SurrealDBNamespace,
			Database:  b.cfg.SurrealDBDatabase,
			Username:  b.cfg.SurrealDBUser,
			Password:  b.cfg.SurrealDBPass,
			AuthLevel: b.cfg.SurrealDBAuthLevel,
		}, b.logger)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to database: %w", err)
		}
		if err := client.InitSchema(ctx); err != nil {
			_ = client.Close(ctx)
			return nil, nil, fmt.Errorf("initialize schema: %w", err)
		}
		b.surreal = client
		b.jobStore, b.nbStore = db.NewJobStore(client), db.NewNeighborhoodStore(client)
	}
	return b.jobStore, b.nbStore, nil
}

// jobEvents connects to NATS when NATS_URL is set. A failed connection is
// logged and job events are disabled.
func (b *backends) jobEvents() *events.Publisher {
	if b.publisher != nil || b.cfg.NATSURL == "" {
		return b.publisher
	}
	pub, err := events.Connect(events.Config{URL: b.cfg.NATSURL, Name: "livability"}, b.logger)
	if err != nil {
		b.logger.Warn("job events disabled", "error", err)
		return nil
	}
	b.publisher = pub
	return pub
}

func (b *backends) notifier() service.JobNotifier {
	if pub := b.jobEvents(); pub != nil {
		return pub
	}
	return nil
}

func (b *backends) sourceClients() *sources.Clients {
	if b.clients == nil {
		b.clients = sources.NewClients(sources.Endpoints{
			PDOK:         b.cfg.PDOKURL,
			CBS:          b.cfg.CBSURL,
			CBSGeo:       b.cfg.CBSGeoURL,
			Overpass:     b.cfg.OverpassURL,
			Luchtmeetnet: b.cfg.LuchtmeetnetURL,
			Timeout:      b.cfg.SourceTimeout,
		}, b.logger)
	}
	return b.clients
}

func (b *backends) reportCache(ctx context.Context) (cache.ReportCache, error) {
	if b.cfg.Cache == config.CacheRedis {
		if b.redis == nil {
			r, err := cache.NewRedis(ctx, b.cfg.RedisURL)
			if err != nil {
				return nil, fmt.Errorf("connect to redis: %w", err)
			}
			b.redis = r
		}
		return b.redis, nil
	}
	return cache.NewMemory(b.cfg.CacheSize, b.cfg.CacheTTL), nil
}

func (b *backends) reportService(ctx context.Context) (*service.ContextReportService, error) {
	if b.reports != nil {
		return b.reports, nil
	}

	weights, err := config.LoadWeights(b.cfg.WeightsFile)
	if err != nil {
		return nil, err
	}
	reportCache, err := b.reportCache(ctx)
	if err != nil {
		return nil, err
	}

	clients := b.sourceClients()
	attribution := sources.ResolverAttribution
	b.reports = service.NewContextReportService(clients.Resolver, clients.Registry, reportCache, service.ReportConfig{
		Weights:             weights,
		CacheTTL:            b.cfg.CacheTTL,
		DegradedTTL:         b.cfg.CacheDegradedTTL,
		ResolverAttribution: &attribution,
	}, b.logger, b.collector)
	return b.reports, nil
}

func (b *backends) jobService(ctx context.Context) (*service.BatchJobService, error) {
	jobs, _, err := b.stores(ctx)
	if err != nil {
		return nil, err
	}
	return service.NewBatchJobService(jobs, b.notifier(), b.logger), nil
}

func (b *backends) executor(ctx context.Context) (*service.BatchJobExecutor, error) {
	jobs, neighborhoods, err := b.stores(ctx)
	if err != nil {
		return nil, err
	}
	reports, err := b.reportService(ctx)
	if err != nil {
		return nil, err
	}
	jobSvc, err := b.jobService(ctx)
	if err != nil {
		return nil, err
	}

	geo := b.sourceClients().Geo
	processors := []service.JobProcessor{
		service.NewCityIngestionProcessor(geo, reports, neighborhoods, 0, b.logger, b.collector),
		service.NewAllCitiesIngestionProcessor(geo, jobSvc),
	}
	return service.NewBatchJobExecutor(jobs, processors, b.notifier(), service.ExecutorConfig{
		LeaseTimeout: b.cfg.JobLease,
	}, b.logger, b.collector), nil
}

// Close releases every opened backend.
func (b *backends) Close(ctx context.Context) {
	if b.publisher != nil {
		b.publisher.Close()
	}
	if b.redis != nil {
		if err := b.redis.Close(); err != nil {
			b.logger.Warn("close redis", "error", err)
		}
	}
	if b.pg != nil {
		b.pg.Close()
	}
	if b.surreal != nil {
		if err := b.surreal.Close(ctx); err != nil {
			b.logger.Warn("close database", "error", err)
		}
	}
}
