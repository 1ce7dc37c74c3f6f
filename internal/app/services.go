package app

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"

	"github.com/Alijeyrad/keystone_backend/config"
	"github.com/Alijeyrad/keystone_backend/internal/events"
	"github.com/Alijeyrad/keystone_backend/internal/lease"
	"github.com/Alijeyrad/keystone_backend/internal/pdfdoc"
	"github.com/Alijeyrad/keystone_backend/internal/scheduler"
	"github.com/Alijeyrad/keystone_backend/internal/signing"
	"github.com/Alijeyrad/keystone_backend/internal/store/cache"
	"github.com/Alijeyrad/keystone_backend/internal/store/postgres"
	"github.com/Alijeyrad/keystone_backend/pkg/blob"
)

// ServiceModule provides the scheduling, lease and signing services.
var ServiceModule = fx.Module("services",
	fx.Provide(
		ProvidePublisher,
		ProvideFetcher,
		ProvideSchedulerService,
		ProvideSigningService,
		ProvideLeaseService,
	),
)

func ProvidePublisher(nc *nats.Conn, cfg *config.Config, log *slog.Logger) *events.Publisher {
	return events.NewPublisher(nc, cfg.Nats.SubjectPrefix, log)
}

func ProvideFetcher(cfg *config.Config) *blob.HTTPFetcher {
	return blob.NewHTTPFetcher(cfg.Signing.FetchTimeout(), cfg.Signing.MaxPDFBytes)
}

func ProvideSchedulerService(
	store *postgres.Store,
	rdb *goredis.Client,
	pub *events.Publisher,
	cfg *config.Config,
	log *slog.Logger,
) (scheduler.Service, error) {
	loc, err := time.LoadLocation(cfg.Scheduling.DefaultTimezone)
	if err != nil {
		return nil, fmt.Errorf("load default timezone: %w", err)
	}

	var availability scheduler.AvailabilityRepository = store.Availability()
	if rdb != nil {
		availability = cache.NewAvailability(availability, rdb, cache.Options{
			TTL:       cfg.Scheduling.CacheTTL(),
			KeyPrefix: cfg.Nats.SubjectPrefix,
			InTx:      postgres.InTx,
			Logger:    log,
		})
	}

	return scheduler.New(availability, store.Appointments(), store, pub, scheduler.Options{
		DefaultLocation: loc,
		Logger:          log,
	}), nil
}

func ProvideSigningService(
	store *postgres.Store,
	blobs blob.Store,
	fetcher *blob.HTTPFetcher,
	pub *events.Publisher,
	cfg *config.Config,
	log *slog.Logger,
) signing.Service {
	engine := signing.NewEngine(pdfdoc.NewRenderer(cfg.Signing.MaxPDFBytes), blobs, signing.EngineOptions{
		KeyPrefix:      cfg.Signing.KeyPrefix,
		LegalStatement: cfg.Signing.LegalStatement,
		UploadTimeout:  cfg.Signing.UploadTimeout(),
		Logger:         log,
	})
	return signing.NewService(store.Documents(), engine, blobs, fetcher, pub, signing.ServiceOptions{
		FetchTimeout: cfg.Signing.FetchTimeout(),
		KeyPrefix:    cfg.Signing.KeyPrefix,
		Logger:       log,
	})
}

func ProvideLeaseService(
	store *postgres.Store,
	fetcher *blob.HTTPFetcher,
	documents signing.Service,
	log *slog.Logger,
) lease.Service {
	return lease.New(store.Templates(), store.Assignments(), store, pdfdoc.NewComposer(), fetcher, documents, lease.Options{
		Logger: log,
	})
}
