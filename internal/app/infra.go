package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/nats-io/nats.go"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"

	"github.com/Alijeyrad/keystone_backend/config"
	"github.com/Alijeyrad/keystone_backend/internal/store/postgres"
	"github.com/Alijeyrad/keystone_backend/pkg/blob"
	"github.com/Alijeyrad/keystone_backend/pkg/database"
	"github.com/Alijeyrad/keystone_backend/pkg/email"
	"github.com/Alijeyrad/keystone_backend/pkg/observability"
	redispkg "github.com/Alijeyrad/keystone_backend/pkg/redis"
	s3pkg "github.com/Alijeyrad/keystone_backend/pkg/s3"
)

// InfraModule provides all infrastructure dependencies.
var InfraModule = fx.Module("infra",
	fx.Provide(ProvideLogger),
	fx.Provide(ProvideDB),
	fx.Provide(ProvideStore),
	fx.Provide(ProvideRedis),
	fx.Provide(ProvideBlobStore),
	fx.Provide(ProvideEmailClient),
	fx.Provide(ProvideNatsClient),
	fx.Provide(ProvideOTel),
)

// ProvideLogger hands out the logger installed by the command before fx
// started.
func ProvideLogger() *slog.Logger {
	return slog.Default()
}

func ProvideDB(lc fx.Lifecycle, cfg *config.Config, log *slog.Logger) (*sqlx.DB, error) {
	if cfg.Database.Migrations.AutoMigrate {
		mg, err := database.OpenMigrator(cfg.Database, log)
		if err != nil {
			return nil, err
		}
		err = mg.Up()
		if closeErr := mg.Close(); closeErr != nil {
			log.Warn("closing migration connection failed", slog.Any("err", closeErr))
		}
		if err != nil {
			return nil, err
		}
	}

	db, err := database.NewSQLX(cfg.Database)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			slog.Debug("closing main database connection")
			return db.Close()
		},
	})
	return db, nil
}

func ProvideStore(db *sqlx.DB, cfg *config.Config, log *slog.Logger) *postgres.Store {
	return postgres.New(db, postgres.Options{
		SerializationRetries: cfg.Database.Migrations.SerializationRetries,
		Logger:               log,
	})
}

// ProvideRedis returns nil when redis is disabled; availability reads then
// go straight to Postgres.
func ProvideRedis(lc fx.Lifecycle, cfg *config.Config) (*goredis.Client, error) {
	if !cfg.Redis.Enabled {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rdb, err := redispkg.NewRedis(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			slog.Debug("closing Redis connection")
			return rdb.Close()
		},
	})
	return rdb, nil
}

func ProvideBlobStore(cfg *config.Config) (blob.Store, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s3pkg.New(ctx, cfg.S3)
}

func ProvideEmailClient(cfg *config.Config) *email.Client {
	return email.NewFromCentral(cfg.Email)
}

func ProvideNatsClient(lc fx.Lifecycle, cfg *config.Config) (*nats.Conn, error) {
	nc, err := nats.Connect(cfg.Nats.URL, nats.Name(cfg.Observability.ServiceName))
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			slog.Debug("draining NATS connection")
			return nc.Drain()
		},
	})
	return nc, nil
}

func ProvideOTel(lc fx.Lifecycle, cfg *config.Config) (*observability.Provider, error) {
	if !cfg.Observability.Enabled {
		return nil, nil
	}
	provider, err := observability.InitTelemetry(context.Background(), observability.Config{
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: cfg.Observability.ServiceVersion,
		Environment:    cfg.Server.Environment,
		OTLPEndpoint:   cfg.Observability.Tracing.OTLPEndpoint,
		OTLPInsecure:   cfg.Observability.Tracing.OTLPInsecure,
		SamplingRate:   cfg.Observability.Tracing.SamplingRate,
	})
	if err != nil {
		return nil, err
	}
	slog.Info("observability initialized",
		"tracing", cfg.Observability.Tracing.Enabled,
		"metrics", cfg.Observability.Metrics.Enabled,
	)
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			slog.Debug("shutting down observability providers")
			return provider.Shutdown(ctx)
		},
	})
	return provider, nil
}
