package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"

	"github.com/Alijeyrad/keystone_backend/config"
	"github.com/Alijeyrad/keystone_backend/internal/events"
	"github.com/Alijeyrad/keystone_backend/pkg/email"
	"github.com/Alijeyrad/keystone_backend/pkg/observability"
)

// WorkerModule registers the NATS event workers and the metrics endpoint.
var WorkerModule = fx.Module("workers",
	fx.Provide(ProvideWorkers),
	fx.Invoke(RegisterWorkers),
	fx.Invoke(RegisterMetricsServer),
)

func ProvideWorkers(mailer *email.Client, cfg *config.Config, log *slog.Logger) *events.Workers {
	return events.NewWorkers(mailer, events.WorkerOptions{
		Prefix:      cfg.Nats.SubjectPrefix,
		AppName:     mailer.AppName(),
		SendTimeout: time.Duration(cfg.Email.SMTP.TimeoutSeconds) * time.Second,
		Logger:      log,
	})
}

type WorkerParams struct {
	fx.In

	Lc      fx.Lifecycle
	NC      *nats.Conn
	Workers *events.Workers
}

func RegisterWorkers(p WorkerParams) {
	p.Lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return p.Workers.Start(p.NC)
		},
		// Subscriptions end with the connection drain in ProvideNatsClient.
	})
}

type MetricsParams struct {
	fx.In

	Lc       fx.Lifecycle
	Cfg      *config.Config
	NC       *nats.Conn              `optional:"true"`
	Provider *observability.Provider `optional:"true"`
}

// RegisterMetricsServer exposes metrics and health checks on their own
// listener. Without an otel provider only the default Go collectors are
// served.
func RegisterMetricsServer(p MetricsParams) {
	m := p.Cfg.Observability.Metrics
	if !m.Enabled || m.ListenAddr == "" {
		return
	}

	path := m.Path
	if path == "" {
		path = "/metrics"
	}
	handler := promhttp.Handler()
	if p.Provider != nil {
		handler = p.Provider.MetricsHandler()
	}
	ready := func() bool { return p.NC != nil && p.NC.IsConnected() }
	app := newMetricsApp(path, handler, ready)

	p.Lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := app.Listen(m.ListenAddr, fiber.ListenConfig{DisableStartupMessage: true}); err != nil {
					slog.Error("metrics server stopped", "err", err)
				}
			}()
			slog.Info("metrics server listening", "addr", m.ListenAddr, "path", path)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return app.ShutdownWithContext(ctx)
		},
	})
}

// newMetricsApp serves the metrics handler at path next to the liveness,
// readiness and startup checks. Readiness follows ready.
func newMetricsApp(path string, metrics http.Handler, ready func() bool) *fiber.App {
	app := fiber.New()
	app.Get(healthcheck.LivenessEndpoint, healthcheck.New())
	app.Get(healthcheck.ReadinessEndpoint, healthcheck.New(healthcheck.Config{
		Probe: func(c fiber.Ctx) bool { return ready() },
	}))
	app.Get(healthcheck.StartupEndpoint, healthcheck.New())
	app.Get(path, adaptor.HTTPHandler(metrics))
	return app
}
