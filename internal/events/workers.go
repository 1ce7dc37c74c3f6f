package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/Alijeyrad/keystone_backend/internal/scheduler"
	"github.com/Alijeyrad/keystone_backend/internal/signing"
	"github.com/Alijeyrad/keystone_backend/pkg/email"
)

// Mailer sends a single message.
type Mailer interface {
	Send(ctx context.Context, m email.Message) error
}

type WorkerOptions struct {
	Prefix      string
	AppName     string
	SendTimeout time.Duration
	Logger      *slog.Logger
}

// Workers subscribes to the event subjects. Appointment events are logged
// and counted; signed leases are mailed to the signer.
type Workers struct {
	prefix  string
	appName string
	timeout time.Duration
	mailer  Mailer
	log     *slog.Logger
	counted metric.Int64Counter
	subs    []*nats.Subscription
}

func NewWorkers(mailer Mailer, opts WorkerOptions) *Workers {
	if opts.Prefix == "" {
		opts.Prefix = "keystone"
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	log := opts.Logger.With(slog.String("component", "workers"))

	counted, err := otel.Meter("github.com/Alijeyrad/keystone_backend/internal/events").
		Int64Counter("events.appointments", metric.WithDescription("Appointment events consumed, by type"))
	if err != nil {
		log.Warn("worker: create counter failed", slog.Any("err", err))
		counted = noop.Int64Counter{}
	}

	return &Workers{
		prefix:  opts.Prefix,
		appName: opts.AppName,
		timeout: opts.SendTimeout,
		mailer:  mailer,
		log:     log,
		counted: counted,
	}
}

// Start subscribes every handler on nc. Subscriptions end when the
// connection drains.
func (w *Workers) Start(nc *nats.Conn) error {
	subjects := map[string]nats.MsgHandler{
		Subject(w.prefix, "appointment", "*", "*"):       w.HandleAppointment,
		Subject(w.prefix, signing.EventLeaseSigned, "*"): w.HandleLeaseSigned,
	}
	for subject, h := range subjects {
		sub, err := nc.Subscribe(subject, h)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", subject, err)
		}
		w.subs = append(w.subs, sub)
	}
	w.log.Info("worker: started", slog.Int("subscriptions", len(w.subs)))
	return nil
}

func (w *Workers) HandleAppointment(msg *nats.Msg) {
	var e scheduler.Event
	if err := json.Unmarshal(msg.Data, &e); err != nil {
		w.log.Warn("worker: undecodable appointment event", slog.String("subject", msg.Subject), slog.Any("err", err))
		return
	}
	ctx := context.Background()
	w.counted.Add(ctx, 1, metric.WithAttributes(attribute.String("type", string(e.Type))))
	w.log.InfoContext(ctx, "worker: appointment event",
		slog.String("type", string(e.Type)),
		slog.String("appointment_id", e.Appointment.ID.String()),
		slog.String("provider_id", e.Appointment.ProviderID.String()),
		slog.Time("start_time", e.Appointment.StartTime),
	)
}

func (w *Workers) HandleLeaseSigned(msg *nats.Msg) {
	var e signing.SignedEvent
	if err := json.Unmarshal(msg.Data, &e); err != nil {
		w.log.Warn("worker: undecodable lease event", slog.String("subject", msg.Subject), slog.Any("err", err))
		return
	}
	if e.SignerEmail == "" {
		w.log.Debug("worker: signer has no email", slog.String("lease_id", e.LeaseID.String()))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	err := w.mailer.Send(ctx, email.BuildLeaseSignedEmail(email.LeaseSignedData{
		AppName:       w.appName,
		SignerName:    e.SignerName,
		SignerEmail:   e.SignerEmail,
		Role:          string(e.Role),
		LeaseID:       e.LeaseID.String(),
		SignedPDFURL:  e.SignedPDFURL,
		DocumentHash:  e.DocumentHash,
		SignedAt:      e.SignedAt,
		FullyExecuted: e.FullyExecuted,
	}))
	switch {
	case err == nil:
		w.log.Info("worker: lease signed mail sent", slog.String("lease_id", e.LeaseID.String()), slog.String("role", string(e.Role)))
	case errors.As(err, &email.ErrDisabled{}):
		w.log.Debug("worker: email disabled, skipping lease mail", slog.String("lease_id", e.LeaseID.String()))
	default:
		w.log.Warn("worker: lease signed mail failed", slog.String("lease_id", e.LeaseID.String()), slog.Any("err", err))
	}
}
