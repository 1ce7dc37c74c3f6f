// Package events carries scheduler and signing events over NATS and hosts
// the workers that react to them.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/Alijeyrad/keystone_backend/internal/scheduler"
	"github.com/Alijeyrad/keystone_backend/internal/signing"
)

// Conn is the part of *nats.Conn the publisher uses. Publish only buffers;
// it never waits on the server.
type Conn interface {
	Publish(subject string, data []byte) error
}

// Subject joins parts under prefix, e.g. keystone.appointment.created.<id>.
func Subject(prefix string, parts ...string) string {
	return strings.Join(append([]string{prefix}, parts...), ".")
}

// Publisher implements scheduler.Notifier and signing.Publisher. Delivery
// failures are logged and dropped.
type Publisher struct {
	nc     Conn
	prefix string
	log    *slog.Logger
}

var (
	_ scheduler.Notifier = (*Publisher)(nil)
	_ signing.Publisher  = (*Publisher)(nil)
)

func NewPublisher(nc Conn, prefix string, log *slog.Logger) *Publisher {
	if prefix == "" {
		prefix = "keystone"
	}
	if log == nil {
		log = slog.Default()
	}
	return &Publisher{nc: nc, prefix: prefix, log: log.With(slog.String("component", "events"))}
}

func (p *Publisher) Notify(ctx context.Context, e scheduler.Event) {
	p.publish(ctx, Subject(p.prefix, string(e.Type), e.Appointment.ID.String()), e)
}

func (p *Publisher) PublishSigned(ctx context.Context, e signing.SignedEvent) {
	p.publish(ctx, Subject(p.prefix, signing.EventLeaseSigned, e.LeaseID.String()), e)
}

func (p *Publisher) publish(ctx context.Context, subject string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		p.log.ErrorContext(ctx, "encode event failed", slog.String("subject", subject), slog.Any("err", err))
		return
	}
	if err := p.nc.Publish(subject, data); err != nil {
		p.log.WarnContext(ctx, "publish event failed", slog.String("subject", subject), slog.Any("err", err))
	}
}
