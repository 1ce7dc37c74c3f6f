package scheduler

import (
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

type metrics struct {
	appointmentsCreated metric.Int64Counter
	slotRejections      metric.Int64Counter
}

func newMetrics(log *slog.Logger) *metrics {
	meter := otel.Meter(instrumentationName)

	created, err := meter.Int64Counter("scheduler.appointments_created",
		metric.WithDescription("Appointments confirmed by the scheduler"))
	if err != nil {
		log.Warn("scheduler: create counter failed", slog.String("name", "appointments_created"), slog.Any("err", err))
		created = noop.Int64Counter{}
	}

	rejected, err := meter.Int64Counter("scheduler.slot_rejections",
		metric.WithDescription("Booking attempts refused by the availability check, by reason"))
	if err != nil {
		log.Warn("scheduler: create counter failed", slog.String("name", "slot_rejections"), slog.Any("err", err))
		rejected = noop.Int64Counter{}
	}

	return &metrics{appointmentsCreated: created, slotRejections: rejected}
}

func otelReason(r Reason) metric.AddOption {
	return metric.WithAttributes(attribute.String("reason", string(r)))
}
