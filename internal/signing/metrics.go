package signing

import (
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

type metrics struct {
	signed   metric.Int64Counter
	failures metric.Int64Counter
}

func newMetrics(log *slog.Logger) *metrics {
	meter := otel.Meter(instrumentationName)

	signed, err := meter.Int64Counter("signing.documents_signed",
		metric.WithDescription("Signatures applied to lease documents, by role"))
	if err != nil {
		log.Warn("signing: create counter failed", slog.String("name", "documents_signed"), slog.Any("err", err))
		signed = noop.Int64Counter{}
	}

	failures, err := meter.Int64Counter("signing.failures",
		metric.WithDescription("Rejected signing submissions, by cause"))
	if err != nil {
		log.Warn("signing: create counter failed", slog.String("name", "failures"), slog.Any("err", err))
		failures = noop.Int64Counter{}
	}

	return &metrics{signed: signed, failures: failures}
}

// failureCause buckets an error for the failures counter.
func failureCause(err error) string {
	switch {
	case errors.Is(err, ErrSigningIncomplete):
		return "incomplete"
	case errors.Is(err, ErrStaleDocument), errors.Is(err, ErrAlreadySigned):
		return "conflict"
	case errors.Is(err, ErrStorageAuthFailure):
		return "storage_auth"
	case errors.Is(err, ErrStorageUploadFailure):
		return "storage_upload"
	case errors.Is(err, ErrFetchTimeout), errors.Is(err, ErrFetchFailure):
		return "fetch"
	case errors.Is(err, ErrInvalidField), errors.Is(err, ErrMissingMark), errors.Is(err, ErrInvalidImage):
		return "invalid_input"
	default:
		return "internal"
	}
}

func roleAttr(r Role) metric.AddOption {
	return metric.WithAttributes(attribute.String("role", string(r)))
}
