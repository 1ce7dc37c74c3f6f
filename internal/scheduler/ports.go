package scheduler

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// AvailabilityRepository persists one WeeklyAvailability per provider.
// Get returns ErrAvailabilityNotFound when the provider never configured one.
type AvailabilityRepository interface {
	Get(ctx context.Context, providerID uuid.UUID) (*WeeklyAvailability, error)
	Upsert(ctx context.Context, a *WeeklyAvailability) error
}

// AppointmentRepository persists appointments. Get returns
// ErrAppointmentNotFound for unknown ids.
type AppointmentRepository interface {
	Create(ctx context.Context, a *Appointment, buffer time.Duration) error
	Get(ctx context.Context, id uuid.UUID) (*Appointment, error)
	Update(ctx context.Context, a *Appointment) error
	// ListConfirmedOverlapping returns confirmed appointments of the provider
	// with start < to and end > from, skipping excludeID when set.
	ListConfirmedOverlapping(ctx context.Context, providerID uuid.UUID, from, to time.Time, excludeID *uuid.UUID) ([]*Appointment, error)
	ListByProvider(ctx context.Context, providerID uuid.UUID, from, to time.Time) ([]*Appointment, error)
}

// Transactor runs fn so that reads and writes made through the repositories
// with the derived context observe a serializable view.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Notifier receives appointment lifecycle events. Implementations own their
// failures: Notify never blocks the caller on delivery and never errors.
type Notifier interface {
	Notify(ctx context.Context, event Event)
}

type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, Event) {}
