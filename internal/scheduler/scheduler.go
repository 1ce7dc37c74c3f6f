package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/Alijeyrad/keystone_backend/internal/scheduler"

// ---------------------------------------------------------------------------
// DTOs
// ---------------------------------------------------------------------------

type CreateAppointmentRequest struct {
	ProviderID    uuid.UUID `validate:"required"`
	CustomerID    uuid.UUID `validate:"required"`
	JobID         *uuid.UUID
	ServiceType   string `validate:"required,max=100"`
	Title         string `validate:"required,max=200"`
	Description   *string
	Address       Address   `validate:"required"`
	StartTime     time.Time `validate:"required"`
	EndTime       time.Time `validate:"required,gtfield=StartTime"`
	DepositAmount *int64    `validate:"omitempty,gte=0"`
}

// UpdateAppointmentRequest carries optional changes. StartTime and EndTime
// move the appointment only when both are set.
type UpdateAppointmentRequest struct {
	JobID         *uuid.UUID
	ServiceType   *string `validate:"omitempty,max=100"`
	Title         *string `validate:"omitempty,max=200"`
	Description   *string
	Address       *Address
	StartTime     *time.Time
	EndTime       *time.Time
	DepositAmount *int64 `validate:"omitempty,gte=0"`
}

// ---------------------------------------------------------------------------
// Interface
// ---------------------------------------------------------------------------

type Service interface {
	// Availability
	GetAvailability(ctx context.Context, providerID uuid.UUID) (*WeeklyAvailability, error)
	SetAvailability(ctx context.Context, availability WeeklyAvailability) (*WeeklyAvailability, error)

	// Slot checks
	IsSlotAvailable(ctx context.Context, providerID uuid.UUID, start, end time.Time, excludeAppointmentID *uuid.UUID) (bool, error)
	CheckSlot(ctx context.Context, providerID uuid.UUID, start, end time.Time, excludeAppointmentID *uuid.UUID) (Verdict, error)
	GetAvailableSlots(ctx context.Context, providerID uuid.UUID, date Date, slotDurationMinutes int) ([]TimeSlot, error)

	// Appointment lifecycle
	CreateAppointment(ctx context.Context, req CreateAppointmentRequest) (*Appointment, error)
	UpdateAppointment(ctx context.Context, id uuid.UUID, req UpdateAppointmentRequest) (*Appointment, error)
	CancelAppointment(ctx context.Context, id uuid.UUID, by CancelledBy, reason *string) (*Appointment, error)
	CompleteAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error)
	GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error)
	ListAppointments(ctx context.Context, providerID uuid.UUID, from, to time.Time) ([]*Appointment, error)
}

// ---------------------------------------------------------------------------
// Implementation
// ---------------------------------------------------------------------------

type Options struct {
	// DefaultLocation interprets schedules that carry no timezone.
	DefaultLocation *time.Location
	Now             func() time.Time
	NewID           func() uuid.UUID
	Logger          *slog.Logger
}

type schedulerService struct {
	availability AvailabilityRepository
	appointments AppointmentRepository
	tx           Transactor
	notifier     Notifier

	defaultLoc *time.Location
	now        func() time.Time
	newID      func() uuid.UUID
	log        *slog.Logger
	validate   *validator.Validate
	tracer     trace.Tracer
	metrics    *metrics
}

func New(availability AvailabilityRepository, appointments AppointmentRepository, tx Transactor, notifier Notifier, opts Options) Service {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if opts.DefaultLocation == nil {
		opts.DefaultLocation = time.UTC
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = newUUIDv7
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &schedulerService{
		availability: availability,
		appointments: appointments,
		tx:           tx,
		notifier:     notifier,
		defaultLoc:   opts.DefaultLocation,
		now:          opts.Now,
		newID:        opts.NewID,
		log:          opts.Logger.With(slog.String("component", "scheduler")),
		validate:     validator.New(validator.WithRequiredStructEnabled()),
		tracer:       otel.Tracer(instrumentationName),
		metrics:      newMetrics(opts.Logger),
	}
}

func newUUIDv7() uuid.UUID {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New()
	}
	return id
}

// ---------------------------------------------------------------------------
// Availability
// ---------------------------------------------------------------------------

func (s *schedulerService) GetAvailability(ctx context.Context, providerID uuid.UUID) (*WeeklyAvailability, error) {
	a, err := s.availability.Get(ctx, providerID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrAvailabilityNotFound
		}
		return nil, fmt.Errorf("get availability: %w", err)
	}
	return a, nil
}

func (s *schedulerService) SetAvailability(ctx context.Context, availability WeeklyAvailability) (*WeeklyAvailability, error) {
	if err := availability.Validate(); err != nil {
		return nil, err
	}

	a := availability
	a.Days = make(map[time.Weekday]DaySchedule, len(availability.Days))
	for wd, day := range availability.Days {
		a.Days[wd] = day
	}
	a.BlockedDates = append([]Date(nil), availability.BlockedDates...)
	a.normalizeBlockedDates()
	if a.Timezone == "" {
		a.Timezone = s.defaultLoc.String()
	}
	a.UpdatedAt = s.now()

	if err := s.availability.Upsert(ctx, &a); err != nil {
		return nil, fmt.Errorf("set availability: %w", err)
	}

	s.log.InfoContext(ctx, "availability updated",
		slog.String("provider_id", a.ProviderID.String()),
		slog.Int("enabled_days", enabledDays(&a)),
		slog.Int("blocked_dates", len(a.BlockedDates)),
	)
	return &a, nil
}

func enabledDays(a *WeeklyAvailability) int {
	n := 0
	for _, d := range a.Days {
		if d.Enabled {
			n++
		}
	}
	return n
}

// ---------------------------------------------------------------------------
// Slot checks
// ---------------------------------------------------------------------------

func (s *schedulerService) IsSlotAvailable(ctx context.Context, providerID uuid.UUID, start, end time.Time, excludeAppointmentID *uuid.UUID) (bool, error) {
	v, err := s.CheckSlot(ctx, providerID, start, end, excludeAppointmentID)
	if err != nil {
		return false, err
	}
	return v.Available, nil
}

func (s *schedulerService) CheckSlot(ctx context.Context, providerID uuid.UUID, start, end time.Time, excludeAppointmentID *uuid.UUID) (Verdict, error) {
	ctx, span := s.tracer.Start(ctx, "scheduler.CheckSlot", trace.WithAttributes(
		attribute.String("provider_id", providerID.String()),
	))
	defer span.End()

	v, _, err := s.checkSlot(ctx, providerID, start, end, excludeAppointmentID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "check slot failed")
		return Verdict{}, err
	}
	span.SetAttributes(attribute.String("verdict", v.String()))
	return v, nil
}

// checkSlot loads the provider's schedule and the confirmed appointments
// near the slot, then evaluates them. The loaded schedule is returned so
// writers can reuse it inside the same transaction.
func (s *schedulerService) checkSlot(ctx context.Context, providerID uuid.UUID, start, end time.Time, excludeID *uuid.UUID) (Verdict, *WeeklyAvailability, error) {
	avail, err := s.availability.Get(ctx, providerID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return reject(ReasonNoAvailability), nil, nil
		}
		return Verdict{}, nil, fmt.Errorf("load availability: %w", err)
	}

	e := evaluator{avail: avail, loc: avail.Location(s.defaultLoc), now: s.now()}

	// Everything up to the conflict step is decided without touching
	// appointments; skip the range query when the slot already failed.
	if pre := e.check(start, end, excludeID); !pre.Available {
		return pre, avail, nil
	}

	buffer := avail.Buffer()
	confirmed, err := s.appointments.ListConfirmedOverlapping(ctx, providerID, start.Add(-buffer), end.Add(buffer), excludeID)
	if err != nil {
		return Verdict{}, nil, fmt.Errorf("list overlapping appointments: %w", err)
	}
	e.confirmed = confirmed
	return e.check(start, end, excludeID), avail, nil
}

// ---------------------------------------------------------------------------
// Appointment lifecycle
// ---------------------------------------------------------------------------

func (s *schedulerService) CreateAppointment(ctx context.Context, req CreateAppointmentRequest) (*Appointment, error) {
	ctx, span := s.tracer.Start(ctx, "scheduler.CreateAppointment", trace.WithAttributes(
		attribute.String("provider_id", req.ProviderID.String()),
	))
	defer span.End()

	if err := s.validateStruct(req); err != nil {
		return nil, err
	}

	var created *Appointment
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		v, avail, err := s.checkSlot(ctx, req.ProviderID, req.StartTime, req.EndTime, nil)
		if err != nil {
			return err
		}
		if !v.Available {
			return v.err()
		}

		now := s.now()
		appt := &Appointment{
			ID:            s.newID(),
			ProviderID:    req.ProviderID,
			CustomerID:    req.CustomerID,
			JobID:         req.JobID,
			ServiceType:   req.ServiceType,
			Title:         req.Title,
			Description:   req.Description,
			Address:       req.Address,
			StartTime:     req.StartTime,
			EndTime:       req.EndTime,
			Status:        StatusConfirmed,
			DepositAmount: req.DepositAmount,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := s.appointments.Create(ctx, appt, avail.Buffer()); err != nil {
			return fmt.Errorf("create appointment: %w", err)
		}
		created = appt
		return nil
	})
	if err != nil {
		s.recordSlotFailure(ctx, span, err)
		return nil, err
	}

	s.metrics.appointmentsCreated.Add(ctx, 1)
	s.log.InfoContext(ctx, "appointment created",
		slog.String("appointment_id", created.ID.String()),
		slog.String("provider_id", created.ProviderID.String()),
		slog.Time("start_time", created.StartTime),
	)
	s.emit(ctx, EventAppointmentCreated, created)
	return created, nil
}

func (s *schedulerService) UpdateAppointment(ctx context.Context, id uuid.UUID, req UpdateAppointmentRequest) (*Appointment, error) {
	ctx, span := s.tracer.Start(ctx, "scheduler.UpdateAppointment", trace.WithAttributes(
		attribute.String("appointment_id", id.String()),
	))
	defer span.End()

	if err := s.validateStruct(req); err != nil {
		return nil, err
	}
	if (req.StartTime == nil) != (req.EndTime == nil) {
		vErr := &ValidationError{}
		vErr.add("start_time", "start_time and end_time must be changed together")
		return nil, vErr
	}

	var updated *Appointment
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		appt, err := s.loadAppointment(ctx, id)
		if err != nil {
			return err
		}
		if err := guardOpen(appt); err != nil {
			return err
		}

		if req.StartTime != nil && req.EndTime != nil {
			v, _, err := s.checkSlot(ctx, appt.ProviderID, *req.StartTime, *req.EndTime, &appt.ID)
			if err != nil {
				return err
			}
			if !v.Available {
				return v.err()
			}
			appt.StartTime = *req.StartTime
			appt.EndTime = *req.EndTime
		}

		if req.JobID != nil {
			appt.JobID = req.JobID
		}
		if req.ServiceType != nil {
			appt.ServiceType = *req.ServiceType
		}
		if req.Title != nil {
			appt.Title = *req.Title
		}
		if req.Description != nil {
			appt.Description = req.Description
		}
		if req.Address != nil {
			appt.Address = *req.Address
		}
		if req.DepositAmount != nil {
			appt.DepositAmount = req.DepositAmount
		}
		appt.UpdatedAt = s.now()

		if err := s.appointments.Update(ctx, appt); err != nil {
			return fmt.Errorf("update appointment: %w", err)
		}
		updated = appt
		return nil
	})
	if err != nil {
		s.recordSlotFailure(ctx, span, err)
		return nil, err
	}
	return updated, nil
}

func (s *schedulerService) CancelAppointment(ctx context.Context, id uuid.UUID, by CancelledBy, reason *string) (*Appointment, error) {
	if !by.Valid() {
		vErr := &ValidationError{}
		vErr.add("cancelled_by", "must be provider or customer")
		return nil, vErr
	}

	appt, err := s.transition(ctx, id, func(appt *Appointment, now time.Time) {
		appt.Status = StatusCancelled
		appt.CancelledAt = &now
		appt.CancelledBy = &by
		appt.CancellationReason = reason
	})
	if err != nil {
		return nil, err
	}

	s.log.InfoContext(ctx, "appointment cancelled",
		slog.String("appointment_id", appt.ID.String()),
		slog.String("cancelled_by", string(by)),
	)
	s.emit(ctx, EventAppointmentCancelled, appt)
	return appt, nil
}

func (s *schedulerService) CompleteAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	appt, err := s.transition(ctx, id, func(appt *Appointment, now time.Time) {
		appt.Status = StatusCompleted
		appt.CompletedAt = &now
	})
	if err != nil {
		return nil, err
	}
	s.emit(ctx, EventAppointmentCompleted, appt)
	return appt, nil
}

// transition moves a confirmed appointment into a terminal state.
func (s *schedulerService) transition(ctx context.Context, id uuid.UUID, apply func(*Appointment, time.Time)) (*Appointment, error) {
	var out *Appointment
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		appt, err := s.loadAppointment(ctx, id)
		if err != nil {
			return err
		}
		if err := guardOpen(appt); err != nil {
			return err
		}
		now := s.now()
		apply(appt, now)
		appt.UpdatedAt = now
		if err := s.appointments.Update(ctx, appt); err != nil {
			return fmt.Errorf("update appointment: %w", err)
		}
		out = appt
		return nil
	})
	return out, err
}

func guardOpen(appt *Appointment) error {
	switch appt.Status {
	case StatusCancelled:
		return ErrAlreadyCancelled
	case StatusCompleted:
		return ErrAlreadyCompleted
	}
	return nil
}

func (s *schedulerService) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.loadAppointment(ctx, id)
}

func (s *schedulerService) ListAppointments(ctx context.Context, providerID uuid.UUID, from, to time.Time) ([]*Appointment, error) {
	if !from.Before(to) {
		vErr := &ValidationError{}
		vErr.add("to", "must be after from")
		return nil, vErr
	}
	appts, err := s.appointments.ListByProvider(ctx, providerID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	return appts, nil
}

func (s *schedulerService) loadAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	appt, err := s.appointments.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrAppointmentNotFound
		}
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	return appt, nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func (s *schedulerService) emit(ctx context.Context, typ EventType, appt *Appointment) {
	s.notifier.Notify(ctx, Event{Type: typ, Appointment: *appt, OccurredAt: s.now()})
}

func (s *schedulerService) recordSlotFailure(ctx context.Context, span trace.Span, err error) {
	var slotErr *SlotError
	if errors.As(err, &slotErr) {
		s.metrics.slotRejections.Add(ctx, 1, otelReason(slotErr.Reason))
		span.SetAttributes(attribute.String("verdict", string(slotErr.Reason)))
		return
	}
	var vErr *ValidationError
	if errors.As(err, &vErr) || errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrAlreadyCancelled) || errors.Is(err, ErrAlreadyCompleted) {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, "scheduler write failed")
	s.log.ErrorContext(ctx, "scheduler write failed", slog.Any("err", err))
}

func (s *schedulerService) validateStruct(v any) error {
	err := s.validate.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("validate request: %w", err)
	}
	vErr := &ValidationError{}
	for _, fe := range fieldErrs {
		vErr.add(fe.Field(), "failed "+fe.Tag())
	}
	return vErr
}
