package memory

import (
	"context"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/Alijeyrad/keystone_backend/internal/scheduler"
)

// ---------------------------------------------------------------------------
// Availability
// ---------------------------------------------------------------------------

type AvailabilityRepo struct{ s *Store }

func (s *Store) Availability() *AvailabilityRepo { return &AvailabilityRepo{s: s} }

func (r *AvailabilityRepo) Get(_ context.Context, providerID uuid.UUID) (*scheduler.WeeklyAvailability, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	a, ok := r.s.t.availability[providerID]
	if !ok {
		return nil, scheduler.ErrAvailabilityNotFound
	}
	return cloneAvailability(a), nil
}

func (r *AvailabilityRepo) Upsert(_ context.Context, a *scheduler.WeeklyAvailability) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.t.availability[a.ProviderID] = cloneAvailability(a)
	return nil
}

func cloneAvailability(a *scheduler.WeeklyAvailability) *scheduler.WeeklyAvailability {
	c := *a
	c.Days = make(map[time.Weekday]scheduler.DaySchedule, len(a.Days))
	for k, v := range a.Days {
		c.Days[k] = v
	}
	c.BlockedDates = slices.Clone(a.BlockedDates)
	return &c
}

// ---------------------------------------------------------------------------
// Appointments
// ---------------------------------------------------------------------------

type AppointmentRepo struct{ s *Store }

func (s *Store) Appointments() *AppointmentRepo { return &AppointmentRepo{s: s} }

// Create stores a confirmed appointment. Like the database exclusion
// constraint, it refuses a row whose [start, end+buffer) range meets another
// confirmed row of the same provider.
func (r *AppointmentRepo) Create(_ context.Context, a *scheduler.Appointment, buffer time.Duration) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.conflicts(a, buffer) {
		return &scheduler.SlotError{Reason: scheduler.ReasonConflict}
	}
	r.s.t.appointments[a.ID] = appointmentRow{appt: cloneAppointment(a), buffer: buffer}
	return nil
}

func (r *AppointmentRepo) Get(_ context.Context, id uuid.UUID) (*scheduler.Appointment, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	row, ok := r.s.t.appointments[id]
	if !ok {
		return nil, scheduler.ErrAppointmentNotFound
	}
	return cloneAppointment(row.appt), nil
}

// Update keeps the buffer recorded at creation.
func (r *AppointmentRepo) Update(_ context.Context, a *scheduler.Appointment) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	row, ok := r.s.t.appointments[a.ID]
	if !ok {
		return scheduler.ErrAppointmentNotFound
	}
	if a.Status == scheduler.StatusConfirmed && r.conflicts(a, row.buffer) {
		return &scheduler.SlotError{Reason: scheduler.ReasonConflict}
	}
	r.s.t.appointments[a.ID] = appointmentRow{appt: cloneAppointment(a), buffer: row.buffer}
	return nil
}

func (r *AppointmentRepo) conflicts(a *scheduler.Appointment, buffer time.Duration) bool {
	until := a.EndTime.Add(buffer)
	for id, row := range r.s.t.appointments {
		b := row.appt
		if id == a.ID || b.ProviderID != a.ProviderID || b.Status != scheduler.StatusConfirmed {
			continue
		}
		if a.StartTime.Before(b.EndTime.Add(row.buffer)) && until.After(b.StartTime) {
			return true
		}
	}
	return false
}

func (r *AppointmentRepo) ListConfirmedOverlapping(_ context.Context, providerID uuid.UUID, from, to time.Time, excludeID *uuid.UUID) ([]*scheduler.Appointment, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []*scheduler.Appointment
	for id, row := range r.s.t.appointments {
		a := row.appt
		if a.ProviderID != providerID || a.Status != scheduler.StatusConfirmed {
			continue
		}
		if excludeID != nil && id == *excludeID {
			continue
		}
		if a.Overlaps(from, to) {
			out = append(out, cloneAppointment(a))
		}
	}
	sortByStart(out)
	return out, nil
}

func (r *AppointmentRepo) ListByProvider(_ context.Context, providerID uuid.UUID, from, to time.Time) ([]*scheduler.Appointment, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []*scheduler.Appointment
	for _, row := range r.s.t.appointments {
		if row.appt.ProviderID == providerID && row.appt.Overlaps(from, to) {
			out = append(out, cloneAppointment(row.appt))
		}
	}
	sortByStart(out)
	return out, nil
}

func sortByStart(as []*scheduler.Appointment) {
	slices.SortFunc(as, func(a, b *scheduler.Appointment) int {
		if c := a.StartTime.Compare(b.StartTime); c != 0 {
			return c
		}
		return slices.Compare(a.ID[:], b.ID[:])
	})
}

func cloneAppointment(a *scheduler.Appointment) *scheduler.Appointment {
	c := *a
	if a.JobID != nil {
		v := *a.JobID
		c.JobID = &v
	}
	if a.Description != nil {
		v := *a.Description
		c.Description = &v
	}
	if a.DepositAmount != nil {
		v := *a.DepositAmount
		c.DepositAmount = &v
	}
	if a.CancelledAt != nil {
		v := *a.CancelledAt
		c.CancelledAt = &v
	}
	if a.CancelledBy != nil {
		v := *a.CancelledBy
		c.CancelledBy = &v
	}
	if a.CancellationReason != nil {
		v := *a.CancellationReason
		c.CancellationReason = &v
	}
	if a.CompletedAt != nil {
		v := *a.CompletedAt
		c.CompletedAt = &v
	}
	return &c
}
