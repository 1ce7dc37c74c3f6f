package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/Alijeyrad/keystone_backend/internal/scheduler"
)

// ---------------------------------------------------------------------------
// Availability
// ---------------------------------------------------------------------------

var availabilityColumns = []string{
	"provider_id", "timezone", "days", "buffer_minutes", "min_notice_hours",
	"max_advance_days", "blocked_dates", "updated_at",
}

type availabilityRow struct {
	ProviderID     uuid.UUID      `db:"provider_id"`
	Timezone       string         `db:"timezone"`
	Days           []byte         `db:"days"`
	BufferMinutes  int            `db:"buffer_minutes"`
	MinNoticeHours int            `db:"min_notice_hours"`
	MaxAdvanceDays int            `db:"max_advance_days"`
	BlockedDates   pq.StringArray `db:"blocked_dates"`
	UpdatedAt      time.Time      `db:"updated_at"`
}

func (r availabilityRow) toDomain() (*scheduler.WeeklyAvailability, error) {
	a := &scheduler.WeeklyAvailability{
		ProviderID:     r.ProviderID,
		Timezone:       r.Timezone,
		BufferMinutes:  r.BufferMinutes,
		MinNoticeHours: r.MinNoticeHours,
		MaxAdvanceDays: r.MaxAdvanceDays,
		UpdatedAt:      r.UpdatedAt,
	}
	if err := json.Unmarshal(r.Days, &a.Days); err != nil {
		return nil, fmt.Errorf("decode days of provider %s: %w", r.ProviderID, err)
	}
	for _, s := range r.BlockedDates {
		d, err := scheduler.ParseDate(s)
		if err != nil {
			return nil, err
		}
		a.BlockedDates = append(a.BlockedDates, d)
	}
	return a, nil
}

type AvailabilityRepo struct{ s *Store }

func (s *Store) Availability() *AvailabilityRepo { return &AvailabilityRepo{s: s} }

func (r *AvailabilityRepo) Get(ctx context.Context, providerID uuid.UUID) (*scheduler.WeeklyAvailability, error) {
	q := builder().Select(availabilityColumns...).
		From(entsql.Table(tableAvailability)).
		Where(entsql.EQ("provider_id", providerID))

	var row availabilityRow
	if err := r.s.getOne(ctx, &row, q, scheduler.ErrAvailabilityNotFound); err != nil {
		return nil, err
	}
	return row.toDomain()
}

// Upsert replaces the provider's availability wholesale.
func (r *AvailabilityRepo) Upsert(ctx context.Context, a *scheduler.WeeklyAvailability) error {
	days, err := json.Marshal(a.Days)
	if err != nil {
		return fmt.Errorf("encode days: %w", err)
	}
	blocked := make([]string, len(a.BlockedDates))
	for i, d := range a.BlockedDates {
		blocked[i] = d.String()
	}

	q := builder().Insert(tableAvailability).
		Columns(availabilityColumns...).
		Values(a.ProviderID, a.Timezone, string(days), a.BufferMinutes, a.MinNoticeHours,
			a.MaxAdvanceDays, pq.Array(blocked), a.UpdatedAt).
		OnConflict(entsql.ConflictColumns("provider_id"), entsql.ResolveWithNewValues())
	if _, err := r.s.exec(ctx, q); err != nil {
		return fmt.Errorf("upsert availability: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Appointments
// ---------------------------------------------------------------------------

var appointmentColumns = []string{
	"id", "provider_id", "customer_id", "job_id", "service_type", "title",
	"description", "address", "start_time", "end_time", "status",
	"deposit_amount", "cancelled_at", "cancelled_by", "cancellation_reason",
	"completed_at", "created_at", "updated_at",
}

type appointmentRow struct {
	ID                 uuid.UUID  `db:"id"`
	ProviderID         uuid.UUID  `db:"provider_id"`
	CustomerID         uuid.UUID  `db:"customer_id"`
	JobID              *uuid.UUID `db:"job_id"`
	ServiceType        string     `db:"service_type"`
	Title              string     `db:"title"`
	Description        *string    `db:"description"`
	Address            []byte     `db:"address"`
	StartTime          time.Time  `db:"start_time"`
	EndTime            time.Time  `db:"end_time"`
	Status             string     `db:"status"`
	DepositAmount      *int64     `db:"deposit_amount"`
	CancelledAt        *time.Time `db:"cancelled_at"`
	CancelledBy        *string    `db:"cancelled_by"`
	CancellationReason *string    `db:"cancellation_reason"`
	CompletedAt        *time.Time `db:"completed_at"`
	CreatedAt          time.Time  `db:"created_at"`
	UpdatedAt          time.Time  `db:"updated_at"`
}

func (r appointmentRow) toDomain() (*scheduler.Appointment, error) {
	a := &scheduler.Appointment{
		ID:                 r.ID,
		ProviderID:         r.ProviderID,
		CustomerID:         r.CustomerID,
		JobID:              r.JobID,
		ServiceType:        r.ServiceType,
		Title:              r.Title,
		Description:        r.Description,
		StartTime:          r.StartTime,
		EndTime:            r.EndTime,
		Status:             scheduler.Status(r.Status),
		DepositAmount:      r.DepositAmount,
		CancelledAt:        r.CancelledAt,
		CancellationReason: r.CancellationReason,
		CompletedAt:        r.CompletedAt,
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
	}
	if r.CancelledBy != nil {
		by := scheduler.CancelledBy(*r.CancelledBy)
		a.CancelledBy = &by
	}
	if err := json.Unmarshal(r.Address, &a.Address); err != nil {
		return nil, fmt.Errorf("decode address of appointment %s: %w", r.ID, err)
	}
	return a, nil
}

func cancelledBy(a *scheduler.Appointment) *string {
	if a.CancelledBy == nil {
		return nil
	}
	s := string(*a.CancelledBy)
	return &s
}

type AppointmentRepo struct{ s *Store }

func (s *Store) Appointments() *AppointmentRepo { return &AppointmentRepo{s: s} }

// Create inserts a confirmed appointment. The table's exclusion constraint
// on [start_time, occupied_until) rejects overlapping confirmed rows of the
// same provider; that rejection surfaces as a conflict SlotError.
func (r *AppointmentRepo) Create(ctx context.Context, a *scheduler.Appointment, buffer time.Duration) error {
	addr, err := json.Marshal(a.Address)
	if err != nil {
		return fmt.Errorf("encode address: %w", err)
	}
	cols := append(appointmentColumns[:len(appointmentColumns):len(appointmentColumns)], "buffer_minutes", "occupied_until")
	q := builder().Insert(tableAppointments).
		Columns(cols...).
		Values(a.ID, a.ProviderID, a.CustomerID, a.JobID, a.ServiceType, a.Title,
			a.Description, string(addr), a.StartTime, a.EndTime, string(a.Status),
			a.DepositAmount, a.CancelledAt, cancelledBy(a), a.CancellationReason,
			a.CompletedAt, a.CreatedAt, a.UpdatedAt,
			int(buffer/time.Minute), a.EndTime.Add(buffer))
	if _, err := r.s.exec(ctx, q); err != nil {
		if pqCode(err) == codeExclusionViolation {
			return &scheduler.SlotError{Reason: scheduler.ReasonConflict}
		}
		return fmt.Errorf("insert appointment: %w", err)
	}
	return nil
}

func (r *AppointmentRepo) Get(ctx context.Context, id uuid.UUID) (*scheduler.Appointment, error) {
	q := builder().Select(appointmentColumns...).
		From(entsql.Table(tableAppointments)).
		Where(entsql.EQ("id", id))

	var row appointmentRow
	if err := r.s.getOne(ctx, &row, q, scheduler.ErrAppointmentNotFound); err != nil {
		return nil, err
	}
	return row.toDomain()
}

// The buffer recorded at creation stays with the row; occupied_until follows
// the new end time.
const updateAppointmentSQL = `
	UPDATE appointments
	SET job_id = $2, service_type = $3, title = $4, description = $5, address = $6,
	    start_time = $7, end_time = $8,
	    occupied_until = $8::timestamptz + make_interval(mins => buffer_minutes),
	    status = $9, deposit_amount = $10, cancelled_at = $11, cancelled_by = $12,
	    cancellation_reason = $13, completed_at = $14, updated_at = $15
	WHERE id = $1
`

func (r *AppointmentRepo) Update(ctx context.Context, a *scheduler.Appointment) error {
	addr, err := json.Marshal(a.Address)
	if err != nil {
		return fmt.Errorf("encode address: %w", err)
	}
	res, err := r.s.ext(ctx).ExecContext(ctx, updateAppointmentSQL,
		a.ID, a.JobID, a.ServiceType, a.Title, a.Description, string(addr),
		a.StartTime, a.EndTime, string(a.Status), a.DepositAmount, a.CancelledAt,
		cancelledBy(a), a.CancellationReason, a.CompletedAt, a.UpdatedAt)
	if err != nil {
		if pqCode(err) == codeExclusionViolation {
			return &scheduler.SlotError{Reason: scheduler.ReasonConflict}
		}
		return fmt.Errorf("update appointment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return scheduler.ErrAppointmentNotFound
	}
	return nil
}

func (r *AppointmentRepo) ListConfirmedOverlapping(ctx context.Context, providerID uuid.UUID, from, to time.Time, excludeID *uuid.UUID) ([]*scheduler.Appointment, error) {
	preds := []*entsql.Predicate{
		entsql.EQ("provider_id", providerID),
		entsql.EQ("status", string(scheduler.StatusConfirmed)),
		entsql.LT("start_time", to),
		entsql.GT("end_time", from),
	}
	if excludeID != nil {
		preds = append(preds, entsql.NEQ("id", *excludeID))
	}
	return r.list(ctx, entsql.And(preds...))
}

func (r *AppointmentRepo) ListByProvider(ctx context.Context, providerID uuid.UUID, from, to time.Time) ([]*scheduler.Appointment, error) {
	return r.list(ctx, entsql.And(
		entsql.EQ("provider_id", providerID),
		entsql.LT("start_time", to),
		entsql.GT("end_time", from),
	))
}

func (r *AppointmentRepo) list(ctx context.Context, where *entsql.Predicate) ([]*scheduler.Appointment, error) {
	q := builder().Select(appointmentColumns...).
		From(entsql.Table(tableAppointments)).
		Where(where).
		OrderBy("start_time", "id")

	var rows []appointmentRow
	if err := r.s.selectAll(ctx, &rows, q); err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	out := make([]*scheduler.Appointment, 0, len(rows))
	for _, row := range rows {
		a, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}
