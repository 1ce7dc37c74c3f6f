package scheduler

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// Calendar dates
// ---------------------------------------------------------------------------

const dateLayout = "2006-01-02"

// Date is a calendar date without a time component or zone.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return DateOf(t), nil
}

// DateOf returns the calendar date of t in t's own location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day)
}

// In returns midnight of d in loc.
func (d Date) In(loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, loc)
}

func (d Date) Before(o Date) bool {
	if d.Year != o.Year {
		return d.Year < o.Year
	}
	if d.Month != o.Month {
		return d.Month < o.Month
	}
	return d.Day < o.Day
}

func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Date) UnmarshalText(b []byte) error {
	parsed, err := ParseDate(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// ---------------------------------------------------------------------------
// Weekly availability
// ---------------------------------------------------------------------------

// DaySchedule is the bookable window of one weekday, as wall-clock "HH:MM"
// times in the provider's timezone.
type DaySchedule struct {
	Start   string `json:"start_time"`
	End     string `json:"end_time"`
	Enabled bool   `json:"enabled"`
}

// WeeklyAvailability is a provider's recurring schedule plus booking
// constraints. It is replaced wholesale on every write.
type WeeklyAvailability struct {
	ProviderID     uuid.UUID                    `json:"provider_id"`
	Timezone       string                       `json:"timezone"`
	Days           map[time.Weekday]DaySchedule `json:"days"`
	BufferMinutes  int                          `json:"buffer_minutes"`
	MinNoticeHours int                          `json:"min_notice_hours"`
	// MaxAdvanceDays of zero leaves the booking horizon open.
	MaxAdvanceDays int       `json:"max_advance_days"`
	BlockedDates   []Date    `json:"blocked_dates"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (a *WeeklyAvailability) Buffer() time.Duration {
	return time.Duration(a.BufferMinutes) * time.Minute
}

// IsBlocked reports whether d is one of the provider's blocked dates.
func (a *WeeklyAvailability) IsBlocked(d Date) bool {
	for _, b := range a.BlockedDates {
		if b == d {
			return true
		}
	}
	return false
}

// normalizeBlockedDates sorts and de-duplicates the blocked dates in place.
func (a *WeeklyAvailability) normalizeBlockedDates() {
	sort.Slice(a.BlockedDates, func(i, j int) bool {
		return a.BlockedDates[i].Before(a.BlockedDates[j])
	})
	out := a.BlockedDates[:0]
	for i, d := range a.BlockedDates {
		if i > 0 && d == a.BlockedDates[i-1] {
			continue
		}
		out = append(out, d)
	}
	a.BlockedDates = out
}

// ---------------------------------------------------------------------------
// Appointments
// ---------------------------------------------------------------------------

type Status string

const (
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
)

func (s Status) Terminal() bool {
	return s == StatusCancelled || s == StatusCompleted
}

type CancelledBy string

const (
	CancelledByProvider CancelledBy = "provider"
	CancelledByCustomer CancelledBy = "customer"
)

func (c CancelledBy) Valid() bool {
	return c == CancelledByProvider || c == CancelledByCustomer
}

type Address struct {
	Line1      string `json:"line1" validate:"required"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city" validate:"required"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
}

type Appointment struct {
	ID                 uuid.UUID    `json:"id"`
	ProviderID         uuid.UUID    `json:"provider_id"`
	CustomerID         uuid.UUID    `json:"customer_id"`
	JobID              *uuid.UUID   `json:"job_id,omitempty"`
	ServiceType        string       `json:"service_type"`
	Title              string       `json:"title"`
	Description        *string      `json:"description,omitempty"`
	Address            Address      `json:"address"`
	StartTime          time.Time    `json:"start_time"`
	EndTime            time.Time    `json:"end_time"`
	Status             Status       `json:"status"`
	DepositAmount      *int64       `json:"deposit_amount,omitempty"` // cents
	CancelledAt        *time.Time   `json:"cancelled_at,omitempty"`
	CancelledBy        *CancelledBy `json:"cancelled_by,omitempty"`
	CancellationReason *string      `json:"cancellation_reason,omitempty"`
	CompletedAt        *time.Time   `json:"completed_at,omitempty"`
	CreatedAt          time.Time    `json:"created_at"`
	UpdatedAt          time.Time    `json:"updated_at"`
}

// Overlaps reports whether the appointment intersects the half-open window
// [from, to). Touching intervals do not overlap.
func (a *Appointment) Overlaps(from, to time.Time) bool {
	return a.StartTime.Before(to) && a.EndTime.After(from)
}

// TimeSlot is one candidate window returned by GetAvailableSlots.
type TimeSlot struct {
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	IsAvailable bool      `json:"is_available"`
}

// ---------------------------------------------------------------------------
// Events
// ---------------------------------------------------------------------------

type EventType string

const (
	EventAppointmentCreated   EventType = "appointment.created"
	EventAppointmentCancelled EventType = "appointment.cancelled"
	EventAppointmentCompleted EventType = "appointment.completed"
)

type Event struct {
	Type        EventType   `json:"type"`
	Appointment Appointment `json:"appointment"`
	OccurredAt  time.Time   `json:"occurred_at"`
}

func (e Event) MarshalPayload() ([]byte, error) {
	return json.Marshal(e)
}
