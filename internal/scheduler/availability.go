package scheduler

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Reason names the first availability check a slot failed.
type Reason string

const (
	ReasonNone               Reason = ""
	ReasonInvalidRange       Reason = "invalid_range"
	ReasonNoAvailability     Reason = "no_availability"
	ReasonBlockedDate        Reason = "blocked_date"
	ReasonInsufficientNotice Reason = "insufficient_notice"
	ReasonBeyondHorizon      Reason = "beyond_horizon"
	ReasonDayDisabled        Reason = "day_disabled"
	ReasonOutsideHours       Reason = "outside_hours"
	ReasonConflict           Reason = "conflict"
)

// Verdict is the outcome of a slot check.
type Verdict struct {
	Available bool
	Reason    Reason
}

func accept() Verdict         { return Verdict{Available: true} }
func reject(r Reason) Verdict { return Verdict{Reason: r} }
func (v Verdict) err() error  { return &SlotError{Reason: v.Reason} }

func (v Verdict) String() string {
	if v.Available {
		return "available"
	}
	return string(v.Reason)
}

const clockLayout = "15:04"

// Location resolves the availability's timezone, falling back to def.
func (a *WeeklyAvailability) Location(def *time.Location) *time.Location {
	if a.Timezone != "" {
		if loc, err := time.LoadLocation(a.Timezone); err == nil {
			return loc
		}
	}
	if def == nil {
		return time.UTC
	}
	return def
}

// Window returns the schedule window for the weekday of date, anchored on
// that calendar date in loc. ok is false when the day is missing or disabled.
func (a *WeeklyAvailability) Window(date Date, loc *time.Location) (start, end time.Time, ok bool) {
	day, exists := a.Days[date.In(loc).Weekday()]
	if !exists || !day.Enabled {
		return time.Time{}, time.Time{}, false
	}
	start, err := clockOn(date, day.Start, loc)
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	end, err = clockOn(date, day.End, loc)
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	return start, end, true
}

// clockOn places a "HH:MM" wall-clock time on date in loc. Wall times that do
// not exist because of a DST gap are normalized forward by time.Date.
func clockOn(date Date, clock string, loc *time.Location) (time.Time, error) {
	t, err := time.Parse(clockLayout, clock)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse clock %q: %w", clock, err)
	}
	return time.Date(date.Year, date.Month, date.Day, t.Hour(), t.Minute(), 0, 0, loc), nil
}

// Validate checks the invariants of a schedule before it is stored.
func (a *WeeklyAvailability) Validate() error {
	vErr := &ValidationError{}

	if a.ProviderID == uuid.Nil {
		vErr.add("provider_id", "is required")
	}
	if a.Timezone != "" {
		if _, err := time.LoadLocation(a.Timezone); err != nil {
			vErr.add("timezone", "unknown timezone")
		}
	}
	if a.BufferMinutes < 0 {
		vErr.add("buffer_minutes", "must not be negative")
	}
	if a.MinNoticeHours < 0 {
		vErr.add("min_notice_hours", "must not be negative")
	}
	if a.MaxAdvanceDays < 0 {
		vErr.add("max_advance_days", "must not be negative")
	}
	for wd, day := range a.Days {
		if wd < time.Sunday || wd > time.Saturday {
			vErr.add("days", fmt.Sprintf("unknown weekday %d", wd))
			continue
		}
		if !day.Enabled {
			continue
		}
		field := "days." + wd.String()
		start, err1 := time.Parse(clockLayout, day.Start)
		end, err2 := time.Parse(clockLayout, day.End)
		switch {
		case err1 != nil || err2 != nil:
			vErr.add(field, "times must be HH:MM")
		case !start.Before(end):
			vErr.add(field, "start_time must be before end_time")
		}
	}

	if vErr.HasErrors() {
		return fmt.Errorf("%w: %w", ErrInvalidAvailability, vErr)
	}
	return nil
}

// evaluator runs the ordered availability checks against data that was
// already loaded for one provider.
type evaluator struct {
	avail     *WeeklyAvailability
	loc       *time.Location
	now       time.Time
	confirmed []*Appointment
}

// check applies the checks in order and stops at the first failure:
// range, availability, blocked date, notice, horizon, weekday, hours, and
// finally conflicts against the buffer-expanded window.
func (e evaluator) check(start, end time.Time, excludeID *uuid.UUID) Verdict {
	if !start.Before(end) {
		return reject(ReasonInvalidRange)
	}
	if e.avail == nil {
		return reject(ReasonNoAvailability)
	}

	localStart := start.In(e.loc)
	date := DateOf(localStart)

	if e.avail.IsBlocked(date) {
		return reject(ReasonBlockedDate)
	}

	notice := time.Duration(e.avail.MinNoticeHours) * time.Hour
	if localStart.Before(e.now.Add(notice)) {
		return reject(ReasonInsufficientNotice)
	}

	if e.avail.MaxAdvanceDays > 0 && localStart.After(e.horizon()) {
		return reject(ReasonBeyondHorizon)
	}

	dayStart, dayEnd, ok := e.avail.Window(date, e.loc)
	if !ok {
		return reject(ReasonDayDisabled)
	}
	if start.Before(dayStart) || end.After(dayEnd) {
		return reject(ReasonOutsideHours)
	}

	buffer := e.avail.Buffer()
	from, to := start.Add(-buffer), end.Add(buffer)
	for _, appt := range e.confirmed {
		if appt.Status != StatusConfirmed {
			continue
		}
		if excludeID != nil && appt.ID == *excludeID {
			continue
		}
		if appt.Overlaps(from, to) {
			return reject(ReasonConflict)
		}
	}

	return accept()
}

func (e evaluator) horizon() time.Time {
	return e.now.In(e.loc).AddDate(0, 0, e.avail.MaxAdvanceDays)
}
