package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// GetAvailableSlots tiles the day's schedule window with back-to-back slots
// of slotDurationMinutes and reports each slot's availability. Unavailable
// slots are kept so callers can render them disabled. The result is empty
// when the provider has no schedule, the date is blocked or past the
// booking horizon, or the weekday is disabled.
func (s *schedulerService) GetAvailableSlots(ctx context.Context, providerID uuid.UUID, date Date, slotDurationMinutes int) ([]TimeSlot, error) {
	ctx, span := s.tracer.Start(ctx, "scheduler.GetAvailableSlots", trace.WithAttributes(
		attribute.String("provider_id", providerID.String()),
		attribute.String("date", date.String()),
	))
	defer span.End()

	if slotDurationMinutes <= 0 {
		vErr := &ValidationError{}
		vErr.add("slot_duration_minutes", "must be positive")
		return nil, vErr
	}

	avail, err := s.availability.Get(ctx, providerID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return []TimeSlot{}, nil
		}
		return nil, fmt.Errorf("load availability: %w", err)
	}

	e := evaluator{avail: avail, loc: avail.Location(s.defaultLoc), now: s.now()}

	if avail.IsBlocked(date) {
		return []TimeSlot{}, nil
	}
	if avail.MaxAdvanceDays > 0 && date.In(e.loc).After(e.horizon()) {
		return []TimeSlot{}, nil
	}
	dayStart, dayEnd, ok := avail.Window(date, e.loc)
	if !ok {
		return []TimeSlot{}, nil
	}

	buffer := avail.Buffer()
	confirmed, err := s.appointments.ListConfirmedOverlapping(ctx, providerID, dayStart.Add(-buffer), dayEnd.Add(buffer), nil)
	if err != nil {
		return nil, fmt.Errorf("list overlapping appointments: %w", err)
	}
	e.confirmed = confirmed

	step := time.Duration(slotDurationMinutes) * time.Minute
	slots := make([]TimeSlot, 0, int(dayEnd.Sub(dayStart)/step))
	for start := dayStart; !start.Add(step).After(dayEnd); start = start.Add(step) {
		end := start.Add(step)
		slots = append(slots, TimeSlot{
			Start:       start,
			End:         end,
			IsAvailable: e.check(start, end, nil).Available,
		})
	}

	span.SetAttributes(attribute.Int("slots", len(slots)))
	return slots, nil
}
