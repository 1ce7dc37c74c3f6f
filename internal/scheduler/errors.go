package scheduler

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound             = errors.New("not found")
	ErrAvailabilityNotFound = fmt.Errorf("provider availability %w", ErrNotFound)
	ErrAppointmentNotFound  = fmt.Errorf("appointment %w", ErrNotFound)
	ErrSlotUnavailable      = errors.New("time slot is not available for booking")
	ErrAlreadyCancelled     = errors.New("appointment is already cancelled")
	ErrAlreadyCompleted     = errors.New("appointment is already completed")
	ErrInvalidAvailability  = errors.New("invalid availability")
)

// SlotError explains why a slot was refused. It matches ErrSlotUnavailable.
type SlotError struct {
	Reason Reason
}

func (e *SlotError) Error() string {
	return fmt.Sprintf("%s: %s", ErrSlotUnavailable, e.Reason)
}

func (e *SlotError) Is(target error) bool {
	return target == ErrSlotUnavailable
}

// ValidationError captures field level problems callers can show to users.
type ValidationError struct {
	FieldErrors map[string]string
}

func (v *ValidationError) Error() string {
	if v == nil || len(v.FieldErrors) == 0 {
		return "validation failed"
	}
	parts := make([]string, 0, len(v.FieldErrors))
	for field, msg := range v.FieldErrors {
		parts = append(parts, field+": "+msg)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (v *ValidationError) add(field, message string) {
	if v.FieldErrors == nil {
		v.FieldErrors = make(map[string]string)
	}
	v.FieldErrors[field] = message
}

func (v *ValidationError) HasErrors() bool {
	return v != nil && len(v.FieldErrors) > 0
}
