package lease

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrTemplateNotFound = fmt.Errorf("lease template %w", ErrNotFound)
	// ErrNoTemplate means neither an assignment nor a single default exists
	// for the property.
	ErrNoTemplate        = fmt.Errorf("no lease template configured: %w", ErrNotFound)
	ErrNotBuilder        = errors.New("template is not a builder template")
	ErrMissingMergeValue = errors.New("missing merge field values")
)

type ValidationError struct {
	FieldErrors map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.FieldErrors))
	for k := range e.FieldErrors {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.FieldErrors[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) add(field, msg string) {
	if e.FieldErrors == nil {
		e.FieldErrors = make(map[string]string)
	}
	e.FieldErrors[field] = msg
}

func (e *ValidationError) HasErrors() bool { return len(e.FieldErrors) > 0 }
