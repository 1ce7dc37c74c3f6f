package signing

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrDocumentNotFound     = errors.New("lease document not found")
	ErrSigningIncomplete    = errors.New("signing is incomplete")
	ErrInvalidField         = errors.New("invalid signature field")
	ErrMissingMark          = errors.New("signature image is required")
	ErrInvalidImage         = errors.New("invalid signature image")
	ErrStaleDocument        = errors.New("lease document changed since signing started")
	ErrAlreadySigned        = errors.New("role has already signed this lease")
	ErrStorageAuthFailure   = errors.New("storage rejected credentials")
	ErrStorageUploadFailure = errors.New("storage upload failed")
	ErrFetchFailure         = errors.New("fetching the lease document failed")
	ErrFetchTimeout         = errors.New("fetching the lease document timed out")
	ErrRender               = errors.New("pdf rendering failed")
)

// IncompleteError lists what blocks a submission. It matches
// ErrSigningIncomplete.
type IncompleteError struct {
	Missing        []string
	ConsentMissing bool
}

func (e *IncompleteError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "required fields pending: "+strings.Join(e.Missing, ", "))
	}
	if e.ConsentMissing {
		parts = append(parts, "electronic signature consent not given")
	}
	return fmt.Sprintf("%s: %s", ErrSigningIncomplete, strings.Join(parts, "; "))
}

func (e *IncompleteError) Is(target error) bool {
	return target == ErrSigningIncomplete
}

// StorageError records which object failed to upload. Its message names
// only the failure category; the provider's error stays reachable through
// Unwrap.
type StorageError struct {
	Key       string
	Retryable bool
	Err       error
}

func (e *StorageError) Error() string {
	category := ErrStorageUploadFailure
	if errors.Is(e.Err, ErrStorageAuthFailure) {
		category = ErrStorageAuthFailure
	}
	return fmt.Sprintf("upload %q: %v", e.Key, category)
}

func (e *StorageError) Unwrap() error { return e.Err }

// IsRetryable reports whether the caller may retry the failed operation as is.
func IsRetryable(err error) bool {
	var se *StorageError
	if errors.As(err, &se) {
		return se.Retryable
	}
	return errors.Is(err, ErrFetchTimeout)
}
