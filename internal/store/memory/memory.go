// Package memory is an in-process implementation of every repository port.
// It backs the engine tests and the CLI when no database is configured.
package memory

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Alijeyrad/keystone_backend/internal/lease"
	"github.com/Alijeyrad/keystone_backend/internal/scheduler"
	"github.com/Alijeyrad/keystone_backend/internal/signing"
)

type appointmentRow struct {
	appt   *scheduler.Appointment
	buffer time.Duration
}

type tables struct {
	availability map[uuid.UUID]*scheduler.WeeklyAvailability
	appointments map[uuid.UUID]appointmentRow
	templates    map[uuid.UUID]*lease.LeaseTemplate
	assignments  map[uuid.UUID]lease.Assignment // by property
	documents    map[uuid.UUID]*signing.LeaseDocument
}

func (t tables) clone() tables {
	return tables{
		availability: maps.Clone(t.availability),
		appointments: maps.Clone(t.appointments),
		templates:    maps.Clone(t.templates),
		assignments:  maps.Clone(t.assignments),
		documents:    maps.Clone(t.documents),
	}
}

// Store holds all tables behind one lock. Rows are copied on the way in and
// out, so callers never share memory with the store.
type Store struct {
	txMu sync.Mutex // serializes WithinTx
	mu   sync.RWMutex
	t    tables
	now  func() time.Time
}

func New() *Store {
	return &Store{
		t: tables{
			availability: make(map[uuid.UUID]*scheduler.WeeklyAvailability),
			appointments: make(map[uuid.UUID]appointmentRow),
			templates:    make(map[uuid.UUID]*lease.LeaseTemplate),
			assignments:  make(map[uuid.UUID]lease.Assignment),
			documents:    make(map[uuid.UUID]*signing.LeaseDocument),
		},
		now: time.Now,
	}
}

type txKey struct{}

// InTx reports whether ctx is inside WithinTx.
func InTx(ctx context.Context) bool { return ctx.Value(txKey{}) != nil }

// WithinTx runs fn with every other transaction excluded. Writes made by fn
// are discarded when it returns an error. Nested calls join the outer
// transaction.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	snapshot := s.t.clone()
	s.mu.RUnlock()

	if err := fn(context.WithValue(ctx, txKey{}, struct{}{})); err != nil {
		s.mu.Lock()
		s.t = snapshot
		s.mu.Unlock()
		return err
	}
	return nil
}
