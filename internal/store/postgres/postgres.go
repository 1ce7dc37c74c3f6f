// Package postgres implements the repository ports on PostgreSQL. Queries are
// built with the ent SQL builder and scanned with sqlx.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeUniqueViolation      = "23505"
	codeExclusionViolation   = "23P01"
)

const (
	tableAvailability = "provider_availability"
	tableAppointments = "appointments"
	tableTemplates    = "lease_templates"
	tableAssignments  = "property_lease_templates"
	tableDocuments    = "lease_documents"
)

type Options struct {
	// SerializationRetries bounds how often WithinTx replays fn after a
	// serialization failure.
	SerializationRetries int
	Now                  func() time.Time
	Logger               *slog.Logger
}

// Store owns the connection pool. The repositories it hands out run inside
// the transaction carried by the context, if any.
type Store struct {
	db      *sqlx.DB
	retries int
	now     func() time.Time
	log     *slog.Logger
}

func New(db *sqlx.DB, opts Options) *Store {
	if opts.SerializationRetries <= 0 {
		opts.SerializationRetries = 3
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Store{
		db:      db,
		retries: opts.SerializationRetries,
		now:     opts.Now,
		log:     opts.Logger.With(slog.String("component", "postgres")),
	}
}

func (s *Store) DB() *sqlx.DB { return s.db }

type txKey struct{}

// InTx reports whether ctx carries a transaction opened by WithinTx.
func InTx(ctx context.Context) bool {
	_, ok := ctx.Value(txKey{}).(*sqlx.Tx)
	return ok
}

// ext returns the transaction bound to ctx, or the pool.
func (s *Store) ext(ctx context.Context) sqlx.ExtContext {
	if tx, ok := ctx.Value(txKey{}).(*sqlx.Tx); ok {
		return tx
	}
	return s.db
}

// WithinTx runs fn in a serializable transaction and replays it when
// PostgreSQL aborts the transaction with a serialization failure or deadlock.
// Nested calls join the outer transaction.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*sqlx.Tx); ok {
		return fn(ctx)
	}

	var err error
	for attempt := 1; attempt <= s.retries; attempt++ {
		err = s.runTx(ctx, fn)
		if err == nil || !isRetryableTx(err) {
			return err
		}
		s.log.DebugContext(ctx, "serializable transaction aborted, retrying",
			slog.Int("attempt", attempt),
			slog.Any("err", err),
		)
	}
	return fmt.Errorf("transaction retries exhausted: %w", err)
}

func (s *Store) runTx(ctx context.Context, fn func(ctx context.Context) error) error {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.log.WarnContext(ctx, "rollback failed", slog.Any("err", rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func pqCode(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}

func isRetryableTx(err error) bool {
	switch pqCode(err) {
	case codeSerializationFailure, codeDeadlockDetected:
		return true
	}
	return false
}

func builder() *entsql.DialectBuilder {
	return entsql.Dialect(dialect.Postgres)
}

// getOne runs a single-row query built by q and scans it into dest. A missing
// row becomes notFound.
func (s *Store) getOne(ctx context.Context, dest any, q entsql.Querier, notFound error) error {
	query, args := q.Query()
	if err := sqlx.GetContext(ctx, s.ext(ctx), dest, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return notFound
		}
		return err
	}
	return nil
}

func (s *Store) selectAll(ctx context.Context, dest any, q entsql.Querier) error {
	query, args := q.Query()
	return sqlx.SelectContext(ctx, s.ext(ctx), dest, query, args...)
}

// exec runs q and returns the affected row count.
func (s *Store) exec(ctx context.Context, q entsql.Querier) (int64, error) {
	query, args := q.Query()
	res, err := s.ext(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
