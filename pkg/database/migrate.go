package database

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/Alijeyrad/keystone_backend/config"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// MigrationSource returns the embedded schema migrations.
func MigrationSource() (source.Driver, error) {
	return iofs.New(migrationFS, "migrations")
}

// Migrator applies the embedded migrations to one database.
type Migrator struct {
	m   *migrate.Migrate
	log *slog.Logger
}

func NewMigrator(db *sql.DB, log *slog.Logger) (*Migrator, error) {
	if log == nil {
		log = slog.Default()
	}
	src, err := MigrationSource()
	if err != nil {
		return nil, fmt.Errorf("open migration source: %w", err)
	}
	drv, err := migratepg.WithInstance(db, &migratepg.Config{})
	if err != nil {
		return nil, fmt.Errorf("open migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", drv)
	if err != nil {
		return nil, fmt.Errorf("create migrator: %w", err)
	}
	return &Migrator{m: m, log: log.With(slog.String("component", "migrate"))}, nil
}

// Up applies every pending migration. An up-to-date schema is not an error.
func (mg *Migrator) Up() error {
	err := mg.m.Up()
	if errors.Is(err, migrate.ErrNoChange) {
		mg.log.Info("schema is up to date")
		return nil
	}
	if err != nil {
		return fmt.Errorf("migrate up: %w", err)
	}
	mg.logVersion()
	return nil
}

// Down rolls back the given number of migrations.
func (mg *Migrator) Down(steps int) error {
	if steps <= 0 {
		return fmt.Errorf("steps must be positive, got %d", steps)
	}
	err := mg.m.Steps(-steps)
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate down: %w", err)
	}
	mg.logVersion()
	return nil
}

// Version reports the applied version and whether the last run left the
// schema dirty.
func (mg *Migrator) Version() (uint, bool, error) {
	v, dirty, err := mg.m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return v, dirty, err
}

func (mg *Migrator) logVersion() {
	v, dirty, err := mg.Version()
	if err != nil {
		mg.log.Warn("read schema version failed", slog.Any("err", err))
		return
	}
	mg.log.Info("schema migrated", slog.Uint64("version", uint64(v)), slog.Bool("dirty", dirty))
}

// Close releases the source and the database driver. The *sql.DB passed to
// NewMigrator is closed as well.
func (mg *Migrator) Close() error {
	srcErr, dbErr := mg.m.Close()
	return errors.Join(srcErr, dbErr)
}

// OpenMigrator connects with its own pool; Close releases it.
func OpenMigrator(cfg config.DatabaseConfig, log *slog.Logger) (*Migrator, error) {
	db, err := openSQLDB(FromCentralConfig(cfg))
	if err != nil {
		return nil, err
	}
	mg, err := NewMigrator(db, log)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return mg, nil
}
