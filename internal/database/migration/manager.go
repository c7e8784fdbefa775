// Package migration drives golang-migrate against the chunk/conversation
// schema in migrations/sql.
package migration

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jmoiron/sqlx"

	"github.com/S-Corkum/ragcore/internal/observability"
)

// Config configures the migration manager.
type Config struct {
	MigrationsPath string
	Timeout        time.Duration
	Steps          int // 0 means "apply everything pending"
}

// Manager wraps golang-migrate for the postgres driver.
type Manager struct {
	db       *sqlx.DB
	config   Config
	migrator *migrate.Migrate
	logger   observability.Logger
}

func NewManager(db *sqlx.DB, config Config, logger observability.Logger) (*Manager, error) {
	if db == nil {
		return nil, errors.New("migration: db connection cannot be nil")
	}
	if config.MigrationsPath == "" {
		config.MigrationsPath = "migrations/sql"
	}
	if config.Timeout == 0 {
		config.Timeout = time.Minute
	}
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	if _, err := filepath.Abs(config.MigrationsPath); err != nil {
		return nil, fmt.Errorf("resolve migrations path: %w", err)
	}
	return &Manager{db: db, config: config, logger: logger}, nil
}

func (m *Manager) init() error {
	if m.migrator != nil {
		return nil
	}
	driver, err := postgres.WithInstance(m.db.DB, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create postgres driver: %w", err)
	}
	sourceURL := fmt.Sprintf("file://%s", m.config.MigrationsPath)
	migrator, err := migrate.NewWithDatabaseInstance(sourceURL, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	m.migrator = migrator
	return nil
}

// Up applies all pending migrations, or Steps of them if configured.
func (m *Manager) Up(ctx context.Context) error {
	if err := m.init(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, m.config.Timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		var err error
		if m.config.Steps > 0 {
			err = m.migrator.Steps(m.config.Steps)
		} else {
			err = m.migrator.Up()
		}
		if errors.Is(err, migrate.ErrNoChange) {
			m.logger.Info("no pending migrations", nil)
			err = nil
		}
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("migration error: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("migration timeout after %s", m.config.Timeout)
	}
}

// Version reports the current schema version and whether it's dirty.
func (m *Manager) Version() (uint, bool, error) {
	if err := m.init(); err != nil {
		return 0, false, err
	}
	version, dirty, err := m.migrator.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, fmt.Errorf("get migration version: %w", err)
	}
	return version, dirty, nil
}

// Down rolls back the most recently applied migration.
func (m *Manager) Down(ctx context.Context) error {
	if err := m.init(); err != nil {
		return err
	}
	return m.migrator.Steps(-1)
}
