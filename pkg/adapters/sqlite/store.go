// Package sqlite provides a StateStore backed by a SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aretw0/tendril/pkg/domain"
	migrate "github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Store implements ports.StateStore on a single SQLite table.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at dsn and migrates it.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping sqlite: %w", err)
	}
	store, err := New(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// New wraps an open database, applying pending migrations.
func New(db *sql.DB) (*Store, error) {
	if err := runMigrations(db); err != nil {
		return nil, fmt.Errorf("sqlite migration failed: %w", err)
	}
	return &Store{db: db}, nil
}

func runMigrations(db *sql.DB) error {
	source, err := iofs.New(migrations, "migrations")
	if err != nil {
		return err
	}
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return err
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// Save upserts the state.
func (s *Store) Save(ctx context.Context, processID string, state *domain.ProcessState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO processes (id, flow, status, state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			flow = excluded.flow,
			status = excluded.status,
			state = excluded.state,
			updated_at = excluded.updated_at`,
		processID, state.Flow, string(state.Status), data,
		formatTime(state.CreatedAt), formatTime(state.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save process %s: %w", processID, err)
	}
	return nil
}

// Load reads the state of processID.
func (s *Store) Load(ctx context.Context, processID string) (*domain.ProcessState, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT state FROM processes WHERE id = ?`, processID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrProcessNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load process %s: %w", processID, err)
	}

	var state domain.ProcessState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	return &state, nil
}

// Delete removes processID. Deleting a missing process is not an error.
func (s *Store) Delete(ctx context.Context, processID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM processes WHERE id = ?`, processID); err != nil {
		return fmt.Errorf("failed to delete process %s: %w", processID, err)
	}
	return nil
}

// List returns every stored process ID in order.
func (s *Store) List(ctx context.Context) ([]string, error) {
	return s.query(ctx, `SELECT id FROM processes ORDER BY id`)
}

// ListByStatus returns the IDs of processes in status.
func (s *Store) ListByStatus(ctx context.Context, status domain.ProcessStatus) ([]string, error) {
	return s.query(ctx, `SELECT id FROM processes WHERE status = ? ORDER BY id`, string(status))
}

func (s *Store) query(ctx context.Context, q string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list processes: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
