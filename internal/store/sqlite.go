// Package store keeps the history of tracking runs in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/tira-io/tirex-tracker/internal/logging"
	"github.com/tira-io/tirex-tracker/internal/model"
)

var ErrNotFound = model.NewError("run not found")

// Store provides database operations.
type Store struct {
	db     *sql.DB
	dbPath string
}

// New opens (or creates) the SQLite database and runs migrations.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite single-writer
	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}
	logging.Debugf("store", "opened %s", dbPath)
	return &Store{db: db, dbPath: dbPath}, nil
}

// DBPath returns the database file path.
func (s *Store) DBPath() string { return s.dbPath }

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// InsertRun stores a run with its results. An empty ID is filled with a new
// UUID, which is returned.
func (s *Store) InsertRun(ctx context.Context, r model.RunRecord) (string, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, title, description, command, exit_code, started_at, stopped_at, export_path)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Title, r.Description, r.Command, r.ExitCode,
		r.StartedAt.UnixNano(), r.StoppedAt.UnixNano(), r.ExportPath)
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, "INSERT INTO run_results (run_id, measure, type, value) VALUES (?, ?, ?, ?)")
	if err != nil {
		return "", err
	}
	defer stmt.Close()
	for _, m := range r.Results.Measures() {
		e := r.Results[m]
		if _, err := stmt.ExecContext(ctx, r.ID, string(m), e.Type.String(), e.Value); err != nil {
			return "", fmt.Errorf("insert result %s: %w", m, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return r.ID, nil
}

// GetRun returns the run with the given id, including its results.
func (s *Store) GetRun(ctx context.Context, id string) (*model.RunRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, description, command, exit_code, started_at, stopped_at, export_path
		FROM runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, "SELECT measure, type, value FROM run_results WHERE run_id = ?", id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	r.Results = make(model.Results)
	for rows.Next() {
		var measure, typ, value string
		if err := rows.Scan(&measure, &typ, &value); err != nil {
			return nil, err
		}
		t, err := model.ParseResultType(typ)
		if err != nil {
			return nil, fmt.Errorf("run %s: %w", id, err)
		}
		m := model.Measure(measure)
		r.Results[m] = model.ResultEntry{Source: m, Type: t, Value: value}
	}
	return r, rows.Err()
}

// ListRuns returns up to limit runs, newest first, without their results.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]model.RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, description, command, exit_code, started_at, stopped_at, export_path
		FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []model.RunRecord
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *r)
	}
	return result, rows.Err()
}

// PurgeBefore deletes runs started before t and returns how many were removed.
func (s *Store) PurgeBefore(ctx context.Context, t time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM runs WHERE started_at < ?", t.UnixNano())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (*model.RunRecord, error) {
	var r model.RunRecord
	var started, stopped int64
	if err := sc.Scan(&r.ID, &r.Title, &r.Description, &r.Command, &r.ExitCode, &started, &stopped, &r.ExportPath); err != nil {
		return nil, err
	}
	r.StartedAt = time.Unix(0, started)
	r.StoppedAt = time.Unix(0, stopped)
	return &r, nil
}
