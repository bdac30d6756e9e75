package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"strategylab/internal/catalog"
	"strategylab/internal/util"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface check.
var _ IndicatorStore = (*SQLiteStore)(nil)

// SQLiteStore implements IndicatorStore backed by a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS indicators (
	name       TEXT PRIMARY KEY,
	formula    TEXT NOT NULL,
	parameters TEXT NOT NULL DEFAULT '{}',
	updated_at INTEGER NOT NULL
);`

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, creates the
// schema, and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// One writer at a time; SQLite serialises writes anyway.
	db.SetMaxOpenConns(1)

	err = util.RetryIf(ctx, 5, 50*time.Millisecond, func() error {
		_, err := db.ExecContext(ctx, schema)
		return err
	}, isBusy)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating %s: %w", dbPath, err)
	}
	return &SQLiteStore{db: db}, nil
}

// isBusy reports whether err is a transient lock conflict.
func isBusy(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// IndicatorStore implementation
// ---------------------------------------------------------------------------

// SaveIndicator inserts or replaces a custom indicator spec.
func (s *SQLiteStore) SaveIndicator(ctx context.Context, spec catalog.Spec) error {
	params := spec.Parameters
	if params == nil {
		params = map[string]float64{}
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("encoding parameters of %s: %w", spec.Name, err)
	}
	return util.RetryIf(ctx, 5, 50*time.Millisecond, func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO indicators (name, formula, parameters, updated_at) VALUES (?, ?, ?, ?)
			 ON CONFLICT(name) DO UPDATE SET formula = excluded.formula, parameters = excluded.parameters, updated_at = excluded.updated_at`,
			spec.Name, spec.Formula, string(raw), time.Now().UnixMilli())
		return err
	}, isBusy)
}

// DeleteIndicator removes a custom indicator spec by name.
func (s *SQLiteStore) DeleteIndicator(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM indicators WHERE name = ?`, name)
	return err
}

// ListIndicators returns all stored specs ordered by name.
func (s *SQLiteStore) ListIndicators(ctx context.Context) ([]catalog.Spec, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, formula, parameters FROM indicators ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var specs []catalog.Spec
	for rows.Next() {
		var (
			spec catalog.Spec
			raw  string
		)
		if err := rows.Scan(&spec.Name, &spec.Formula, &raw); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(raw), &spec.Parameters); err != nil {
			return nil, fmt.Errorf("decoding parameters of %s: %w", spec.Name, err)
		}
		if len(spec.Parameters) == 0 {
			spec.Parameters = nil
		}
		specs = append(specs, spec)
	}
	return specs, rows.Err()
}
