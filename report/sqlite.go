package report

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
	// registers the "sqlite" driver
	_ "modernc.org/sqlite"
)

const reportsSchema = `
CREATE TABLE IF NOT EXISTS reports (
	path       TEXT NOT NULL,
	key        TEXT NOT NULL,
	payload    TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	PRIMARY KEY (path, key)
)`

// SQLiteStore keeps reports in a local SQLite database, one row per (path, key).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to open database %v", dbPath)
	}
	// a single connection serializes writers
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(reportsSchema); err != nil {
		//nolint:errcheck
		db.Close()
		return nil, errors.Wrap(err, "unable to create reports table")
	}
	return &SQLiteStore{db: db}, nil
}

// Patch upserts every field under path.
func (s *SQLiteStore) Patch(ctx context.Context, p string, fields map[string]string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "unable to begin transaction")
	}
	//nolint:errcheck
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO reports (path, key, payload, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (path, key) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at
	`)
	if err != nil {
		return errors.Wrap(err, "unable to prepare statement")
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for k, v := range fields {
		if _, err := stmt.ExecContext(ctx, p, k, v, now); err != nil {
			return errors.Wrapf(err, "unable to store %v/%v", p, k)
		}
	}
	return errors.Wrap(tx.Commit(), "unable to commit reports")
}

// Get returns the payload stored for (path, key).
func (s *SQLiteStore) Get(ctx context.Context, p, key string) (string, bool, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM reports WHERE path = ? AND key = ?`, p, key).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrapf(err, "unable to read %v/%v", p, key)
	}
	return payload, true, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
