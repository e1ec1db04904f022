// Package sqlite stores mappings in a SQLite file. The database is opened with
// a single connection, so allocation and inserts are serialized in-process.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/sundayezeilo/shorturl/internal/errx"
	"github.com/sundayezeilo/shorturl/internal/shortener"
)

const schema = `
CREATE TABLE IF NOT EXISTS counters (
	name  TEXT    PRIMARY KEY,
	value INTEGER NOT NULL
);

INSERT OR IGNORE INTO counters (name, value) VALUES ('short_code', 0);

CREATE TABLE IF NOT EXISTS url_mappings (
	short_code   INTEGER  PRIMARY KEY,
	original_url TEXT     NOT NULL UNIQUE,
	created_at   DATETIME NOT NULL
);
`

// Store is a shortener.Store backed by database/sql and go-sqlite3.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

var _ shortener.Store = (*Store)(nil)

// Open opens or creates the database at path and bootstraps the schema.
// ":memory:" gives a private in-memory database.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) FindByOriginalURL(ctx context.Context, originalURL string) (shortener.Mapping, error) {
	const op = "sqlite.Store.FindByOriginalURL"

	row := s.db.QueryRowContext(ctx,
		`SELECT short_code, original_url, created_at FROM url_mappings WHERE original_url = ?`,
		originalURL,
	)

	m, err := scanMapping(row)
	if err != nil {
		return shortener.Mapping{}, mapError(op, err)
	}
	return m, nil
}

func (s *Store) FindByShortCode(ctx context.Context, code int64) (shortener.Mapping, error) {
	const op = "sqlite.Store.FindByShortCode"

	row := s.db.QueryRowContext(ctx,
		`SELECT short_code, original_url, created_at FROM url_mappings WHERE short_code = ?`,
		code,
	)

	m, err := scanMapping(row)
	if err != nil {
		return shortener.Mapping{}, mapError(op, err)
	}
	return m, nil
}

// AllocateNextCode bumps the counter row and returns the new value in one
// statement.
func (s *Store) AllocateNextCode(ctx context.Context) (int64, error) {
	const op = "sqlite.Store.AllocateNextCode"

	var code int64
	err := s.db.QueryRowContext(ctx,
		`UPDATE counters SET value = value + 1 WHERE name = 'short_code' RETURNING value`,
	).Scan(&code)
	if err != nil {
		return 0, mapError(op, err)
	}
	return code, nil
}

func (s *Store) Insert(ctx context.Context, m shortener.Mapping) (shortener.Mapping, error) {
	const op = "sqlite.Store.Insert"

	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO url_mappings (short_code, original_url, created_at) VALUES (?, ?, ?)`,
		m.ShortCode, m.OriginalURL, m.CreatedAt,
	)
	if err != nil {
		return shortener.Mapping{}, mapError(op, err)
	}
	return m, nil
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return errx.E("sqlite.Store.Ping", errx.Unavailable, err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func scanMapping(row *sql.Row) (shortener.Mapping, error) {
	var m shortener.Mapping
	if err := row.Scan(&m.ShortCode, &m.OriginalURL, &m.CreatedAt); err != nil {
		return shortener.Mapping{}, err
	}
	return m, nil
}

func mapError(op string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return errx.E(op, errx.NotFound, err)
	}
	if isConstraintViolation(err) {
		return errx.E(op, errx.Conflict, err)
	}
	return errx.E(op, errx.Unavailable, err)
}

func isConstraintViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}
