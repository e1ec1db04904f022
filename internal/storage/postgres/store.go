// Package postgres stores mappings in PostgreSQL. Codes come from a sequence,
// so allocation stays atomic across every process sharing the database.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sundayezeilo/shorturl/internal/errx"
	"github.com/sundayezeilo/shorturl/internal/shortener"
)

const uniqueViolation = "23505"

// schemaLockID serializes schema bootstrap between processes starting together.
const schemaLockID = 7_261_513

const schema = `
CREATE SEQUENCE IF NOT EXISTS url_mappings_short_code_seq AS BIGINT START WITH 1;

CREATE TABLE IF NOT EXISTS url_mappings (
	short_code   BIGINT      PRIMARY KEY,
	original_url TEXT        NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	CONSTRAINT url_mappings_original_url_unique UNIQUE (original_url)
);
`

// dbtx is the subset of pgxpool.Pool the store uses.
type dbtx interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

// Store is a shortener.Store backed by a pgx pool.
type Store struct {
	db   dbtx
	pool *pgxpool.Pool
}

var _ shortener.Store = (*Store)(nil)

// Config holds pool settings.
type Config struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	ConnectTimeout time.Duration
}

// Open connects, verifies the connection and creates the schema if missing.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = cfg.MinConns
	}
	if cfg.ConnectTimeout > 0 {
		poolConfig.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := ensureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &Store{db: pool, pool: pool}, nil
}

func ensureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin schema transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", schemaLockID); err != nil {
		return fmt.Errorf("failed to take schema lock: %w", err)
	}
	if _, err := tx.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *Store) FindByOriginalURL(ctx context.Context, originalURL string) (shortener.Mapping, error) {
	const op = "postgres.Store.FindByOriginalURL"

	row := s.db.QueryRow(ctx,
		`SELECT short_code, original_url, created_at FROM url_mappings WHERE original_url = $1`,
		originalURL,
	)

	m, err := scanMapping(row)
	if err != nil {
		return shortener.Mapping{}, mapError(op, err)
	}
	return m, nil
}

func (s *Store) FindByShortCode(ctx context.Context, code int64) (shortener.Mapping, error) {
	const op = "postgres.Store.FindByShortCode"

	row := s.db.QueryRow(ctx,
		`SELECT short_code, original_url, created_at FROM url_mappings WHERE short_code = $1`,
		code,
	)

	m, err := scanMapping(row)
	if err != nil {
		return shortener.Mapping{}, mapError(op, err)
	}
	return m, nil
}

// AllocateNextCode draws from the sequence. Values handed to losing inserts
// are not reused.
func (s *Store) AllocateNextCode(ctx context.Context) (int64, error) {
	const op = "postgres.Store.AllocateNextCode"

	var code int64
	if err := s.db.QueryRow(ctx, `SELECT nextval('url_mappings_short_code_seq')`).Scan(&code); err != nil {
		return 0, mapError(op, err)
	}
	return code, nil
}

func (s *Store) Insert(ctx context.Context, m shortener.Mapping) (shortener.Mapping, error) {
	const op = "postgres.Store.Insert"

	row := s.db.QueryRow(ctx,
		`INSERT INTO url_mappings (short_code, original_url)
		 VALUES ($1, $2)
		 RETURNING short_code, original_url, created_at`,
		m.ShortCode, m.OriginalURL,
	)

	created, err := scanMapping(row)
	if err != nil {
		return shortener.Mapping{}, mapError(op, err)
	}
	return created, nil
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		return errx.E("postgres.Store.Ping", errx.Unavailable, err)
	}
	return nil
}

func (s *Store) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func scanMapping(row pgx.Row) (shortener.Mapping, error) {
	var m shortener.Mapping
	if err := row.Scan(&m.ShortCode, &m.OriginalURL, &m.CreatedAt); err != nil {
		return shortener.Mapping{}, err
	}
	return m, nil
}

// mapError converts pgx errors into errx kinds.
func mapError(op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return errx.E(op, errx.NotFound, err)
	}
	if isUniqueViolation(err) {
		return errx.E(op, errx.Conflict, err)
	}
	return errx.E(op, errx.Unavailable, err)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
