package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/sundayezeilo/shorturl/internal/errx"
	"github.com/sundayezeilo/shorturl/internal/shortener"
	"github.com/sundayezeilo/shorturl/internal/storage/storetest"
)

/***************
 * Unit tests
 ***************/

// fakeRow returns a fixed scan error or fills values in order.
type fakeRow struct {
	values []any
	err    error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	for i, d := range dest {
		switch p := d.(type) {
		case *int64:
			*p = r.values[i].(int64)
		case *string:
			*p = r.values[i].(string)
		case *time.Time:
			*p = r.values[i].(time.Time)
		}
	}
	return nil
}

type fakeDB struct {
	row     pgx.Row
	pingErr error
	lastSQL string
	args    []any
}

func (f *fakeDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	f.lastSQL = sql
	f.args = args
	return f.row
}

func (f *fakeDB) Ping(ctx context.Context) error { return f.pingErr }

func TestMapError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want errx.Kind
	}{
		{"no rows", pgx.ErrNoRows, errx.NotFound},
		{"unique violation", &pgconn.PgError{Code: "23505", ConstraintName: "url_mappings_original_url_unique"}, errx.Conflict},
		{"wrapped unique violation", errors.Join(errors.New("ctx"), &pgconn.PgError{Code: "23505"}), errx.Conflict},
		{"undefined table", &pgconn.PgError{Code: "42P01"}, errx.Unavailable},
		{"connection refused", errors.New("dial tcp: connection refused"), errx.Unavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := mapError("test.op", tt.err)
			assert.Equal(t, tt.want, errx.KindOf(err))
			assert.Equal(t, "test.op", errx.OpOf(err))
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestStore_FindByShortCode_Scans(t *testing.T) {
	now := time.Now().UTC()
	db := &fakeDB{row: fakeRow{values: []any{int64(9), "https://example.com", now}}}
	s := &Store{db: db}

	m, err := s.FindByShortCode(context.Background(), 9)
	require.NoError(t, err)
	assert.Equal(t, shortener.Mapping{OriginalURL: "https://example.com", ShortCode: 9, CreatedAt: now}, m)
	assert.Equal(t, []any{int64(9)}, db.args)
}

func TestStore_Insert_Conflict(t *testing.T) {
	db := &fakeDB{row: fakeRow{err: &pgconn.PgError{Code: "23505"}}}
	s := &Store{db: db}

	_, err := s.Insert(context.Background(), shortener.Mapping{OriginalURL: "https://example.com", ShortCode: 1})
	assert.True(t, errx.Is(err, errx.Conflict))
	assert.Equal(t, "postgres.Store.Insert", errx.OpOf(err))
}

func TestStore_AllocateNextCode_Unavailable(t *testing.T) {
	db := &fakeDB{row: fakeRow{err: errors.New("conn closed")}}
	s := &Store{db: db}

	_, err := s.AllocateNextCode(context.Background())
	assert.True(t, errx.Is(err, errx.Unavailable))
	assert.Contains(t, db.lastSQL, "nextval")
}

func TestStore_Ping(t *testing.T) {
	s := &Store{db: &fakeDB{pingErr: errors.New("down")}}
	assert.True(t, errx.Is(s.Ping(context.Background()), errx.Unavailable))

	s = &Store{db: &fakeDB{}}
	assert.NoError(t, s.Ping(context.Background()))
}

/***************
 * Integration tests
 ***************/

func startPostgres(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("shorturl_test"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "failed to start postgres container")
	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return dsn
}

func TestStoreConformance(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}

	dsn := startPostgres(t)

	storetest.Run(t, func(t *testing.T) shortener.Store {
		ctx := context.Background()
		s, err := Open(ctx, Config{DSN: dsn, MaxConns: 20})
		require.NoError(t, err)

		_, err = s.pool.Exec(ctx, `TRUNCATE url_mappings`)
		require.NoError(t, err)
		return s
	})
}

func TestOpen_SchemaIsIdempotent(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}

	dsn := startPostgres(t)
	ctx := context.Background()

	first, err := Open(ctx, Config{DSN: dsn})
	require.NoError(t, err)
	defer first.Close()

	second, err := Open(ctx, Config{DSN: dsn})
	require.NoError(t, err)
	defer second.Close()

	a, err := first.AllocateNextCode(ctx)
	require.NoError(t, err)
	b, err := second.AllocateNextCode(ctx)
	require.NoError(t, err)
	assert.Greater(t, b, a, "stores on one database share the sequence")
}

func TestOpen_BadDSN(t *testing.T) {
	_, err := Open(context.Background(), Config{DSN: "postgres://%zz"})
	assert.Error(t, err)
}
