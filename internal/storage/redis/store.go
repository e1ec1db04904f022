// Package redis stores mappings in Redis. Codes come from INCR on a counter
// key and both indexes are written by one Lua script, so a duplicate URL or
// code is refused atomically.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sundayezeilo/shorturl/internal/errx"
	"github.com/sundayezeilo/shorturl/internal/shortener"
)

const DefaultKeyPrefix = "shorturl:"

// Insert script results.
const (
	insertOK       = 0
	insertURLTaken = 1
	insertCodeUsed = 2
)

// KEYS[1] by_url hash, KEYS[2] by_code hash
// ARGV[1] url, ARGV[2] code, ARGV[3] encoded record
var insertScript = redis.NewScript(`
	if redis.call('HEXISTS', KEYS[1], ARGV[1]) == 1 then
		return 1
	end
	if redis.call('HEXISTS', KEYS[2], ARGV[2]) == 1 then
		return 2
	end
	redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
	redis.call('HSET', KEYS[2], ARGV[2], ARGV[3])
	return 0
`)

// record is the value stored under a code in the by_code hash.
type record struct {
	OriginalURL string    `json:"original_url"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store is a shortener.Store backed by a go-redis client.
type Store struct {
	client    redis.UniversalClient
	seqKey    string
	byURLKey  string
	byCodeKey string

	now func() time.Time
}

var _ shortener.Store = (*Store)(nil)

// Config holds connection settings. DSN is a redis:// or rediss:// URL.
type Config struct {
	DSN            string
	PoolSize       int
	MinIdleConns   int
	ConnectTimeout time.Duration
	KeyPrefix      string
}

// Open connects to the server named by cfg.DSN and verifies it answers.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	opts, err := redis.ParseURL(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if cfg.MinIdleConns > 0 {
		opts.MinIdleConns = cfg.MinIdleConns
	}
	if cfg.ConnectTimeout > 0 {
		opts.DialTimeout = cfg.ConnectTimeout
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return New(client, cfg.KeyPrefix), nil
}

// New wraps an existing client. An empty prefix means DefaultKeyPrefix.
func New(client redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &Store{
		client:    client,
		seqKey:    prefix + "seq",
		byURLKey:  prefix + "by_url",
		byCodeKey: prefix + "by_code",
		now:       time.Now,
	}
}

func (s *Store) FindByOriginalURL(ctx context.Context, originalURL string) (shortener.Mapping, error) {
	const op = "redis.Store.FindByOriginalURL"

	raw, err := s.client.HGet(ctx, s.byURLKey, originalURL).Result()
	if err != nil {
		return shortener.Mapping{}, mapError(op, err)
	}

	code, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return shortener.Mapping{}, errx.E(op, errx.Internal, fmt.Errorf("corrupt code %q: %w", raw, err))
	}

	m, err := s.FindByShortCode(ctx, code)
	if err != nil {
		return shortener.Mapping{}, errx.E(op, errx.KindOf(err), err)
	}
	return m, nil
}

func (s *Store) FindByShortCode(ctx context.Context, code int64) (shortener.Mapping, error) {
	const op = "redis.Store.FindByShortCode"

	raw, err := s.client.HGet(ctx, s.byCodeKey, strconv.FormatInt(code, 10)).Bytes()
	if err != nil {
		return shortener.Mapping{}, mapError(op, err)
	}

	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return shortener.Mapping{}, errx.E(op, errx.Internal, fmt.Errorf("corrupt record for code %d: %w", code, err))
	}

	return shortener.Mapping{
		OriginalURL: rec.OriginalURL,
		ShortCode:   code,
		CreatedAt:   rec.CreatedAt,
	}, nil
}

func (s *Store) AllocateNextCode(ctx context.Context) (int64, error) {
	code, err := s.client.Incr(ctx, s.seqKey).Result()
	if err != nil {
		return 0, mapError("redis.Store.AllocateNextCode", err)
	}
	return code, nil
}

func (s *Store) Insert(ctx context.Context, m shortener.Mapping) (shortener.Mapping, error) {
	const op = "redis.Store.Insert"

	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.now().UTC()
	}

	payload, err := json.Marshal(record{OriginalURL: m.OriginalURL, CreatedAt: m.CreatedAt})
	if err != nil {
		return shortener.Mapping{}, errx.E(op, errx.Internal, err)
	}

	code := strconv.FormatInt(m.ShortCode, 10)
	res, err := insertScript.Run(ctx, s.client,
		[]string{s.byURLKey, s.byCodeKey},
		m.OriginalURL, code, payload,
	).Int()
	if err != nil {
		return shortener.Mapping{}, mapError(op, err)
	}

	switch res {
	case insertOK:
		return m, nil
	case insertURLTaken:
		return shortener.Mapping{}, errx.E(op, errx.Conflict, errors.New("url already mapped"))
	case insertCodeUsed:
		return shortener.Mapping{}, errx.E(op, errx.Conflict, fmt.Errorf("code %s already issued", code))
	default:
		return shortener.Mapping{}, errx.E(op, errx.Internal, fmt.Errorf("unexpected script result %d", res))
	}
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return errx.E("redis.Store.Ping", errx.Unavailable, err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

func mapError(op string, err error) error {
	if errors.Is(err, redis.Nil) {
		return errx.E(op, errx.NotFound, err)
	}
	return errx.E(op, errx.Unavailable, err)
}
