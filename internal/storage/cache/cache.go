// Package cache wraps a shortener.Store with an in-process read-through cache.
// Mappings never change once stored, so only positive lookups are cached and
// nothing is ever invalidated.
package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/sundayezeilo/shorturl/internal/metrics"
	"github.com/sundayezeilo/shorturl/internal/shortener"
)

// Config sizes the cache.
type Config struct {
	MaxItems int64
	TTL      time.Duration
}

// Store decorates another store.
type Store struct {
	next  shortener.Store
	cache *ristretto.Cache
	ttl   time.Duration
}

var _ shortener.Store = (*Store)(nil)

// New wraps next. Every entry costs 1, so MaxItems bounds the entry count.
func New(next shortener.Store, cfg Config) (*Store, error) {
	maxItems := cfg.MaxItems
	if maxItems <= 0 {
		maxItems = 10_000
	}

	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxItems * 10,
		MaxCost:     maxItems,
		BufferItems: 64,
		// count entries, not bytes
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create cache: %w", err)
	}

	return &Store{next: next, cache: c, ttl: cfg.TTL}, nil
}

func urlKey(originalURL string) string { return "u:" + originalURL }

func codeKey(code int64) string { return "c:" + strconv.FormatInt(code, 10) }

func (s *Store) FindByOriginalURL(ctx context.Context, originalURL string) (shortener.Mapping, error) {
	if m, ok := s.get(urlKey(originalURL)); ok {
		return m, nil
	}

	m, err := s.next.FindByOriginalURL(ctx, originalURL)
	if err != nil {
		return shortener.Mapping{}, err
	}
	s.put(m)
	return m, nil
}

func (s *Store) FindByShortCode(ctx context.Context, code int64) (shortener.Mapping, error) {
	if m, ok := s.get(codeKey(code)); ok {
		return m, nil
	}

	m, err := s.next.FindByShortCode(ctx, code)
	if err != nil {
		return shortener.Mapping{}, err
	}
	s.put(m)
	return m, nil
}

func (s *Store) AllocateNextCode(ctx context.Context) (int64, error) {
	return s.next.AllocateNextCode(ctx)
}

func (s *Store) Insert(ctx context.Context, m shortener.Mapping) (shortener.Mapping, error) {
	created, err := s.next.Insert(ctx, m)
	if err != nil {
		return shortener.Mapping{}, err
	}
	s.put(created)
	return created, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.next.Ping(ctx)
}

func (s *Store) Close() error {
	s.cache.Close()
	return s.next.Close()
}

// Wait blocks until buffered writes are visible to Get.
func (s *Store) Wait() {
	s.cache.Wait()
}

func (s *Store) get(key string) (shortener.Mapping, bool) {
	v, ok := s.cache.Get(key)
	if !ok {
		metrics.RecordCacheMiss()
		return shortener.Mapping{}, false
	}
	m, ok := v.(shortener.Mapping)
	if !ok {
		metrics.RecordCacheMiss()
		return shortener.Mapping{}, false
	}
	metrics.RecordCacheHit()
	return m, true
}

func (s *Store) put(m shortener.Mapping) {
	s.cache.SetWithTTL(urlKey(m.OriginalURL), m, 1, s.ttl)
	s.cache.SetWithTTL(codeKey(m.ShortCode), m, 1, s.ttl)
}
