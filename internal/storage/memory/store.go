// Package memory is a process-local mapping store. State is lost on restart.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sundayezeilo/shorturl/internal/errx"
	"github.com/sundayezeilo/shorturl/internal/shortener"
)

// Store keeps mappings in two indexes over one table. A single mutex
// serializes allocation and inserts.
type Store struct {
	mu     sync.RWMutex
	seq    int64
	rows   []shortener.Mapping
	byURL  map[string]int
	byCode map[int64]int
	closed bool

	now func() time.Time
}

var _ shortener.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		byURL:  make(map[string]int),
		byCode: make(map[int64]int),
		now:    time.Now,
	}
}

func (s *Store) FindByOriginalURL(ctx context.Context, originalURL string) (shortener.Mapping, error) {
	const op = "memory.Store.FindByOriginalURL"

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return shortener.Mapping{}, errx.E(op, errx.Unavailable, errClosed)
	}
	i, ok := s.byURL[originalURL]
	if !ok {
		return shortener.Mapping{}, errx.E(op, errx.NotFound, errors.New("no mapping for url"))
	}
	return s.rows[i], nil
}

func (s *Store) FindByShortCode(ctx context.Context, code int64) (shortener.Mapping, error) {
	const op = "memory.Store.FindByShortCode"

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return shortener.Mapping{}, errx.E(op, errx.Unavailable, errClosed)
	}
	i, ok := s.byCode[code]
	if !ok {
		return shortener.Mapping{}, errx.E(op, errx.NotFound, fmt.Errorf("no mapping for code %d", code))
	}
	return s.rows[i], nil
}

func (s *Store) AllocateNextCode(ctx context.Context) (int64, error) {
	const op = "memory.Store.AllocateNextCode"

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, errx.E(op, errx.Unavailable, errClosed)
	}
	s.seq++
	return s.seq, nil
}

func (s *Store) Insert(ctx context.Context, m shortener.Mapping) (shortener.Mapping, error) {
	const op = "memory.Store.Insert"

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return shortener.Mapping{}, errx.E(op, errx.Unavailable, errClosed)
	}
	if _, ok := s.byURL[m.OriginalURL]; ok {
		return shortener.Mapping{}, errx.E(op, errx.Conflict, errors.New("url already mapped"))
	}
	if _, ok := s.byCode[m.ShortCode]; ok {
		return shortener.Mapping{}, errx.E(op, errx.Conflict, fmt.Errorf("code %d already issued", m.ShortCode))
	}

	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.now().UTC()
	}
	// keep the counter ahead of codes inserted directly
	if m.ShortCode > s.seq {
		s.seq = m.ShortCode
	}

	s.rows = append(s.rows, m)
	i := len(s.rows) - 1
	s.byURL[m.OriginalURL] = i
	s.byCode[m.ShortCode] = i

	return m, nil
}

func (s *Store) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return errx.E("memory.Store.Ping", errx.Unavailable, errClosed)
	}
	return nil
}

// Close marks the store unusable. Contents are discarded.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.rows = nil
	clear(s.byURL)
	clear(s.byCode)
	return nil
}

var errClosed = errors.New("store is closed")
