// Package storetest is a conformance suite every shortener.Store must pass.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sundayezeilo/shorturl/internal/errx"
	"github.com/sundayezeilo/shorturl/internal/shortener"
)

// Factory returns an empty store. The suite closes it.
type Factory func(t *testing.T) shortener.Store

// Run exercises the store contract against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(t *testing.T, s shortener.Store)
	}{
		{"EmptyLookupsAreNotFound", testEmptyLookups},
		{"AllocateIsStrictlyIncreasing", testAllocateIncreasing},
		{"InsertThenFind", testInsertThenFind},
		{"DuplicateURLConflicts", testDuplicateURL},
		{"DuplicateCodeConflicts", testDuplicateCode},
		{"ConcurrentAllocateIsUnique", testConcurrentAllocate},
		{"ConcurrentInsertSameURL", testConcurrentInsertSameURL},
		{"Ping", testPing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { _ = s.Close() })
			tt.fn(t, s)
		})
	}
}

func testEmptyLookups(t *testing.T, s shortener.Store) {
	ctx := context.Background()

	_, err := s.FindByOriginalURL(ctx, "https://example.com")
	assert.True(t, errx.Is(err, errx.NotFound), "FindByOriginalURL kind = %v", errx.KindOf(err))

	_, err = s.FindByShortCode(ctx, 1)
	assert.True(t, errx.Is(err, errx.NotFound), "FindByShortCode kind = %v", errx.KindOf(err))
}

func testAllocateIncreasing(t *testing.T, s shortener.Store) {
	ctx := context.Background()

	var prev int64
	for range 5 {
		code, err := s.AllocateNextCode(ctx)
		require.NoError(t, err)
		assert.Positive(t, code)
		assert.Greater(t, code, prev)
		prev = code
	}
}

func testInsertThenFind(t *testing.T, s shortener.Store) {
	ctx := context.Background()

	code, err := s.AllocateNextCode(ctx)
	require.NoError(t, err)

	before := time.Now().Add(-time.Minute)
	created, err := s.Insert(ctx, shortener.Mapping{OriginalURL: "https://example.com/a?b=c", ShortCode: code})
	require.NoError(t, err)
	assert.Equal(t, code, created.ShortCode)
	assert.Equal(t, "https://example.com/a?b=c", created.OriginalURL)
	assert.True(t, created.CreatedAt.After(before), "CreatedAt not set: %v", created.CreatedAt)

	byURL, err := s.FindByOriginalURL(ctx, "https://example.com/a?b=c")
	require.NoError(t, err)
	assert.Equal(t, code, byURL.ShortCode)

	byCode, err := s.FindByShortCode(ctx, code)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/a?b=c", byCode.OriginalURL)
	assert.WithinDuration(t, created.CreatedAt, byCode.CreatedAt, time.Millisecond)

	// lookups are exact
	_, err = s.FindByOriginalURL(ctx, "https://example.com/a?b=c/")
	assert.True(t, errx.Is(err, errx.NotFound))
}

func testDuplicateURL(t *testing.T, s shortener.Store) {
	ctx := context.Background()

	first, err := s.AllocateNextCode(ctx)
	require.NoError(t, err)
	second, err := s.AllocateNextCode(ctx)
	require.NoError(t, err)

	_, err = s.Insert(ctx, shortener.Mapping{OriginalURL: "https://dup.example", ShortCode: first})
	require.NoError(t, err)

	_, err = s.Insert(ctx, shortener.Mapping{OriginalURL: "https://dup.example", ShortCode: second})
	assert.True(t, errx.Is(err, errx.Conflict), "kind = %v", errx.KindOf(err))

	got, err := s.FindByOriginalURL(ctx, "https://dup.example")
	require.NoError(t, err)
	assert.Equal(t, first, got.ShortCode)

	_, err = s.FindByShortCode(ctx, second)
	assert.True(t, errx.Is(err, errx.NotFound), "losing insert must leave no trace")
}

func testDuplicateCode(t *testing.T, s shortener.Store) {
	ctx := context.Background()

	code, err := s.AllocateNextCode(ctx)
	require.NoError(t, err)

	_, err = s.Insert(ctx, shortener.Mapping{OriginalURL: "https://one.example", ShortCode: code})
	require.NoError(t, err)

	_, err = s.Insert(ctx, shortener.Mapping{OriginalURL: "https://two.example", ShortCode: code})
	assert.True(t, errx.Is(err, errx.Conflict), "kind = %v", errx.KindOf(err))

	got, err := s.FindByShortCode(ctx, code)
	require.NoError(t, err)
	assert.Equal(t, "https://one.example", got.OriginalURL)

	_, err = s.FindByOriginalURL(ctx, "https://two.example")
	assert.True(t, errx.Is(err, errx.NotFound), "losing insert must leave no trace")
}

func testConcurrentAllocate(t *testing.T, s shortener.Store) {
	const n = 40
	ctx := context.Background()

	codes := make([]int64, n)
	errs := make([]error, n)

	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			codes[i], errs[i] = s.AllocateNextCode(ctx)
		}()
	}
	wg.Wait()

	seen := make(map[int64]bool, n)
	for i, code := range codes {
		require.NoError(t, errs[i])
		assert.False(t, seen[code], "code %d allocated twice", code)
		seen[code] = true
	}
}

func testConcurrentInsertSameURL(t *testing.T, s shortener.Store) {
	const n = 10
	ctx := context.Background()

	codes := make([]int64, n)
	for i := range codes {
		code, err := s.AllocateNextCode(ctx)
		require.NoError(t, err)
		codes[i] = code
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Insert(ctx, shortener.Mapping{OriginalURL: "https://race.example", ShortCode: codes[i]})

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errx.Is(err, errx.Conflict):
				conflicts++
			default:
				t.Errorf("insert %d: unexpected error %v", i, err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes, fmt.Sprintf("conflicts=%d", conflicts))
	assert.Equal(t, n-1, conflicts)
}

func testPing(t *testing.T, s shortener.Store) {
	assert.NoError(t, s.Ping(context.Background()))
}
