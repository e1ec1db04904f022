package shortener

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sundayezeilo/shorturl/internal/errx"
)

/***************
 * Fakes
 ***************/

// fakeStore is a mutex-guarded map store. Func fields override single
// operations for failure injection.
type fakeStore struct {
	mu     sync.Mutex
	seq    int64
	byURL  map[string]Mapping
	byCode map[int64]Mapping

	findByURLFunc  func(ctx context.Context, url string) (Mapping, error)
	findByCodeFunc func(ctx context.Context, code int64) (Mapping, error)
	allocateFunc   func(ctx context.Context) (int64, error)
	insertFunc     func(ctx context.Context, m Mapping) (Mapping, error)

	allocateCalls int
	insertCalls   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		byURL:  make(map[string]Mapping),
		byCode: make(map[int64]Mapping),
	}
}

func (s *fakeStore) FindByOriginalURL(ctx context.Context, url string) (Mapping, error) {
	if s.findByURLFunc != nil {
		return s.findByURLFunc(ctx, url)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.byURL[url]
	if !ok {
		return Mapping{}, errx.E("fake.FindByOriginalURL", errx.NotFound, errors.New("not found"))
	}
	return m, nil
}

func (s *fakeStore) FindByShortCode(ctx context.Context, code int64) (Mapping, error) {
	if s.findByCodeFunc != nil {
		return s.findByCodeFunc(ctx, code)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.byCode[code]
	if !ok {
		return Mapping{}, errx.E("fake.FindByShortCode", errx.NotFound, errors.New("not found"))
	}
	return m, nil
}

func (s *fakeStore) AllocateNextCode(ctx context.Context) (int64, error) {
	s.mu.Lock()
	s.allocateCalls++
	s.mu.Unlock()
	if s.allocateFunc != nil {
		return s.allocateFunc(ctx)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return s.seq, nil
}

func (s *fakeStore) Insert(ctx context.Context, m Mapping) (Mapping, error) {
	s.mu.Lock()
	s.insertCalls++
	s.mu.Unlock()
	if s.insertFunc != nil {
		return s.insertFunc(ctx, m)
	}
	return s.insert(m)
}

func (s *fakeStore) insert(m Mapping) (Mapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byURL[m.OriginalURL]; ok {
		return Mapping{}, errx.E("fake.Insert", errx.Conflict, errors.New("duplicate url"))
	}
	if _, ok := s.byCode[m.ShortCode]; ok {
		return Mapping{}, errx.E("fake.Insert", errx.Conflict, errors.New("duplicate code"))
	}
	m.CreatedAt = time.Now()
	s.byURL[m.OriginalURL] = m
	s.byCode[m.ShortCode] = m
	return m, nil
}

func (s *fakeStore) Ping(ctx context.Context) error { return nil }

func (s *fakeStore) Close() error { return nil }

// fakeValidator accepts every URL unless rejectFunc says otherwise.
type fakeValidator struct {
	rejectFunc func(rawURL string) error
}

func (v fakeValidator) Validate(ctx context.Context, rawURL string) error {
	if v.rejectFunc != nil {
		return v.rejectFunc(rawURL)
	}
	return nil
}

func newTestService(store Store, v URLValidator) Service {
	return NewService(store, &ServiceConfig{Validator: v})
}

var errBackend = errors.New("connection refused")

/***************
 * Constructor
 ***************/

func TestNewService_Defaults(t *testing.T) {
	svc := NewService(newFakeStore(), nil).(*service)

	if svc.insertMaxRetries != DefaultInsertMaxRetries {
		t.Errorf("insertMaxRetries = %d, want %d", svc.insertMaxRetries, DefaultInsertMaxRetries)
	}
	if _, ok := svc.validator.(*Validator); !ok {
		t.Errorf("validator = %T, want *Validator", svc.validator)
	}
}

/***************
 * Shorten
 ***************/

func TestServiceShorten(t *testing.T) {
	t.Run("assigns sequential codes to new urls", func(t *testing.T) {
		svc := newTestService(newFakeStore(), fakeValidator{})

		first, err := svc.Shorten(context.Background(), "https://a.example")
		if err != nil {
			t.Fatalf("Shorten() unexpected error: %v", err)
		}
		second, err := svc.Shorten(context.Background(), "https://b.example")
		if err != nil {
			t.Fatalf("Shorten() unexpected error: %v", err)
		}

		if first.ShortCode != 1 || second.ShortCode != 2 {
			t.Errorf("codes = %d, %d; want 1, 2", first.ShortCode, second.ShortCode)
		}
		if first.OriginalURL != "https://a.example" {
			t.Errorf("OriginalURL = %q, want %q", first.OriginalURL, "https://a.example")
		}
	})

	t.Run("returns existing mapping for a repeated url", func(t *testing.T) {
		store := newFakeStore()
		svc := newTestService(store, fakeValidator{})

		first, _ := svc.Shorten(context.Background(), "https://a.example")
		again, err := svc.Shorten(context.Background(), "https://a.example")
		if err != nil {
			t.Fatalf("Shorten() unexpected error: %v", err)
		}

		if again.ShortCode != first.ShortCode {
			t.Errorf("ShortCode = %d, want %d", again.ShortCode, first.ShortCode)
		}
		if store.allocateCalls != 1 {
			t.Errorf("allocateCalls = %d, want 1", store.allocateCalls)
		}
	})

	t.Run("url identity is exact", func(t *testing.T) {
		svc := newTestService(newFakeStore(), fakeValidator{})

		a, _ := svc.Shorten(context.Background(), "https://a.example")
		b, err := svc.Shorten(context.Background(), "https://a.example/")
		if err != nil {
			t.Fatalf("Shorten() unexpected error: %v", err)
		}
		if a.ShortCode == b.ShortCode {
			t.Error("trailing slash variant should get its own code")
		}
	})

	t.Run("empty url is invalid without touching the store", func(t *testing.T) {
		store := newFakeStore()
		svc := newTestService(store, fakeValidator{})

		_, err := svc.Shorten(context.Background(), "   ")
		if errx.KindOf(err) != errx.Invalid {
			t.Errorf("KindOf(err) = %v, want %v", errx.KindOf(err), errx.Invalid)
		}
		if store.allocateCalls != 0 {
			t.Errorf("allocateCalls = %d, want 0", store.allocateCalls)
		}
	})

	t.Run("validator rejection is invalid and stores nothing", func(t *testing.T) {
		store := newFakeStore()
		svc := newTestService(store, fakeValidator{rejectFunc: func(string) error {
			return errx.E("validator", errx.Invalid, errors.New("host does not resolve"))
		}})

		_, err := svc.Shorten(context.Background(), "https://nope.invalid")
		if errx.KindOf(err) != errx.Invalid {
			t.Errorf("KindOf(err) = %v, want %v", errx.KindOf(err), errx.Invalid)
		}
		if errx.OpOf(err) != "shortener.service.Shorten" {
			t.Errorf("OpOf(err) = %q, want %q", errx.OpOf(err), "shortener.service.Shorten")
		}
		if store.insertCalls != 0 || len(store.byURL) != 0 {
			t.Error("store should be untouched after rejection")
		}
	})

	t.Run("lookup failure is unavailable", func(t *testing.T) {
		store := newFakeStore()
		store.findByURLFunc = func(context.Context, string) (Mapping, error) {
			return Mapping{}, errx.E("fake", errx.Unavailable, errBackend)
		}
		svc := newTestService(store, fakeValidator{})

		_, err := svc.Shorten(context.Background(), "https://a.example")
		if errx.KindOf(err) != errx.Unavailable {
			t.Errorf("KindOf(err) = %v, want %v", errx.KindOf(err), errx.Unavailable)
		}
		if !errors.Is(err, errBackend) {
			t.Error("expected the backend error in the chain")
		}
	})

	t.Run("allocation failure is unavailable", func(t *testing.T) {
		store := newFakeStore()
		store.allocateFunc = func(context.Context) (int64, error) {
			return 0, errBackend
		}
		svc := newTestService(store, fakeValidator{})

		_, err := svc.Shorten(context.Background(), "https://a.example")
		if errx.KindOf(err) != errx.Unavailable {
			t.Errorf("KindOf(err) = %v, want %v", errx.KindOf(err), errx.Unavailable)
		}
		if store.insertCalls != 0 {
			t.Errorf("insertCalls = %d, want 0", store.insertCalls)
		}
	})

	t.Run("insert failure is unavailable", func(t *testing.T) {
		store := newFakeStore()
		store.insertFunc = func(context.Context, Mapping) (Mapping, error) {
			return Mapping{}, errx.E("fake", errx.Unavailable, errBackend)
		}
		svc := newTestService(store, fakeValidator{})

		_, err := svc.Shorten(context.Background(), "https://a.example")
		if errx.KindOf(err) != errx.Unavailable {
			t.Errorf("KindOf(err) = %v, want %v", errx.KindOf(err), errx.Unavailable)
		}
	})

	t.Run("race loser returns the winner's mapping", func(t *testing.T) {
		store := newFakeStore()
		winner := Mapping{OriginalURL: "https://a.example", ShortCode: 7}

		store.insertFunc = func(ctx context.Context, m Mapping) (Mapping, error) {
			// a concurrent request stores the url between lookup and insert
			if _, err := store.insert(winner); err != nil {
				t.Fatalf("seed winner: %v", err)
			}
			return Mapping{}, errx.E("fake.Insert", errx.Conflict, errors.New("duplicate url"))
		}
		svc := newTestService(store, fakeValidator{})

		got, err := svc.Shorten(context.Background(), "https://a.example")
		if err != nil {
			t.Fatalf("Shorten() unexpected error: %v", err)
		}
		if got.ShortCode != winner.ShortCode {
			t.Errorf("ShortCode = %d, want %d", got.ShortCode, winner.ShortCode)
		}
		if len(store.byURL) != 1 {
			t.Errorf("stored mappings = %d, want 1", len(store.byURL))
		}
	})

	t.Run("code conflict allocates again", func(t *testing.T) {
		store := newFakeStore()
		var codes []int64
		store.insertFunc = func(ctx context.Context, m Mapping) (Mapping, error) {
			codes = append(codes, m.ShortCode)
			if len(codes) == 1 {
				return Mapping{}, errx.E("fake.Insert", errx.Conflict, errors.New("duplicate code"))
			}
			return store.insert(m)
		}
		svc := newTestService(store, fakeValidator{})

		got, err := svc.Shorten(context.Background(), "https://a.example")
		if err != nil {
			t.Fatalf("Shorten() unexpected error: %v", err)
		}
		if got.ShortCode != 2 {
			t.Errorf("ShortCode = %d, want 2", got.ShortCode)
		}
		if fmt.Sprint(codes) != "[1 2]" {
			t.Errorf("attempted codes = %v, want [1 2]", codes)
		}
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		store := newFakeStore()
		store.insertFunc = func(context.Context, Mapping) (Mapping, error) {
			return Mapping{}, errx.E("fake.Insert", errx.Conflict, errors.New("duplicate code"))
		}
		svc := NewService(store, &ServiceConfig{Validator: fakeValidator{}, InsertMaxRetries: 2})

		_, err := svc.Shorten(context.Background(), "https://a.example")
		if errx.KindOf(err) != errx.Unavailable {
			t.Errorf("KindOf(err) = %v, want %v", errx.KindOf(err), errx.Unavailable)
		}
		if store.insertCalls != 2 {
			t.Errorf("insertCalls = %d, want 2", store.insertCalls)
		}
	})

	t.Run("refetch failure after conflict is unavailable", func(t *testing.T) {
		store := newFakeStore()
		lookups := 0
		store.findByURLFunc = func(context.Context, string) (Mapping, error) {
			lookups++
			if lookups == 1 {
				return Mapping{}, errx.E("fake", errx.NotFound, errors.New("not found"))
			}
			return Mapping{}, errx.E("fake", errx.Unavailable, errBackend)
		}
		store.insertFunc = func(context.Context, Mapping) (Mapping, error) {
			return Mapping{}, errx.E("fake.Insert", errx.Conflict, errors.New("duplicate url"))
		}
		svc := newTestService(store, fakeValidator{})

		_, err := svc.Shorten(context.Background(), "https://a.example")
		if errx.KindOf(err) != errx.Unavailable {
			t.Errorf("KindOf(err) = %v, want %v", errx.KindOf(err), errx.Unavailable)
		}
	})
}

func TestServiceShorten_ConcurrentDistinctURLs(t *testing.T) {
	const n = 50
	svc := newTestService(newFakeStore(), fakeValidator{})

	codes := make([]int64, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m, err := svc.Shorten(context.Background(), fmt.Sprintf("https://site%d.example", i))
			if err != nil {
				t.Errorf("Shorten(%d) unexpected error: %v", i, err)
				return
			}
			codes[i] = m.ShortCode
		}()
	}
	wg.Wait()

	seen := make(map[int64]bool, n)
	for _, c := range codes {
		if seen[c] {
			t.Fatalf("code %d issued twice", c)
		}
		seen[c] = true
	}
}

func TestServiceShorten_ConcurrentSameURL(t *testing.T) {
	const n = 20
	store := newFakeStore()
	svc := newTestService(store, fakeValidator{})

	codes := make([]int64, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m, err := svc.Shorten(context.Background(), "https://same.example")
			if err != nil {
				t.Errorf("Shorten() unexpected error: %v", err)
				return
			}
			codes[i] = m.ShortCode
		}()
	}
	wg.Wait()

	for _, c := range codes {
		if c != codes[0] {
			t.Fatalf("codes differ: %v", codes)
		}
	}
	if len(store.byURL) != 1 {
		t.Errorf("stored mappings = %d, want 1", len(store.byURL))
	}
}

/***************
 * Resolve
 ***************/

func TestServiceResolve(t *testing.T) {
	t.Run("returns stored mapping", func(t *testing.T) {
		svc := newTestService(newFakeStore(), fakeValidator{})
		created, _ := svc.Shorten(context.Background(), "https://a.example")

		got, err := svc.Resolve(context.Background(), created.ShortCode)
		if err != nil {
			t.Fatalf("Resolve() unexpected error: %v", err)
		}
		if got.OriginalURL != "https://a.example" {
			t.Errorf("OriginalURL = %q, want %q", got.OriginalURL, "https://a.example")
		}
	})

	t.Run("unknown code is not found", func(t *testing.T) {
		svc := newTestService(newFakeStore(), fakeValidator{})

		_, err := svc.Resolve(context.Background(), 999)
		if errx.KindOf(err) != errx.NotFound {
			t.Errorf("KindOf(err) = %v, want %v", errx.KindOf(err), errx.NotFound)
		}
	})

	t.Run("non-positive code is not found without a lookup", func(t *testing.T) {
		store := newFakeStore()
		store.findByCodeFunc = func(context.Context, int64) (Mapping, error) {
			t.Fatal("store should not be queried")
			return Mapping{}, nil
		}
		svc := newTestService(store, fakeValidator{})

		for _, code := range []int64{0, -1} {
			_, err := svc.Resolve(context.Background(), code)
			if errx.KindOf(err) != errx.NotFound {
				t.Errorf("Resolve(%d) kind = %v, want %v", code, errx.KindOf(err), errx.NotFound)
			}
		}
	})

	t.Run("backend failure is unavailable", func(t *testing.T) {
		store := newFakeStore()
		store.findByCodeFunc = func(context.Context, int64) (Mapping, error) {
			return Mapping{}, errBackend
		}
		svc := newTestService(store, fakeValidator{})

		_, err := svc.Resolve(context.Background(), 1)
		if errx.KindOf(err) != errx.Unavailable {
			t.Errorf("KindOf(err) = %v, want %v", errx.KindOf(err), errx.Unavailable)
		}
	})
}
