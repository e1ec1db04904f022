package shortener

import "context"

// Store persists mappings. Implementations must be safe for concurrent use.
//
// Lookups return an errx.NotFound error when nothing matches. Insert returns
// errx.Conflict when either the original URL or the short code is already
// stored, and leaves the store unchanged in that case. Backend failures are
// reported as errx.Unavailable.
type Store interface {
	FindByOriginalURL(ctx context.Context, originalURL string) (Mapping, error)
	FindByShortCode(ctx context.Context, code int64) (Mapping, error)

	// AllocateNextCode returns a value strictly greater than every value
	// previously returned by this store. Concurrent callers never receive
	// the same value.
	AllocateNextCode(ctx context.Context) (int64, error)

	Insert(ctx context.Context, m Mapping) (Mapping, error)

	Ping(ctx context.Context) error
	Close() error
}
