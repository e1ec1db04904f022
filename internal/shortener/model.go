package shortener

import "time"

// Mapping associates an original URL with the short code issued for it.
// Mappings are immutable once stored.
type Mapping struct {
	OriginalURL string
	ShortCode   int64
	CreatedAt   time.Time
}
