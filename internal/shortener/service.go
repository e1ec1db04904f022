package shortener

import (
	"context"
	"errors"
	"strings"

	"github.com/sundayezeilo/shorturl/internal/errx"
	"github.com/sundayezeilo/shorturl/internal/metrics"
)

const DefaultInsertMaxRetries = 3

// URLValidator rejects URLs that may not be shortened with an errx.Invalid error.
type URLValidator interface {
	Validate(ctx context.Context, rawURL string) error
}

// Service defines the business logic operations for URL shortening.
type Service interface {
	// Shorten returns the mapping for rawURL, creating it on first sight.
	Shorten(ctx context.Context, rawURL string) (Mapping, error)
	// Resolve returns the mapping issued under code.
	Resolve(ctx context.Context, code int64) (Mapping, error)
}

type service struct {
	store            Store
	validator        URLValidator
	insertMaxRetries int
}

// ServiceConfig holds configuration for the service.
type ServiceConfig struct {
	Validator        URLValidator // default: NewValidator with defaults
	InsertMaxRetries int          // allocations attempted when an insert hits a code conflict (default: 3)
}

// NewService creates a new service instance.
func NewService(store Store, config *ServiceConfig) Service {
	if config == nil {
		config = &ServiceConfig{}
	}

	validator := config.Validator
	if validator == nil {
		validator = NewValidator(ValidatorConfig{})
	}

	retries := config.InsertMaxRetries
	if retries <= 0 {
		retries = DefaultInsertMaxRetries
	}

	return &service{
		store:            store,
		validator:        validator,
		insertMaxRetries: retries,
	}
}

func (s *service) Shorten(ctx context.Context, rawURL string) (Mapping, error) {
	const op = "shortener.service.Shorten"

	// Checked here too so an injected Validator never sees blank input.
	if strings.TrimSpace(rawURL) == "" {
		metrics.RecordInvalidURL()
		return Mapping{}, errx.E(op, errx.Invalid, errors.New("url is required"))
	}

	if err := s.validator.Validate(ctx, rawURL); err != nil {
		metrics.RecordInvalidURL()
		return Mapping{}, errx.E(op, errx.Invalid, err)
	}

	existing, err := s.store.FindByOriginalURL(ctx, rawURL)
	switch {
	case err == nil:
		metrics.RecordDedupHit()
		return existing, nil
	case !errx.Is(err, errx.NotFound):
		metrics.RecordStoreError("find_by_url")
		return Mapping{}, errx.E(op, errx.Unavailable, err)
	}

	for range s.insertMaxRetries {
		code, err := s.store.AllocateNextCode(ctx)
		if err != nil {
			metrics.RecordStoreError("allocate")
			return Mapping{}, errx.E(op, errx.Unavailable, err)
		}

		created, err := s.store.Insert(ctx, Mapping{
			OriginalURL: rawURL,
			ShortCode:   code,
		})
		if err == nil {
			metrics.RecordMappingCreated()
			return created, nil
		}
		if !errx.Is(err, errx.Conflict) {
			metrics.RecordStoreError("insert")
			return Mapping{}, errx.E(op, errx.Unavailable, err)
		}

		// Another request stored this URL first; answer with its mapping.
		winner, findErr := s.store.FindByOriginalURL(ctx, rawURL)
		if findErr == nil {
			metrics.RecordDedupHit()
			return winner, nil
		}
		if !errx.Is(findErr, errx.NotFound) {
			metrics.RecordStoreError("find_by_url")
			return Mapping{}, errx.E(op, errx.Unavailable, findErr)
		}
		// The conflict was on the code itself; allocate another.
	}

	return Mapping{}, errx.E(op, errx.Unavailable,
		errors.New("could not store mapping after retries"))
}

func (s *service) Resolve(ctx context.Context, code int64) (Mapping, error) {
	const op = "shortener.service.Resolve"

	if code <= 0 {
		metrics.RecordResolveMiss()
		return Mapping{}, errx.E(op, errx.NotFound, errors.New("short code must be positive"))
	}

	m, err := s.store.FindByShortCode(ctx, code)
	switch {
	case err == nil:
		metrics.RecordRedirect()
		return m, nil
	case errx.Is(err, errx.NotFound):
		metrics.RecordResolveMiss()
		return Mapping{}, errx.E(op, errx.NotFound, err)
	default:
		metrics.RecordStoreError("find_by_code")
		return Mapping{}, errx.E(op, errx.Unavailable, err)
	}
}
