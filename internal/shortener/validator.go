package shortener

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/sundayezeilo/shorturl/internal/errx"
)

const (
	MaxURLLength         = 2048
	DefaultLookupTimeout = 5 * time.Second
)

// Resolver looks up the addresses of a host. *net.Resolver satisfies it.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// Validator decides whether a URL may be shortened: it must be an absolute
// http(s) URL whose hostname resolves.
type Validator struct {
	resolver Resolver
	timeout  time.Duration
}

// ValidatorConfig holds configuration for the validator.
type ValidatorConfig struct {
	Resolver      Resolver      // default: net.DefaultResolver
	LookupTimeout time.Duration // default: DefaultLookupTimeout
}

func NewValidator(cfg ValidatorConfig) *Validator {
	resolver := cfg.Resolver
	if resolver == nil {
		resolver = net.DefaultResolver
	}

	timeout := cfg.LookupTimeout
	if timeout <= 0 {
		timeout = DefaultLookupTimeout
	}

	return &Validator{
		resolver: resolver,
		timeout:  timeout,
	}
}

// Validate returns an errx.Invalid error describing why rawURL was rejected,
// or nil. A lookup that fails and a lookup that times out are both reported
// as an unresolvable host.
func (v *Validator) Validate(ctx context.Context, rawURL string) error {
	const op = "shortener.validator.Validate"

	host, err := parseURL(rawURL)
	if err != nil {
		return errx.E(op, errx.Invalid, err)
	}

	lookupCtx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	addrs, err := v.resolver.LookupHost(lookupCtx, host)
	if err != nil {
		return errx.E(op, errx.Invalid, fmt.Errorf("host %q does not resolve: %w", host, err))
	}
	if len(addrs) == 0 {
		return errx.E(op, errx.Invalid, fmt.Errorf("host %q has no addresses", host))
	}
	return nil
}

// parseURL checks the syntax of rawURL and returns its hostname.
func parseURL(rawURL string) (string, error) {
	if strings.TrimSpace(rawURL) == "" {
		return "", errors.New("url cannot be empty")
	}
	if len(rawURL) > MaxURLLength {
		return "", fmt.Errorf("url too long (max %d characters)", MaxURLLength)
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", errors.New("invalid url format")
	}
	if !parsed.IsAbs() {
		return "", errors.New("url must include scheme (http or https)")
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", fmt.Errorf("url scheme %q is not http or https", parsed.Scheme)
	}

	host := parsed.Hostname()
	if host == "" {
		return "", errors.New("url must include host")
	}
	return host, nil
}
