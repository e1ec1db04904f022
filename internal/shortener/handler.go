package shortener

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/sundayezeilo/shorturl/internal/errx"
	"github.com/sundayezeilo/shorturl/internal/httpx"
)

// Client-facing error messages. Validation failures never say why the URL was
// rejected, and backend failures never carry internal detail.
const (
	MsgInvalidURL  = "invalid url"
	MsgNotFound    = "No short URL found for the given input"
	MsgServerError = "server error"
)

// HTTPCreateMappingRequest is the JSON body accepted by the create endpoint.
// Form-encoded bodies carry the same field. URL is kept raw so a value of the
// wrong type is rejected as an invalid url rather than a bad request.
type HTTPCreateMappingRequest struct {
	URL json.RawMessage `json:"url"`
}

// urlString returns the url field when it is a JSON string, else "".
func (req HTTPCreateMappingRequest) urlString() string {
	var s string
	if err := json.Unmarshal(req.URL, &s); err != nil {
		return ""
	}
	return s
}

// CreateMappingResponse is the JSON body returned for a stored mapping.
type CreateMappingResponse struct {
	OriginalURL string `json:"original_url"`
	ShortURL    int64  `json:"short_url"`
}

// Handler provides HTTP handlers for the URL shortener service.
type Handler struct {
	service Service
	logger  *slog.Logger
}

// HandlerConfig holds configuration for the handler.
type HandlerConfig struct {
	Service Service
	Logger  *slog.Logger
}

// NewHandler creates a new Handler instance.
func NewHandler(cfg HandlerConfig) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Handler{
		service: cfg.Service,
		logger:  logger,
	}
}

// CreateMapping handles POST /api/shorturl. Invalid URLs are a normal business
// response: status 200 with {"error":"invalid url"}.
func (h *Handler) CreateMapping(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	logger := h.logger.With(
		"request_id", httpx.GetRequestID(ctx),
		"method", r.Method,
		"path", r.URL.Path,
	)

	rawURL, err := readURLParam(r)
	if err != nil {
		logger.WarnContext(ctx, "failed to decode request",
			"error", err.Error(),
		)
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", err.Error(), nil)
		return
	}

	m, err := h.service.Shorten(ctx, rawURL)
	if err != nil {
		h.handleShortenError(ctx, w, err, rawURL)
		return
	}

	logger.InfoContext(ctx, "mapping ready",
		"short_code", m.ShortCode,
		"original_url", m.OriginalURL,
	)

	httpx.WriteJSON(w, http.StatusOK, CreateMappingResponse{
		OriginalURL: m.OriginalURL,
		ShortURL:    m.ShortCode,
	})
}

// RedirectMapping handles GET /api/shorturl/{code}.
func (h *Handler) RedirectMapping(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	logger := h.logger.With(
		"request_id", httpx.GetRequestID(ctx),
		"method", r.Method,
		"path", r.URL.Path,
	)

	raw := r.PathValue("code")
	code, err := parseShortCode(raw)
	if err != nil {
		logger.WarnContext(ctx, "malformed short code",
			"code", raw,
			"error", err.Error(),
		)
		httpx.WriteBusinessError(w, http.StatusNotFound, MsgNotFound)
		return
	}

	m, err := h.service.Resolve(ctx, code)
	if err != nil {
		h.handleResolveError(ctx, w, err, code)
		return
	}

	logger.InfoContext(ctx, "short code resolved",
		"short_code", code,
		"original_url", m.OriginalURL,
		"referer", r.Referer(),
	)

	http.Redirect(w, r, m.OriginalURL, http.StatusFound)
}

func (h *Handler) handleShortenError(ctx context.Context, w http.ResponseWriter, err error, rawURL string) {
	kind := errx.KindOf(err)

	logAttrs := []any{
		"request_id", httpx.GetRequestID(ctx),
		"error", err.Error(),
		"error_kind", kind,
		"operation", errx.OpOf(err),
	}

	switch kind {
	case errx.Invalid:
		h.logger.WarnContext(ctx, "url rejected", append(logAttrs, "url", rawURL)...)
		httpx.WriteBusinessError(w, http.StatusOK, MsgInvalidURL)

	case errx.Unavailable:
		h.logger.ErrorContext(ctx, "store unavailable", logAttrs...)
		httpx.WriteBusinessError(w, http.StatusInternalServerError, MsgServerError)

	default:
		h.logger.ErrorContext(ctx, "unexpected error creating mapping", logAttrs...)
		httpx.WriteBusinessError(w, http.StatusInternalServerError, MsgServerError)
	}
}

func (h *Handler) handleResolveError(ctx context.Context, w http.ResponseWriter, err error, code int64) {
	kind := errx.KindOf(err)

	logAttrs := []any{
		"request_id", httpx.GetRequestID(ctx),
		"error", err.Error(),
		"error_kind", kind,
		"operation", errx.OpOf(err),
		"short_code", code,
	}

	switch kind {
	case errx.NotFound:
		h.logger.WarnContext(ctx, "short code not found", logAttrs...)
		httpx.WriteBusinessError(w, http.StatusNotFound, MsgNotFound)

	default:
		h.logger.ErrorContext(ctx, "unexpected error resolving short code", logAttrs...)
		httpx.WriteBusinessError(w, http.StatusInternalServerError, MsgServerError)
	}
}

// readURLParam extracts the url parameter from a JSON or form body.
// A missing parameter yields "", which the service rejects as invalid.
func readURLParam(r *http.Request) (string, error) {
	if httpx.IsJSON(r) {
		req, err := httpx.DecodeJSON[HTTPCreateMappingRequest](r)
		if err != nil {
			return "", err
		}
		return req.urlString(), nil
	}

	form, err := httpx.DecodeForm(r)
	if err != nil {
		return "", err
	}
	return form.Get("url"), nil
}

// parseShortCode parses a decimal short code from a path segment.
func parseShortCode(raw string) (int64, error) {
	code, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, err
	}
	if code <= 0 {
		return 0, strconv.ErrRange
	}
	return code, nil
}
