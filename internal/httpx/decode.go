package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
)

const (
	// MaxRequestBodySize is the maximum allowed request body size (1MB).
	MaxRequestBodySize = 1 << 20
)

// IsJSON reports whether the request declares a JSON body.
func IsJSON(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mediaType == "application/json"
}

// DecodeJSON decodes a single JSON object from the request body.
// Unknown fields are ignored so clients may send extra keys.
func DecodeJSON[T any](r *http.Request) (T, error) {
	var v T

	r.Body = http.MaxBytesReader(nil, r.Body, MaxRequestBodySize)
	defer func() {
		_ = r.Body.Close()
	}()

	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(&v); err != nil {
		var zero T
		return zero, decodeError(err)
	}

	if decoder.More() {
		var zero T
		return zero, errors.New("request body contains multiple JSON objects")
	}

	return v, nil
}

// DecodeForm parses a urlencoded or multipart body and returns its fields.
// Query string parameters are not included.
func DecodeForm(r *http.Request) (url.Values, error) {
	r.Body = http.MaxBytesReader(nil, r.Body, MaxRequestBodySize)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	var err error
	if mediaType == "multipart/form-data" {
		err = r.ParseMultipartForm(MaxRequestBodySize)
	} else {
		err = r.ParseForm()
	}
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			return nil, fmt.Errorf("request body too large (max %d bytes)", MaxRequestBodySize)
		}
		return nil, fmt.Errorf("malformed form body: %w", err)
	}

	if r.PostForm == nil {
		return url.Values{}, nil
	}
	return r.PostForm, nil
}

func decodeError(err error) error {
	var syntaxErr *json.SyntaxError
	var unmarshalErr *json.UnmarshalTypeError
	var maxBytesErr *http.MaxBytesError

	switch {
	case errors.As(err, &syntaxErr):
		return fmt.Errorf("malformed JSON at position %d", syntaxErr.Offset)
	case errors.As(err, &unmarshalErr):
		return fmt.Errorf("invalid value for field %q", unmarshalErr.Field)
	case errors.As(err, &maxBytesErr):
		return fmt.Errorf("request body too large (max %d bytes)", MaxRequestBodySize)
	case errors.Is(err, io.EOF):
		return errors.New("request body is empty")
	case errors.Is(err, io.ErrUnexpectedEOF):
		return errors.New("malformed JSON: unexpected end of body")
	default:
		return fmt.Errorf("failed to decode JSON: %w", err)
	}
}
