package middleware

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
)

// MaxRequestBodySize is the default limit for request bodies (64KB). The only
// body the service accepts is a small JSON object.
const MaxRequestBodySize = 64 * 1024

// ErrBodyTooLarge is returned by DecodeJSON when the body exceeds the limit.
var ErrBodyTooLarge = errors.New("request body too large")

// ValidateRequestBody limits request bodies of POST, PUT and PATCH requests to maxBytes.
// A maxBytes <= 0 uses MaxRequestBodySize.
func ValidateRequestBody(maxBytes int64) func(http.Handler) http.Handler {
	if maxBytes <= 0 {
		maxBytes = MaxRequestBodySize
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodPost, http.MethodPut, http.MethodPatch:
				r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// IsJSON reports whether the request declares a JSON body.
func IsJSON(r *http.Request) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" {
		return false
	}
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return false
	}
	return mt == "application/json" || strings.HasSuffix(mt, "+json")
}

// DecodeJSON decodes a JSON request body into dst. It returns empty=true and no
// error when the request carries no JSON body at all, which callers treat as
// "no parameters". A body that is present but not valid JSON is an error.
func DecodeJSON(r *http.Request, dst interface{}) (empty bool, err error) {
	if r.Body == nil || !IsJSON(r) {
		return true, nil
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return false, ErrBodyTooLarge
		}
		return false, fmt.Errorf("failed to read request body: %w", err)
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return true, nil
	}

	if err := json.Unmarshal(body, dst); err != nil {
		return false, fmt.Errorf("invalid JSON: %w", err)
	}
	return false, nil
}
