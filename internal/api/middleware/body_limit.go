package middleware

import (
	"errors"
	"net/http"

	"go.uber.org/zap"
)

const (
	// MaxRequestBodySize is the default request body limit (1MB). A proof and
	// its public signals are a few kilobytes.
	MaxRequestBodySize = 1 << 20
)

// BodySizeLimit caps the request body. Handlers that read the body see a
// *http.MaxBytesError once the limit is crossed; see IsBodyTooLarge.
func BodySizeLimit(maxBytes int64, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxBytes {
				GetLogger(r.Context(), logger).Warn("Request body too large",
					zap.String("path", r.URL.Path),
					zap.Int64("content_length", r.ContentLength),
					zap.Int64("max_bytes", maxBytes),
				)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusRequestEntityTooLarge)
				_, _ = w.Write([]byte(`{"success":false,"error":"Request body too large"}`))
				return
			}

			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

// IsBodyTooLarge reports whether err came from reading past the body limit.
func IsBodyTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}
