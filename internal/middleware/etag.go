package middleware

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// CacheStatusHeader tells callers whether /render was served from cache (HIT) or rendered (MISS).
const CacheStatusHeader = "X-Prerender-Cache"

// etagResponseWriter captures the response body to generate an ETag.
type etagResponseWriter struct {
	http.ResponseWriter
	buf    bytes.Buffer
	status int
}

func (w *etagResponseWriter) WriteHeader(status int) {
	w.status = status
}

func (w *etagResponseWriter) Write(b []byte) (int, error) {
	return w.buf.Write(b)
}

// ETag returns a middleware that tags successful GET responses with a content
// hash and answers 304 Not Modified when the client already has that version.
// maxAge is advertised in Cache-Control; zero omits the header.
func ETag(maxAge time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet && r.Method != http.MethodHead {
				next.ServeHTTP(w, r)
				return
			}

			etw := &etagResponseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(etw, r)

			if etw.status != http.StatusOK {
				w.WriteHeader(etw.status)
				w.Write(etw.buf.Bytes())
				return
			}

			// Weak: Compress may serve several encodings of the same markup under this tag.
			hash := sha256.Sum256(etw.buf.Bytes())
			etag := fmt.Sprintf(`W/"%x"`, hash[:16])

			w.Header().Set("ETag", etag)
			if maxAge > 0 {
				w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d", int(maxAge.Seconds())))
			}

			if etagMatches(r.Header.Get("If-None-Match"), etag) {
				w.WriteHeader(http.StatusNotModified)
				return
			}

			w.Header().Set("Content-Length", strconv.Itoa(etw.buf.Len()))
			w.WriteHeader(http.StatusOK)
			w.Write(etw.buf.Bytes())
		})
	}
}

// etagMatches implements the weak comparison used for If-None-Match.
func etagMatches(header, etag string) bool {
	if header == "" {
		return false
	}
	etag = strings.TrimPrefix(etag, "W/")
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" {
			return true
		}
		if strings.TrimPrefix(candidate, "W/") == etag {
			return true
		}
	}
	return false
}
