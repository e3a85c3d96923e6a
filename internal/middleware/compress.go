package middleware

import (
	"bufio"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

const (
	encodingBrotli = "br"
	encodingZstd   = "zstd"
	encodingGzip   = "gzip"
)

// encodingPreference breaks ties between equally weighted encodings.
var encodingPreference = map[string]int{
	encodingBrotli: 3,
	encodingZstd:   2,
	encodingGzip:   1,
}

type resettableWriter interface {
	io.WriteCloser
	Reset(io.Writer)
}

type flusher interface {
	Flush() error
}

var (
	brotliPool = sync.Pool{New: func() interface{} {
		return brotli.NewWriterLevel(io.Discard, brotli.DefaultCompression)
	}}
	gzipPool = sync.Pool{New: func() interface{} {
		w, _ := gzip.NewWriterLevel(io.Discard, gzip.DefaultCompression)
		return w
	}}
	zstdPool = sync.Pool{New: func() interface{} {
		w, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault), zstd.WithEncoderConcurrency(1))
		if err != nil {
			return nil
		}
		return w
	}}
)

func poolFor(encoding string) *sync.Pool {
	switch encoding {
	case encodingBrotli:
		return &brotliPool
	case encodingZstd:
		return &zstdPool
	case encodingGzip:
		return &gzipPool
	}
	return nil
}

func acquireEncoder(encoding string, w io.Writer) (resettableWriter, func()) {
	pool := poolFor(encoding)
	if pool == nil {
		return nil, nil
	}
	v := pool.Get()
	var enc resettableWriter
	switch e := v.(type) {
	case *brotli.Writer:
		enc = e
	case *gzip.Writer:
		enc = e
	case *zstd.Encoder:
		enc = e
	default:
		return nil, nil
	}
	enc.Reset(w)
	return enc, func() { pool.Put(v) }
}

// negotiateEncoding picks the best supported encoding from an Accept-Encoding
// header, honouring q-values. It returns "" when nothing acceptable is offered.
func negotiateEncoding(header string) string {
	best, bestQ := "", 0.0
	for _, part := range strings.Split(header, ",") {
		name, params, _ := strings.Cut(strings.TrimSpace(part), ";")
		name = strings.ToLower(strings.TrimSpace(name))
		q := 1.0
		if p := strings.TrimSpace(params); strings.HasPrefix(p, "q=") {
			v, err := strconv.ParseFloat(strings.TrimPrefix(p, "q="), 64)
			if err != nil {
				continue
			}
			q = v
		}
		if q <= 0 {
			continue
		}
		if name == "*" {
			name = encodingGzip
		}
		if _, ok := encodingPreference[name]; !ok {
			continue
		}
		if q > bestQ || (q == bestQ && encodingPreference[name] > encodingPreference[best]) {
			best, bestQ = name, q
		}
	}
	return best
}

// compressWriter decides at WriteHeader time whether to encode the body.
type compressWriter struct {
	http.ResponseWriter
	encoding    string
	minSize     int
	enc         resettableWriter
	release     func()
	wroteHeader bool
	passthrough bool
}

func (w *compressWriter) WriteHeader(status int) {
	if w.wroteHeader {
		return
	}
	w.wroteHeader = true

	h := w.Header()
	if !w.shouldCompress(status) {
		w.passthrough = true
		w.ResponseWriter.WriteHeader(status)
		return
	}

	enc, release := acquireEncoder(w.encoding, w.ResponseWriter)
	if enc == nil {
		w.passthrough = true
		w.ResponseWriter.WriteHeader(status)
		return
	}
	w.enc, w.release = enc, release
	h.Set("Content-Encoding", w.encoding)
	h.Del("Content-Length")
	w.ResponseWriter.WriteHeader(status)
}

func (w *compressWriter) shouldCompress(status int) bool {
	h := w.Header()
	if h.Get("Content-Encoding") != "" {
		return false
	}
	if status < http.StatusOK || status == http.StatusNoContent || status == http.StatusNotModified {
		return false
	}
	if cl := h.Get("Content-Length"); cl != "" {
		if n, err := strconv.Atoi(cl); err == nil && n < w.minSize {
			return false
		}
	}
	return true
}

func (w *compressWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	if w.passthrough {
		return w.ResponseWriter.Write(b)
	}
	return w.enc.Write(b)
}

// Flush pushes buffered compressed bytes to the client.
func (w *compressWriter) Flush() {
	if w.enc != nil {
		if f, ok := w.enc.(flusher); ok {
			f.Flush()
		}
	}
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *compressWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("compress: underlying ResponseWriter does not support hijacking")
	}
	return hj.Hijack()
}

func (w *compressWriter) close() {
	if w.enc == nil {
		return
	}
	w.enc.Close()
	w.release()
	w.enc = nil
}

// Compress returns a middleware that encodes responses with brotli, zstd or
// gzip, whichever the client prefers. Responses that declare a Content-Length
// below minSize, that are already encoded, or that carry no body are left alone.
func Compress(minSize int) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Add("Vary", "Accept-Encoding")

			encoding := negotiateEncoding(r.Header.Get("Accept-Encoding"))
			if encoding == "" || r.Method == http.MethodHead || r.Header.Get("Upgrade") != "" {
				next.ServeHTTP(w, r)
				return
			}

			cw := &compressWriter{ResponseWriter: w, encoding: encoding, minSize: minSize}
			defer cw.close()
			next.ServeHTTP(cw, r)
		})
	}
}
