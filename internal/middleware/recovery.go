package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/onnwee/prerender/internal/apierr"
	"github.com/onnwee/prerender/internal/errorreporting"
	"github.com/onnwee/prerender/internal/logger"
)

// RecoverWithSentry recovers from panics, logs and reports them, and answers 500.
// http.ErrAbortHandler is re-raised so net/http can abort the connection.
func RecoverWithSentry(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}

			stack := debug.Stack()
			logger.ErrorContext(r.Context(), "Panic recovered",
				"error", rec,
				"stack", string(stack),
				"method", r.Method,
				"path", r.URL.Path,
			)
			errorreporting.CapturePanic(r, rec, stack)

			apierr.WriteErrorWithContext(w, r, apierr.SystemInternal(fmt.Sprintf("panic: %v", rec)))
		}()

		next.ServeHTTP(w, r)
	})
}
