package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/mw10013/orgagent/internal/api/response"
)

// Recovery converts handler panics into 500 responses. http.ErrAbortHandler
// is re-raised; it is how the server aborts a hijacked or half-written
// connection (common when an event-stream client disconnects mid-write).
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			slog.Error("panic recovered",
				"error", rec,
				"method", r.Method,
				"path", r.URL.Path,
				"stack", string(debug.Stack()),
			)
			response.Error(w, http.StatusInternalServerError,
				"INTERNAL_ERROR", "An unexpected error occurred", nil)
		}()
		next.ServeHTTP(w, r)
	})
}
