package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/dtravers/tokenward/internal/response"
	"github.com/dtravers/tokenward/internal/util"
)

// Recovery recovers from panics in handlers and returns a 500.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				util.Error("panic recovered",
					"panic", rec,
					"path", r.URL.Path,
					"stack", string(debug.Stack()),
				)
				response.WriteInternalError(w, "Internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}
