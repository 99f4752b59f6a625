package middleware

import (
	"errors"
	"net/http"
	"runtime/debug"

	"LinkMonitorAPI/internal/logger"
)

var internalErrorBody = []byte(`{"error":"Internal server error"}` + "\n")

// Recovery turns a handler panic into a 500. If the handler already
// started its response the status cannot change, so only the log is
// written. http.ErrAbortHandler is re-raised for net/http to handle.
func Recovery(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rw, wrapped := w.(*responseWriter)
			if !wrapped {
				rw = &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			}

			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
					panic(rec)
				}

				log.With("method", r.Method, "path", r.URL.Path).
					Error("Handler panic: %v\n%s", rec, debug.Stack())

				if rw.wroteHeader {
					return
				}
				rw.Header().Set("Content-Type", "application/json")
				rw.WriteHeader(http.StatusInternalServerError)
				rw.Write(internalErrorBody)
			}()

			next.ServeHTTP(rw, r)
		})
	}
}
