package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"
)

// Timeout bounds each request's handler time. The limit has to leave room
// for the slowest legitimate request, a CSV export of a large collection,
// so it is tied to the server's write timeout rather than a typical API
// latency. A request that exceeds it gets a 504 unless the handler has
// already started writing the response body.
func Timeout(limit time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), limit)
			defer cancel()

			sentinel := &writeSentinel{ResponseWriter: w}
			finished := make(chan struct{})
			go func() {
				defer close(finished)
				next.ServeHTTP(sentinel, r.WithContext(ctx))
			}()

			select {
			case <-finished:
			case <-ctx.Done():
				// A partially written response (a streaming CSV export,
				// say) cannot be turned into an error anymore.
				if !sentinel.wrote.Load() {
					slog.Warn("request exceeded time limit",
						"method", r.Method, "path", r.URL.Path, "limit", limit)
					http.Error(w, `{"error":"request timeout"}`, http.StatusGatewayTimeout)
				}
			}
		})
	}
}

// writeSentinel remembers whether the wrapped handler produced any
// output. The flag is read from the middleware goroutine while the
// handler may still be running, hence atomic.
type writeSentinel struct {
	http.ResponseWriter
	wrote atomic.Bool
}

func (s *writeSentinel) WriteHeader(code int) {
	s.wrote.Store(true)
	s.ResponseWriter.WriteHeader(code)
}

func (s *writeSentinel) Write(b []byte) (int, error) {
	s.wrote.Store(true)
	return s.ResponseWriter.Write(b)
}
