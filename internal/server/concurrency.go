package server

import "net/http"

// ConcurrencyLimit restricts the number of concurrent API requests so that
// readers cannot exhaust the pgx pool shared with the Kafka consumer and
// linkage runs. Requests beyond the limit get 503 immediately.
func ConcurrencyLimit(limit int) func(http.Handler) http.Handler {
	sem := make(chan struct{}, limit)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
				next.ServeHTTP(w, r)
			default:
				writeError(w, http.StatusServiceUnavailable, "server busy, try again")
			}
		})
	}
}
