package observability

import (
	"context"
	"net/http"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
)

// Readiness reports ready only when every checker does. Checks run in order
// and the first failure is returned.
type Readiness []ReadinessChecker

// CheckReadiness implements ReadinessChecker.
func (r Readiness) CheckReadiness(ctx context.Context) error {
	for _, c := range r {
		if err := c.CheckReadiness(ctx); err != nil {
			return err
		}
	}
	return nil
}

// LivenessHandler returns 200 OK unconditionally.
func LivenessHandler() http.HandlerFunc {
	return sharedobs.LivenessHandler()
}

// ReadinessHandler returns 200 when checker is ready and 503 otherwise.
func ReadinessHandler(checker ReadinessChecker) http.HandlerFunc {
	return sharedobs.ReadinessHandler(checker)
}
