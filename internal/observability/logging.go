package observability

import (
	"log/slog"

	"github.com/couchcryptid/storm-asset-linker/internal/config"
	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
)

// ServiceName is attached to every log record.
const ServiceName = "storm-asset-linker"

// NewLogger creates a structured logger from the configured level and format.
func NewLogger(cfg *config.Config) *slog.Logger {
	return sharedobs.NewLogger(cfg.LogLevel, cfg.LogFormat).With("service", ServiceName)
}
