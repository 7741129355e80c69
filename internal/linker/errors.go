package linker

import (
	"errors"
	"fmt"
)

// ErrUnconfiguredEventType is wrapped by ConfigurationError when an event
// type has no configured search radius.
var ErrUnconfiguredEventType = errors.New("event type has no configured radius")

// ErrMissingMasterCategory is wrapped by ConfigurationError when a
// configured event type has no master category.
var ErrMissingMasterCategory = errors.New("event type has no master category")

// ConfigurationError is fatal for a run: the distance table or the
// master-category mapping cannot support the requested linkage.
type ConfigurationError struct {
	EventType string
	Err       error
}

func (e *ConfigurationError) Error() string {
	if e.EventType == "" {
		return fmt.Sprintf("configuration: %v", e.Err)
	}
	return fmt.Sprintf("configuration: %q: %v", e.EventType, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// MalformedInputError marks an asset row that cannot be linked. The row is
// skipped and reported; the run continues.
type MalformedInputError struct {
	AssetID string
	Field   string
	Err     error
}

func (e *MalformedInputError) Error() string {
	return fmt.Sprintf("asset %s: malformed %s: %v", e.AssetID, e.Field, e.Err)
}

func (e *MalformedInputError) Unwrap() error { return e.Err }
