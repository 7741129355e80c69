package linker

import (
	"errors"
	"math"
	"sort"

	"github.com/couchcryptid/storm-asset-linker/internal/model"
)

// KmPerDegree converts a radius in kilometres to a coarse degree radius for
// bounding-box pruning.
const KmPerDegree = 111.0

// DistanceConfig maps an event type to its search radius in kilometres.
type DistanceConfig map[string]float64

// DistanceModel answers radius lookups for configured event types only.
type DistanceModel struct {
	radii     map[string]float64
	maxRadius float64
}

// NewDistanceModel validates cfg and builds a DistanceModel. Every radius
// must be a positive finite number.
func NewDistanceModel(cfg DistanceConfig) (*DistanceModel, error) {
	if len(cfg) == 0 {
		return nil, &ConfigurationError{Err: errors.New("distance table is empty")}
	}
	dm := &DistanceModel{radii: make(map[string]float64, len(cfg))}
	for eventType, km := range cfg {
		if eventType == "" {
			return nil, &ConfigurationError{Err: errors.New("empty event type in distance table")}
		}
		if km <= 0 || math.IsNaN(km) || math.IsInf(km, 0) {
			return nil, &ConfigurationError{EventType: eventType, Err: errors.New("radius must be a positive number of kilometres")}
		}
		dm.radii[eventType] = km
		dm.maxRadius = math.Max(dm.maxRadius, km)
	}
	return dm, nil
}

// RadiusKm returns the search radius for eventType. Unknown types are an
// error, never a default.
func (d *DistanceModel) RadiusKm(eventType string) (float64, error) {
	km, ok := d.radii[eventType]
	if !ok {
		return 0, &ConfigurationError{EventType: eventType, Err: ErrUnconfiguredEventType}
	}
	return km, nil
}

// Configured reports whether eventType has a radius.
func (d *DistanceModel) Configured(eventType string) bool {
	_, ok := d.radii[eventType]
	return ok
}

// MaxRadiusKm returns the largest configured radius.
func (d *DistanceModel) MaxRadiusKm() float64 { return d.maxRadius }

// MaxDegreeRadius returns MaxRadiusKm expressed in degrees.
func (d *DistanceModel) MaxDegreeRadius() float64 { return d.maxRadius / KmPerDegree }

// EventTypes returns the configured event types in sorted order.
func (d *DistanceModel) EventTypes() []string {
	types := make([]string, 0, len(d.radii))
	for t := range d.radii {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Subset splits a catalog into events of configured types and the rest.
func (d *DistanceModel) Subset(events []model.WeatherEvent) (kept, dropped []model.WeatherEvent) {
	kept = make([]model.WeatherEvent, 0, len(events))
	for i := range events {
		if d.Configured(events[i].EventType) {
			kept = append(kept, events[i])
		} else {
			dropped = append(dropped, events[i])
		}
	}
	return kept, dropped
}
