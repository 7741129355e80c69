package linker

import (
	"math"

	"github.com/couchcryptid/storm-asset-linker/internal/model"
	"github.com/tidwall/geodesic"
)

// GeodesicKm returns the WGS-84 ellipsoidal distance between two points.
func GeodesicKm(a, b model.Geo) float64 {
	var meters float64
	geodesic.WGS84.Inverse(a.Lat, a.Lon, b.Lat, b.Lon, &meters, nil, nil)
	return meters / 1000
}

// Matcher finds catalog events geographically near an asset.
type Matcher struct {
	distances *DistanceModel
}

// NewMatcher returns a Matcher bounded by the model's largest radius.
func NewMatcher(dm *DistanceModel) *Matcher {
	return &Matcher{distances: dm}
}

// withinBox reports whether p lies strictly inside the square of half-width
// deg degrees centred on origin.
func withinBox(origin, p model.Geo, deg float64) bool {
	return math.Abs(p.Lat-origin.Lat) < deg && math.Abs(p.Lon-origin.Lon) < deg
}

// Match returns a candidate for every event whose begin or end point falls
// inside the asset's bounding box, with geodesic distances attached. The
// catalog must contain only configured event types.
func (m *Matcher) Match(asset *model.Asset, catalog []model.WeatherEvent) ([]model.CandidateMatch, error) {
	origin := model.Geo{Lat: asset.Latitude, Lon: asset.Longitude}
	deg := m.distances.MaxDegreeRadius()

	var out []model.CandidateMatch
	for i := range catalog {
		ev := &catalog[i]
		if !withinBox(origin, ev.Begin, deg) && !withinBox(origin, ev.End, deg) {
			continue
		}
		if !m.distances.Configured(ev.EventType) {
			return nil, &ConfigurationError{EventType: ev.EventType, Err: ErrUnconfiguredEventType}
		}
		toStart := GeodesicKm(origin, ev.Begin)
		toEnd := GeodesicKm(origin, ev.End)
		out = append(out, model.CandidateMatch{
			Asset:             asset,
			Event:             *ev,
			DistanceToStartKm: toStart,
			DistanceToEndKm:   toEnd,
			MinDistanceKm:     math.Min(toStart, toEnd),
		})
	}
	return out, nil
}
