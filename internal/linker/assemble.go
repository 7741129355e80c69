package linker

import (
	"maps"

	"github.com/couchcryptid/storm-asset-linker/internal/model"
)

// Assemble applies the per-type radius to canonical events and decorates
// survivors with the asset's fields. Rows come out grouped by event type in
// sorted order, then by cluster id.
func Assemble(dm *DistanceModel, asset *model.Asset, events []model.CanonicalWeatherEvent) ([]model.Linkage, error) {
	byType := make(map[string][]int)
	for i := range events {
		if !dm.Configured(events[i].EventType) {
			return nil, &ConfigurationError{EventType: events[i].EventType, Err: ErrUnconfiguredEventType}
		}
		byType[events[i].EventType] = append(byType[events[i].EventType], i)
	}

	var out []model.Linkage
	for _, eventType := range dm.EventTypes() {
		idx, ok := byType[eventType]
		if !ok {
			continue
		}
		radius, _ := dm.RadiusKm(eventType)
		for _, i := range idx {
			ev := &events[i]
			if ev.MinDistanceKm > radius {
				continue
			}
			out = append(out, newLinkage(asset, ev))
		}
	}
	return out, nil
}

func newLinkage(asset *model.Asset, ev *model.CanonicalWeatherEvent) model.Linkage {
	l := model.Linkage{
		SystemID:            asset.ID,
		SystemLatitude:      asset.Latitude,
		SystemLongitude:     asset.Longitude,
		SystemDataStartedOn: asset.DataStartedOn,
		SystemDataEndedOn:   asset.DataEndedOn,
		Event:               *ev,
		DaysBeforeEvent:     model.DaysBetween(asset.DataStartedOn, ev.StartTime),
		DaysAfterEvent:      model.DaysBetween(ev.EndTime, asset.DataEndedOn),
	}
	if len(asset.Attributes) > 0 {
		l.Attributes = maps.Clone(asset.Attributes)
	}
	return l
}
