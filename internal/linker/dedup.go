package linker

import (
	"sort"
	"time"

	"github.com/couchcryptid/storm-asset-linker/internal/model"
)

// MasterCategories maps an event type to the broader category used to
// group its reports into one physical occurrence.
type MasterCategories map[string]string

// Deduplicator collapses same-day and consecutive-day reports of a master
// category into canonical events.
type Deduplicator struct {
	categories MasterCategories
}

// NewDeduplicator requires every event type configured in dm to have a
// master category.
func NewDeduplicator(categories MasterCategories, dm *DistanceModel) (*Deduplicator, error) {
	for _, eventType := range dm.EventTypes() {
		if categories[eventType] == "" {
			return nil, &ConfigurationError{EventType: eventType, Err: ErrMissingMasterCategory}
		}
	}
	return &Deduplicator{categories: categories}, nil
}

type dayKey struct {
	category string
	date     time.Time
}

const day = 24 * time.Hour

// Deduplicate clusters the candidates of one asset and returns one canonical
// event per cluster, ordered by cluster id. Cluster ids count up from zero
// across categories in category order.
func (d *Deduplicator) Deduplicate(candidates []model.CandidateMatch) ([]model.CanonicalWeatherEvent, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	cats := make([]string, len(candidates))
	days := make(map[dayKey]struct{})
	for i := range candidates {
		ev := &candidates[i].Event
		cat := d.categories[ev.EventType]
		if cat == "" {
			return nil, &ConfigurationError{EventType: ev.EventType, Err: ErrMissingMasterCategory}
		}
		cats[i] = cat
		first, last := ev.StartDate(), ev.EndDate()
		if last.Before(first) {
			last = first
		}
		for dt := first; !dt.After(last); dt = dt.AddDate(0, 0, 1) {
			days[dayKey{category: cat, date: dt}] = struct{}{}
		}
	}

	keys := make([]dayKey, 0, len(days))
	for k := range days {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].category != keys[j].category {
			return keys[i].category < keys[j].category
		}
		return keys[i].date.Before(keys[j].date)
	})

	clusterOf := make(map[dayKey]int, len(keys))
	id := -1
	for i, k := range keys {
		if i == 0 || k.category != keys[i-1].category || k.date.Sub(keys[i-1].date) != day {
			id++
		}
		clusterOf[k] = id
	}

	groups := make([][]int, id+1)
	for i := range candidates {
		c := clusterOf[dayKey{category: cats[i], date: candidates[i].Event.StartDate()}]
		groups[c] = append(groups[c], i)
	}

	out := make([]model.CanonicalWeatherEvent, 0, len(groups))
	for clusterID, members := range groups {
		if len(members) == 0 {
			continue
		}
		out = append(out, aggregate(candidates, members, cats[members[0]], clusterID))
	}
	return out, nil
}

// aggregate folds the members of one cluster into a canonical event.
func aggregate(candidates []model.CandidateMatch, members []int, category string, clusterID int) model.CanonicalWeatherEvent {
	rep := members[0]
	for _, i := range members[1:] {
		if nearer(&candidates[i], &candidates[rep]) {
			rep = i
		}
	}

	ce := model.CanonicalWeatherEvent{
		WeatherEvent:      candidates[rep].Event,
		MasterCategory:    category,
		ClusterID:         clusterID,
		DistanceToStartKm: candidates[rep].DistanceToStartKm,
		DistanceToEndKm:   candidates[rep].DistanceToEndKm,
		MinDistanceKm:     candidates[rep].MinDistanceKm,
	}
	ce.Magnitude = nil
	ce.DamageProperty.Valid = false
	ce.DamageCrops.Valid = false

	ids := make([]string, 0, len(members))
	for _, i := range members {
		ev := &candidates[i].Event
		ids = append(ids, ev.ID)
		if ev.StartTime.Before(ce.StartTime) {
			ce.StartTime = ev.StartTime
		}
		if ev.EndTime.After(ce.EndTime) {
			ce.EndTime = ev.EndTime
		}
		if ev.Magnitude != nil && (ce.Magnitude == nil || *ev.Magnitude > *ce.Magnitude) {
			m := *ev.Magnitude
			ce.Magnitude = &m
		}
		if ev.DamageProperty.Valid && (!ce.DamageProperty.Valid || ev.DamageProperty.Decimal.GreaterThan(ce.DamageProperty.Decimal)) {
			ce.DamageProperty = ev.DamageProperty
		}
		if ev.DamageCrops.Valid && (!ce.DamageCrops.Valid || ev.DamageCrops.Decimal.GreaterThan(ce.DamageCrops.Decimal)) {
			ce.DamageCrops = ev.DamageCrops
		}
	}
	sort.Strings(ids)
	ce.MemberIDs = ids
	return ce
}

// nearer orders candidates by distance with the event ID as tie-break.
func nearer(a, b *model.CandidateMatch) bool {
	if a.MinDistanceKm != b.MinDistanceKm {
		return a.MinDistanceKm < b.MinDistanceKm
	}
	return a.Event.ID < b.Event.ID
}
