package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ─── Core types ─────────────────────────────────────────────

// MaxNarrativeLength caps EpisodeNarrative on ingest.
const MaxNarrativeLength = 2048

// Geo holds latitude and longitude coordinates in decimal degrees.
type Geo struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// WeatherEvent is a single reported severe-weather occurrence from the
// catalog. Events are immutable once ingested.
type WeatherEvent struct {
	ID               string              `json:"id"`
	EventType        string              `json:"event_type"`
	State            string              `json:"state"`
	Location         string              `json:"location"`
	Begin            Geo                 `json:"begin"`
	End              Geo                 `json:"end"`
	StartTime        time.Time           `json:"start_time"`
	EndTime          time.Time           `json:"end_time"`
	Magnitude        *float64            `json:"magnitude,omitempty"`
	MagnitudeType    string              `json:"magnitude_type,omitempty"`
	DamageProperty   decimal.NullDecimal `json:"damage_property"`
	DamageCrops      decimal.NullDecimal `json:"damage_crops"`
	EpisodeNarrative string              `json:"episode_narrative,omitempty"`
	Comments         string              `json:"comments,omitempty"`
}

// StartDate returns the calendar date of StartTime in its own time zone.
func (e *WeatherEvent) StartDate() time.Time { return CivilDate(e.StartTime) }

// EndDate returns the calendar date of EndTime in its own time zone.
func (e *WeatherEvent) EndDate() time.Time { return CivilDate(e.EndTime) }

// CandidateMatch pairs an asset with a weather event that passed the
// geographic prune, carrying the precise distances computed for it.
type CandidateMatch struct {
	Asset             *Asset       `json:"-"`
	Event             WeatherEvent `json:"event"`
	DistanceToStartKm float64      `json:"distance_to_start_km"`
	DistanceToEndKm   float64      `json:"distance_to_end_km"`
	MinDistanceKm     float64      `json:"min_distance_km"`
}

// CanonicalWeatherEvent is one logical weather occurrence per asset after
// same-day and consecutive-day reports of a master category were merged.
// The embedded WeatherEvent is the nearest member with StartTime, EndTime,
// Magnitude and damages replaced by the cluster aggregates.
type CanonicalWeatherEvent struct {
	WeatherEvent
	MasterCategory    string   `json:"master_category"`
	ClusterID         int      `json:"cluster_id"`
	MemberIDs         []string `json:"member_ids"`
	DistanceToStartKm float64  `json:"distance_to_start_km"`
	DistanceToEndKm   float64  `json:"distance_to_end_km"`
	MinDistanceKm     float64  `json:"min_distance_km"`
}

// Candidate converts the canonical event back into a CandidateMatch for asset.
func (c *CanonicalWeatherEvent) Candidate(asset *Asset) CandidateMatch {
	return CandidateMatch{
		Asset:             asset,
		Event:             c.WeatherEvent,
		DistanceToStartKm: c.DistanceToStartKm,
		DistanceToEndKm:   c.DistanceToEndKm,
		MinDistanceKm:     c.MinDistanceKm,
	}
}

// ─── Helpers ────────────────────────────────────────────────

// CivilDate truncates t to midnight UTC of its calendar date in t's own
// location, so dates from different zones compare by wall-clock day.
func CivilDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns the whole number of calendar days from a to b.
func DaysBetween(a, b time.Time) int {
	return int(CivilDate(b).Sub(CivilDate(a)).Hours() / 24)
}
