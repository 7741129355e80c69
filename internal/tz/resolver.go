// Package tz resolves the time-zone abbreviations used in storm event
// records and localizes naive wall-clock times against them.
package tz

import (
	"errors"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata" // embed the zone database so fixed Etc/GMT zones resolve everywhere
)

// ErrAmbiguousTime is returned for a wall time that occurs twice because of
// a daylight-saving fall-back transition.
var ErrAmbiguousTime = errors.New("ambiguous local time")

// ErrUnknownZone is returned for an abbreviation with no mapping.
var ErrUnknownZone = errors.New("unknown time zone abbreviation")

// DefaultZones maps storm-record zone codes to IANA names. Offset-suffixed
// codes map to fixed Etc/GMT zones; the sign in Etc names is inverted.
var DefaultZones = map[string]string{
	"EST-5":   "Etc/GMT+5",
	"CST-6":   "Etc/GMT+6",
	"MST-7":   "Etc/GMT+7",
	"PST-8":   "Etc/GMT+8",
	"HST-10":  "Etc/GMT+10",
	"AKST-9":  "Etc/GMT+9",
	"SST-11":  "Etc/GMT+11",
	"AST-4":   "Etc/GMT+4",
	"GST10":   "Etc/GMT-10",
	"PDT-7":   "Etc/GMT+7",
	"EDT-4":   "Etc/GMT+4",
	"CDT-5":   "Etc/GMT+5",
	"CST":     "US/Central",
	"CDT":     "US/Central",
	"MST":     "US/Mountain",
	"MDT":     "US/Mountain",
	"EST":     "US/Eastern",
	"EDT":     "US/Eastern",
	"PST":     "US/Pacific",
	"PDT":     "US/Pacific",
	"UNK":     "UTC",
	"GMT":     "UTC",
	"UTC":     "UTC",
	"AST":     "Canada/Atlantic",
	"HST":     "US/Hawaii",
	"SST":     "US/Samoa",
	"AKST":    "US/Alaska",
	"AKDT":    "US/Alaska",
	"ChST":    "Pacific/Guam",
	"CHST":    "Pacific/Guam",
	"GST":     "Pacific/Guam",
	"EST5EDT": "US/Eastern",
}

// Resolver turns abbreviations into locations.
type Resolver struct {
	names map[string]string
	cache map[string]*time.Location
}

// NewResolver loads every location in names up front so lookups never fail
// on a bad mapping at run time.
func NewResolver(names map[string]string) (*Resolver, error) {
	r := &Resolver{names: make(map[string]string, len(names)), cache: make(map[string]*time.Location, len(names))}
	for abbrev, name := range names {
		loc, err := time.LoadLocation(name)
		if err != nil {
			return nil, fmt.Errorf("load zone %s for %s: %w", name, abbrev, err)
		}
		key := strings.ToUpper(abbrev)
		r.names[key] = name
		r.cache[key] = loc
	}
	return r, nil
}

// Resolve returns the location for abbrev, case-insensitively.
func (r *Resolver) Resolve(abbrev string) (*time.Location, error) {
	loc, ok := r.cache[strings.ToUpper(strings.TrimSpace(abbrev))]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownZone, abbrev)
	}
	return loc, nil
}

// Localize interprets wall (whose location is ignored) as a wall-clock time
// in loc. Times inside a spring-forward gap move to the first instant after
// the gap. Times repeated by a fall-back transition return ErrAmbiguousTime.
func Localize(wall time.Time, loc *time.Location) (time.Time, error) {
	y, mo, d := wall.Date()
	h, mi, s := wall.Clock()
	naive := time.Date(y, mo, d, h, mi, s, wall.Nanosecond(), time.UTC)

	// Offsets in force a day either side bracket any transition at wall.
	_, before := naive.Add(-24 * time.Hour).In(loc).Zone()
	_, after := naive.Add(24 * time.Hour).In(loc).Zone()

	var matches []time.Time
	for _, off := range uniq(before, after) {
		t := naive.Add(-time.Duration(off) * time.Second).In(loc)
		if sameWall(t, naive) {
			matches = append(matches, t)
		}
	}

	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		// Nonexistent: the instant computed with the pre-transition offset
		// lies after the transition; the zone's start is the gap's end.
		t := naive.Add(-time.Duration(before) * time.Second).In(loc)
		start, _ := t.ZoneBounds()
		if start.IsZero() {
			return t, nil
		}
		return start.In(loc), nil
	default:
		if matches[0].Equal(matches[1]) {
			return matches[0], nil
		}
		return time.Time{}, fmt.Errorf("%w: %s in %s", ErrAmbiguousTime, naive.Format("2006-01-02 15:04:05"), loc)
	}
}

func uniq(a, b int) []int {
	if a == b {
		return []int{a}
	}
	return []int{a, b}
}

func sameWall(t, naive time.Time) bool {
	y, mo, d := t.Date()
	h, mi, s := t.Clock()
	return time.Date(y, mo, d, h, mi, s, t.Nanosecond(), time.UTC).Equal(naive)
}
