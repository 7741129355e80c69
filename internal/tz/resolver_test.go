package tz

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestResolver(t *testing.T) *Resolver {
	t.Helper()
	r, err := NewResolver(DefaultZones)
	require.NoError(t, err)
	return r
}

func wall(y int, m time.Month, d, h, mi int) time.Time {
	return time.Date(y, m, d, h, mi, 0, 0, time.UTC)
}

func TestResolve(t *testing.T) {
	r := newTestResolver(t)
	tests := []struct {
		abbrev string
		offset int
	}{
		{"CST-6", -6 * 3600},
		{"cst-6", -6 * 3600},
		{"EST-5", -5 * 3600},
		{"HST-10", -10 * 3600},
		{"GST10", 10 * 3600},
		{"UNK", 0},
	}
	for _, tt := range tests {
		t.Run(tt.abbrev, func(t *testing.T) {
			loc, err := r.Resolve(tt.abbrev)
			require.NoError(t, err)
			_, off := wall(2021, 1, 15, 12, 0).In(loc).Zone()
			assert.Equal(t, tt.offset, off)
		})
	}

	_, err := r.Resolve("XYZ")
	require.ErrorIs(t, err, ErrUnknownZone)
}

func TestNewResolver_BadZone(t *testing.T) {
	_, err := NewResolver(map[string]string{"BAD": "Not/AZone"})
	require.Error(t, err)
}

func TestLocalize_FixedOffset(t *testing.T) {
	r := newTestResolver(t)
	loc, err := r.Resolve("CST-6")
	require.NoError(t, err)

	got, err := Localize(wall(2021, 3, 14, 2, 30), loc)
	require.NoError(t, err)
	assert.Equal(t, wall(2021, 3, 14, 8, 30), got.UTC(), "fixed zones have no gap")
}

func TestLocalize_Ordinary(t *testing.T) {
	r := newTestResolver(t)
	loc, err := r.Resolve("CDT")
	require.NoError(t, err)

	got, err := Localize(wall(2021, 8, 15, 14, 0), loc)
	require.NoError(t, err)
	assert.Equal(t, wall(2021, 8, 15, 19, 0), got.UTC())
	assert.Equal(t, 14, got.Hour())
}

func TestLocalize_SpringForwardShifts(t *testing.T) {
	r := newTestResolver(t)
	loc, err := r.Resolve("CST")
	require.NoError(t, err)

	got, err := Localize(wall(2021, 3, 14, 2, 30), loc)
	require.NoError(t, err)
	assert.Equal(t, wall(2021, 3, 14, 8, 0), got.UTC())
	assert.Equal(t, 3, got.Hour())
	assert.Equal(t, 0, got.Minute())
}

func TestLocalize_FallBackIsAmbiguous(t *testing.T) {
	r := newTestResolver(t)
	loc, err := r.Resolve("CDT")
	require.NoError(t, err)

	_, err = Localize(wall(2021, 11, 7, 1, 30), loc)
	require.ErrorIs(t, err, ErrAmbiguousTime)

	got, err := Localize(wall(2021, 11, 7, 2, 30), loc)
	require.NoError(t, err)
	assert.Equal(t, wall(2021, 11, 7, 8, 30), got.UTC())
}
