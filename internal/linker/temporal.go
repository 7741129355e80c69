package linker

import "github.com/couchcryptid/storm-asset-linker/internal/model"

// FilterWindow keeps candidates whose whole event lies within the asset's
// data window, compared by calendar date with both ends inclusive.
func FilterWindow(asset *model.Asset, candidates []model.CandidateMatch) []model.CandidateMatch {
	first := model.CivilDate(asset.DataStartedOn)
	last := model.CivilDate(asset.DataEndedOn)

	out := candidates[:0:0]
	for i := range candidates {
		ev := &candidates[i].Event
		if ev.StartDate().Before(first) || ev.EndDate().After(last) {
			continue
		}
		out = append(out, candidates[i])
	}
	return out
}
