package fkreview

import (
	"math"
	"sort"

	"fkreview/fk"
	"fkreview/model"
)

// FilterType selects which detections the FK display shows.
type FilterType string

const (
	FilterAll         FilterType = "all"
	FilterFirstP      FilterType = "firstP"
	FilterNeedsReview FilterType = "needsReview"
)

// FirstPFilterNames are the phases the first-P filter accepts.
var FirstPFilterNames = []string{"P", "Pn", "Pg"}

// ParseFilterType maps a configured name to a FilterType, defaulting to
// FilterFirstP like the display does.
func ParseFilterType(s string) FilterType {
	switch FilterType(s) {
	case FilterAll, FilterNeedsReview:
		return FilterType(s)
	default:
		return FilterFirstP
	}
}

// Purpose: Select the detections to show FKs for.
// Key aspects: Rejected hypotheses and detections without FK data are
// always dropped before the filter type applies.
// Upstream: main review walk, tests.
// Downstream: FirstPFilter, FilterInFksThatNeedReview.
func FilterSignalDetections(sds, associated []*model.SignalDetection, filterType FilterType, rules Rules) []*model.SignalDetection {
	withFk := make([]*model.SignalDetection, 0, len(sds))
	for _, sd := range sds {
		if sd == nil || !sd.IsActive() {
			continue
		}
		if fk.GetFkDummyData(sd) != nil {
			withFk = append(withFk, sd)
		}
	}
	switch filterType {
	case FilterAll:
		return withFk
	case FilterNeedsReview:
		return FilterInFksThatNeedReview(withFk, associated, rules)
	default:
		return FirstPFilter(withFk)
	}
}

// FirstPFilter keeps the earliest first-P detection per station.
// The input slice is not reordered.
func FirstPFilter(sds []*model.SignalDetection) []*model.SignalDetection {
	sorted := make([]*model.SignalDetection, len(sds))
	copy(sorted, sds)
	sort.SliceStable(sorted, func(i, j int) bool {
		return arrivalTime(sorted[i]) < arrivalTime(sorted[j])
	})
	seen := make(map[string]struct{})
	out := make([]*model.SignalDetection, 0, len(sorted))
	for _, sd := range sorted {
		phase, _ := sd.CurrentHypothesis().Phase()
		if !isFirstP(phase) {
			continue
		}
		if _, ok := seen[sd.Station.Name]; ok {
			continue
		}
		seen[sd.Station.Name] = struct{}{}
		out = append(out, sd)
	}
	return out
}

func isFirstP(phase string) bool {
	for _, p := range FirstPFilterNames {
		if p == phase {
			return true
		}
	}
	return false
}

func arrivalTime(sd *model.SignalDetection) float64 {
	at, ok := sd.CurrentHypothesis().ArrivalTime()
	if !ok {
		return math.Inf(1)
	}
	return at.Value
}
