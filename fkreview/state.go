// Package fkreview decides which signal detections still need their FK
// reviewed and walks an analyst through them.
package fkreview

import (
	"fkreview/fk"
	"fkreview/model"
)

// ReviewState is derived from current data each time it is asked for.
type ReviewState int

const (
	NoFkData ReviewState = iota
	HasFkUnreviewed
	HasFkReviewed
)

func (s ReviewState) String() string {
	switch s {
	case NoFkData:
		return "NoFkData"
	case HasFkUnreviewed:
		return "HasFkUnreviewed"
	case HasFkReviewed:
		return "HasFkReviewed"
	default:
		return "ReviewState(?)"
	}
}

// DefaultPhasesNeedingReview is used when the configuration names none.
var DefaultPhasesNeedingReview = []string{"P", "Pn", "Pg", "Pb", "PKP"}

// Rules holds the review rule set.
type Rules struct {
	PhasesNeedingReview []string
	// Reviewed reports marks recorded by a Reviewer. Nil means none.
	Reviewed func(signalDetectionID string) bool
}

func (r Rules) phaseNeedsReview(phase string) bool {
	for _, p := range r.PhasesNeedingReview {
		if p == phase {
			return true
		}
	}
	return false
}

func (r Rules) reviewed(spectra *fk.FkPowerSpectra, id string) bool {
	if spectra.Reviewed {
		return true
	}
	return r.Reviewed != nil && r.Reviewed(id)
}

// State evaluates the review state of sd.
func State(sd *model.SignalDetection, rules Rules) ReviewState {
	spectra := fk.GetFkDummyData(sd)
	if spectra == nil {
		return NoFkData
	}
	phase, _ := sd.CurrentHypothesis().Phase()
	if !rules.reviewed(spectra, sd.ID) && rules.phaseNeedsReview(phase) {
		return HasFkUnreviewed
	}
	return HasFkReviewed
}

// FkNeedsReview reports whether sd has an unreviewed FK in a phase that
// requires review.
func FkNeedsReview(sd *model.SignalDetection, rules Rules) bool {
	return State(sd, rules) == HasFkUnreviewed
}

// FilterInFksThatNeedReview keeps candidates that are associated (by id)
// and need review.
func FilterInFksThatNeedReview(candidates, associated []*model.SignalDetection, rules Rules) []*model.SignalDetection {
	ids := make(map[string]struct{}, len(associated))
	for _, sd := range associated {
		if sd != nil {
			ids[sd.ID] = struct{}{}
		}
	}
	out := make([]*model.SignalDetection, 0, len(candidates))
	for _, sd := range candidates {
		if sd == nil {
			continue
		}
		if _, ok := ids[sd.ID]; ok && FkNeedsReview(sd, rules) {
			out = append(out, sd)
		}
	}
	return out
}

// GetAssociatedDetectionsWithFks returns the active detections associated
// with the event's current hypothesis that have FK data.
func GetAssociatedDetectionsWithFks(event *model.Event, sds []*model.SignalDetection) []*model.SignalDetection {
	if event == nil || len(sds) == 0 {
		return []*model.SignalDetection{}
	}
	assoc := event.AssociatedDetectionIDs()
	out := make([]*model.SignalDetection, 0, len(assoc))
	for _, sd := range sds {
		if sd == nil || !sd.IsActive() {
			continue
		}
		if _, ok := assoc[sd.ID]; !ok {
			continue
		}
		if fk.GetFkDummyData(sd) != nil {
			out = append(out, sd)
		}
	}
	return out
}
