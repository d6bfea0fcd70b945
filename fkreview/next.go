package fkreview

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sort"

	"fkreview/metrics"
	"fkreview/model"
)

// ErrNothingToReview is returned when there is neither a displayed
// detection nor a reviewable candidate.
var ErrNothingToReview = errors.New("fkreview: no detection to review")

// Reviewer records that FKs were reviewed.
type Reviewer interface {
	MarkReviewed(ctx context.Context, signalDetectionIDs []string) error
}

// LogReviewer is used when no review backend is configured; it only warns.
type LogReviewer struct{}

// MarkReviewed logs the ids and reports success.
func (LogReviewer) MarkReviewed(_ context.Context, ids []string) error {
	log.Printf("FkReview: no review backend configured, cannot mark %d FK(s) reviewed: %v", len(ids), ids)
	metrics.FkReviewsMarked.WithLabelValues("log").Add(float64(len(ids)))
	return nil
}

// SortType orders reviewable detections.
type SortType string

const (
	SortByDistance    SortType = "distance"
	SortByStationName SortType = "stationName"
)

// SortSignalDetections returns a sorted copy. Distance sorting needs
// distances; stations without one sort last.
func SortSignalDetections(sds []*model.SignalDetection, sortType SortType, distances []model.Distance) []*model.SignalDetection {
	out := make([]*model.SignalDetection, len(sds))
	copy(out, sds)
	switch {
	case sortType == SortByDistance && len(distances) > 0:
		byStation := make(map[string]float64, len(distances))
		for _, d := range distances {
			byStation[d.ID] = d.Distance
		}
		dist := func(sd *model.SignalDetection) float64 {
			if v, ok := byStation[sd.Station.Name]; ok {
				return v
			}
			return math.Inf(1)
		}
		sort.SliceStable(out, func(i, j int) bool { return dist(out[i]) < dist(out[j]) })
	case sortType != "":
		sort.SliceStable(out, func(i, j int) bool { return out[i].Station.Name < out[j].Station.Name })
	}
	return out
}

// Purpose: Advance the review to the next detection that needs its FK reviewed.
// Key aspects: The displayed detection is skipped; when nothing else is
// reviewable it stays displayed. Whichever detection is returned is
// marked reviewed if it still needs review.
// Upstream: main review walk.
// Downstream: FilterInFksThatNeedReview, SortSignalDetections, Reviewer.
func NextReviewable(ctx context.Context, reviewer Reviewer, displayed *model.SignalDetection,
	candidates, associated []*model.SignalDetection, sortType SortType, distances []model.Distance, rules Rules) (*model.SignalDetection, error) {
	next := displayed
	reviewable := FilterInFksThatNeedReview(candidates, associated, rules)
	if len(reviewable) > 0 {
		rest := make([]*model.SignalDetection, 0, len(reviewable))
		for _, sd := range reviewable {
			if displayed != nil && sd.ID == displayed.ID {
				continue
			}
			rest = append(rest, sd)
		}
		if len(distances) > 0 {
			rest = SortSignalDetections(rest, sortType, distances)
		}
		if len(rest) > 0 {
			next = rest[0]
		}
	}
	if next == nil {
		return nil, ErrNothingToReview
	}

	for _, sd := range reviewable {
		if sd.ID != next.ID {
			continue
		}
		if reviewer == nil {
			reviewer = LogReviewer{}
		}
		if err := reviewer.MarkReviewed(ctx, []string{next.ID}); err != nil {
			return next, fmt.Errorf("fkreview: mark %s reviewed: %w", next.ID, err)
		}
		break
	}
	return next, nil
}
