package samplestore

import (
	"fmt"
	"strings"

	"fkreview/model"

	jsoniter "github.com/json-iterator/go"
)

// Unfiltered is the filter name recorded in ids of raw waveforms.
const Unfiltered = "Unfiltered"

var idJSON = jsoniter.Config{EscapeHTML: false}.Froze()

// WaveformShape is the part of a waveform that distinguishes two buffers
// of the same channel segment.
type WaveformShape struct {
	Type         string  `json:"type"`
	StartTime    float64 `json:"startTime"`
	EndTime      float64 `json:"endTime"`
	SampleCount  int     `json:"sampleCount"`
	SampleRateHz float64 `json:"sampleRateHz"`
}

// ApplyOptions are the filter application settings that change the
// samples a filter produces.
type ApplyOptions struct {
	Taper            int  `json:"taper"`
	RemoveGroupDelay bool `json:"removeGroupDelay"`
}

// claimCheckKey fixes the field order of rendered ids.
type claimCheckKey struct {
	Domain   model.TimeRange                `json:"domain"`
	ID       model.ChannelSegmentDescriptor `json:"id"`
	Type     string                         `json:"type"`
	Filter   string                         `json:"filter"`
	Apply    *ApplyOptions                  `json:"apply,omitempty"`
	Waveform WaveformShape                  `json:"waveform"`
}

// Purpose: Build the deterministic claim-check id for one waveform.
// Key aspects: Same inputs always render the same id; an empty filter name
// renders as Unfiltered.
// Upstream: session materialization, worker filter op.
// Downstream: jsoniter.
func ClaimCheckID(domain model.TimeRange, id model.ChannelSegmentDescriptor, timeseriesType, filterName string, waveform WaveformShape) (string, error) {
	if strings.TrimSpace(filterName) == "" {
		filterName = Unfiltered
	}
	out, err := idJSON.MarshalToString(claimCheckKey{
		Domain:   domain,
		ID:       id,
		Type:     timeseriesType,
		Filter:   filterName,
		Waveform: waveform,
	})
	if err != nil {
		return "", fmt.Errorf("samplestore: render id: %w", err)
	}
	return out, nil
}

// Purpose: Derive the id of a waveform filtered from id.
// Key aspects: The filter name and the apply options both enter the id, so
// the same filter applied with another taper or group delay setting is a
// different waveform.
// Upstream: worker filter op.
// Downstream: jsoniter.
func FilteredID(id, filterName string, opts ApplyOptions) (string, error) {
	var key claimCheckKey
	if err := idJSON.UnmarshalFromString(id, &key); err != nil {
		return "", fmt.Errorf("samplestore: parse id: %w", err)
	}
	if strings.TrimSpace(filterName) == "" {
		filterName = Unfiltered
	}
	key.Filter = filterName
	key.Apply = &opts
	out, err := idJSON.MarshalToString(key)
	if err != nil {
		return "", fmt.Errorf("samplestore: render id: %w", err)
	}
	return out, nil
}
