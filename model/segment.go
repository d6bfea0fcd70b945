package model

import (
	"bytes"
	"errors"
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// TimeseriesTypeWaveform is the only timeseries type the pipeline handles.
const TimeseriesTypeWaveform = "WAVEFORM"

// TimeRange is an inclusive [StartTime, EndTime] interval in epoch seconds.
type TimeRange struct {
	StartTime float64 `json:"startTime"`
	EndTime   float64 `json:"endTime"`
}

// ChannelSegmentDescriptor identifies one channel segment.
type ChannelSegmentDescriptor struct {
	Channel      VersionRef `json:"channel"`
	StartTime    float64    `json:"startTime"`
	EndTime      float64    `json:"endTime"`
	CreationTime float64    `json:"creationTime"`
}

// Purpose: Build the cache key for a descriptor.
// Key aspects: name.effectiveAt.creationTime.startTime.endTime with
// JavaScript number rendering so keys match across systems.
// Upstream: processed-items cache, channel segment record dedupe.
// Downstream: FormatNumber.
func (d ChannelSegmentDescriptor) String() string {
	return d.Channel.Name + "." +
		FormatNumber(d.Channel.EffectiveAt) + "." +
		FormatNumber(d.CreationTime) + "." +
		FormatNumber(d.StartTime) + "." +
		FormatNumber(d.EndTime)
}

// DataKind tags the variant held by DataSegmentData.
type DataKind int

const (
	// DataInline carries the interleaved sample buffer directly.
	DataInline DataKind = iota + 1
	// DataClaimCheck references samples held by a sample store.
	DataClaimCheck
)

func (k DataKind) String() string {
	switch k {
	case DataInline:
		return "inline"
	case DataClaimCheck:
		return "claim-check"
	default:
		return fmt.Sprintf("DataKind(%d)", int(k))
	}
}

// ClaimCheck is a reference into the sample store.
type ClaimCheck struct {
	ID              string    `json:"id"`
	SampleRateHz    float64   `json:"sampleRate"`
	DomainTimeRange TimeRange `json:"domainTimeRange"`
}

// DataSegmentData is either an inline interleaved [x,y,x,y...] buffer or
// a claim check. Construct it with InlineData or ClaimCheckData.
type DataSegmentData struct {
	kind   DataKind
	values []float64
	claim  ClaimCheck
}

// InlineData wraps an interleaved position buffer.
func InlineData(values []float64) DataSegmentData {
	return DataSegmentData{kind: DataInline, values: values}
}

// ClaimCheckData wraps a sample store reference.
func ClaimCheckData(c ClaimCheck) DataSegmentData {
	return DataSegmentData{kind: DataClaimCheck, claim: c}
}

// Kind reports the variant; zero means unset.
func (d DataSegmentData) Kind() DataKind { return d.kind }

// Inline returns the inline buffer when the variant is DataInline.
func (d DataSegmentData) Inline() ([]float64, bool) {
	if d.kind != DataInline {
		return nil, false
	}
	return d.values, true
}

// ClaimCheck returns the reference when the variant is DataClaimCheck.
func (d DataSegmentData) ClaimCheck() (ClaimCheck, bool) {
	if d.kind != DataClaimCheck {
		return ClaimCheck{}, false
	}
	return d.claim, true
}

var errUnknownDataKind = errors.New("model: data segment data is neither inline nor claim check")

// MarshalJSON writes inline data as an array and claim checks as an object.
func (d DataSegmentData) MarshalJSON() ([]byte, error) {
	switch d.kind {
	case DataInline:
		if d.values == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(d.values)
	case DataClaimCheck:
		return json.Marshal(d.claim)
	default:
		return nil, errUnknownDataKind
	}
}

// UnmarshalJSON selects the variant from the leading JSON token.
func (d *DataSegmentData) UnmarshalJSON(b []byte) error {
	trimmed := bytes.TrimSpace(b)
	if len(trimmed) == 0 {
		return errUnknownDataKind
	}
	switch trimmed[0] {
	case '[':
		var values []float64
		if err := json.Unmarshal(trimmed, &values); err != nil {
			return fmt.Errorf("model: inline data: %w", err)
		}
		*d = InlineData(values)
		return nil
	case '{':
		var c ClaimCheck
		if err := json.Unmarshal(trimmed, &c); err != nil {
			return fmt.Errorf("model: claim check: %w", err)
		}
		*d = ClaimCheckData(c)
		return nil
	default:
		return errUnknownDataKind
	}
}

// DataSegment is one contiguous run of samples in a channel segment.
type DataSegment struct {
	Type         string          `json:"type"`
	StartTime    float64         `json:"startTime"`
	EndTime      float64         `json:"endTime"`
	SampleRateHz float64         `json:"sampleRateHz"`
	SampleCount  int             `json:"sampleCount"`
	Data         DataSegmentData `json:"data"`
}

// ChannelSegment is the UI-side channel segment.
type ChannelSegment struct {
	ChannelName    string                   `json:"channelName"`
	WfFilterID     string                   `json:"wfFilterId"`
	ID             ChannelSegmentDescriptor `json:"id"`
	Units          string                   `json:"units"`
	TimeseriesType string                   `json:"timeseriesType"`
	DataSegments   []DataSegment            `json:"dataSegments"`
}

// ProcessingMask marks a span of a raw channel as masked.
type ProcessingMask struct {
	ID                  string       `json:"id"`
	EffectiveAt         float64      `json:"effectiveAt"`
	StartTime           float64      `json:"startTime"`
	EndTime             float64      `json:"endTime"`
	AppliedToRawChannel EntityRef    `json:"appliedToRawChannel"`
	ProcessingOperation string       `json:"processingOperation"`
	MaskedQcSegments    []VersionRef `json:"maskedQcSegmentVersions,omitempty"`
}

// UiChannelSegment pairs a channel segment with its descriptor and masks.
type UiChannelSegment struct {
	ChannelSegmentDescriptor ChannelSegmentDescriptor `json:"channelSegmentDescriptor"`
	ChannelSegment           ChannelSegment           `json:"channelSegment"`
	ProcessingMasks          []ProcessingMask         `json:"processingMasks"`
}

// Clone copies the slices of a segment; sample buffers are shared and
// must be treated as read-only.
func (u UiChannelSegment) Clone() UiChannelSegment {
	out := u
	out.ChannelSegment.DataSegments = append([]DataSegment(nil), u.ChannelSegment.DataSegments...)
	out.ProcessingMasks = append([]ProcessingMask(nil), u.ProcessingMasks...)
	return out
}
