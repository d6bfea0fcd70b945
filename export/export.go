// Package export converts cached UI channel segments into OSD channel
// segments with hydrated samples and writes them, with the filter
// definitions that produced them, as JSON files.
package export

import (
	"errors"
	"fmt"
	"reflect"

	"fkreview/filters"
	"fkreview/model"
	"fkreview/samplestore"

	jsoniter "github.com/json-iterator/go"
)

// ErrInvalidData rejects data segments that do not reference the sample store.
var ErrInvalidData = errors.New("export: cannot convert timeseries that is not data claim check")

// blobJSON writes floats with shortest round-trip digits.
var blobJSON = jsoniter.Config{EscapeHTML: false}.Froze()

// Timeseries is a y-only waveform.
type Timeseries struct {
	Type         string    `json:"type"`
	StartTime    float64   `json:"startTime"`
	EndTime      float64   `json:"endTime"`
	SampleRateHz float64   `json:"sampleRateHz"`
	SampleCount  int       `json:"sampleCount"`
	Samples      []float64 `json:"samples"`
}

// OSDChannelSegment is the exported channel segment.
type OSDChannelSegment struct {
	ID             model.ChannelSegmentDescriptor `json:"id"`
	Units          string                         `json:"units"`
	TimeseriesType string                         `json:"timeseriesType"`
	Timeseries     []Timeseries                   `json:"timeseries"`
	MaskedBy       []model.ProcessingMask         `json:"maskedBy"`
}

// WaveformIdentifier names one filtered waveform.
type WaveformIdentifier struct {
	ChannelSegmentID string  `json:"channelSegmentId"`
	StartTime        float64 `json:"startTime"`
}

// FilterAssociation lists the waveforms produced by one designed definition.
type FilterAssociation struct {
	WaveformIdentifiers []WaveformIdentifier `json:"waveformIdentifiers"`
	Definition          filters.Definition   `json:"definition"`
}

// Document is the exported file body.
type Document struct {
	ChannelSegments    []OSDChannelSegment `json:"channelSegments"`
	FilterAssociations []FilterAssociation `json:"filterAssociations"`
}

// Purpose: Hydrate UI channel segments into OSD channel segments.
// Key aspects: Only claim-check data converts; x values (even indices) are
// dropped so timeseries carry y values only.
// Upstream: ExportChannelSegmentsWithFilterAssociations.
// Downstream: samplestore.Store.Retrieve.
func ConvertUiChannelSegmentsToChannelSegments(store samplestore.Store, segments []model.UiChannelSegment) ([]OSDChannelSegment, error) {
	out := make([]OSDChannelSegment, 0, len(segments))
	for _, seg := range segments {
		series := make([]Timeseries, 0, len(seg.ChannelSegment.DataSegments))
		for _, ds := range seg.ChannelSegment.DataSegments {
			ts, err := convertDataSegment(store, ds, seg.ChannelSegment.TimeseriesType)
			if err != nil {
				return nil, err
			}
			series = append(series, ts)
		}
		d := seg.ChannelSegmentDescriptor
		masks := seg.ProcessingMasks
		if masks == nil {
			masks = []model.ProcessingMask{}
		}
		out = append(out, OSDChannelSegment{
			ID: model.ChannelSegmentDescriptor{
				Channel:      model.VersionRef{Name: d.Channel.Name, EffectiveAt: d.Channel.EffectiveAt},
				StartTime:    d.StartTime,
				EndTime:      d.EndTime,
				CreationTime: d.CreationTime,
			},
			Units:          seg.ChannelSegment.Units,
			TimeseriesType: seg.ChannelSegment.TimeseriesType,
			Timeseries:     series,
			MaskedBy:       masks,
		})
	}
	return out, nil
}

func convertDataSegment(store samplestore.Store, ds model.DataSegment, timeseriesType string) (Timeseries, error) {
	var cc model.ClaimCheck
	switch ds.Data.Kind() {
	case model.DataClaimCheck:
		cc, _ = ds.Data.ClaimCheck()
	case model.DataInline:
		return Timeseries{}, ErrInvalidData
	default:
		return Timeseries{}, ErrInvalidData
	}
	raw, err := store.Retrieve(cc.ID)
	if err != nil {
		return Timeseries{}, fmt.Errorf("export: retrieve samples: %w", err)
	}
	samples := make([]float64, 0, len(raw)/2)
	for i := 1; i < len(raw); i += 2 {
		samples = append(samples, raw[i])
	}
	return Timeseries{
		Type:         timeseriesType,
		StartTime:    cc.DomainTimeRange.StartTime,
		EndTime:      cc.DomainTimeRange.EndTime,
		SampleRateHz: cc.SampleRateHz,
		SampleCount:  len(samples),
		Samples:      samples,
	}, nil
}

// ExportChannelSegmentsWithFilterAssociations renders the export document.
func ExportChannelSegmentsWithFilterAssociations(store samplestore.Store, assoc []FilterAssociation, segments []model.UiChannelSegment) ([]byte, error) {
	converted, err := ConvertUiChannelSegmentsToChannelSegments(store, segments)
	if err != nil {
		return nil, err
	}
	if assoc == nil {
		assoc = []FilterAssociation{}
	}
	blob, err := blobJSON.Marshal(Document{ChannelSegments: converted, FilterAssociations: assoc})
	if err != nil {
		return nil, fmt.Errorf("export: encode: %w", err)
	}
	return blob, nil
}

// Purpose: Record which designed definition produced each filtered waveform.
// Key aspects: Definitions are looked up by the active filter name and the
// claim-check sample rate; waveforms filtered by an equal definition share
// one association. Segments without a designed definition are skipped.
// Upstream: main export step.
// Downstream: MergeFilterAssociations.
func BuildFilterAssociations(existing []FilterAssociation, segments []model.UiChannelSegment, filterName string, cache filters.DefinitionCache) []FilterAssociation {
	var found []FilterAssociation
	for _, seg := range segments {
		for _, ds := range seg.ChannelSegment.DataSegments {
			cc, ok := ds.Data.ClaimCheck()
			if !ok {
				continue
			}
			def, ok := cache.Get(filterName, cc.SampleRateHz)
			if !ok {
				continue
			}
			found = append(found, FilterAssociation{
				WaveformIdentifiers: []WaveformIdentifier{{
					ChannelSegmentID: seg.ChannelSegmentDescriptor.Channel.Name,
					StartTime:        cc.DomainTimeRange.StartTime,
				}},
				Definition: def,
			})
		}
	}
	return MergeFilterAssociations(append(append([]FilterAssociation(nil), existing...), found...))
}

// MergeFilterAssociations folds entries with equal definitions together,
// keeping first-seen order.
func MergeFilterAssociations(in []FilterAssociation) []FilterAssociation {
	out := make([]FilterAssociation, 0, len(in))
	for _, a := range in {
		merged := false
		for i := range out {
			if reflect.DeepEqual(out[i].Definition, a.Definition) {
				out[i].WaveformIdentifiers = append(out[i].WaveformIdentifiers, a.WaveformIdentifiers...)
				merged = true
				break
			}
		}
		if !merged {
			out = append(out, FilterAssociation{
				WaveformIdentifiers: append([]WaveformIdentifier(nil), a.WaveformIdentifiers...),
				Definition:          a.Definition,
			})
		}
	}
	return out
}
