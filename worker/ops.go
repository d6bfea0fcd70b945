package worker

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"fkreview/channelfactory"
	"fkreview/export"
	"fkreview/filters"
	"fkreview/model"
	"fkreview/samplestore"
)

// ErrInvalidChannelSegmentData rejects data segments that are not claim checks.
var ErrInvalidChannelSegmentData = errors.New("worker: filter processor filter operation was passed invalid channelSegment data")

type designParams struct {
	def              filters.Definition
	taper            int
	removeGroupDelay bool
}

// FilterParams is the FILTER_CHANNEL_SEGMENTS payload.
type FilterParams struct {
	UiChannelSegments []model.UiChannelSegment
	Channel           model.Channel
	// Definitions holds the designed definition for each sample rate.
	Definitions      map[float64]filters.Definition
	Taper            int
	RemoveGroupDelay bool
}

// FilterResult is the derived channel and its filtered segments.
type FilterResult struct {
	Channel           model.Channel
	UiChannelSegments []model.UiChannelSegment
}

// ExportParams is the EXPORT_CHANNEL_SEGMENTS payload.
type ExportParams struct {
	FilterAssociations []export.FilterAssociation
	UiChannelSegments  []model.UiChannelSegment
}

// DesignFilter designs def on a worker.
func (p *Pool) DesignFilter(ctx context.Context, def filters.Definition, taper int, removeGroupDelay bool) (filters.Definition, error) {
	v, err := p.call(ctx, OpDesignFilter, designParams{def: def, taper: taper, removeGroupDelay: removeGroupDelay})
	if err != nil {
		return filters.Definition{}, err
	}
	return v.(filters.Definition), nil
}

// Design lets the pool serve as a filters.Designer.
func (p *Pool) Design(ctx context.Context, def filters.Definition, taper int, removeGroupDelay bool) (filters.Definition, error) {
	return p.DesignFilter(ctx, def, taper, removeGroupDelay)
}

// FilterChannelSegments filters segments on a worker.
func (p *Pool) FilterChannelSegments(ctx context.Context, params FilterParams) (FilterResult, error) {
	v, err := p.call(ctx, OpFilterChannelSegments, params)
	if err != nil {
		return FilterResult{}, err
	}
	return v.(FilterResult), nil
}

// ExportChannelSegments renders the export document on a worker.
func (p *Pool) ExportChannelSegments(ctx context.Context, params ExportParams) ([]byte, error) {
	v, err := p.call(ctx, OpExportChannelSegments, params)
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// Purpose: Filter every data segment and describe the result as a derived channel.
// Key aspects: The derived channel comes from the lowest-rate definition;
// each data segment uses the definition designed for its own rate and is
// stored under a claim-check id carrying the filter and apply options.
// Upstream: FILTER_CHANNEL_SEGMENTS requests.
// Downstream: channelfactory.CreateFiltered, filters.Apply, samplestore.
func filterChannelSegments(ctx context.Context, store samplestore.Store, publisher channelfactory.Publisher, params FilterParams) (FilterResult, error) {
	if store == nil {
		return FilterResult{}, errors.New("worker: no sample store configured")
	}
	if len(params.Definitions) == 0 {
		return FilterResult{}, fmt.Errorf("%w: no definitions for %s", filters.ErrNotDesigned, params.Channel.Name)
	}
	rates := make([]float64, 0, len(params.Definitions))
	for r := range params.Definitions {
		rates = append(rates, r)
	}
	sort.Float64s(rates)
	first := params.Definitions[rates[0]]

	derived, err := channelfactory.CreateFiltered(&params.Channel, &first)
	if err != nil {
		return FilterResult{}, err
	}
	channelfactory.Publish(ctx, publisher, derived)

	out := make([]model.UiChannelSegment, 0, len(params.UiChannelSegments))
	for _, seg := range params.UiChannelSegments {
		filtered := seg.Clone()
		for i, ds := range filtered.ChannelSegment.DataSegments {
			next, err := filterDataSegment(store, ds, params)
			if err != nil {
				return FilterResult{}, err
			}
			filtered.ChannelSegment.DataSegments[i] = next
		}
		ref := model.VersionRef{Name: derived.Name, EffectiveAt: derived.EffectiveAt}
		filtered.ChannelSegmentDescriptor.Channel = ref
		filtered.ChannelSegment.ID.Channel = ref
		filtered.ChannelSegment.ChannelName = derived.Name
		filtered.ChannelSegment.WfFilterID = first.Name
		out = append(out, filtered)
	}
	return FilterResult{Channel: derived, UiChannelSegments: out}, nil
}

func filterDataSegment(store samplestore.Store, ds model.DataSegment, params FilterParams) (model.DataSegment, error) {
	var cc model.ClaimCheck
	switch ds.Data.Kind() {
	case model.DataClaimCheck:
		cc, _ = ds.Data.ClaimCheck()
	case model.DataInline:
		return model.DataSegment{}, ErrInvalidChannelSegmentData
	default:
		return model.DataSegment{}, ErrInvalidChannelSegmentData
	}
	def, ok := params.Definitions[cc.SampleRateHz]
	if !ok {
		return model.DataSegment{}, fmt.Errorf("%w: %s at %g Hz", filters.ErrNotDesigned, params.Channel.Name, cc.SampleRateHz)
	}
	id, err := samplestore.FilteredID(cc.ID, def.Name, samplestore.ApplyOptions{
		Taper:            params.Taper,
		RemoveGroupDelay: params.RemoveGroupDelay,
	})
	if err != nil {
		return model.DataSegment{}, err
	}
	if !store.Has(id) {
		samples, err := store.Retrieve(cc.ID)
		if err != nil {
			return model.DataSegment{}, fmt.Errorf("worker: retrieve %s samples: %w", params.Channel.Name, err)
		}
		filtered, err := filters.Apply(samples, def, params.Taper, params.RemoveGroupDelay)
		if err != nil {
			return model.DataSegment{}, err
		}
		if err := store.Store(id, filtered); err != nil {
			return model.DataSegment{}, fmt.Errorf("worker: store filtered samples: %w", err)
		}
	}
	cc.ID = id
	ds.Data = model.ClaimCheckData(cc)
	return ds, nil
}

func exportChannelSegments(store samplestore.Store, params ExportParams) ([]byte, error) {
	if store == nil {
		return nil, errors.New("worker: no sample store configured")
	}
	return export.ExportChannelSegmentsWithFilterAssociations(store, params.FilterAssociations, params.UiChannelSegments)
}
