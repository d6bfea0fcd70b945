package filters

import (
	"context"
	"fmt"
	"sort"

	"fkreview/model"
)

// DesignRequest bundles the rate-independent design inputs.
type DesignRequest struct {
	Definitions           []Definition
	SampleRates           []float64
	GroupDelaySec         float64
	SampleRateToleranceHz float64
	Taper                 int
	RemoveGroupDelay      bool
}

// Purpose: Design every (definition, sample rate) pair missing from cache.
// Key aspects: Each pair is designed at most once per call and never when
// already cached; clones carry the rate-specific parameters.
// Upstream: filterqueue scheduler.
// Downstream: Designer.Design.
func DesignFilterDefinitions(ctx context.Context, d Designer, cache DefinitionCache, req DesignRequest) ([]Definition, error) {
	type key struct {
		name string
		rate float64
	}
	seen := make(map[key]bool)
	var out []Definition
	for _, def := range req.Definitions {
		for _, rate := range req.SampleRates {
			k := key{name: def.Name, rate: rate}
			if seen[k] || cache.Has(def.Name, rate) {
				continue
			}
			seen[k] = true
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			designed, err := d.Design(ctx, withParameters(def, rate, req.GroupDelaySec, req.SampleRateToleranceHz), req.Taper, req.RemoveGroupDelay)
			if err != nil {
				return nil, fmt.Errorf("filters: design %q at %g Hz: %w", def.Name, rate, err)
			}
			out = append(out, designed)
		}
	}
	return out, nil
}

func withParameters(def Definition, rate, groupDelaySec, toleranceHz float64) Definition {
	out := def.Clone()
	params := Parameters{
		SampleRateHz:          rate,
		GroupDelaySec:         groupDelaySec,
		SampleRateToleranceHz: toleranceHz,
	}
	out.FilterDescription.Parameters = params
	for i := range out.FilterDescription.FilterDescriptions {
		out.FilterDescription.FilterDescriptions[i].Parameters = params
	}
	return out
}

// Purpose: List claim-check sample rates that still need a design for name.
// Key aspects: Unique, ascending; inline data carries no rate and is skipped.
// Upstream: filterqueue scheduler.
// Downstream: DefinitionCache.Has.
func SampleRatesToDesign(cache DefinitionCache, name string, segments []model.UiChannelSegment) []float64 {
	seen := make(map[float64]bool)
	var out []float64
	for _, seg := range segments {
		for _, ds := range seg.ChannelSegment.DataSegments {
			var rate float64
			switch ds.Data.Kind() {
			case model.DataClaimCheck:
				cc, _ := ds.Data.ClaimCheck()
				rate = cc.SampleRateHz
			case model.DataInline:
				continue
			default:
				continue
			}
			if rate <= 0 || seen[rate] || cache.Has(name, rate) {
				continue
			}
			seen[rate] = true
			out = append(out, rate)
		}
	}
	sort.Float64s(out)
	return out
}
