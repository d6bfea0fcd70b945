// Package filterqueue watches the application state for unfiltered channel
// segments that still need the channel's selected filter and runs design
// and filter work for them exactly once per review interval.
package filterqueue

import (
	"fkreview/filters"
	"fkreview/model"
)

// ProcessedItems records descriptor strings already queued, keyed by
// filter name then channel name.
type ProcessedItems map[string]map[string]map[string]struct{}

// Has reports whether id was queued for (filterName, channel).
func (p ProcessedItems) Has(filterName, channel, id string) bool {
	_, ok := p[filterName][channel][id]
	return ok
}

func (p ProcessedItems) add(filterName, channel, id string) {
	byChannel, ok := p[filterName]
	if !ok {
		byChannel = make(map[string]map[string]struct{})
		p[filterName] = byChannel
	}
	ids, ok := byChannel[channel]
	if !ok {
		ids = make(map[string]struct{})
		byChannel[channel] = ids
	}
	ids[id] = struct{}{}
}

// Merge adds every entry of delta to p.
func (p ProcessedItems) Merge(delta ProcessedItems) {
	for filterName, byChannel := range delta {
		for channel, ids := range byChannel {
			for id := range ids {
				p.add(filterName, channel, id)
			}
		}
	}
}

// Len counts queued descriptor strings.
func (p ProcessedItems) Len() int {
	n := 0
	for _, byChannel := range p {
		for _, ids := range byChannel {
			n += len(ids)
		}
	}
	return n
}

// FilterName names the records a filter writes to; filters without a
// definition share the default filter's records.
func FilterName(f filters.Filter, defaultFilterName string) string {
	if f.FilterDefinition != nil && f.FilterDefinition.Name != "" {
		return f.FilterDefinition.Name
	}
	return defaultFilterName
}

// Purpose: Find unfiltered segments not yet queued for their channel's filter.
// Key aspects: Channels without an unfiltered record are ignored; segments
// whose channel is unknown are skipped silently so they can be retried once
// the channel arrives.
// Upstream: Scheduler.Run.
// Downstream: ChannelSegmentDescriptor.String.
func ComputeDelta(channelFilters map[string]filters.Filter, uiSegments map[string]map[string][]model.UiChannelSegment,
	processed ProcessedItems, channelsByName map[string]model.Channel, defaultFilterName string) ProcessedItems {
	delta := make(ProcessedItems)
	if defaultFilterName == "" {
		return delta
	}
	for channel, selected := range channelFilters {
		unfiltered, ok := uiSegments[channel][defaultFilterName]
		if !ok {
			continue
		}
		filterName := FilterName(selected, defaultFilterName)
		for _, seg := range unfiltered {
			id := seg.ChannelSegmentDescriptor.String()
			if processed.Has(filterName, channel, id) {
				continue
			}
			if _, known := channelsByName[seg.ChannelSegmentDescriptor.Channel.Name]; !known {
				continue
			}
			delta.add(filterName, channel, id)
		}
	}
	return delta
}
