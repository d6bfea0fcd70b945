// Package appstate is the explicit application context shared by the
// filter queue, the FK builder and the exporter.
//
// Every mutation runs under one mutex and replaces the records it touches,
// so a Snapshot taken earlier keeps describing the state it saw.
package appstate

import (
	"sync"

	"fkreview/filters"
	"fkreview/model"
)

// Interval is the time window under review.
type Interval struct {
	StartTime float64
	EndTime   float64
}

// ChannelSegments is a batch of segments for one channel name.
type ChannelSegments struct {
	Name     string
	Segments []model.UiChannelSegment
}

// Snapshot is a read-only copy of the state.
// Maps are fresh; the segment slices inside them must not be mutated.
type Snapshot struct {
	Interval          Interval
	ChannelFilters    map[string]filters.Filter
	UiChannelSegments map[string]map[string][]model.UiChannelSegment
	RawChannels       map[string]model.Channel
	DerivedChannels   map[string]model.Channel
	Definitions       filters.DefinitionCache
	DefaultFilterList *filters.FilterList
}

// ChannelByName finds a raw or derived channel.
func (s Snapshot) ChannelByName(name string) (model.Channel, bool) {
	if ch, ok := s.RawChannels[name]; ok {
		return ch, true
	}
	ch, ok := s.DerivedChannels[name]
	return ch, ok
}

// ChannelsByName merges raw and derived channels.
func (s Snapshot) ChannelsByName() map[string]model.Channel {
	out := make(map[string]model.Channel, len(s.RawChannels)+len(s.DerivedChannels))
	for k, v := range s.RawChannels {
		out[k] = v
	}
	for k, v := range s.DerivedChannels {
		out[k] = v
	}
	return out
}

// DefaultFilter is the fallback filter for the configured list.
func (s Snapshot) DefaultFilter() filters.Filter {
	return s.DefaultFilterList.DefaultFilter()
}

// State holds the mutable application state.
type State struct {
	mu                sync.Mutex
	interval          Interval
	channelFilters    map[string]filters.Filter
	uiChannelSegments map[string]map[string][]model.UiChannelSegment
	rawChannels       map[string]model.Channel
	derivedChannels   map[string]model.Channel
	definitions       filters.DefinitionCache
	defaultFilterList *filters.FilterList
}

// New returns an empty state using list for fallback filters. A nil list
// falls back to Unfiltered.
func New(list *filters.FilterList) *State {
	return &State{
		channelFilters:    make(map[string]filters.Filter),
		uiChannelSegments: make(map[string]map[string][]model.UiChannelSegment),
		rawChannels:       make(map[string]model.Channel),
		derivedChannels:   make(map[string]model.Channel),
		defaultFilterList: list,
	}
}

// SetInterval opens a new review interval.
func (s *State) SetInterval(iv Interval) {
	s.mu.Lock()
	s.interval = iv
	s.mu.Unlock()
}

// SetFilterForChannel selects the filter shown for a channel.
func (s *State) SetFilterForChannel(channel string, f filters.Filter) {
	s.mu.Lock()
	next := make(map[string]filters.Filter, len(s.channelFilters)+1)
	for k, v := range s.channelFilters {
		next[k] = v
	}
	next[channel] = f
	s.channelFilters = next
	s.mu.Unlock()
}

// Purpose: Merge channel segment batches into the per-channel records.
// Key aspects: Segments are keyed by their WfFilterID (Unfiltered when
// blank); a segment whose descriptor string is already present is skipped
// so repeated batches never duplicate data.
// Upstream: session loading, filter queue results.
// Downstream: None.
func (s *State) AddChannelSegments(batches []ChannelSegments) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := make(map[string]map[string][]model.UiChannelSegment, len(s.uiChannelSegments)+len(batches))
	for k, v := range s.uiChannelSegments {
		next[k] = v
	}
	copied := make(map[string]bool)
	for _, b := range batches {
		if !copied[b.Name] {
			inner := make(map[string][]model.UiChannelSegment, len(next[b.Name])+1)
			for k, v := range next[b.Name] {
				inner[k] = v
			}
			next[b.Name] = inner
			copied[b.Name] = true
		}
		for _, seg := range b.Segments {
			filterName := seg.ChannelSegment.WfFilterID
			if filterName == "" {
				filterName = filters.Unfiltered
			}
			existing := next[b.Name][filterName]
			if containsDescriptor(existing, seg.ChannelSegmentDescriptor.String()) {
				continue
			}
			merged := make([]model.UiChannelSegment, len(existing), len(existing)+1)
			copy(merged, existing)
			next[b.Name][filterName] = append(merged, seg.Clone())
		}
	}
	s.uiChannelSegments = next
}

func containsDescriptor(segs []model.UiChannelSegment, key string) bool {
	for _, s := range segs {
		if s.ChannelSegmentDescriptor.String() == key {
			return true
		}
	}
	return false
}

// AddRawChannels records station channels by name.
func (s *State) AddRawChannels(chs []model.Channel) {
	s.mu.Lock()
	s.rawChannels = withChannels(s.rawChannels, chs)
	s.mu.Unlock()
}

// AddDerivedChannels records filtered channels by name.
func (s *State) AddDerivedChannels(chs []model.Channel) {
	s.mu.Lock()
	s.derivedChannels = withChannels(s.derivedChannels, chs)
	s.mu.Unlock()
}

func withChannels(cur map[string]model.Channel, chs []model.Channel) map[string]model.Channel {
	next := make(map[string]model.Channel, len(cur)+len(chs))
	for k, v := range cur {
		next[k] = v
	}
	for _, ch := range chs {
		next[ch.Name] = ch.Clone()
	}
	return next
}

// AddDesignedDefinitions caches designed definitions.
func (s *State) AddDesignedDefinitions(defs []filters.Definition) {
	if len(defs) == 0 {
		return
	}
	s.mu.Lock()
	s.definitions = s.definitions.With(defs...)
	s.mu.Unlock()
}

// Snapshot copies the top-level maps.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	segs := make(map[string]map[string][]model.UiChannelSegment, len(s.uiChannelSegments))
	for k, v := range s.uiChannelSegments {
		inner := make(map[string][]model.UiChannelSegment, len(v))
		for fk, fv := range v {
			inner[fk] = fv
		}
		segs[k] = inner
	}
	cf := make(map[string]filters.Filter, len(s.channelFilters))
	for k, v := range s.channelFilters {
		cf[k] = v
	}
	raw := make(map[string]model.Channel, len(s.rawChannels))
	for k, v := range s.rawChannels {
		raw[k] = v
	}
	derived := make(map[string]model.Channel, len(s.derivedChannels))
	for k, v := range s.derivedChannels {
		derived[k] = v
	}
	return Snapshot{
		Interval:          s.interval,
		ChannelFilters:    cf,
		UiChannelSegments: segs,
		RawChannels:       raw,
		DerivedChannels:   derived,
		Definitions:       s.definitions,
		DefaultFilterList: s.defaultFilterList,
	}
}
