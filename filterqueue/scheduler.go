package filterqueue

import (
	"context"
	"errors"
	"log"
	"sort"
	"sync"
	"sync/atomic"

	"fkreview/appstate"
	"fkreview/filters"
	"fkreview/metrics"
	"fkreview/model"
	"fkreview/worker"
)

// Processor designs and applies filters; *worker.Pool satisfies it.
type Processor interface {
	filters.Designer
	FilterChannelSegments(ctx context.Context, params worker.FilterParams) (worker.FilterResult, error)
}

// Config holds the filter processing defaults.
type Config struct {
	Taper                 int
	RemoveGroupDelay      bool
	GroupDelaySec         float64
	SampleRateToleranceHz float64
}

// Result summarizes one Run.
type Result struct {
	Queued    int
	Filtered  int
	Fallbacks int
	Stale     int
}

// Scheduler turns state deltas into design and filter work.
//
// Thread Safety:
//   - Run may be called concurrently; the processed-items cache is updated
//     under mu before any work starts, so a segment is queued at most once
//     per interval.
//   - Each batch carries the generation it started in. Results that arrive
//     after the interval changed are dropped.
type Scheduler struct {
	state *appstate.State
	proc  Processor
	cfg   Config

	mu         sync.Mutex
	processed  ProcessedItems
	watching   bool
	startTime  float64
	generation atomic.Uint64
}

// New builds a scheduler over state.
func New(state *appstate.State, proc Processor, cfg Config) *Scheduler {
	return &Scheduler{
		state:     state,
		proc:      proc,
		cfg:       cfg,
		processed: make(ProcessedItems),
	}
}

// Generation returns the current interval generation.
func (s *Scheduler) Generation() uint64 {
	return s.generation.Load()
}

// Processed returns the number of queued descriptor strings this interval.
func (s *Scheduler) Processed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processed.Len()
}

// prepare resets on a new interval, computes the delta and merges it into
// the processed cache.
func (s *Scheduler) prepare(snap appstate.Snapshot, defaultName string) (uint64, ProcessedItems) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.watching || s.startTime != snap.Interval.StartTime {
		log.Printf("FilterQueue: Filter queue is watching new interval")
		s.processed = make(ProcessedItems)
		s.watching = true
		s.startTime = snap.Interval.StartTime
		s.generation.Add(1)
	}
	delta := ComputeDelta(snap.ChannelFilters, snap.UiChannelSegments, s.processed, snap.ChannelsByName(), defaultName)
	s.processed.Merge(delta)
	return s.generation.Load(), delta
}

// Purpose: Queue and process every pending (filter, channel) group.
// Key aspects: Missing (filter, sample rate) designs for the whole batch are
// made once, before any group filters; groups then run concurrently.
// Failures fall back to the default filter for the channel and leave the
// segment records untouched.
// Upstream: main pipeline, tests.
// Downstream: designBatch, runGroup, appstate.
func (s *Scheduler) Run(ctx context.Context) Result {
	snap := s.state.Snapshot()
	defaultFilter := snap.DefaultFilter()
	defaultName := FilterName(defaultFilter, filters.Unfiltered)
	gen, delta := s.prepare(snap, defaultName)

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		res Result
	)
	res.Queued = delta.Len()
	record := func(outcome string) {
		metrics.FilterQueueBatches.WithLabelValues(outcome).Inc()
		mu.Lock()
		switch outcome {
		case outcomeFiltered:
			res.Filtered++
		case outcomeFallback:
			res.Fallbacks++
		case outcomeStale:
			res.Stale++
		}
		mu.Unlock()
	}

	groups := collectGroups(snap, delta, defaultName, record)
	if len(groups) == 0 {
		return res
	}
	designs := s.designBatch(ctx, snap, groups)
	if s.stale(ctx, gen) {
		for range groups {
			record(outcomeStale)
		}
		return res
	}

	for _, g := range groups {
		wg.Add(1)
		go func(g filterGroup) {
			defer wg.Done()
			record(s.runGroup(ctx, gen, g, designs[g.def.Name], defaultFilter))
		}(g)
	}
	wg.Wait()
	return res
}

const (
	outcomeFiltered = "filtered"
	outcomeFallback = "fallback"
	outcomeStale    = "stale"
	outcomeSkipped  = "skipped"
)

type channelDescriptor struct {
	channel  model.Channel
	segments []model.UiChannelSegment
}

// filterGroup is the queued work for one UI channel under its selected filter.
type filterGroup struct {
	channel     string
	def         filters.Definition
	segments    []model.UiChannelSegment
	descriptors []channelDescriptor
}

// designResult is the per-rate definition map for one filter name, or the
// error that stopped its design.
type designResult struct {
	bySampleRate map[float64]filters.Definition
	err          error
}

// collectGroups turns the delta into filter groups in channel order.
// Unfiltered selections and groups with no known channel are recorded as
// skipped.
func collectGroups(snap appstate.Snapshot, delta ProcessedItems, defaultName string, record func(string)) []filterGroup {
	var channels []string
	idsByChannel := make(map[string]map[string]struct{})
	for _, byChannel := range delta {
		for channel, ids := range byChannel {
			if _, ok := idsByChannel[channel]; !ok {
				channels = append(channels, channel)
			}
			idsByChannel[channel] = ids
		}
	}
	sort.Strings(channels)

	groups := make([]filterGroup, 0, len(channels))
	for _, channel := range channels {
		selected := snap.ChannelFilters[channel]
		if selected.FilterDefinition == nil {
			// Unfiltered data is already in the default record.
			record(outcomeSkipped)
			continue
		}
		ids := idsByChannel[channel]
		var segments []model.UiChannelSegment
		for _, seg := range snap.UiChannelSegments[channel][defaultName] {
			if _, ok := ids[seg.ChannelSegmentDescriptor.String()]; ok {
				segments = append(segments, seg)
			}
		}
		descriptors := channelDescriptors(segments, snap)
		if len(descriptors) == 0 {
			record(outcomeSkipped)
			continue
		}
		groups = append(groups, filterGroup{
			channel:     channel,
			def:         *selected.FilterDefinition,
			segments:    segments,
			descriptors: descriptors,
		})
	}
	return groups
}

// Purpose: Design every missing (filter, sample rate) pair of a batch once.
// Key aspects: Segments of all groups sharing a filter name are pooled
// before the missing rates are computed; names design concurrently and
// all new definitions are committed to the state in one update.
// Upstream: Run.
// Downstream: filters.SampleRatesToDesign, filters.DesignFilterDefinitions.
func (s *Scheduler) designBatch(ctx context.Context, snap appstate.Snapshot, groups []filterGroup) map[string]designResult {
	type pending struct {
		def      filters.Definition
		segments []model.UiChannelSegment
		designed []filters.Definition
		err      error
	}
	var names []string
	byName := make(map[string]*pending)
	for _, g := range groups {
		p, ok := byName[g.def.Name]
		if !ok {
			p = &pending{def: g.def}
			byName[g.def.Name] = p
			names = append(names, g.def.Name)
		}
		p.segments = append(p.segments, g.segments...)
	}

	var wg sync.WaitGroup
	for _, name := range names {
		p := byName[name]
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.designed, p.err = filters.DesignFilterDefinitions(ctx, s.proc, snap.Definitions, filters.DesignRequest{
				Definitions:           []filters.Definition{p.def},
				SampleRates:           filters.SampleRatesToDesign(snap.Definitions, p.def.Name, p.segments),
				GroupDelaySec:         s.cfg.GroupDelaySec,
				SampleRateToleranceHz: s.cfg.SampleRateToleranceHz,
				Taper:                 s.cfg.Taper,
				RemoveGroupDelay:      s.cfg.RemoveGroupDelay,
			})
		}()
	}
	wg.Wait()

	var all []filters.Definition
	for _, name := range names {
		p := byName[name]
		if p.err == nil && len(p.designed) > 0 {
			all = append(all, p.designed...)
			metrics.FilterDesigns.WithLabelValues(name).Add(float64(len(p.designed)))
		}
	}
	s.state.AddDesignedDefinitions(all)
	cache := snap.Definitions.With(all...)

	out := make(map[string]designResult, len(names))
	for _, name := range names {
		p := byName[name]
		if p.err != nil {
			out[name] = designResult{err: p.err}
			continue
		}
		out[name] = designResult{bySampleRate: cache.BySampleRate(name)}
	}
	return out
}

func (s *Scheduler) runGroup(ctx context.Context, gen uint64, g filterGroup, design designResult, defaultFilter filters.Filter) string {
	if design.err != nil {
		return s.fallback(g.channel, g.def.Name, defaultFilter, design.err)
	}

	var (
		filtered []model.UiChannelSegment
		derived  []model.Channel
	)
	for _, cd := range g.descriptors {
		result, err := s.proc.FilterChannelSegments(ctx, worker.FilterParams{
			UiChannelSegments: cd.segments,
			Channel:           cd.channel,
			Definitions:       design.bySampleRate,
			Taper:             s.cfg.Taper,
			RemoveGroupDelay:  s.cfg.RemoveGroupDelay,
		})
		if s.stale(ctx, gen) {
			return outcomeStale
		}
		if err != nil {
			return s.fallback(g.channel, g.def.Name, defaultFilter, err)
		}
		filtered = append(filtered, result.UiChannelSegments...)
		derived = append(derived, result.Channel)
	}

	s.state.AddDerivedChannels(derived)
	s.state.AddChannelSegments([]appstate.ChannelSegments{{Name: g.channel, Segments: filtered}})
	return outcomeFiltered
}

func (s *Scheduler) stale(ctx context.Context, gen uint64) bool {
	if ctx.Err() != nil || gen != s.generation.Load() {
		log.Printf("FilterQueue: discarding results from a previous interval")
		return true
	}
	return false
}

func (s *Scheduler) fallback(channel, filterName string, defaultFilter filters.Filter, err error) string {
	if errors.Is(err, context.Canceled) {
		return outcomeStale
	}
	log.Printf("FilterQueue: %s/%s failed, reverting to %s: %v", channel, filterName, defaultFilter.Name(), err)
	s.state.SetFilterForChannel(channel, defaultFilter)
	return outcomeFallback
}

// channelDescriptors groups segments by their channel; segments of unknown
// channels are dropped.
func channelDescriptors(segments []model.UiChannelSegment, snap appstate.Snapshot) []channelDescriptor {
	byName := make(map[string][]model.UiChannelSegment)
	for _, seg := range segments {
		name := seg.ChannelSegmentDescriptor.Channel.Name
		byName[name] = append(byName[name], seg)
	}
	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]channelDescriptor, 0, len(names))
	for _, name := range names {
		ch, ok := snap.ChannelByName(name)
		if !ok {
			continue
		}
		out = append(out, channelDescriptor{channel: ch, segments: byName[name]})
	}
	return out
}
