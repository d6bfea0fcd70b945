package filterqueue

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"fkreview/appstate"
	"fkreview/filters"
	"fkreview/model"
	"fkreview/samplestore"
	"fkreview/worker"
)

const (
	testStation = "ASAR"
	testChannel = "ASAR.AS01.SHZ"
	testRate    = 20.0
)

func bandPass(name string) *filters.Definition {
	return &filters.Definition{
		Name: name,
		FilterDescription: filters.Description{
			FilterType:    filters.TypeIIRButterworth,
			Causal:        true,
			LowFrequency:  0.5,
			HighFrequency: 4,
			Order:         2,
			PassBandType:  filters.BandPass,
		},
	}
}

func testList() *filters.FilterList {
	return &filters.FilterList{
		Name:               "default",
		DefaultFilterIndex: 0,
		Filters: []filters.Filter{
			filters.UnfilteredFilter,
			{WithinHotKeyCycle: true, FilterDefinition: bandPass("BP 0.5 4.0 2 causal")},
		},
	}
}

func segmentAt(t *testing.T, store samplestore.Store, start float64) model.UiChannelSegment {
	t.Helper()
	return segmentOn(t, store, testChannel, start)
}

func segmentOn(t *testing.T, store samplestore.Store, channel string, start float64) model.UiChannelSegment {
	t.Helper()
	const n = 100
	buf := make([]float64, 0, 2*n)
	for i := 0; i < n; i++ {
		buf = append(buf, start+float64(i)/testRate, float64(i%7)-3)
	}
	end := start + float64(n-1)/testRate
	d := model.ChannelSegmentDescriptor{
		Channel:      model.VersionRef{Name: channel, EffectiveAt: 10},
		StartTime:    start,
		EndTime:      end,
		CreationTime: start,
	}
	domain := model.TimeRange{StartTime: start, EndTime: end}
	id, err := samplestore.ClaimCheckID(domain, d, model.TimeseriesTypeWaveform, "", samplestore.WaveformShape{
		Type: model.TimeseriesTypeWaveform, StartTime: start, EndTime: end, SampleCount: n, SampleRateHz: testRate,
	})
	if err != nil {
		t.Fatalf("ClaimCheckID: %v", err)
	}
	if err := store.Store(id, buf); err != nil {
		t.Fatalf("Store: %v", err)
	}
	return model.UiChannelSegment{
		ChannelSegmentDescriptor: d,
		ChannelSegment: model.ChannelSegment{
			ChannelName:    channel,
			WfFilterID:     filters.Unfiltered,
			ID:             d,
			TimeseriesType: model.TimeseriesTypeWaveform,
			DataSegments: []model.DataSegment{{
				Type:         model.TimeseriesTypeWaveform,
				StartTime:    start,
				EndTime:      end,
				SampleRateHz: testRate,
				SampleCount:  n,
				Data:         model.ClaimCheckData(model.ClaimCheck{ID: id, SampleRateHz: testRate, DomainTimeRange: domain}),
			}},
		},
	}
}

type fixture struct {
	state *appstate.State
	store samplestore.Store
	pool  *worker.Pool
}

func newFixture(t *testing.T, segments int) fixture {
	t.Helper()
	store := samplestore.NewMemory()
	pool := worker.NewPool(worker.Options{Workers: 2, Store: store})
	t.Cleanup(pool.Close)
	state := appstate.New(testList())
	state.SetInterval(appstate.Interval{StartTime: 1000, EndTime: 1600})
	state.AddRawChannels([]model.Channel{{Name: testChannel, EffectiveAt: 10, Station: model.EntityRef{Name: testStation}, NominalSampleRateHz: testRate}})
	var segs []model.UiChannelSegment
	for i := 0; i < segments; i++ {
		segs = append(segs, segmentAt(t, store, 1000+float64(i)*10))
	}
	state.AddChannelSegments([]appstate.ChannelSegments{{Name: testStation, Segments: segs}})
	return fixture{state: state, store: store, pool: pool}
}

func TestComputeDelta(t *testing.T) {
	store := samplestore.NewMemory()
	a := segmentAt(t, store, 1000)
	b := segmentAt(t, store, 1010)
	orphan := segmentAt(t, store, 1020)
	orphan.ChannelSegmentDescriptor.Channel.Name = "UNKNOWN.CH"

	bp := filters.Filter{FilterDefinition: bandPass("BP")}
	channelFilters := map[string]filters.Filter{
		testStation: bp,
		"PDAR":      bp,
		"TXAR":      filters.UnfilteredFilter,
	}
	uiSegments := map[string]map[string][]model.UiChannelSegment{
		testStation: {filters.Unfiltered: {a, b, orphan}},
		"TXAR":      {filters.Unfiltered: {a}},
	}
	channels := map[string]model.Channel{testChannel: {Name: testChannel}}
	processed := make(ProcessedItems)
	processed.add("BP", testStation, a.ChannelSegmentDescriptor.String())

	delta := ComputeDelta(channelFilters, uiSegments, processed, channels, filters.Unfiltered)
	if delta.Len() != 2 {
		t.Fatalf("expected 2 queued items, got %d: %v", delta.Len(), delta)
	}
	if !delta.Has("BP", testStation, b.ChannelSegmentDescriptor.String()) {
		t.Fatalf("expected segment b for BP")
	}
	if delta.Has("BP", testStation, a.ChannelSegmentDescriptor.String()) {
		t.Fatalf("processed segment queued again")
	}
	if !delta.Has(filters.Unfiltered, "TXAR", a.ChannelSegmentDescriptor.String()) {
		t.Fatalf("unfiltered selection should queue under the default name")
	}
	if len(ComputeDelta(channelFilters, uiSegments, processed, channels, "")) != 0 {
		t.Fatalf("expected empty delta without a default filter name")
	}
}

func TestRunFiltersOncePerInterval(t *testing.T) {
	f := newFixture(t, 2)
	def := bandPass("BP 0.5 4.0 2 causal")
	f.state.SetFilterForChannel(testStation, filters.Filter{FilterDefinition: def})
	s := New(f.state, f.pool, Config{Taper: 5})

	res := s.Run(context.Background())
	if res.Queued != 2 || res.Filtered != 1 || res.Fallbacks != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
	snap := f.state.Snapshot()
	got := snap.UiChannelSegments[testStation][def.Name]
	if len(got) != 2 {
		t.Fatalf("expected 2 filtered segments, got %d", len(got))
	}
	if len(snap.DerivedChannels) != 1 {
		t.Fatalf("expected one derived channel, got %d", len(snap.DerivedChannels))
	}
	if _, ok := snap.DerivedChannels[got[0].ChannelSegment.ChannelName]; !ok {
		t.Fatalf("derived channel %s not recorded", got[0].ChannelSegment.ChannelName)
	}
	if !snap.Definitions.Has(def.Name, testRate) {
		t.Fatalf("designed definition not cached")
	}
	if len(snap.UiChannelSegments[testStation][filters.Unfiltered]) != 2 {
		t.Fatalf("unfiltered record changed")
	}

	again := s.Run(context.Background())
	if again.Queued != 0 {
		t.Fatalf("expected nothing queued on second run, got %+v", again)
	}
	if s.Processed() != 2 {
		t.Fatalf("processed = %d", s.Processed())
	}
}

type countingProcessor struct {
	*worker.Pool
	designs atomic.Int32
}

func (c *countingProcessor) Design(ctx context.Context, def filters.Definition, taper int, rgd bool) (filters.Definition, error) {
	c.designs.Add(1)
	return c.Pool.Design(ctx, def, taper, rgd)
}

func TestNewIntervalResetsProcessedButReusesDesigns(t *testing.T) {
	f := newFixture(t, 1)
	def := bandPass("BP 0.5 4.0 2 causal")
	f.state.SetFilterForChannel(testStation, filters.Filter{FilterDefinition: def})
	proc := &countingProcessor{Pool: f.pool}
	s := New(f.state, proc, Config{})

	s.Run(context.Background())
	gen := s.Generation()
	f.state.SetInterval(appstate.Interval{StartTime: 2000, EndTime: 2600})
	res := s.Run(context.Background())
	if s.Generation() != gen+1 {
		t.Fatalf("generation = %d want %d", s.Generation(), gen+1)
	}
	if res.Queued != 1 || res.Filtered != 1 {
		t.Fatalf("expected the segment to be queued again after reset, got %+v", res)
	}
	if proc.designs.Load() != 1 {
		t.Fatalf("expected one design call across both runs, got %d", proc.designs.Load())
	}
	if n := len(f.state.Snapshot().UiChannelSegments[testStation][def.Name]); n != 1 {
		t.Fatalf("filtered segments duplicated: %d", n)
	}
}

func TestSharedFilterIsDesignedOncePerBatch(t *testing.T) {
	const pdarChannel = "PDAR.PD01.SHZ"
	store := samplestore.NewMemory()
	pool := worker.NewPool(worker.Options{Workers: 2, Store: store})
	defer pool.Close()
	state := appstate.New(testList())
	state.SetInterval(appstate.Interval{StartTime: 1000, EndTime: 1600})
	state.AddRawChannels([]model.Channel{
		{Name: testChannel, EffectiveAt: 10, Station: model.EntityRef{Name: testStation}, NominalSampleRateHz: testRate},
		{Name: pdarChannel, EffectiveAt: 10, Station: model.EntityRef{Name: "PDAR"}, NominalSampleRateHz: testRate},
	})
	state.AddChannelSegments([]appstate.ChannelSegments{
		{Name: testStation, Segments: []model.UiChannelSegment{segmentOn(t, store, testChannel, 1000)}},
		{Name: "PDAR", Segments: []model.UiChannelSegment{segmentOn(t, store, pdarChannel, 1000)}},
	})
	def := bandPass("BP 0.5 4.0 2 causal")
	state.SetFilterForChannel(testStation, filters.Filter{FilterDefinition: def})
	state.SetFilterForChannel("PDAR", filters.Filter{FilterDefinition: def})

	proc := &countingProcessor{Pool: pool}
	s := New(state, proc, Config{})
	res := s.Run(context.Background())
	if res.Queued != 2 || res.Filtered != 2 || res.Fallbacks != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
	if got := proc.designs.Load(); got != 1 {
		t.Fatalf("(%s, %g Hz) designed %d times in one batch, want 1", def.Name, testRate, got)
	}
	snap := state.Snapshot()
	for _, row := range []string{testStation, "PDAR"} {
		if n := len(snap.UiChannelSegments[row][def.Name]); n != 1 {
			t.Fatalf("%s: expected 1 filtered segment, got %d", row, n)
		}
	}

	// A later batch at the same rate reuses the cached design.
	state.AddChannelSegments([]appstate.ChannelSegments{
		{Name: testStation, Segments: []model.UiChannelSegment{segmentOn(t, store, testChannel, 1100)}},
		{Name: "PDAR", Segments: []model.UiChannelSegment{segmentOn(t, store, pdarChannel, 1100)}},
	})
	again := s.Run(context.Background())
	if again.Queued != 2 || again.Filtered != 2 {
		t.Fatalf("unexpected second result %+v", again)
	}
	if got := proc.designs.Load(); got != 1 {
		t.Fatalf("second batch designed again: %d design calls", got)
	}
}

func TestUnsupportedFilterFallsBackToDefault(t *testing.T) {
	f := newFixture(t, 1)
	def := bandPass("FAIL")
	def.FilterDescription.FilterType = "FAIL"
	f.state.SetFilterForChannel(testStation, filters.Filter{FilterDefinition: def})
	s := New(f.state, f.pool, Config{})

	res := s.Run(context.Background())
	if res.Fallbacks != 1 || res.Filtered != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
	snap := f.state.Snapshot()
	if got := snap.ChannelFilters[testStation]; !got.IsUnfiltered() {
		t.Fatalf("channel filter = %+v, want default", got)
	}
	if _, ok := snap.UiChannelSegments[testStation]["FAIL"]; ok {
		t.Fatalf("failed filter produced a data update")
	}
	if len(snap.DerivedChannels) != 0 {
		t.Fatalf("failed filter produced derived channels")
	}
}

func TestUnknownChannelIsSkipped(t *testing.T) {
	store := samplestore.NewMemory()
	state := appstate.New(nil)
	state.SetInterval(appstate.Interval{StartTime: 1000})
	state.AddChannelSegments([]appstate.ChannelSegments{{Name: testStation, Segments: []model.UiChannelSegment{segmentAt(t, store, 1000)}}})
	state.SetFilterForChannel(testStation, filters.Filter{FilterDefinition: bandPass("BP")})
	pool := worker.NewPool(worker.Options{Workers: 1, Store: store})
	defer pool.Close()

	res := New(state, pool, Config{}).Run(context.Background())
	if res.Queued != 0 {
		t.Fatalf("expected nothing queued for an unknown channel, got %+v", res)
	}
}

type gatedProcessor struct {
	*worker.Pool
	entered chan struct{}
	release chan struct{}
}

func (g *gatedProcessor) FilterChannelSegments(ctx context.Context, params worker.FilterParams) (worker.FilterResult, error) {
	close(g.entered)
	<-g.release
	return g.Pool.FilterChannelSegments(ctx, params)
}

func TestStaleBatchIsDiscarded(t *testing.T) {
	f := newFixture(t, 1)
	def := bandPass("BP 0.5 4.0 2 causal")
	f.state.SetFilterForChannel(testStation, filters.Filter{FilterDefinition: def})
	proc := &gatedProcessor{Pool: f.pool, entered: make(chan struct{}), release: make(chan struct{})}
	s := New(f.state, proc, Config{})

	done := make(chan Result, 1)
	go func() { done <- s.Run(context.Background()) }()
	select {
	case <-proc.entered:
	case <-time.After(2 * time.Second):
		t.Fatalf("filter call never started")
	}

	// Move to a new interval while the batch is in flight.
	f.state.SetInterval(appstate.Interval{StartTime: 5000, EndTime: 5600})
	s.prepare(f.state.Snapshot(), filters.Unfiltered)
	close(proc.release)

	res := <-done
	if res.Stale != 1 || res.Filtered != 0 {
		t.Fatalf("expected a stale batch, got %+v", res)
	}
	snap := f.state.Snapshot()
	if _, ok := snap.UiChannelSegments[testStation][def.Name]; ok {
		t.Fatalf("stale results were merged into state")
	}
	if cf := snap.ChannelFilters[testStation]; cf.FilterDefinition == nil || cf.FilterDefinition.Name != def.Name {
		t.Fatalf("stale batch changed the channel filter")
	}
}
