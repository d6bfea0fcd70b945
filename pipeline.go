package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"fkreview/appstate"
	"fkreview/channelfactory"
	"fkreview/config"
	"fkreview/export"
	"fkreview/filterqueue"
	"fkreview/filters"
	"fkreview/fk"
	"fkreview/fkreview"
	"fkreview/metrics"
	"fkreview/model"
	"fkreview/reviewstore"
	"fkreview/samplestore"
	"fkreview/session"
	"fkreview/worker"

	"github.com/dustin/go-humanize"
)

// runResult summarizes one pipeline run.
type runResult struct {
	Stored     int
	Queue      filterqueue.Result
	FkRequests []fk.FkInputWithConfiguration
	Reviewed   []string
	ExportPath string
}

// Purpose: Run one review session end to end.
// Key aspects: Stages run in order and share one appstate.State; a stage
// failure stops the run but resources opened so far are closed.
// Upstream: main.
// Downstream: runSession.
func run(ctx context.Context, cfg *config.Config, sessionPath string) error {
	if cfg.Metrics.Listen != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.Metrics.Listen); err != nil {
				log.Printf("Metrics: %v", err)
			}
		}()
	}
	res, err := runSession(ctx, cfg, sessionPath)
	if err != nil {
		return err
	}
	log.Printf("FkReview: %d waveform(s) stored, %d FK request(s), %d FK(s) reviewed",
		res.Stored, len(res.FkRequests), len(res.Reviewed))
	if res.ExportPath != "" {
		log.Printf("FkReview: export written to %s", res.ExportPath)
	}
	return nil
}

func runSession(ctx context.Context, cfg *config.Config, sessionPath string) (runResult, error) {
	var res runResult

	sess, err := session.Load(sessionPath)
	if err != nil {
		return res, err
	}
	if err := sess.Validate(); err != nil {
		return res, err
	}
	list, err := selectFilterList(cfg.Filters, sess.FilterLists)
	if err != nil {
		return res, err
	}

	store, err := samplestore.Open(samplestore.Options{
		Backend:        cfg.SampleStore.Backend,
		Path:           cfg.SampleStore.Path,
		CacheSizeBytes: int64(cfg.SampleStore.CacheSizeMB) << 20,
	})
	if err != nil {
		return res, err
	}
	defer func() {
		stats := store.Stats()
		log.Printf("SampleStore: closing with %s waveform(s), %s", humanize.Comma(stats.Entries), humanize.Bytes(uint64(stats.Bytes)))
		if err := store.Close(); err != nil {
			log.Printf("SampleStore: close failed: %v", err)
		}
	}()

	if err := clearForNewInterval(store, cfg.SampleStore.KeepWaveforms); err != nil {
		return res, err
	}

	publisher, closePublisher, err := openPublisher(cfg.MQTT)
	if err != nil {
		return res, err
	}
	defer closePublisher()

	pool := worker.NewPool(worker.Options{Workers: cfg.Worker.Workers, Store: store, Publisher: publisher})
	defer pool.Close()

	reviews, err := reviewstore.Open(cfg.Review.DBPath)
	if err != nil {
		return res, err
	}
	defer reviews.Close()

	state := appstate.New(list)
	res.Stored, err = sess.Apply(state, list, store)
	if err != nil {
		return res, err
	}

	sched := filterqueue.New(state, pool, filterqueue.Config{
		Taper:                 cfg.Filters.Taper,
		RemoveGroupDelay:      cfg.Filters.RemoveGroupDelay,
		GroupDelaySec:         cfg.Filters.GroupDelaySec,
		SampleRateToleranceHz: cfg.Filters.SampleRateToleranceHz,
	})
	res.Queue = sched.Run(ctx)
	log.Printf("FilterQueue: %d queued, %d filtered, %d fallback(s), %d stale",
		res.Queue.Queued, res.Queue.Filtered, res.Queue.Fallbacks, res.Queue.Stale)
	if err := ctx.Err(); err != nil {
		return res, err
	}

	rules := fkreview.Rules{
		PhasesNeedingReview: cfg.FK.PhasesNeedingReview,
		Reviewed:            reviews.Lookup(ctx),
	}
	associated := fkreview.GetAssociatedDetectionsWithFks(sess.Event, sess.SignalDetections)
	res.FkRequests = buildFkRequests(cfg.FK, sess, associated)

	res.Reviewed, err = walkReview(ctx, reviews, sess, associated, rules,
		fkreview.ParseFilterType(cfg.FK.FilterType), fkreview.SortType(cfg.Review.Sort))
	if err != nil {
		return res, err
	}

	gzip, source := exportGzipEnabled(cfg)
	if source == envExportGzip {
		log.Printf("Export: gzip=%v from %s", gzip, source)
	}
	res.ExportPath, err = exportDerived(ctx, pool, state.Snapshot(), cfg.Export.Dir, gzip, time.Now().UTC())
	if err != nil {
		return res, err
	}
	return res, nil
}

// clearForNewInterval drops waveforms left by an earlier session's interval.
func clearForNewInterval(store samplestore.Store, keep bool) error {
	stats := store.Stats()
	if keep || stats.Entries == 0 {
		return nil
	}
	log.Printf("SampleStore: new interval; clearing %s waveform(s), %s", humanize.Comma(stats.Entries), humanize.Bytes(uint64(stats.Bytes)))
	if err := store.Clear(); err != nil {
		return fmt.Errorf("samplestore: clear: %w", err)
	}
	return nil
}

// Purpose: Pick the filter list that supplies default filters.
// Key aspects: Lists from lists_file are searched after the session's own;
// an empty filter_list name means no list (Unfiltered fallback).
// Upstream: runSession, cmd/sessioncheck callers via the same config.
// Downstream: filters.LoadFilterLists, filters.FindFilterList.
func selectFilterList(cfg config.FiltersConfig, sessionLists []filters.FilterList) (*filters.FilterList, error) {
	if cfg.FilterList == "" {
		return nil, nil
	}
	lists := append([]filters.FilterList(nil), sessionLists...)
	if cfg.ListsFile != "" {
		fromFile, err := filters.LoadFilterLists(cfg.ListsFile)
		if err != nil {
			return nil, err
		}
		lists = append(lists, fromFile...)
	}
	return filters.FindFilterList(lists, cfg.FilterList)
}

func openPublisher(cfg config.MQTTConfig) (channelfactory.Publisher, func(), error) {
	if !cfg.Enabled {
		return channelfactory.NopPublisher{}, func() {}, nil
	}
	p, err := channelfactory.NewMQTTPublisher(channelfactory.MQTTOptions{
		Broker:      cfg.Broker,
		TopicPrefix: cfg.TopicPrefix,
		ClientID:    cfg.ClientID,
		QoS:         byte(cfg.QoS),
	})
	if err != nil {
		return nil, nil, err
	}
	return p, p.Close, nil
}

// Purpose: Build the full compute-FK request for each associated detection.
// Key aspects: The grid comes from the fk config section; contributing
// channels are the raw channels of the detection's station. Detections
// whose request cannot be built are logged and skipped.
// Upstream: runSession.
// Downstream: fk.GetFkParamsForSd, fk.ConfigurationForSignalDetection,
// fk.CreateComputeFkInput.
func buildFkRequests(cfg config.FKConfig, sess *session.Session, associated []*model.SignalDetection) []fk.FkInputWithConfiguration {
	base := fk.DefaultConfiguration()
	base.MaximumSlowness = cfg.MaximumSlowness
	base.NumberOfPoints = float64(cfg.NumberOfPoints)
	base.LeadFkSpectrumSeconds = cfg.LeadFkSpectrumSeconds

	out := make([]fk.FkInputWithConfiguration, 0, len(associated))
	for _, sd := range associated {
		params, ok := fk.GetFkParamsForSd(sd)
		if !ok {
			log.Printf("FK: %s has no FK parameters", sd.ID)
			continue
		}
		fkCfg, ok := fk.ConfigurationForSignalDetection(base, sd, sess.ChannelsForStation(sd.Station.Name))
		if !ok {
			log.Printf("FK: %s has no phase; skipping FK request", sd.ID)
			continue
		}
		input, ok := fk.CreateComputeFkInput(sd, &params, &fkCfg, false)
		if !ok {
			log.Printf("FK: could not build FK request for %s", sd.ID)
			continue
		}
		out = append(out, input)
	}
	return out
}

// Purpose: Step through every FK that needs review, as an analyst pressing
// "next" would.
// Key aspects: Stops when NextReviewable keeps the displayed detection.
// Each step logs the peak of the detection's FK.
// Upstream: runSession.
// Downstream: fkreview.FilterSignalDetections, fkreview.NextReviewable.
func walkReview(ctx context.Context, reviewer fkreview.Reviewer, sess *session.Session, associated []*model.SignalDetection,
	rules fkreview.Rules, filterType fkreview.FilterType, sortType fkreview.SortType) ([]string, error) {
	candidates := fkreview.FilterSignalDetections(sess.SignalDetections, associated, filterType, rules)
	var (
		displayed *model.SignalDetection
		reviewed  []string
	)
	for i := 0; i <= len(candidates); i++ {
		next, err := fkreview.NextReviewable(ctx, reviewer, displayed, candidates, associated, sortType, sess.Distances, rules)
		if errors.Is(err, fkreview.ErrNothingToReview) {
			log.Printf("FkReview: nothing to review")
			return reviewed, nil
		}
		if err != nil {
			return reviewed, err
		}
		if displayed != nil && next.ID == displayed.ID {
			break
		}
		reviewed = append(reviewed, next.ID)
		logSpectraPeak(next)
		displayed = next
	}
	return reviewed, nil
}

func logSpectraPeak(sd *model.SignalDetection) {
	spectra := fk.GetFkDummyData(sd)
	if spectra == nil || len(spectra.Spectrums) == 0 {
		log.Printf("FkReview: reviewed %s (no spectra)", sd.ID)
		return
	}
	idx := fk.FkMovieIndex(spectra, spectra.StartTime)
	peak := spectra.Spectrums[idx].Attributes
	lo, hi := fk.ComputeMinMaxFkValues(fk.HeatmapFor(&spectra.Spectrums[idx], fk.FkUnitsFstat))
	log.Printf("FkReview: reviewed %s %s peak az=%.1f slow=%.2f fstat=%.2f (range %.2f..%.2f)",
		sd.ID, spectra.Metadata.PhaseType, peak.Azimuth, peak.Slowness, peak.PeakFStat, lo, hi)
}

// derivedSegments collects the filtered records of every row with their
// filter associations. Rows and filters are visited in name order so the
// export is stable. The unfiltered record and the default filter's record
// hold source data and are left out.
func derivedSegments(snap appstate.Snapshot) ([]model.UiChannelSegment, []export.FilterAssociation) {
	defaultName := filterqueue.FilterName(snap.DefaultFilter(), filters.Unfiltered)
	rows := make([]string, 0, len(snap.UiChannelSegments))
	for name := range snap.UiChannelSegments {
		rows = append(rows, name)
	}
	sort.Strings(rows)

	var (
		segments []model.UiChannelSegment
		assoc    []export.FilterAssociation
	)
	for _, row := range rows {
		byFilter := snap.UiChannelSegments[row]
		names := make([]string, 0, len(byFilter))
		for name := range byFilter {
			if name != filters.Unfiltered && name != defaultName {
				names = append(names, name)
			}
		}
		sort.Strings(names)
		for _, name := range names {
			segments = append(segments, byFilter[name]...)
			assoc = export.BuildFilterAssociations(assoc, byFilter[name], name, snap.Definitions)
		}
	}
	return segments, assoc
}

// Purpose: Export every filtered segment with its filter associations.
// Key aspects: Nothing is written when no segment was filtered.
// Upstream: runSession.
// Downstream: derivedSegments, worker export op, export.WriteFile.
func exportDerived(ctx context.Context, pool *worker.Pool, snap appstate.Snapshot, dir string, compress bool, now time.Time) (string, error) {
	segments, assoc := derivedSegments(snap)
	if len(segments) == 0 {
		log.Printf("Export: no filtered segments to export")
		return "", nil
	}

	blob, err := pool.ExportChannelSegments(ctx, worker.ExportParams{FilterAssociations: assoc, UiChannelSegments: segments})
	if err != nil {
		return "", fmt.Errorf("export: %w", err)
	}
	descriptors := make([]model.ChannelSegmentDescriptor, 0, len(segments))
	for _, seg := range segments {
		descriptors = append(descriptors, seg.ChannelSegmentDescriptor)
	}
	return export.WriteFile(dir, export.ExportedFileName(descriptors, now), blob, compress)
}
