package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"fkreview/appstate"
	"fkreview/config"
	"fkreview/filters"
	"fkreview/fkreview"
	"fkreview/model"
	"fkreview/reviewstore"
	"fkreview/samplestore"
	"fkreview/session"
)

const testSessionPath = "session/testdata/session.json"

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	text := `sample_store:
  backend: memory
filters:
  filter_list: Default
review:
  db_path: ` + filepath.Join(dir, "reviews.db") + `
export:
  dir: ` + filepath.Join(dir, "export") + `
worker:
  workers: 2
`
	path := filepath.Join(dir, "fkreview.yaml")
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	return cfg
}

func TestResolveConfigPath(t *testing.T) {
	t.Setenv(envConfigPath, "")
	if got, source := resolveConfigPath(""); got != defaultConfigPath || source != "default" {
		t.Fatalf("expected default path, got %s (%s)", got, source)
	}
	t.Setenv(envConfigPath, "/etc/fkreview")
	if got, source := resolveConfigPath(""); got != "/etc/fkreview" || source != envConfigPath {
		t.Fatalf("expected env path, got %s (%s)", got, source)
	}
	if got, source := resolveConfigPath("local.yaml"); got != "local.yaml" || source != "flag" {
		t.Fatalf("expected flag to win, got %s (%s)", got, source)
	}
}

func TestExportGzipEnabled(t *testing.T) {
	cfg := &config.Config{Export: config.ExportConfig{Gzip: true}}
	t.Setenv(envExportGzip, "")
	if got, source := exportGzipEnabled(cfg); !got || source != "config" {
		t.Fatalf("expected config value, got %v (%s)", got, source)
	}
	t.Setenv(envExportGzip, "false")
	if got, source := exportGzipEnabled(cfg); got || source != envExportGzip {
		t.Fatalf("expected env override, got %v (%s)", got, source)
	}
	t.Setenv(envExportGzip, "maybe")
	if got, source := exportGzipEnabled(cfg); !got || source != "config" {
		t.Fatalf("expected invalid env to be ignored, got %v (%s)", got, source)
	}
}

func TestSelectFilterList(t *testing.T) {
	lists := []filters.FilterList{{Name: "Default"}}
	if l, err := selectFilterList(config.FiltersConfig{}, lists); err != nil || l != nil {
		t.Fatalf("expected no list without a name, got %v %v", l, err)
	}
	if l, err := selectFilterList(config.FiltersConfig{FilterList: "Default"}, lists); err != nil || l == nil || l.Name != "Default" {
		t.Fatalf("expected session list, got %v %v", l, err)
	}
	if _, err := selectFilterList(config.FiltersConfig{FilterList: "Defualt"}, lists); err == nil || !strings.Contains(err.Error(), "did you mean") {
		t.Fatalf("expected suggestion error, got %v", err)
	}

	path := filepath.Join(t.TempDir(), "lists.yaml")
	yaml := "filter_lists:\n  - name: Infrasound\n    default_filter_index: 0\n    filters:\n      - unfiltered: true\n"
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write lists: %v", err)
	}
	l, err := selectFilterList(config.FiltersConfig{FilterList: "Infrasound", ListsFile: path}, lists)
	if err != nil || l.Name != "Infrasound" {
		t.Fatalf("expected list from file, got %v %v", l, err)
	}
}

func TestClearForNewInterval(t *testing.T) {
	store := samplestore.NewMemory()
	if err := store.Store("a", []float64{1, 2}); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if err := clearForNewInterval(store, true); err != nil || !store.Has("a") {
		t.Fatalf("keep_waveforms should leave the store alone: %v", err)
	}
	if err := clearForNewInterval(store, false); err != nil {
		t.Fatalf("clearForNewInterval: %v", err)
	}
	if store.Has("a") || store.Stats().Entries != 0 {
		t.Fatalf("expected an empty store, got %+v", store.Stats())
	}
}

func TestBuildFkRequestsUsesConfigGrid(t *testing.T) {
	sess, err := session.Load(testSessionPath)
	if err != nil {
		t.Fatalf("session.Load: %v", err)
	}
	associated := fkreview.GetAssociatedDetectionsWithFks(sess.Event, sess.SignalDetections)
	reqs := buildFkRequests(config.FKConfig{MaximumSlowness: 30, NumberOfPoints: 61, LeadFkSpectrumSeconds: 1}, sess, associated)
	if len(reqs) != 2 {
		t.Fatalf("expected 2 FK requests, got %d", len(reqs))
	}
	for _, r := range reqs {
		if r.FkComputeInput.SlowCountX != 61 || r.Configuration.NumberOfPoints != 61 {
			t.Fatalf("config grid not applied: %+v", r.FkComputeInput)
		}
	}
	if reqs[0].SignalDetectionID != "sd-asar-p" || len(reqs[0].FkComputeInput.Channels) != 2 {
		t.Fatalf("unexpected ASAR request %+v", reqs[0])
	}
	if reqs[1].Configuration.MediumVelocity != 5.8 {
		t.Fatalf("expected P velocity for Pn, got %v", reqs[1].Configuration.MediumVelocity)
	}
}

func TestRunSessionEndToEnd(t *testing.T) {
	t.Setenv(envExportGzip, "")
	cfg := testConfig(t)
	ctx := context.Background()

	res, err := runSession(ctx, cfg, testSessionPath)
	if err != nil {
		t.Fatalf("runSession: %v", err)
	}
	if res.Stored != 1 {
		t.Fatalf("expected 1 stored waveform, got %d", res.Stored)
	}
	if res.Queue.Filtered != 1 || res.Queue.Fallbacks != 0 {
		t.Fatalf("unexpected queue result %+v", res.Queue)
	}
	if len(res.FkRequests) != 2 {
		t.Fatalf("expected 2 FK requests, got %d", len(res.FkRequests))
	}
	if len(res.Reviewed) != 2 || res.Reviewed[0] != "sd-pdar-pn" || res.Reviewed[1] != "sd-asar-p" {
		t.Fatalf("expected review by distance, got %v", res.Reviewed)
	}
	if res.ExportPath == "" {
		t.Fatalf("expected an export file")
	}
	base := filepath.Base(res.ExportPath)
	if !strings.HasPrefix(base, "waveform-") || !strings.HasSuffix(base, ".json") {
		t.Fatalf("unexpected export name %s", base)
	}
	blob, err := os.ReadFile(res.ExportPath)
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	if !strings.Contains(string(blob), `"filterAssociations"`) {
		t.Fatalf("export is missing filter associations")
	}

	again, err := runSession(ctx, cfg, testSessionPath)
	if err != nil {
		t.Fatalf("second runSession: %v", err)
	}
	if len(again.Reviewed) != 0 {
		t.Fatalf("review marks did not persist, reviewed again: %v", again.Reviewed)
	}

	reviews, err := reviewstore.Open(cfg.Review.DBPath)
	if err != nil {
		t.Fatalf("reviewstore.Open: %v", err)
	}
	defer reviews.Close()
	marks, err := reviews.Reviewed(ctx)
	if err != nil || len(marks) != 2 {
		t.Fatalf("expected 2 stored marks, got %v %v", marks, err)
	}
}

func TestDerivedSegmentsSkipSourceRecords(t *testing.T) {
	seg := func(start float64, filterName string) model.UiChannelSegment {
		d := model.ChannelSegmentDescriptor{
			Channel:   model.VersionRef{Name: "ASAR.AS01.SHZ", EffectiveAt: 1},
			StartTime: start,
			EndTime:   start + 10,
		}
		return model.UiChannelSegment{
			ChannelSegmentDescriptor: d,
			ChannelSegment:           model.ChannelSegment{ChannelName: d.Channel.Name, WfFilterID: filterName, ID: d},
		}
	}
	defaultDef := filters.Definition{Name: "BP 0.5 4.0 3 causal"}
	list := &filters.FilterList{
		Name:               "Default",
		DefaultFilterIndex: 1,
		Filters: []filters.Filter{
			filters.UnfilteredFilter,
			{FilterDefinition: &defaultDef},
			{FilterDefinition: &filters.Definition{Name: "HP 2.0 2 causal"}},
		},
	}
	state := appstate.New(list)
	state.AddChannelSegments([]appstate.ChannelSegments{{Name: "ASAR", Segments: []model.UiChannelSegment{
		seg(100, filters.Unfiltered),
		seg(100, defaultDef.Name),
		seg(100, "HP 2.0 2 causal"),
		seg(110, "HP 2.0 2 causal"),
	}}})

	segments, _ := derivedSegments(state.Snapshot())
	if len(segments) != 2 {
		t.Fatalf("expected 2 derived segments, got %d", len(segments))
	}
	for _, s := range segments {
		if s.ChannelSegment.WfFilterID != "HP 2.0 2 causal" {
			t.Fatalf("source record %q exported as derived", s.ChannelSegment.WfFilterID)
		}
	}
}

func TestRunSessionRejectsInvalidSession(t *testing.T) {
	cfg := testConfig(t)
	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte(`{"interval": {"startTime": 10, "endTime": 5}}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := runSession(context.Background(), cfg, path); err == nil {
		t.Fatalf("expected invalid session to fail")
	}
}
