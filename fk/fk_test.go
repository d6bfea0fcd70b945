package fk

import (
	"math"
	"testing"

	"fkreview/model"
)

func detection(id, phase string, arrival float64, measuredStart *float64) *model.SignalDetection {
	at := model.FeatureMeasurement{
		FeatureMeasurementType: model.ArrivalTime,
		MeasurementValue:       model.MeasurementValue{ArrivalTime: &model.InstantValue{Value: arrival}},
	}
	if measuredStart != nil {
		at.MeasuredChannelSegment = &model.MeasuredChannelSegment{ID: model.ChannelSegmentDescriptor{
			Channel:   model.VersionRef{Name: "ASAR.beam.SHZ"},
			StartTime: *measuredStart,
			EndTime:   *measuredStart + 300,
		}}
	}
	fms := []model.FeatureMeasurement{at}
	if phase != "" {
		fms = append(fms, model.FeatureMeasurement{
			FeatureMeasurementType: model.Phase,
			MeasurementValue:       model.MeasurementValue{Value: phase},
		})
	}
	return &model.SignalDetection{
		ID:      id,
		Station: model.EntityRef{Name: "ASAR"},
		Hypotheses: []model.SignalDetectionHypothesis{{
			ID:                  model.HypothesisID{ID: id + "-h", SignalDetectionID: id},
			FeatureMeasurements: fms,
		}},
	}
}

func ptr(v float64) *float64 { return &v }

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestKmToDegreesApproximate(t *testing.T) {
	if got := KmToDegreesApproximate(125); math.Abs(got-1.124152007398413) > 1e-12 {
		t.Fatalf("KmToDegreesApproximate(125) = %v", got)
	}
	if got := KmToDegreesApproximate(0); got != 0 {
		t.Fatalf("KmToDegreesApproximate(0) = %v", got)
	}
}

func TestCalculateStartTimeForFk(t *testing.T) {
	cases := []struct {
		name                       string
		wfStart, arrival, lead, dt float64
		want                       float64
		ok                         bool
	}{
		{"snaps to step grid", 100, 120, 1, 2, 101, true},
		{"exact multiple", 100, 111, 1, 2, 100, true},
		{"waveform starts after arrival", 130, 120, 1, 2, 0, false},
		{"waveform starts inside lead", 119.5, 120, 1, 2, 0, false},
		{"undefined argument", math.NaN(), 120, 1, 2, 0, false},
		{"zero step", 100, 120, 1, 0, 0, false},
	}
	for _, tc := range cases {
		got, ok := CalculateStartTimeForFk(tc.wfStart, tc.arrival, tc.lead, tc.dt)
		if ok != tc.ok || (ok && !near(got, tc.want)) {
			t.Fatalf("%s: got (%v, %v), want (%v, %v)", tc.name, got, ok, tc.want, tc.ok)
		}
	}
}

func TestMediumVelocityForPhase(t *testing.T) {
	cases := map[string]float64{
		"P":   5.8,
		"Pn":  5.8,
		"PcP": 5.8,
		"S":   3.6,
		"Sn":  3.6,
		"ScS": 3.6,
		"Lg":  3.5,
		"Rg":  3.0,
		"Tx":  1,
		"N":   1,
		"":    1,
	}
	for phase, want := range cases {
		if got := MediumVelocityForPhase(phase); got != want {
			t.Fatalf("MediumVelocityForPhase(%q) = %v, want %v", phase, got, want)
		}
	}
}

func TestGetFkDummyData(t *testing.T) {
	if GetFkDummyData(nil) != nil {
		t.Fatalf("expected nil spectra for nil detection")
	}
	if GetFkDummyData(detection("sd0", "P", 1000, nil)) != nil {
		t.Fatalf("expected nil spectra without a measured channel segment")
	}

	sd := detection("sd1", "P", 1005, ptr(990))
	fk := GetFkDummyData(sd)
	if fk == nil {
		t.Fatalf("expected spectra for a well formed detection")
	}
	if fk.ID != "sd1" || fk.StartTime != 990 || fk.EndTime != 992 || fk.Reviewed {
		t.Fatalf("unexpected spectra header %+v", fk)
	}
	if len(fk.Spectrums) != fk.SampleCount {
		t.Fatalf("spectra count %d != sample count %d", len(fk.Spectrums), fk.SampleCount)
	}
	if fk.Metadata.PhaseType != "P" {
		t.Fatalf("phase = %q", fk.Metadata.PhaseType)
	}
	if fk.FstatData == nil || fk.FstatData.AzimuthWf.StartTime != 991 || len(fk.FstatData.FstatWf.Samples) != 2 {
		t.Fatalf("unexpected fstat data %+v", fk.FstatData)
	}
	if fk.FstatData.FstatWf.Samples[0] != fk.Spectrums[0].Attributes.PeakFStat {
		t.Fatalf("fstat trace does not follow the spectrum peaks")
	}
}

func TestGetFkParamsForSd(t *testing.T) {
	if _, ok := GetFkParamsForSd(nil); ok {
		t.Fatalf("expected no params for nil detection")
	}
	params, ok := GetFkParamsForSd(detection("sd1", "P", 1005, ptr(990)))
	if !ok {
		t.Fatalf("expected params")
	}
	if params.WindowParams.LeadSeconds != 1 || params.WindowParams.LengthSeconds != 4 || params.WindowParams.StepSize != 1 {
		t.Fatalf("unexpected window params %+v", params.WindowParams)
	}
	if params.FrequencyPair.MinFrequencyHz >= params.FrequencyPair.MaxFrequencyHz {
		t.Fatalf("unexpected frequency pair %+v", params.FrequencyPair)
	}
}

func TestGetDefaultFkConfigurationForSignalDetection(t *testing.T) {
	channels := []model.Channel{{Name: "ASAR.AS01.SHZ"}, {Name: "ASAR.AS02.SHZ"}}
	cfg, ok := GetDefaultFkConfigurationForSignalDetection(detection("sd1", "Lg", 1000, nil), channels)
	if !ok {
		t.Fatalf("expected configuration")
	}
	if cfg.MediumVelocity != 3.5 || cfg.MaximumSlowness != 40 || cfg.NumberOfPoints != 81 || cfg.LeadFkSpectrumSeconds != 1 {
		t.Fatalf("unexpected configuration %+v", cfg)
	}
	if len(cfg.ContributingChannelsConfiguration) != 2 {
		t.Fatalf("expected 2 contributing channels, got %d", len(cfg.ContributingChannelsConfiguration))
	}
	for _, c := range cfg.ContributingChannelsConfiguration {
		if !c.Enabled || c.ID != c.Name {
			t.Fatalf("unexpected contributing channel %+v", c)
		}
	}
	if _, ok := GetDefaultFkConfigurationForSignalDetection(nil, channels); ok {
		t.Fatalf("expected no configuration for nil detection")
	}
	if _, ok := GetDefaultFkConfigurationForSignalDetection(detection("sd2", "", 1000, nil), channels); ok {
		t.Fatalf("expected no configuration without a phase")
	}
}

func TestCreateComputeFkInputThumbnail(t *testing.T) {
	sd := detection("sd1", "P", 1000.5, ptr(990))
	params, _ := GetFkParamsForSd(sd)
	cfg := DefaultConfiguration()
	in, ok := CreateComputeFkInput(sd, &params, &cfg, true)
	if !ok {
		t.Fatalf("expected a thumbnail request")
	}
	got := in.FkComputeInput
	if got.SampleCount != 1 {
		t.Fatalf("thumbnail sample count = %d", got.SampleCount)
	}
	if got.StartTime != 990 || !near(got.SampleRate, 0.5) {
		t.Fatalf("unexpected thumbnail timing start=%v rate=%v", got.StartTime, got.SampleRate)
	}
	if in.SignalDetectionID != "sd1" || got.PhaseType != "P" {
		t.Fatalf("unexpected request identity %+v", in)
	}
}

func TestCreateComputeFkInputFull(t *testing.T) {
	sd := detection("sd1", "P", 1000, ptr(990))
	params := FkParams{
		WindowParams:  WindowParams{LeadSeconds: 1, LengthSeconds: 4, StepSize: 0.5},
		FrequencyPair: FrequencyBand{MinFrequencyHz: 0.5, MaxFrequencyHz: 2},
	}
	cfg := DefaultConfiguration()
	in, ok := CreateComputeFkInput(sd, &params, &cfg, false)
	if !ok {
		t.Fatalf("expected a full request")
	}
	got := in.FkComputeInput
	if !near(got.StartTime, 990) || got.SampleRate != 2 || got.SampleCount != 4 {
		t.Fatalf("unexpected timing start=%v rate=%v count=%d", got.StartTime, got.SampleRate, got.SampleCount)
	}
	if got.WindowLead != "PT1S" || got.WindowLength != "PT4S" {
		t.Fatalf("unexpected durations %q %q", got.WindowLead, got.WindowLength)
	}
	if got.LowFrequency != 0.5 || got.HighFrequency != 2 {
		t.Fatalf("unexpected band %v-%v", got.LowFrequency, got.HighFrequency)
	}

	maxSlow := KmToDegreesApproximate(40)
	if got.SlowStartX != -maxSlow || got.SlowStartY != got.SlowStartX {
		t.Fatalf("unexpected slow start %v/%v", got.SlowStartX, got.SlowStartY)
	}
	if got.SlowCountX != 81 || got.SlowCountY != 81 || got.SlowDeltaX != got.SlowDeltaY {
		t.Fatalf("grid axes differ: %+v", got)
	}
	if end := got.SlowStartX + got.SlowDeltaX*cfg.NumberOfPoints; !near(end, maxSlow) {
		t.Fatalf("slowness grid not symmetric: end %v want %v", end, maxSlow)
	}
}

func TestCreateComputeFkInputDefaultWindow(t *testing.T) {
	sd := detection("sd1", "S", 1000, nil)
	params := FkParams{WindowParams: WindowParams{LeadSeconds: 1, LengthSeconds: 4, StepSize: 1}}
	cfg := DefaultConfiguration()
	in, ok := CreateComputeFkInput(sd, &params, &cfg, false)
	if !ok {
		t.Fatalf("expected a request over the default window")
	}
	if got := in.FkComputeInput; got.StartTime != 940 || got.SampleCount != 300 {
		t.Fatalf("unexpected default window start=%v count=%d", got.StartTime, got.SampleCount)
	}
}

func TestCreateComputeFkInputRejects(t *testing.T) {
	sd := detection("sd1", "P", 990.5, ptr(990))
	params := FkParams{WindowParams: WindowParams{LeadSeconds: 1, StepSize: 1}}
	cfg := DefaultConfiguration()
	if _, ok := CreateComputeFkInput(sd, &params, &cfg, false); ok {
		t.Fatalf("expected failure when the waveform starts inside the lead")
	}
	if _, ok := CreateComputeFkInput(sd, &params, &cfg, true); !ok {
		t.Fatalf("thumbnails do not snap and should still build")
	}
	if _, ok := CreateComputeFkInput(nil, &params, &cfg, false); ok {
		t.Fatalf("expected failure for nil detection")
	}
	if _, ok := CreateComputeFkInput(sd, nil, &cfg, false); ok {
		t.Fatalf("expected failure for nil params")
	}
	if _, ok := CreateComputeFkInput(sd, &params, nil, false); ok {
		t.Fatalf("expected failure for nil configuration")
	}
}

func TestPolarConversions(t *testing.T) {
	x, y := ConvertPolarToXY(10, 90)
	if !near(x, 10) || !near(y, 0) {
		t.Fatalf("east point = (%v, %v)", x, y)
	}
	x, y = ConvertPolarToXY(10, 0)
	if !near(x, 0) || !near(y, -10) {
		t.Fatalf("north point = (%v, %v)", x, y)
	}

	cases := []struct {
		x, y, az float64
	}{
		{1, 1, 45},
		{1, -1, 135},
		{-1, -1, 225},
		{-1, 1, 315},
	}
	for _, tc := range cases {
		az, r, ok := ConvertXYToPolar(tc.x, tc.y)
		if !ok || !near(az, tc.az) || !near(r, math.Sqrt2) {
			t.Fatalf("ConvertXYToPolar(%v, %v) = (%v, %v, %v)", tc.x, tc.y, az, r, ok)
		}
	}
	if _, _, ok := ConvertXYToPolar(0, 3); ok {
		t.Fatalf("points on an axis are not converted")
	}
}

func TestComputeMinMaxFkValues(t *testing.T) {
	lo, hi := ComputeMinMaxFkValues([][]float64{{1, 5}, {}, {-2, 3}})
	if lo != -2 || hi != 5 {
		t.Fatalf("min/max = %v/%v", lo, hi)
	}
	lo, hi = ComputeMinMaxFkValues(nil)
	if !math.IsInf(lo, 1) || !math.IsInf(hi, -1) {
		t.Fatalf("empty grid min/max = %v/%v", lo, hi)
	}
}

func TestPeakValueFromAzSlow(t *testing.T) {
	fk := GetFkDummyData(detection("sd1", "P", 1000, ptr(990)))
	spectrum := fk.Spectrums[0]
	peak := spectrum.Attributes
	got, ok := PeakValueFromAzSlow(fk, HeatmapFor(&spectrum, FkUnitsFstat), peak.Azimuth, peak.Slowness)
	if !ok {
		t.Fatalf("peak point fell off the grid")
	}
	if got < 0.9*peak.PeakFStat {
		t.Fatalf("value at the peak = %v, want close to %v", got, peak.PeakFStat)
	}
	lo, hi := ComputeMinMaxFkValues(spectrum.Fstat)
	if got < lo || got > hi {
		t.Fatalf("value %v outside grid range [%v, %v]", got, lo, hi)
	}
	if _, ok := PeakValueFromAzSlow(fk, spectrum.Fstat, 0, 100); ok {
		t.Fatalf("expected an off-grid miss")
	}
	if HeatmapFor(&spectrum, FkUnitsPower)[0][0] != spectrum.Power[0][0] {
		t.Fatalf("power heatmap not selected")
	}
}

func TestFkMovieIndex(t *testing.T) {
	fk := GetFkDummyData(detection("sd1", "P", 1000, ptr(1000)))
	cases := map[float64]int{
		999:    0,
		1000:   0,
		1000.6: 1,
		1100:   1,
	}
	for at, want := range cases {
		if got := FkMovieIndex(fk, at); got != want {
			t.Fatalf("FkMovieIndex(%v) = %d, want %d", at, got, want)
		}
	}
	if FkMovieIndex(nil, 5) != 0 {
		t.Fatalf("nil spectra should index 0")
	}
}

func TestPresets(t *testing.T) {
	if got := FrequencyBandToString(FrequencyBands[0]); got != "0.5 - 2 Hz" {
		t.Fatalf("FrequencyBandToString = %q", got)
	}
	if len(FrequencyBands) != 5 || len(LeadLagPairs) != 4 {
		t.Fatalf("unexpected preset counts")
	}
	for _, p := range LeadLagPairs {
		if p.WindowParams.LeadSeconds != 1 {
			t.Fatalf("unexpected lead in %+v", p)
		}
	}
	fk := GetFkDummyData(detection("sd1", "P", 1000, ptr(1000)))
	if x := XAxis(fk); x[0] != -x[1] {
		t.Fatalf("x axis not symmetric: %v", x)
	}
	if y := YAxis(fk); y[0] != -y[1] {
		t.Fatalf("y axis not symmetric: %v", y)
	}
}
