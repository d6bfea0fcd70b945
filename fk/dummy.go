package fk

import (
	"math"

	"fkreview/model"
)

// FkSpectraTimeseriesType tags the traces derived from FK spectra.
const FkSpectraTimeseriesType = "FK_SPECTRA"

// Placeholder spectra shape. The FK service is not wired yet; every
// detection with an arrival measurement gets the same two-step spectra.
const (
	dummySampleCount   = 2
	dummySampleRateHz  = 1.0
	dummyWindowLead    = 1.0
	dummyWindowLength  = 4.0
	dummyStepSize      = 1.0
	dummyLowFrequency  = 1.25
	dummyHighFrequency = 3.25
	dummySlowStart     = -40.0
	dummySlowDelta     = 1.0
	dummyGridPoints    = 81
)

var dummyPeaks = [dummySampleCount]Attributes{
	{PeakFStat: 12.5, Azimuth: 45, Slowness: 10, AzimuthUncertainty: 2.5, SlownessUncertainty: 0.5},
	{PeakFStat: 11.0, Azimuth: 50, Slowness: 11, AzimuthUncertainty: 3.0, SlownessUncertainty: 0.6},
}

// Purpose: Return placeholder FK spectra for a detection.
// Key aspects: Anchored at the start time of the segment the arrival time
// was measured on; nil when sd is nil or has no such measurement.
// Upstream: GetFkParamsForSd, CreateComputeFkInput, fkreview.
// Downstream: dummySpectra.
func GetFkDummyData(sd *model.SignalDetection) *FkPowerSpectra {
	h := sd.CurrentHypothesis()
	if h == nil {
		return nil
	}
	fm, ok := h.FeatureMeasurement(model.ArrivalTime)
	if !ok || fm.MeasuredChannelSegment == nil {
		return nil
	}
	phase, _ := h.Phase()
	spectra := dummySpectra(fm.MeasuredChannelSegment.ID.StartTime, phase)
	spectra.ID = sd.ID
	return spectra
}

func dummySpectra(startTime float64, phase string) *FkPowerSpectra {
	spectra := &FkPowerSpectra{
		StartTime:     startTime,
		EndTime:       startTime + dummySampleCount/dummySampleRateHz,
		SampleRateHz:  dummySampleRateHz,
		SampleCount:   dummySampleCount,
		WindowLead:    dummyWindowLead,
		WindowLength:  dummyWindowLength,
		StepSize:      dummyStepSize,
		LowFrequency:  dummyLowFrequency,
		HighFrequency: dummyHighFrequency,
		Metadata: Metadata{
			PhaseType:  phase,
			SlowStartX: dummySlowStart,
			SlowDeltaX: dummySlowDelta,
			SlowStartY: dummySlowStart,
			SlowDeltaY: dummySlowDelta,
		},
		Configuration: FkConfiguration{
			MaximumSlowness:                   1,
			MediumVelocity:                    1,
			NumberOfPoints:                    1,
			LeadFkSpectrumSeconds:             1,
			ContributingChannelsConfiguration: []ContributingChannel{},
		},
	}
	for _, peak := range dummyPeaks {
		spectra.Spectrums = append(spectra.Spectrums, dummySpectrum(peak))
	}
	spectra.FstatData = fstatData(spectra)
	return spectra
}

// dummySpectrum renders a gaussian bump centered on the peak. Row 0 is
// the top of the plot.
func dummySpectrum(peak Attributes) FkPowerSpectrum {
	px, py := ConvertPolarToXY(peak.Slowness, peak.Azimuth)
	const width = 4.0
	power := make([][]float64, dummyGridPoints)
	fstat := make([][]float64, dummyGridPoints)
	for row := 0; row < dummyGridPoints; row++ {
		y := dummySlowStart + float64(dummyGridPoints-1-row)*dummySlowDelta
		power[row] = make([]float64, dummyGridPoints)
		fstat[row] = make([]float64, dummyGridPoints)
		for col := 0; col < dummyGridPoints; col++ {
			x := dummySlowStart + float64(col)*dummySlowDelta
			d2 := (x-px)*(x-px) + (y-py)*(y-py)
			g := math.Exp(-d2 / (2 * width * width))
			power[row][col] = -20 + 20*g
			fstat[row][col] = peak.PeakFStat * g
		}
	}
	return FkPowerSpectrum{Power: power, Fstat: fstat, Quality: 1, Attributes: peak}
}

func fstatData(spectra *FkPowerSpectra) *FstatData {
	wf := func() Waveform {
		return Waveform{
			Type:         FkSpectraTimeseriesType,
			StartTime:    spectra.StartTime + spectra.WindowLead,
			EndTime:      spectra.StartTime + float64(spectra.SampleCount)/spectra.SampleRateHz,
			SampleRateHz: spectra.SampleRateHz,
			SampleCount:  spectra.SampleCount,
			Samples:      make([]float64, 0, len(spectra.Spectrums)),
		}
	}
	out := &FstatData{AzimuthWf: wf(), FstatWf: wf(), SlownessWf: wf()}
	for _, s := range spectra.Spectrums {
		out.AzimuthWf.Samples = append(out.AzimuthWf.Samples, s.Attributes.Azimuth)
		out.FstatWf.Samples = append(out.FstatWf.Samples, s.Attributes.PeakFStat)
		out.SlownessWf.Samples = append(out.SlownessWf.Samples, s.Attributes.Slowness)
	}
	return out
}
