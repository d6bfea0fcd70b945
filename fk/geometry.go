package fk

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// ConvertPolarToXY maps slowness/azimuth to plot x/y, y growing downward.
func ConvertPolarToXY(slowness, azimuth float64) (x, y float64) {
	radians := (azimuth - 90) * (math.Pi / 180)
	return slowness * math.Cos(radians), slowness * math.Sin(radians)
}

// ConvertXYToPolar converts a y-up grid point to azimuth (degrees from
// north) and radial slowness. Points on either axis are not converted.
func ConvertXYToPolar(x, y float64) (azimuthDeg, radialSlowness float64, ok bool) {
	if x == 0 || y == 0 {
		return 0, 0, false
	}
	theta := 360 - math.Mod(math.Atan2(y, x)*(180/math.Pi)+270, 360)
	return theta, math.Hypot(x, y), true
}

// ComputeMinMaxFkValues returns the smallest and largest grid values.
// An empty grid yields (+Inf, -Inf).
func ComputeMinMaxFkValues(grid [][]float64) (lo, hi float64) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, row := range grid {
		if len(row) == 0 {
			continue
		}
		lo = math.Min(lo, floats.Min(row))
		hi = math.Max(hi, floats.Max(row))
	}
	return lo, hi
}

// Purpose: Look up the heatmap value under an azimuth/slowness point.
// Key aspects: Rows run bottom-up, so row 0 of the heatmap is the top of
// the plot; points off the grid report false.
// Upstream: review display readouts, tests.
// Downstream: ConvertPolarToXY.
func PeakValueFromAzSlow(spectra *FkPowerSpectra, heatmap [][]float64, azimuth, slowness float64) (float64, bool) {
	if spectra == nil || len(heatmap) == 0 {
		return 0, false
	}
	md := spectra.Metadata
	dx, dy := md.SlowDeltaX, md.SlowDeltaY
	if dx <= 0 {
		dx = 1
	}
	if dy <= 0 {
		dy = 1
	}
	px, py := ConvertPolarToXY(slowness, azimuth)
	col := int(math.Floor((px - md.SlowStartX) / dx))
	y := int(math.Floor((py - md.SlowStartY) / dy))
	row := len(heatmap) - 1 - y
	if row < 0 || row >= len(heatmap) || col < 0 || col >= len(heatmap[row]) {
		return 0, false
	}
	return heatmap[row][col], true
}

// FkMovieIndex returns the spectrum shown at time t, clamped to the
// available spectra.
func FkMovieIndex(spectra *FkPowerSpectra, t float64) int {
	if spectra == nil || spectra.StepSize <= 0 || len(spectra.Spectrums) == 0 {
		return 0
	}
	idx := int(math.Round(math.Max((t-spectra.StartTime)/spectra.StepSize, 0)))
	if idx >= len(spectra.Spectrums) {
		idx = len(spectra.Spectrums) - 1
	}
	return idx
}

// XAxis returns the [min, max] x slowness of the grid.
func XAxis(spectra *FkPowerSpectra) [2]float64 {
	return [2]float64{spectra.Metadata.SlowStartX, -spectra.Metadata.SlowStartX}
}

// YAxis returns the [min, max] y slowness of the grid.
func YAxis(spectra *FkPowerSpectra) [2]float64 {
	return [2]float64{spectra.Metadata.SlowStartY, -spectra.Metadata.SlowStartY}
}

// FrequencyBands are the preset FK frequency bands.
var FrequencyBands = []FrequencyBand{
	{MinFrequencyHz: 0.5, MaxFrequencyHz: 2},
	{MinFrequencyHz: 1, MaxFrequencyHz: 2.5},
	{MinFrequencyHz: 1.5, MaxFrequencyHz: 3},
	{MinFrequencyHz: 2, MaxFrequencyHz: 4},
	{MinFrequencyHz: 3, MaxFrequencyHz: 6},
}

// FrequencyBandToString formats a band for display, e.g. "0.5 - 2 Hz".
func FrequencyBandToString(band FrequencyBand) string {
	return fmt.Sprintf("%v - %v Hz", band.MinFrequencyHz, band.MaxFrequencyHz)
}

// LeadLagPair is a named window preset. StepSize is left to the caller.
type LeadLagPair struct {
	Label        string
	WindowParams WindowParams
}

// LeadLagPairs are the preset lead/duration windows.
var LeadLagPairs = []LeadLagPair{
	{Label: "Lead: 1, Dur: 4", WindowParams: WindowParams{LeadSeconds: 1, LengthSeconds: 4}},
	{Label: "Lead: 1, Dur: 6", WindowParams: WindowParams{LeadSeconds: 1, LengthSeconds: 6}},
	{Label: "Lead: 1, Dur: 9", WindowParams: WindowParams{LeadSeconds: 1, LengthSeconds: 9}},
	{Label: "Lead: 1, Dur: 11", WindowParams: WindowParams{LeadSeconds: 1, LengthSeconds: 11}},
}
