// Package fk builds compute-FK requests from signal detections and holds
// the FK spectra model plus the geometry helpers the review display needs.
package fk

// WindowParams is the FK window lead, length and step in seconds.
type WindowParams struct {
	LeadSeconds   float64 `json:"leadSeconds"`
	LengthSeconds float64 `json:"lengthSeconds"`
	StepSize      float64 `json:"stepSize"`
}

// FrequencyBand is a min/max frequency pair in Hz.
type FrequencyBand struct {
	MinFrequencyHz float64 `json:"minFrequencyHz"`
	MaxFrequencyHz float64 `json:"maxFrequencyHz"`
}

// FkParams drives a compute-FK request.
type FkParams struct {
	WindowParams  WindowParams  `json:"windowParams"`
	FrequencyPair FrequencyBand `json:"frequencyPair"`
}

// ContributingChannel toggles one channel's participation in an FK.
type ContributingChannel struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
}

// FkConfiguration is the per-detection FK configuration.
// MaximumSlowness is given in s/km and converted for the request.
type FkConfiguration struct {
	MaximumSlowness                   float64               `json:"maximumSlowness"`
	MediumVelocity                    float64               `json:"mediumVelocity"`
	NumberOfPoints                    float64               `json:"numberOfPoints"`
	NormalizeWaveforms                bool                  `json:"normalizeWaveforms"`
	UseChannelVerticalOffset          bool                  `json:"useChannelVerticalOffset"`
	LeadFkSpectrumSeconds             float64               `json:"leadFkSpectrumSeconds"`
	ContributingChannelsConfiguration []ContributingChannel `json:"contributingChannelsConfiguration"`
}

// ComputeFkInput is the request sent to the FK service.
type ComputeFkInput struct {
	StartTime                float64               `json:"startTime"`
	SampleRate               float64               `json:"sampleRate"`
	SampleCount              int                   `json:"sampleCount"`
	Channels                 []ContributingChannel `json:"channels"`
	WindowLead               string                `json:"windowLead"`
	WindowLength             string                `json:"windowLength"`
	LowFrequency             float64               `json:"lowFrequency"`
	HighFrequency            float64               `json:"highFrequency"`
	UseChannelVerticalOffset bool                  `json:"useChannelVerticalOffset"`
	PhaseType                string                `json:"phaseType"`
	NormalizeWaveforms       bool                  `json:"normalizeWaveforms"`
	SlowCountX               int                   `json:"slowCountX"`
	SlowCountY               int                   `json:"slowCountY"`
	SlowStartX               float64               `json:"slowStartX"`
	SlowStartY               float64               `json:"slowStartY"`
	SlowDeltaX               float64               `json:"slowDeltaX"`
	SlowDeltaY               float64               `json:"slowDeltaY"`
}

// FkInputWithConfiguration pairs a request with the configuration and
// detection it was built for.
type FkInputWithConfiguration struct {
	FkComputeInput    ComputeFkInput  `json:"fkComputeInput"`
	Configuration     FkConfiguration `json:"configuration"`
	SignalDetectionID string          `json:"signalDetectionId"`
}

// Attributes are the peak values of one spectrum.
type Attributes struct {
	PeakFStat           float64 `json:"peakFStat"`
	Azimuth             float64 `json:"azimuth"`
	Slowness            float64 `json:"slowness"`
	AzimuthUncertainty  float64 `json:"azimuthUncertainty"`
	SlownessUncertainty float64 `json:"slownessUncertainty"`
}

// FkPowerSpectrum is one time step of an FK: power and fstat grids indexed
// [row][col], rows running from the top of the plot down.
type FkPowerSpectrum struct {
	Power      [][]float64 `json:"power"`
	Fstat      [][]float64 `json:"fstat"`
	Quality    float64     `json:"quality"`
	Attributes Attributes  `json:"attributes"`
}

// Metadata describes the slowness grid of a spectra.
type Metadata struct {
	PhaseType  string  `json:"phaseType"`
	SlowStartX float64 `json:"slowStartX"`
	SlowDeltaX float64 `json:"slowDeltaX"`
	SlowStartY float64 `json:"slowStartY"`
	SlowDeltaY float64 `json:"slowDeltaY"`
}

// Waveform is a one-sample-per-spectrum trace derived from the spectra.
type Waveform struct {
	Type         string    `json:"type"`
	StartTime    float64   `json:"startTime"`
	EndTime      float64   `json:"endTime"`
	SampleRateHz float64   `json:"sampleRateHz"`
	SampleCount  int       `json:"sampleCount"`
	Samples      []float64 `json:"samples"`
}

// FstatData holds the azimuth, fstat and slowness traces.
type FstatData struct {
	AzimuthWf  Waveform `json:"azimuthWf"`
	FstatWf    Waveform `json:"fstatWf"`
	SlownessWf Waveform `json:"slownessWf"`
}

// FkPowerSpectra is an FK result for one detection.
type FkPowerSpectra struct {
	ID            string            `json:"id"`
	StartTime     float64           `json:"startTime"`
	EndTime       float64           `json:"endTime"`
	SampleRateHz  float64           `json:"sampleRateHz"`
	SampleCount   int               `json:"sampleCount"`
	WindowLead    float64           `json:"windowLead"`
	WindowLength  float64           `json:"windowLength"`
	StepSize      float64           `json:"stepSize"`
	LowFrequency  float64           `json:"lowFrequency"`
	HighFrequency float64           `json:"highFrequency"`
	Metadata      Metadata          `json:"metadata"`
	Spectrums     []FkPowerSpectrum `json:"values"`
	FstatData     *FstatData        `json:"fstatData"`
	Configuration FkConfiguration   `json:"configuration"`
	Reviewed      bool              `json:"reviewed"`
}

// FkUnits selects which grid a heatmap shows.
type FkUnits string

const (
	FkUnitsFstat FkUnits = "FSTAT"
	FkUnitsPower FkUnits = "POWER"
)

// HeatmapFor returns the grid for unit; nil spectrum yields nil.
func HeatmapFor(spectrum *FkPowerSpectrum, unit FkUnits) [][]float64 {
	if spectrum == nil {
		return nil
	}
	if unit == FkUnitsPower {
		return spectrum.Power
	}
	return spectrum.Fstat
}
