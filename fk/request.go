package fk

import (
	"log"
	"math"
	"strings"

	"fkreview/model"
)

const (
	earthRadiusKm = 6371.0

	// Window used when a detection has no FK data yet.
	defaultLeadBeforeArrival = 60.0
	defaultLagAfterArrival   = 240.0
)

// Phase velocities in km/s.
const (
	velocityP       = 5.8
	velocityS       = 3.6
	velocityLg      = 3.5
	velocityRg      = 3.0
	velocityUnknown = 1.0
)

// DefaultConfiguration returns the base FK configuration before the phase
// velocity and contributing channels are applied.
func DefaultConfiguration() FkConfiguration {
	return FkConfiguration{
		MaximumSlowness:                   40,
		MediumVelocity:                    velocityUnknown,
		NumberOfPoints:                    81,
		LeadFkSpectrumSeconds:             1,
		ContributingChannelsConfiguration: []ContributingChannel{},
	}
}

// KmToDegreesApproximate converts km to degrees of arc on a spherical earth.
func KmToDegreesApproximate(km float64) float64 {
	return km * (360 / (earthRadiusKm * 2 * math.Pi))
}

// Purpose: Snap the FK start time so the arrival sits on a step boundary.
// Key aspects: NaN stands in for a missing argument; a waveform that does
// not start at least lead seconds before the arrival (or a non-positive
// step) is rejected and logged.
// Upstream: CreateComputeFkInput.
// Downstream: None.
func CalculateStartTimeForFk(wfStartTime, arrivalTime, leadTime, stepSize float64) (float64, bool) {
	if math.IsNaN(wfStartTime) || math.IsNaN(arrivalTime) || math.IsNaN(leadTime) || math.IsNaN(stepSize) {
		log.Printf("FK: cannot calculate fk start time with undefined parameters")
		return 0, false
	}
	if stepSize <= 0 {
		log.Printf("FK: cannot calculate fk start time with step size %v", stepSize)
		return 0, false
	}
	numberOfSteps := math.Floor((arrivalTime - wfStartTime - leadTime) / stepSize)
	if numberOfSteps < 0 {
		log.Printf("FK: cannot calculate fk start time, wf start time is not far enough before arrival time")
		return 0, false
	}
	return arrivalTime - (stepSize*numberOfSteps + leadTime), true
}

// MediumVelocityForPhase returns the medium velocity table entry for phase.
func MediumVelocityForPhase(phase string) float64 {
	lower := strings.ToLower(phase)
	switch {
	case phase == "":
		return velocityUnknown
	case strings.HasPrefix(lower, "p") || strings.HasSuffix(lower, "p"):
		return velocityP
	case strings.HasPrefix(lower, "s") || strings.HasSuffix(lower, "s"):
		return velocityS
	case phase == "Lg":
		return velocityLg
	case phase == "Rg":
		return velocityRg
	default:
		// Tx, N and other labels have no meaningful velocity.
		return velocityUnknown
	}
}

// GetFkParamsForSd reads the window and frequency band from the
// detection's FK data.
func GetFkParamsForSd(sd *model.SignalDetection) (FkParams, bool) {
	fk := GetFkDummyData(sd)
	if fk == nil {
		return FkParams{}, false
	}
	return FkParams{
		FrequencyPair: FrequencyBand{
			MinFrequencyHz: fk.LowFrequency,
			MaxFrequencyHz: fk.HighFrequency,
		},
		WindowParams: WindowParams{
			LeadSeconds:   fk.WindowLead,
			LengthSeconds: fk.WindowLength,
			StepSize:      fk.StepSize,
		},
	}, true
}

// GetDefaultFkConfigurationForSignalDetection applies the phase velocity
// and enables every contributing channel on DefaultConfiguration.
func GetDefaultFkConfigurationForSignalDetection(sd *model.SignalDetection, contributing []model.Channel) (FkConfiguration, bool) {
	return ConfigurationForSignalDetection(DefaultConfiguration(), sd, contributing)
}

// ConfigurationForSignalDetection is GetDefaultFkConfigurationForSignalDetection
// over a caller-supplied base configuration.
func ConfigurationForSignalDetection(base FkConfiguration, sd *model.SignalDetection, contributing []model.Channel) (FkConfiguration, bool) {
	h := sd.CurrentHypothesis()
	if h == nil || h.FeatureMeasurements == nil {
		return FkConfiguration{}, false
	}
	phase, ok := h.Phase()
	if !ok {
		return FkConfiguration{}, false
	}
	channels := make([]ContributingChannel, 0, len(contributing))
	for _, ch := range contributing {
		channels = append(channels, ContributingChannel{ID: ch.Name, Name: ch.Name, Enabled: true})
	}
	cfg := base
	cfg.MediumVelocity = MediumVelocityForPhase(phase)
	cfg.ContributingChannelsConfiguration = channels
	return cfg, true
}

// Purpose: Build the compute-FK request for a detection.
// Key aspects: The time window comes from the detection's FK data when it
// has one, else [arrival-60s, arrival+240s]. Thumbnails ask for a single
// spectrum over the whole window; full requests snap the start to the
// step grid and fail when the snap fails.
// Upstream: fkreview session walk, main pipeline.
// Downstream: GetFkDummyData, CalculateStartTimeForFk, KmToDegreesApproximate.
func CreateComputeFkInput(sd *model.SignalDetection, params *FkParams, cfg *FkConfiguration, isThumbnail bool) (FkInputWithConfiguration, bool) {
	if sd == nil || params == nil || cfg == nil {
		return FkInputWithConfiguration{}, false
	}
	h := sd.CurrentHypothesis()
	arrival, ok := h.ArrivalTime()
	if !ok {
		return FkInputWithConfiguration{}, false
	}
	arrivalTime := arrival.Value

	startTime := arrivalTime - defaultLeadBeforeArrival
	endTime := arrivalTime + defaultLagAfterArrival
	if fk := GetFkDummyData(sd); fk != nil {
		startTime = fk.StartTime
		endTime = fk.EndTime
	}

	var (
		offsetStartTime float64
		sampleRate      float64
		sampleCount     int
	)
	if isThumbnail {
		offsetStartTime = startTime
		sampleRate = 1 / (endTime - offsetStartTime)
		sampleCount = 1
	} else {
		offsetStartTime, ok = CalculateStartTimeForFk(startTime, arrivalTime, params.WindowParams.LeadSeconds, params.WindowParams.StepSize)
		if !ok {
			return FkInputWithConfiguration{}, false
		}
		sampleRate = 1 / params.WindowParams.StepSize
		sampleCount = int(math.Floor((endTime - startTime) / params.WindowParams.StepSize))
	}

	maxSlowness := KmToDegreesApproximate(cfg.MaximumSlowness)
	slowDelta := maxSlowness * 2 / cfg.NumberOfPoints
	slowCount := int(math.Floor(cfg.NumberOfPoints))
	phase, _ := h.Phase()

	channels := make([]ContributingChannel, len(cfg.ContributingChannelsConfiguration))
	copy(channels, cfg.ContributingChannelsConfiguration)
	return FkInputWithConfiguration{
		FkComputeInput: ComputeFkInput{
			StartTime:                offsetStartTime,
			SampleRate:               sampleRate,
			SampleCount:              sampleCount,
			Channels:                 channels,
			WindowLead:               model.SecondsToDuration(params.WindowParams.LeadSeconds),
			WindowLength:             model.SecondsToDuration(params.WindowParams.LengthSeconds),
			LowFrequency:             params.FrequencyPair.MinFrequencyHz,
			HighFrequency:            params.FrequencyPair.MaxFrequencyHz,
			UseChannelVerticalOffset: cfg.UseChannelVerticalOffset,
			PhaseType:                phase,
			NormalizeWaveforms:       cfg.NormalizeWaveforms,
			SlowCountX:               slowCount,
			SlowCountY:               slowCount,
			SlowStartX:               -maxSlowness,
			SlowStartY:               -maxSlowness,
			SlowDeltaX:               slowDelta,
			SlowDeltaY:               slowDelta,
		},
		Configuration:     *cfg,
		SignalDetectionID: sd.ID,
	}, true
}
