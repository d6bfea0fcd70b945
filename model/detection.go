package model

import "strings"

// FeatureMeasurementType tags a feature measurement.
type FeatureMeasurementType string

const (
	ArrivalTime             FeatureMeasurementType = "ARRIVAL_TIME"
	Phase                   FeatureMeasurementType = "PHASE"
	ReceiverToSourceAzimuth FeatureMeasurementType = "RECEIVER_TO_SOURCE_AZIMUTH"
	Slowness                FeatureMeasurementType = "SLOWNESS"
	Amplitude               FeatureMeasurementType = "AMPLITUDE_A5_OVER_2"
)

// InstantValue is a time with an optional standard deviation.
type InstantValue struct {
	Value             float64 `json:"value"`
	StandardDeviation float64 `json:"standardDeviation,omitempty"`
}

// DoubleValue is a numeric measurement with units.
type DoubleValue struct {
	Value             float64 `json:"value"`
	StandardDeviation float64 `json:"standardDeviation,omitempty"`
	Units             string  `json:"units,omitempty"`
}

// MeasurementValue is the union of value shapes used by the measurement
// types the pipeline reads. Unused fields stay zero.
type MeasurementValue struct {
	ArrivalTime   *InstantValue `json:"arrivalTime,omitempty"`
	Value         string        `json:"value,omitempty"`
	Confidence    float64       `json:"confidence,omitempty"`
	MeasuredValue *DoubleValue  `json:"measuredValue,omitempty"`
}

// MeasuredChannelSegment links a measurement to the segment it was taken on.
type MeasuredChannelSegment struct {
	ID ChannelSegmentDescriptor `json:"id"`
}

// FeatureMeasurement is one typed measurement on a hypothesis.
type FeatureMeasurement struct {
	FeatureMeasurementType FeatureMeasurementType  `json:"featureMeasurementType"`
	Channel                VersionRef              `json:"channel"`
	MeasuredChannelSegment *MeasuredChannelSegment `json:"measuredChannelSegment,omitempty"`
	MeasurementValue       MeasurementValue        `json:"measurementValue"`
}

// HypothesisID identifies a signal detection hypothesis.
type HypothesisID struct {
	ID                string `json:"id"`
	SignalDetectionID string `json:"signalDetectionId"`
}

// SignalDetectionHypothesis is one interpretation of a detection.
type SignalDetectionHypothesis struct {
	ID                  HypothesisID         `json:"id"`
	Rejected            bool                 `json:"rejected"`
	FeatureMeasurements []FeatureMeasurement `json:"featureMeasurements"`
}

// FeatureMeasurement returns the first measurement of the given type.
func (h *SignalDetectionHypothesis) FeatureMeasurement(t FeatureMeasurementType) (FeatureMeasurement, bool) {
	if h == nil {
		return FeatureMeasurement{}, false
	}
	for _, fm := range h.FeatureMeasurements {
		if fm.FeatureMeasurementType == t {
			return fm, true
		}
	}
	return FeatureMeasurement{}, false
}

// ArrivalTime returns the arrival time measurement value.
func (h *SignalDetectionHypothesis) ArrivalTime() (InstantValue, bool) {
	fm, ok := h.FeatureMeasurement(ArrivalTime)
	if !ok || fm.MeasurementValue.ArrivalTime == nil {
		return InstantValue{}, false
	}
	return *fm.MeasurementValue.ArrivalTime, true
}

// Phase returns the phase label, e.g. "P" or "Lg".
func (h *SignalDetectionHypothesis) Phase() (string, bool) {
	fm, ok := h.FeatureMeasurement(Phase)
	if !ok || strings.TrimSpace(fm.MeasurementValue.Value) == "" {
		return "", false
	}
	return fm.MeasurementValue.Value, true
}

// SignalDetection owns an ordered list of hypotheses; the last is current.
type SignalDetection struct {
	ID         string                      `json:"id"`
	Station    EntityRef                   `json:"station"`
	Hypotheses []SignalDetectionHypothesis `json:"signalDetectionHypotheses"`
}

// CurrentHypothesis returns the last hypothesis or nil.
func (sd *SignalDetection) CurrentHypothesis() *SignalDetectionHypothesis {
	if sd == nil || len(sd.Hypotheses) == 0 {
		return nil
	}
	return &sd.Hypotheses[len(sd.Hypotheses)-1]
}

// IsActive reports whether the detection has a current, unrejected hypothesis.
func (sd *SignalDetection) IsActive() bool {
	h := sd.CurrentHypothesis()
	return h != nil && !h.Rejected
}
