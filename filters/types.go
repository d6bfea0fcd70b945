// Package filters designs IIR filter definitions per sample rate and applies
// them to interleaved waveform buffers.
package filters

import "errors"

// Unfiltered names the pass-through filter used as the default fallback.
const Unfiltered = "Unfiltered"

// FilterType is "<computation>_<design model>" or CASCADE.
type FilterType string

const (
	TypeCascade        FilterType = "CASCADE"
	TypeIIRButterworth FilterType = "IIR_BUTTERWORTH"
	TypeFIRHamming     FilterType = "FIR_HAMMING"
)

// BandType is the pass band of a linear filter.
type BandType string

const (
	LowPass    BandType = "LOW_PASS"
	HighPass   BandType = "HIGH_PASS"
	BandPass   BandType = "BAND_PASS"
	BandReject BandType = "BAND_REJECT"
)

// Usage names the filters tied to a detection workflow step.
type Usage string

const (
	UsageDetection Usage = "DETECTION"
	UsageFK        Usage = "FK"
	UsageOnset     Usage = "ONSET"
)

var (
	// ErrInvalidFilterDefinition rejects filter types the engine cannot design or apply.
	ErrInvalidFilterDefinition = errors.New("filters: invalid filter definition provided")
	// ErrNotDesigned means coefficients are missing for the needed sample rate.
	ErrNotDesigned = errors.New("filters: filter definition is not designed")
	// ErrInvalidBuffer rejects position buffers that are not x,y pairs.
	ErrInvalidBuffer = errors.New("filters: position buffer must hold x,y pairs")
)

// Parameters are the rate-specific design results. SampleRateHz of zero
// means the description has not been designed for any rate.
type Parameters struct {
	SampleRateHz          float64   `json:"sampleRateHz" yaml:"sample_rate_hz"`
	SampleRateToleranceHz float64   `json:"sampleRateToleranceHz" yaml:"sample_rate_tolerance_hz"`
	GroupDelaySec         float64   `json:"groupDelaySec" yaml:"group_delay_sec"`
	ACoefficients         []float64 `json:"aCoefficients,omitempty" yaml:"a_coefficients,omitempty"`
	BCoefficients         []float64 `json:"bCoefficients,omitempty" yaml:"b_coefficients,omitempty"`
}

// Description is either a linear IIR/FIR description or a cascade of
// linear descriptions (FilterType == TypeCascade).
type Description struct {
	FilterType         FilterType    `json:"filterType" yaml:"filter_type"`
	Comments           string        `json:"comments,omitempty" yaml:"comments,omitempty"`
	Causal             bool          `json:"causal" yaml:"causal"`
	LowFrequency       float64       `json:"lowFrequency,omitempty" yaml:"low_frequency,omitempty"`
	HighFrequency      float64       `json:"highFrequency,omitempty" yaml:"high_frequency,omitempty"`
	Order              int           `json:"order,omitempty" yaml:"order,omitempty"`
	ZeroPhase          bool          `json:"zeroPhase,omitempty" yaml:"zero_phase,omitempty"`
	PassBandType       BandType      `json:"passBandType,omitempty" yaml:"pass_band_type,omitempty"`
	Parameters         Parameters    `json:"parameters" yaml:"parameters"`
	FilterDescriptions []Description `json:"filterDescriptions,omitempty" yaml:"filter_descriptions,omitempty"`
}

// IsCascade reports whether d chains sub-descriptions.
func (d Description) IsCascade() bool {
	return d.FilterType == TypeCascade
}

// Clone deep-copies coefficients and sub-descriptions.
func (d Description) Clone() Description {
	out := d
	out.Parameters.ACoefficients = append([]float64(nil), d.Parameters.ACoefficients...)
	out.Parameters.BCoefficients = append([]float64(nil), d.Parameters.BCoefficients...)
	if d.FilterDescriptions != nil {
		out.FilterDescriptions = make([]Description, len(d.FilterDescriptions))
		for i, sub := range d.FilterDescriptions {
			out.FilterDescriptions[i] = sub.Clone()
		}
	}
	return out
}

// Definition is a named filter.
type Definition struct {
	Name              string      `json:"name" yaml:"name"`
	Comments          string      `json:"comments,omitempty" yaml:"comments,omitempty"`
	FilterDescription Description `json:"filterDescription" yaml:"filter_description"`
}

// Clone returns a deep copy of d.
func (d Definition) Clone() Definition {
	out := d
	out.FilterDescription = d.FilterDescription.Clone()
	return out
}

// Filter is one entry of a filter list.
type Filter struct {
	WithinHotKeyCycle bool        `json:"withinHotKeyCycle" yaml:"within_hot_key_cycle"`
	Unfiltered        bool        `json:"unfiltered" yaml:"unfiltered"`
	NamedFilter       Usage       `json:"namedFilter,omitempty" yaml:"named_filter,omitempty"`
	FilterDefinition  *Definition `json:"filterDefinition,omitempty" yaml:"filter_definition,omitempty"`
}

// UnfilteredFilter is the fallback filter.
var UnfilteredFilter = Filter{WithinHotKeyCycle: true, Unfiltered: true}

// Name returns the definition name, else the named filter, else Unfiltered.
func (f Filter) Name() string {
	if f.FilterDefinition != nil && f.FilterDefinition.Name != "" {
		return f.FilterDefinition.Name
	}
	if f.NamedFilter != "" {
		return string(f.NamedFilter)
	}
	return Unfiltered
}

// IsUnfiltered reports whether applying f leaves data unchanged.
func (f Filter) IsUnfiltered() bool {
	return f.Unfiltered || f.FilterDefinition == nil
}

// Purpose: Determine whether a description carries coefficients.
// Key aspects: rate <= 0 accepts any designed rate; cascades require every
// sub-description to be designed.
// Upstream: Apply, DesignFilterDefinitions.
// Downstream: None.
func IsDesigned(d Description, rate float64) bool {
	if d.IsCascade() {
		if len(d.FilterDescriptions) == 0 {
			return false
		}
		for _, sub := range d.FilterDescriptions {
			if !IsDesigned(sub, rate) {
				return false
			}
		}
		return true
	}
	p := d.Parameters
	if p.SampleRateHz <= 0 {
		return false
	}
	if rate > 0 && p.SampleRateHz != rate {
		return false
	}
	return len(p.ACoefficients) > 0 && len(p.BCoefficients) > 0
}
