package filters

import (
	"fmt"

	"github.com/cwbudde/algo-dsp/dsp/filter/biquad"
	"gonum.org/v1/gonum/dsp/window"
)

const (
	// Interleaved position buffers hold x (time) at even indices and y at odd.
	indexOffset = 1
	indexInc    = 2
)

// Purpose: Filter the y values of an interleaved position buffer.
// Key aspects: Works on a copy; tapers first, runs each description's
// sections as one biquad chain (forward, plus a reverse pass for
// zero-phase), then optionally shifts x by the group delay.
// Upstream: worker FILTER_CHANNEL_SEGMENTS op.
// Downstream: taperValues, biquad.Chain.
func Apply(buffer []float64, def Definition, taper int, removeGroupDelay bool) ([]float64, error) {
	if len(buffer)%2 != 0 {
		return nil, ErrInvalidBuffer
	}
	desc := def.FilterDescription
	if !IsDesigned(desc, 0) {
		return nil, fmt.Errorf("%w: %q", ErrNotDesigned, def.Name)
	}
	linear := []Description{desc}
	if desc.IsCascade() {
		linear = desc.FilterDescriptions
	}
	for _, d := range linear {
		if d.FilterType != TypeIIRButterworth {
			return nil, fmt.Errorf("%w: type %s", ErrInvalidFilterDefinition, d.FilterType)
		}
		if len(d.Parameters.ACoefficients) != len(d.Parameters.BCoefficients) || len(d.Parameters.BCoefficients)%3 != 0 {
			return nil, fmt.Errorf("%w: coefficient lengths a=%d b=%d", ErrInvalidFilterDefinition,
				len(d.Parameters.ACoefficients), len(d.Parameters.BCoefficients))
		}
	}

	out := append([]float64(nil), buffer...)
	n := len(out) / indexInc
	if n == 0 {
		return out, nil
	}
	ys := make([]float64, n)
	for i := range ys {
		ys[i] = out[indexOffset+i*indexInc]
	}
	taperValues(ys, taper)

	zeroPhase := false
	for _, d := range linear {
		chain := biquad.NewChain(sectionCoefficients(d.Parameters.BCoefficients, d.Parameters.ACoefficients))
		chain.ProcessBlock(ys)
		if d.ZeroPhase {
			zeroPhase = true
			chain.Reset()
			reverse(ys)
			chain.ProcessBlock(ys)
			reverse(ys)
		}
	}
	for i, y := range ys {
		out[indexOffset+i*indexInc] = y
	}

	if removeGroupDelay && !zeroPhase {
		delay := desc.Parameters.GroupDelaySec
		if delay != 0 {
			for i := 0; i < len(out); i += indexInc {
				out[i] -= delay
			}
		}
	}
	return out, nil
}

// taperValues applies a cosine taper of taper samples to each end.
func taperValues(ys []float64, taper int) {
	n := len(ys)
	if taper <= 0 || n < 2 {
		return
	}
	alpha := 2 * float64(taper) / float64(n-1)
	if alpha > 1 {
		alpha = 1
	}
	window.Tukey{Alpha: alpha}.Transform(ys)
}

func reverse(ys []float64) {
	for i, j := 0, len(ys)-1; i < j; i, j = i+1, j-1 {
		ys[i], ys[j] = ys[j], ys[i]
	}
}
