package filters

import (
	"context"
	"fmt"
	"math"
	"math/cmplx"
	"sort"

	"github.com/cwbudde/algo-dsp/dsp/filter/biquad"
	"github.com/cwbudde/algo-dsp/dsp/filter/design"
)

// realTol decides when a pole or zero is treated as real.
const realTol = 1e-10

// Designer computes coefficients for a definition whose parameters carry
// the target sample rate.
type Designer interface {
	Design(ctx context.Context, def Definition, taper int, removeGroupDelay bool) (Definition, error)
}

// ButterworthDesigner designs IIR Butterworth filters as second-order sections.
type ButterworthDesigner struct{}

// Purpose: Populate SOS coefficients for every linear description in def.
// Key aspects: Only IIR_BUTTERWORTH descriptions are supported; cascades
// design each sub-description at the cascade's sample rate.
// Upstream: worker DESIGN_FILTER op, DesignFilterDefinitions.
// Downstream: designDescription.
func (ButterworthDesigner) Design(ctx context.Context, def Definition, _ int, _ bool) (Definition, error) {
	if err := ctx.Err(); err != nil {
		return Definition{}, err
	}
	out := def.Clone()
	desc := &out.FilterDescription
	if desc.IsCascade() {
		if len(desc.FilterDescriptions) == 0 {
			return Definition{}, fmt.Errorf("%w: cascade %q has no descriptions", ErrInvalidFilterDefinition, def.Name)
		}
		for i := range desc.FilterDescriptions {
			sub := &desc.FilterDescriptions[i]
			if sub.Parameters.SampleRateHz <= 0 {
				sub.Parameters.SampleRateHz = desc.Parameters.SampleRateHz
			}
			if err := designDescription(sub); err != nil {
				return Definition{}, fmt.Errorf("design %q[%d]: %w", def.Name, i, err)
			}
		}
		return out, nil
	}
	if err := designDescription(desc); err != nil {
		return Definition{}, fmt.Errorf("design %q: %w", def.Name, err)
	}
	return out, nil
}

func designDescription(d *Description) error {
	if d.FilterType != TypeIIRButterworth {
		return fmt.Errorf("%w: type %s", ErrInvalidFilterDefinition, d.FilterType)
	}
	fs := d.Parameters.SampleRateHz
	if fs <= 0 {
		return fmt.Errorf("%w: sample rate not set", ErrInvalidFilterDefinition)
	}
	b, a, err := butterworthSOS(d.PassBandType, d.Order, d.LowFrequency, d.HighFrequency, fs)
	if err != nil {
		return err
	}
	d.Parameters.BCoefficients = b
	d.Parameters.ACoefficients = a
	return nil
}

// Purpose: Design a digital Butterworth filter in second-order sections.
// Key aspects: Low, high and band pass come from the algo-dsp cascade
// designers (band pass is a high pass at the low corner followed by a low
// pass at the high corner, each of the requested order). Band reject is not
// a series cascade of those and goes through bandStopSOS.
// Upstream: designDescription.
// Downstream: design.ButterworthLP, design.ButterworthHP, bandStopSOS.
func butterworthSOS(band BandType, order int, fl, fh, fs float64) ([]float64, []float64, error) {
	if order <= 0 {
		return nil, nil, fmt.Errorf("%w: order %d", ErrInvalidFilterDefinition, order)
	}
	nyquist := fs / 2
	check := func(f float64) error {
		if f <= 0 || f >= nyquist {
			return fmt.Errorf("%w: corner %g Hz outside (0, %g)", ErrInvalidFilterDefinition, f, nyquist)
		}
		return nil
	}
	checkBand := func() error {
		if err := check(fl); err != nil {
			return err
		}
		if err := check(fh); err != nil {
			return err
		}
		if fl >= fh {
			return fmt.Errorf("%w: low corner %g >= high corner %g", ErrInvalidFilterDefinition, fl, fh)
		}
		return nil
	}

	var sections []biquad.Coefficients
	switch band {
	case LowPass:
		if err := check(fh); err != nil {
			return nil, nil, err
		}
		sections = design.ButterworthLP(fh, order, fs)
	case HighPass:
		if err := check(fl); err != nil {
			return nil, nil, err
		}
		sections = design.ButterworthHP(fl, order, fs)
	case BandPass:
		if err := checkBand(); err != nil {
			return nil, nil, err
		}
		sections = append(design.ButterworthHP(fl, order, fs), design.ButterworthLP(fh, order, fs)...)
	case BandReject:
		if err := checkBand(); err != nil {
			return nil, nil, err
		}
		b, a := bandStopSOS(order, fl, fh, fs)
		return b, a, nil
	default:
		return nil, nil, fmt.Errorf("%w: pass band %q", ErrInvalidFilterDefinition, band)
	}
	b, a := sectionRows(sections)
	return b, a, nil
}

// sectionRows flattens biquads into sn/sd rows of three, a0 = 1.
func sectionRows(sections []biquad.Coefficients) ([]float64, []float64) {
	b := make([]float64, 0, 3*len(sections))
	a := make([]float64, 0, 3*len(sections))
	for _, c := range sections {
		b = append(b, c.B0, c.B1, c.B2)
		a = append(a, 1, c.A1, c.A2)
	}
	return b, a
}

// sectionCoefficients is the inverse of sectionRows; rows with a0 other
// than 1 are normalized.
func sectionCoefficients(b, a []float64) []biquad.Coefficients {
	out := make([]biquad.Coefficients, 0, len(b)/3)
	for s := 0; s+2 < len(b); s += 3 {
		a0 := a[s]
		if a0 == 0 {
			a0 = 1
		}
		out = append(out, biquad.Coefficients{
			B0: b[s] / a0, B1: b[s+1] / a0, B2: b[s+2] / a0,
			A1: a[s+1] / a0, A2: a[s+2] / a0,
		})
	}
	return out
}

// Purpose: Band-reject Butterworth sections.
// Key aspects: Analog prototype, low-pass to band-stop transform with
// tangent prewarping, bilinear transform, conjugate pairing. Gain rides on
// section one.
// Upstream: butterworthSOS.
// Downstream: lowpassToBandstop, bilinear, pairSections.
func bandStopSOS(order int, fl, fh, fs float64) ([]float64, []float64) {
	fs2 := 2 * fs
	warp := func(f float64) float64 { return fs2 * math.Tan(math.Pi*f/fs) }
	wl, wh := warp(fl), warp(fh)
	zeros, poles, gain := lowpassToBandstop(nil, prototypePoles(order), 1, math.Sqrt(wl*wh), wh-wl)
	zeros, poles, gain = bilinear(zeros, poles, gain, fs2)
	num := pairSections(zeros)
	den := pairSections(poles)
	b := make([]float64, 0, 3*len(num))
	a := make([]float64, 0, 3*len(den))
	for i := range num {
		sec := num[i]
		if i == 0 {
			sec = [3]float64{sec[0] * gain, sec[1] * gain, sec[2] * gain}
		}
		b = append(b, sec[:]...)
		a = append(a, den[i][:]...)
	}
	return b, a
}

func prototypePoles(order int) []complex128 {
	poles := make([]complex128, 0, order)
	for m := -order + 1; m < order; m += 2 {
		theta := math.Pi * float64(m) / float64(2*order)
		poles = append(poles, -cmplx.Exp(complex(0, theta)))
	}
	return poles
}

func lowpassToBandstop(z, p []complex128, k, wo, bw float64) ([]complex128, []complex128, float64) {
	half := complex(bw/2, 0)
	w2 := complex(wo*wo, 0)
	split := func(in []complex128) []complex128 {
		out := make([]complex128, 0, 2*len(in))
		lo := make([]complex128, 0, len(in))
		for _, v := range in {
			s := half / v
			r := cmplx.Sqrt(s*s - w2)
			out = append(out, s+r)
			lo = append(lo, s-r)
		}
		return append(out, lo...)
	}
	zo := split(z)
	po := split(p)
	degree := len(p) - len(z)
	for i := 0; i < degree; i++ {
		zo = append(zo, complex(0, wo), complex(0, -wo))
	}
	return zo, po, k * real(prodNeg(z)/prodNeg(p))
}

func bilinear(z, p []complex128, k, fs2 float64) ([]complex128, []complex128, float64) {
	f := complex(fs2, 0)
	zd := make([]complex128, 0, len(p))
	for _, v := range z {
		zd = append(zd, (f+v)/(f-v))
	}
	pd := make([]complex128, len(p))
	for i, v := range p {
		pd[i] = (f + v) / (f - v)
	}
	// Zeros at infinity land on Nyquist.
	for i := len(z); i < len(p); i++ {
		zd = append(zd, -1)
	}
	num := complex(1, 0)
	for _, v := range z {
		num *= f - v
	}
	den := complex(1, 0)
	for _, v := range p {
		den *= f - v
	}
	return zd, pd, k * real(num/den)
}

// pairSections groups roots into real quadratic factors [1, c1, c2].
// Conjugate pairs share a section, leftover reals pair up, and a final odd
// real root yields a first-order section.
func pairSections(roots []complex128) [][3]float64 {
	var reals []float64
	var upper []complex128
	for _, r := range roots {
		switch {
		case math.Abs(imag(r)) < realTol:
			reals = append(reals, real(r))
		case imag(r) > 0:
			upper = append(upper, r)
		}
	}
	sort.Slice(upper, func(i, j int) bool { return cmplx.Abs(upper[i]) < cmplx.Abs(upper[j]) })
	sort.Float64s(reals)

	sections := make([][3]float64, 0, len(upper)+(len(reals)+1)/2)
	for _, r := range upper {
		sections = append(sections, [3]float64{1, -2 * real(r), real(r)*real(r) + imag(r)*imag(r)})
	}
	for i := 0; i+1 < len(reals); i += 2 {
		a, b := reals[i], reals[i+1]
		sections = append(sections, [3]float64{1, -(a + b), a * b})
	}
	if len(reals)%2 == 1 {
		sections = append(sections, [3]float64{1, -reals[len(reals)-1], 0})
	}
	return sections
}

func prodNeg(in []complex128) complex128 {
	out := complex(1, 0)
	for _, v := range in {
		out *= -v
	}
	return out
}
