// Package dsp implements the signal-conditioning stages applied to
// buffered sample windows: zero-phase Butterworth band-pass filtering,
// impulse and smoothing filters, uniform resampling, and spectral
// heart-rate estimation. Every stage degrades gracefully: inputs shorter
// than a stage's minimum window come back unchanged instead of erroring,
// so the render path works from the first sample onward.
package dsp

import (
	"fmt"
	"math"
	"math/cmplx"
)

// MIN_FILTER_WINDOW is the shortest window the band-pass stages will
// touch. Below this the forward-backward pass has more edge padding than
// signal, so the stage returns the input unchanged.
const MIN_FILTER_WINDOW = 50

// FilterSpec names a band-pass configuration in physical units.
type FilterSpec struct {
	Low   float64 // lower cutoff, Hz
	High  float64 // upper cutoff, Hz
	Order int     // Butterworth prototype order; band-pass doubles the pole count
}

// The two conditioning bands applied to live windows. Neural covers the
// conventional EEG band below the gamma range; optical brackets the
// cardiac fundamental and its first harmonics.
var (
	NeuralBand  = FilterSpec{Low: 1, High: 40, Order: 4}
	OpticalBand = FilterSpec{Low: 0.5, High: 8, Order: 4}
)

// SOS is one second-order filter section. Coefficients are normalized so
// A[0] == 1; state is kept externally so sections are safe to share.
type SOS struct {
	B [3]float64 // numerator b0, b1, b2
	A [3]float64 // denominator 1, a1, a2
}

// DesignBandPass computes the cascaded second-order sections of a
// Butterworth band-pass filter: analog prototype poles, low-pass to
// band-pass transform, then bilinear transform with frequency
// pre-warping. An order-N prototype yields N sections (2N poles). Only
// even orders are supported; the conditioning bands use order 4.
func DesignBandPass(spec FilterSpec, sampleRate float64) ([]SOS, error) {
	n := spec.Order
	if n <= 0 || n%2 != 0 {
		return nil, fmt.Errorf("band-pass order must be a positive even number, got %d", n)
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %g", sampleRate)
	}
	nyquist := sampleRate / 2
	if spec.Low <= 0 || spec.High <= spec.Low || spec.High >= nyquist {
		return nil, fmt.Errorf("band edges %g-%g Hz invalid for sample rate %g Hz", spec.Low, spec.High, sampleRate)
	}

	// Pre-warp the band edges so the bilinear transform lands the analog
	// cutoffs exactly on the requested digital frequencies.
	w1 := 2 * sampleRate * math.Tan(math.Pi*spec.Low/sampleRate)
	w2 := 2 * sampleRate * math.Tan(math.Pi*spec.High/sampleRate)
	bw := w2 - w1
	w0 := math.Sqrt(w1 * w2)

	// Butterworth prototype poles on the unit circle, upper half plane
	// only; each expands to two band-pass poles whose conjugates come for
	// free from the conjugate prototype pole.
	var digital []complex128
	fs2 := complex(2*sampleRate, 0)
	for k := 0; k < n/2; k++ {
		theta := math.Pi * float64(2*k+1) / float64(2*n)
		proto := complex(-math.Sin(theta), math.Cos(theta))

		ps := proto * complex(bw/2, 0)
		d := cmplx.Sqrt(ps*ps - complex(w0*w0, 0))
		for _, pa := range []complex128{ps + d, ps - d} {
			digital = append(digital, (fs2+pa)/(fs2-pa))
		}
	}

	// Overall gain: analog band-pass gain bw^n times the bilinear gain
	// correction. The analog zeros are n copies at s=0, contributing
	// (2*fs)^n to the numerator product; every prototype pole pair
	// contributes its conjugate, so the product over the explicit
	// upper-half poles squares to |fs2-pa|^2 per pair.
	gain := math.Pow(bw, float64(n)) * math.Pow(2*sampleRate, float64(n))
	denom := complex(1, 0)
	for k := 0; k < n/2; k++ {
		theta := math.Pi * float64(2*k+1) / float64(2*n)
		proto := complex(-math.Sin(theta), math.Cos(theta))
		ps := proto * complex(bw/2, 0)
		d := cmplx.Sqrt(ps*ps - complex(w0*w0, 0))
		for _, pa := range []complex128{ps + d, ps - d} {
			diff := fs2 - pa
			denom *= diff * cmplx.Conj(diff)
		}
	}
	gain /= real(denom)

	// Each section pairs one digital pole with its conjugate and takes
	// one zero at z=+1 (from the analog zeros at the origin) and one at
	// z=-1 (bilinear degree padding): numerator (z-1)(z+1) = z^2 - 1.
	// The full gain rides on the first section.
	sections := make([]SOS, 0, n)
	for i, pd := range digital {
		g := 1.0
		if i == 0 {
			g = gain
		}
		sections = append(sections, SOS{
			B: [3]float64{g, 0, -g},
			A: [3]float64{1, -2 * real(pd), real(pd)*real(pd) + imag(pd)*imag(pd)},
		})
	}
	return sections, nil
}

// sosFilter runs one forward pass of the cascade over x using transposed
// direct form II, starting each section from the given initial state.
// zi is [sections][2] and is consumed.
func sosFilter(sos []SOS, x []float64, zi [][2]float64) []float64 {
	y := make([]float64, len(x))
	copy(y, x)
	for si, s := range sos {
		z1, z2 := zi[si][0], zi[si][1]
		b0, b1, b2 := s.B[0], s.B[1], s.B[2]
		a1, a2 := s.A[1], s.A[2]
		for i, v := range y {
			out := b0*v + z1
			z1 = b1*v - a1*out + z2
			z2 = b2*v - a2*out
			y[i] = out
		}
		zi[si][0], zi[si][1] = z1, z2
	}
	return y
}

// stepStateScaled returns the per-section steady-state response to a
// unit step, with each section's state scaled by the DC gain of the
// sections before it. Multiplying by the first input value gives
// initial conditions that suppress the start-up transient.
func stepStateScaled(sos []SOS, x0 float64) [][2]float64 {
	zi := make([][2]float64, len(sos))
	scale := x0
	for i, s := range sos {
		dc := (s.B[0] + s.B[1] + s.B[2]) / (1 + s.A[1] + s.A[2])
		z2 := s.B[2] - s.A[2]*dc
		z1 := s.B[1] - s.A[1]*dc + z2
		zi[i][0] = z1 * scale
		zi[i][1] = z2 * scale
		scale *= dc
	}
	return zi
}

// FiltFilt applies the cascade forward and then backward, cancelling the
// phase shift of each pass. The input is extended at both ends with an
// odd reflection so the filter state is settled before it reaches real
// samples. Inputs too short to pad come back as an unmodified copy.
func FiltFilt(sos []SOS, x []float64) []float64 {
	edge := 3 * (2*len(sos) + 1)
	if len(sos) == 0 || len(x) <= edge {
		out := make([]float64, len(x))
		copy(out, x)
		return out
	}

	n := len(x)
	ext := make([]float64, 0, n+2*edge)
	for i := edge; i >= 1; i-- {
		ext = append(ext, 2*x[0]-x[i])
	}
	ext = append(ext, x...)
	for i := n - 2; i >= n-1-edge; i-- {
		ext = append(ext, 2*x[n-1]-x[i])
	}

	y := sosFilter(sos, ext, stepStateScaled(sos, ext[0]))
	reverse(y)
	y = sosFilter(sos, y, stepStateScaled(sos, y[0]))
	reverse(y)

	out := make([]float64, n)
	copy(out, y[edge:edge+n])
	return out
}

func reverse(x []float64) {
	for i, j := 0, len(x)-1; i < j; i, j = i+1, j-1 {
		x[i], x[j] = x[j], x[i]
	}
}

// BandPassFilter bundles a designed cascade with the graceful-degradation
// policy used by the render and upload paths.
type BandPassFilter struct {
	Spec      FilterSpec
	sos       []SOS
	minWindow int
}

// NewBandPass designs the cascade for spec at the given sample rate.
func NewBandPass(spec FilterSpec, sampleRate float64) (*BandPassFilter, error) {
	sos, err := DesignBandPass(spec, sampleRate)
	if err != nil {
		return nil, err
	}
	return &BandPassFilter{Spec: spec, sos: sos, minWindow: MIN_FILTER_WINDOW}, nil
}

// Apply zero-phase filters a window. Windows shorter than the minimum
// are returned as an unmodified copy so early render frames still draw.
func (f *BandPassFilter) Apply(x []float64) []float64 {
	if len(x) < f.minWindow {
		out := make([]float64, len(x))
		copy(out, x)
		return out
	}
	return FiltFilt(f.sos, x)
}

// Sections exposes the designed cascade, mainly for diagnostics.
func (f *BandPassFilter) Sections() []SOS {
	out := make([]SOS, len(f.sos))
	copy(out, f.sos)
	return out
}
