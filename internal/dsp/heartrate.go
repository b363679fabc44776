package dsp

import (
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/stat"
)

// Heart-rate estimation bounds. The search band 0.5-3 Hz covers 30-180
// beats per minute; estimates are clipped to the narrower plausible
// range before reporting.
const (
	HR_MIN_SECONDS = 4   // shortest optical window worth transforming
	HR_BAND_LOW    = 0.5 // Hz, exclusive lower edge of the search band
	HR_BAND_HIGH   = 3.0 // Hz, exclusive upper edge of the search band
	HR_MIN_BPM     = 40
	HR_MAX_BPM     = 180
)

// HeartRate estimates beats per minute from an optical window sampled at
// sampleRate Hz. The window is linearly detrended, transformed, and the
// strongest spectral peak inside the cardiac band is scaled to BPM and
// clipped to the plausible range. Windows shorter than HR_MIN_SECONDS
// return 0: the spectral resolution below that is too coarse to trust.
func HeartRate(optical []float64, sampleRate float64) float64 {
	if sampleRate <= 0 || len(optical) < int(HR_MIN_SECONDS*sampleRate) {
		return 0
	}

	detrended := detrend(optical)

	fft := fourier.NewFFT(len(detrended))
	coeffs := fft.Coefficients(nil, detrended)

	var peakFreq, peakPower float64
	for i, c := range coeffs {
		freq := fft.Freq(i) * sampleRate
		if freq <= HR_BAND_LOW || freq >= HR_BAND_HIGH {
			continue
		}
		if power := cmplx.Abs(c); power > peakPower {
			peakPower = power
			peakFreq = freq
		}
	}
	if peakPower == 0 {
		return 0
	}

	bpm := peakFreq * 60
	if bpm < HR_MIN_BPM {
		bpm = HR_MIN_BPM
	} else if bpm > HR_MAX_BPM {
		bpm = HR_MAX_BPM
	}
	return bpm
}

// detrend removes the least-squares line from the series so spectral
// energy from slow baseline drift does not swamp the cardiac peak.
func detrend(data []float64) []float64 {
	xs := make([]float64, len(data))
	for i := range xs {
		xs[i] = float64(i)
	}
	alpha, beta := stat.LinearRegression(xs, data, nil, false)
	out := make([]float64, len(data))
	for i, v := range data {
		out[i] = v - (alpha + beta*float64(i))
	}
	return out
}
