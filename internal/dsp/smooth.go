package dsp

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/interp"
	"gonum.org/v1/gonum/mat"
)

// Default parameters for the auxiliary smoothing stages. All of them are
// optional transforms the render path composes on demand.
const (
	MEDIAN_KERNEL      = 5  // impulse-rejection window, must be odd
	GAUSSIAN_SIGMA     = 2  // standard deviation of the smoothing kernel, in samples
	GAUSSIAN_MIN_INPUT = 10 // below this the smoother is a no-op
	SAVGOL_WINDOW      = 21 // Savitzky-Golay window length
	SAVGOL_POLYORDER   = 3  // Savitzky-Golay polynomial order
	RESAMPLE_MIN_INPUT = 10 // minimum points for spline resampling
)

// Median applies a sliding-window median of the given odd kernel size,
// removing impulse spikes while leaving edges intact. Positions within
// half a kernel of either end see zeros beyond the boundary. Inputs
// shorter than the kernel come back as an unmodified copy.
func Median(data []float64, kernel int) []float64 {
	if kernel%2 == 0 {
		kernel++
	}
	out := make([]float64, len(data))
	copy(out, data)
	if kernel < 3 || len(data) < kernel {
		return out
	}

	h := kernel / 2
	window := make([]float64, kernel)
	for i := range data {
		for k := 0; k < kernel; k++ {
			j := i - h + k
			if j < 0 || j >= len(data) {
				window[k] = 0
			} else {
				window[k] = data[j]
			}
		}
		sort.Float64s(window)
		out[i] = window[h]
	}
	return out
}

// GaussianSmooth convolves the input with a normalized Gaussian kernel
// of the given sigma. The kernel spans six sigmas rounded up to odd.
// Samples beyond the boundaries count as zero, so the ends taper; the
// render path de-means first, which keeps the taper artifact small.
func GaussianSmooth(data []float64, sigma float64) []float64 {
	out := make([]float64, len(data))
	copy(out, data)
	if sigma <= 0 || len(data) < GAUSSIAN_MIN_INPUT {
		return out
	}

	size := int(6 * sigma)
	if size%2 == 0 {
		size++
	}
	h := size / 2
	kernel := make([]float64, size)
	var sum float64
	for i := range kernel {
		x := float64(i - h)
		kernel[i] = math.Exp(-(x * x) / (2 * sigma * sigma))
		sum += kernel[i]
	}
	for i := range kernel {
		kernel[i] /= sum
	}

	for i := range data {
		var acc float64
		for d := -h; d <= h; d++ {
			j := i - d
			if j < 0 || j >= len(data) {
				continue
			}
			acc += kernel[h+d] * data[j]
		}
		out[i] = acc
	}
	return out
}

// SavitzkyGolay smooths by least-squares polynomial fitting over a
// sliding window, which preserves peak shape and width far better than
// a plain moving average. Interior points use the precomputed center
// weights; the first and last half-windows evaluate the polynomial
// fitted to the terminal window at their own positions, so a signal
// that is exactly polynomial passes through unchanged end to end.
// Inputs shorter than the window come back as an unmodified copy.
func SavitzkyGolay(data []float64, window, polyorder int) []float64 {
	if window%2 == 0 {
		window++
	}
	out := make([]float64, len(data))
	copy(out, data)
	if polyorder < 0 || polyorder >= window || len(data) < window {
		return out
	}

	h := window / 2
	terms := polyorder + 1

	// Vandermonde design matrix over positions -h..h.
	v := mat.NewDense(window, terms, nil)
	for i := 0; i < window; i++ {
		x := float64(i - h)
		p := 1.0
		for j := 0; j < terms; j++ {
			v.Set(i, j, p)
			p *= x
		}
	}

	// Pseudo-inverse (VᵀV)⁻¹Vᵀ maps a window of samples to fitted
	// polynomial coefficients.
	var vtv mat.Dense
	vtv.Mul(v.T(), v)
	var inv mat.Dense
	if err := inv.Inverse(&vtv); err != nil {
		return out
	}
	var pinv mat.Dense
	pinv.Mul(&inv, v.T())

	// Interior: the smoothed value is the fitted constant term, a fixed
	// convolution with row 0 of the pseudo-inverse.
	for i := h; i < len(data)-h; i++ {
		var acc float64
		for k := 0; k < window; k++ {
			acc += pinv.At(0, k) * data[i-h+k]
		}
		out[i] = acc
	}

	// Edges: fit once per end, evaluate the polynomial at each edge
	// position.
	evalPoly := func(beta []float64, x float64) float64 {
		var acc float64
		p := 1.0
		for _, b := range beta {
			acc += b * p
			p *= x
		}
		return acc
	}
	beta := make([]float64, terms)
	fitWindow := func(start int) {
		for j := 0; j < terms; j++ {
			var acc float64
			for k := 0; k < window; k++ {
				acc += pinv.At(j, k) * data[start+k]
			}
			beta[j] = acc
		}
	}

	fitWindow(0)
	for i := 0; i < h; i++ {
		out[i] = evalPoly(beta, float64(i-h))
	}
	fitWindow(len(data) - window)
	for i := len(data) - h; i < len(data); i++ {
		out[i] = evalPoly(beta, float64(i-(len(data)-1-h)))
	}
	return out
}

// ResampleUniform interpolates irregularly timestamped samples onto a
// uniform grid at targetRate Hz using a natural cubic spline, removing
// acquisition jitter before spectral stages. The grid spans the input's
// own time range. Inputs that are too short, too brief, or not strictly
// increasing in time come back unchanged.
func ResampleUniform(timestamps, data []float64, targetRate float64) ([]float64, []float64) {
	if len(timestamps) != len(data) || len(timestamps) < RESAMPLE_MIN_INPUT || targetRate <= 0 {
		return timestamps, data
	}
	duration := timestamps[len(timestamps)-1] - timestamps[0]
	if duration <= 0 {
		return timestamps, data
	}
	num := int(duration * targetRate)
	if num < RESAMPLE_MIN_INPUT {
		return timestamps, data
	}
	for i := 1; i < len(timestamps); i++ {
		if timestamps[i] <= timestamps[i-1] {
			return timestamps, data
		}
	}

	var spline interp.NaturalCubic
	if err := spline.Fit(timestamps, data); err != nil {
		return timestamps, data
	}

	t0 := timestamps[0]
	step := duration / float64(num-1)
	outT := make([]float64, num)
	outD := make([]float64, num)
	for i := range outT {
		t := t0 + float64(i)*step
		if i == num-1 {
			t = timestamps[len(timestamps)-1]
		}
		outT[i] = t
		outD[i] = spline.Predict(t)
	}
	return outT, outD
}

// MovingAverage applies a centered boxcar of the given width, used to
// quiet the orientation traces. Positions beyond the boundaries count
// as zero. Inputs shorter than the window come back as a copy.
func MovingAverage(data []float64, window int) []float64 {
	out := make([]float64, len(data))
	copy(out, data)
	if window < 2 || len(data) < window {
		return out
	}
	h := window / 2
	w := 1.0 / float64(window)
	for i := range data {
		var acc float64
		for d := -h; d <= window-h-1; d++ {
			j := i + d
			if j < 0 || j >= len(data) {
				continue
			}
			acc += data[j]
		}
		out[i] = acc * w
	}
	return out
}

// Demean subtracts the arithmetic mean, returning a new slice. Empty
// input yields an empty slice.
func Demean(data []float64) []float64 {
	out := make([]float64, len(data))
	if len(data) == 0 {
		return out
	}
	var sum float64
	for _, v := range data {
		sum += v
	}
	mean := sum / float64(len(data))
	for i, v := range data {
		out[i] = v - mean
	}
	return out
}

// Mean returns the arithmetic mean, or 0 for empty input.
func Mean(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	var sum float64
	for _, v := range data {
		sum += v
	}
	return sum / float64(len(data))
}
