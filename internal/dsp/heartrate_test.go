package dsp

import (
	"math"
	"testing"
)

// TestHeartRateDetectsPulse feeds a clean 1.2 Hz tone (72 BPM) riding on
// a baseline drift and expects the drift to be ignored.
func TestHeartRateDetectsPulse(t *testing.T) {
	fs := 500.0
	n := 2500 // 5 seconds
	x := make([]float64, n)
	for i := range x {
		tt := float64(i) / fs
		x[i] = math.Sin(2*math.Pi*1.2*tt) + 50 + 3*tt // tone + offset + drift
	}

	got := HeartRate(x, fs)
	if math.Abs(got-72) > 1 {
		t.Errorf("Expected 72 BPM, got %f", got)
	}
}

// TestHeartRateWindowTooShort requires 0 when the window cannot support
// the spectral resolution.
func TestHeartRateWindowTooShort(t *testing.T) {
	fs := 500.0
	x := sine(1.2, 1, fs, int(HR_MIN_SECONDS*fs)-1)
	if got := HeartRate(x, fs); got != 0 {
		t.Errorf("Expected 0 for short window, got %f", got)
	}
	if got := HeartRate(nil, fs); got != 0 {
		t.Errorf("Expected 0 for empty input, got %f", got)
	}
	if got := HeartRate(x, 0); got != 0 {
		t.Errorf("Expected 0 for bad sample rate, got %f", got)
	}
}

// TestHeartRateClipsLow verifies a sub-40 BPM peak clips to the floor.
func TestHeartRateClipsLow(t *testing.T) {
	fs := 500.0
	x := sine(0.6, 1, fs, 2500) // 36 BPM, inside the 0.5-3 Hz search band
	if got := HeartRate(x, fs); got != HR_MIN_BPM {
		t.Errorf("Expected clip to %d BPM, got %f", HR_MIN_BPM, got)
	}
}

// TestHeartRateClipsHigh is the ceiling counterpart. A lone tone right
// at the top of the band lands above 180 BPM before clipping.
func TestHeartRateClipsHigh(t *testing.T) {
	fs := 500.0
	x := sine(2.95, 1, fs, 10000) // 177 BPM... within range
	got := HeartRate(x, fs)
	if math.Abs(got-177) > 1.5 {
		t.Errorf("Expected ~177 BPM, got %f", got)
	}

	// Push the fundamental just past the ceiling-equivalent frequency.
	// 3.1 Hz sits outside the search band, so the detector should fall
	// back to whatever in-band leakage remains rather than reporting
	// above the ceiling.
	x = sine(3.1, 1, fs, 10000)
	got = HeartRate(x, fs)
	if got > HR_MAX_BPM {
		t.Errorf("Estimate exceeded ceiling: %f", got)
	}
}

// TestHeartRateSilentInput returns 0 when the band holds no energy at
// all (identically zero input).
func TestHeartRateSilentInput(t *testing.T) {
	x := make([]float64, 2500)
	if got := HeartRate(x, 500); got != 0 {
		t.Errorf("Expected 0 for silent input, got %f", got)
	}
}

// TestHeartRateStrongestPeakWins mixes two in-band tones and expects
// the dominant one to set the estimate.
func TestHeartRateStrongestPeakWins(t *testing.T) {
	fs := 500.0
	n := 5000 // 10 s, 0.1 Hz resolution
	x := make([]float64, n)
	for i := range x {
		tt := float64(i) / fs
		x[i] = 3*math.Sin(2*math.Pi*1.0*tt) + 1*math.Sin(2*math.Pi*2.0*tt)
	}
	got := HeartRate(x, fs)
	if math.Abs(got-60) > 1 {
		t.Errorf("Expected dominant 60 BPM, got %f", got)
	}
}
