package simulate

import (
	"math"
	"testing"
	"time"

	"github.com/BITBCI/EmoSense/internal/dsp"
	"github.com/BITBCI/EmoSense/internal/frame"
)

func TestPulseTemplateShape(t *testing.T) {
	if v := PulseTemplate(0); v != 0 {
		t.Errorf("Template at 0 = %v, want 0", v)
	}
	if v := PulseTemplate(0.075); math.Abs(v-0.5) > 1e-12 {
		t.Errorf("Mid-rise = %v, want 0.5", v)
	}

	// Continuity at the piece boundaries.
	for _, p := range []float64{0.15, 0.35, 0.45} {
		below := PulseTemplate(p - 1e-9)
		at := PulseTemplate(p)
		if math.Abs(below-at) > 1e-6 {
			t.Errorf("Discontinuity at %v: %v vs %v", p, below, at)
		}
	}

	// The systolic peak is 1, the dicrotic bump peaks at 0.45.
	if v := PulseTemplate(0.15); math.Abs(v-1) > 1e-12 {
		t.Errorf("Systolic peak = %v, want 1", v)
	}
	if v := PulseTemplate(0.40); math.Abs(v-0.45) > 1e-12 {
		t.Errorf("Dicrotic peak = %v, want 0.45", v)
	}

	// Monotonic decay after the dicrotic wave, bounded in [0,1].
	prev := PulseTemplate(0.45)
	for p := 0.46; p < 1.0; p += 0.01 {
		v := PulseTemplate(p)
		if v > prev {
			t.Fatalf("Decay not monotone at %v: %v > %v", p, v, prev)
		}
		prev = v
	}
	for p := 0.0; p < 1.0; p += 0.001 {
		if v := PulseTemplate(p); v < 0 || v > 1 {
			t.Fatalf("Template out of range at %v: %v", p, v)
		}
	}
}

func TestAlphaWave(t *testing.T) {
	if v := AlphaWave(0, 10); v != 0 {
		t.Errorf("Alpha at t=0 = %v, want 0", v)
	}
	// 10 Hz fundamental + 20 Hz + 5 Hz repeats every 0.2 s.
	for _, tt := range []float64{0.013, 0.117, 0.161} {
		a, b := AlphaWave(tt, 10), AlphaWave(tt+0.2, 10)
		if math.Abs(a-b) > 1e-9 {
			t.Errorf("Alpha not periodic at %v: %v vs %v", tt, a, b)
		}
	}
	for tt := 0.0; tt < 1.0; tt += 0.001 {
		if v := math.Abs(AlphaWave(tt, 10)); v > 1.4 {
			t.Fatalf("Alpha amplitude %v at t=%v", v, tt)
		}
	}
}

func TestGeneratorDeterministic(t *testing.T) {
	start := time.Unix(1700000000, 0)
	a := NewGenerator(Config{Seed: 42}, start).Next(200)
	b := NewGenerator(Config{Seed: 42}, start).Next(200)
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("Seeded runs diverge at sample %d", i)
		}
	}

	c := NewGenerator(Config{Seed: 43}, start).Next(200)
	same := true
	for i := range a {
		if a[i].OpticalRed != c[i].OpticalRed {
			same = false
			break
		}
	}
	if same {
		t.Error("Different seeds produced identical optical noise")
	}
}

func TestGeneratorTimestamps(t *testing.T) {
	start := time.Unix(1700000000, 0)
	g := NewGenerator(Config{Seed: 1}, start)

	first := g.Next(10)
	rest := g.Next(5)
	all := append(first, rest...)

	if !all[0].Timestamp.Equal(start) {
		t.Errorf("First timestamp %v, want %v", all[0].Timestamp, start)
	}
	for i := 1; i < len(all); i++ {
		step := all[i].Timestamp.Sub(all[i-1].Timestamp)
		if step != 2*time.Millisecond {
			t.Fatalf("Step %d = %v, want 2ms", i, step)
		}
	}
}

func TestGeneratorNeuralRange(t *testing.T) {
	g := NewGenerator(Config{Seed: 7}, time.Unix(0, 0))
	samples := g.Next(1000)

	sawPositive, sawNegative := false, false
	for i, s := range samples {
		v := int32(s.NeuralRaw)
		if v > 32767 {
			v -= 65536
		}
		if v > 1700 || v < -1700 {
			t.Fatalf("Sample %d neural code %d outside synthetic range", i, v)
		}
		if v > 100 {
			sawPositive = true
		}
		if v < -100 {
			sawNegative = true
		}
	}
	if !sawPositive || !sawNegative {
		t.Error("Neural trace did not swing both ways")
	}
}

func TestGeneratorOpticalChannels(t *testing.T) {
	g := NewGenerator(Config{Seed: 7}, time.Unix(0, 0))
	samples := g.Next(2000)

	var redSum, irSum float64
	for _, s := range samples {
		if s.OpticalRed == 0 || s.OpticalRed >= opticalMax {
			t.Fatal("Red channel clipped")
		}
		redSum += float64(s.OpticalRed)
		irSum += float64(s.OpticalIR)
	}
	ratio := redSum / irSum
	want := redGain / irGain
	if math.Abs(ratio-want) > want*0.05 {
		t.Errorf("Red/IR mean ratio %v, want about %v", ratio, want)
	}
}

func TestGeneratorOrientation(t *testing.T) {
	g := NewGenerator(Config{Seed: 7}, time.Unix(0, 0))
	s := g.Next(1)[0]

	// Raw quaternion should be unit-norm at the chosen scale.
	var norm float64
	for _, c := range s.Orientation {
		norm += float64(c) * float64(c)
	}
	norm = math.Sqrt(norm)
	if math.Abs(norm-orientationScale) > 4 {
		t.Errorf("Quaternion norm %v, want %v", norm, float64(orientationScale))
	}

	// At t=0 the drift model has roll 0, yaw 0, pitch 0.08*sin(1).
	e := frame.OrientationEuler(s.Orientation)
	wantPitch := 0.08 * math.Sin(1)
	if math.Abs(e.Roll) > 1e-6 || math.Abs(e.Yaw) > 1e-6 {
		t.Errorf("Roll/yaw at t=0 = %v/%v, want 0/0", e.Roll, e.Yaw)
	}
	if math.Abs(e.Pitch-wantPitch) > 1e-6 {
		t.Errorf("Pitch at t=0 = %v, want %v", e.Pitch, wantPitch)
	}
}

// TestHeartRateRoundTrip closes the loop: the synthetic pulse at 75 BPM
// must be recovered by the spectral estimator from the red channel.
func TestHeartRateRoundTrip(t *testing.T) {
	g := NewGenerator(Config{HeartRate: 75, Seed: 11}, time.Unix(0, 0))
	samples := g.Next(4000) // 8 seconds at 500 Hz

	red := make([]float64, len(samples))
	for i, s := range samples {
		red[i] = float64(s.OpticalRed)
	}

	bpm := dsp.HeartRate(red, DEFAULT_SAMPLE_RATE)
	if math.Abs(bpm-75) > 2 {
		t.Errorf("Recovered %v BPM from a 75 BPM pulse", bpm)
	}
}
