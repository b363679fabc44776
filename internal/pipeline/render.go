package pipeline

import (
	"time"

	"github.com/BITBCI/EmoSense/internal/dsp"
	"github.com/BITBCI/EmoSense/internal/frame"
)

// RenderSnapshot is one display-ready view of the trailing signal
// window: de-meaned, band-passed, and scaled traces plus the derived
// heart rate and head orientation. Snapshots are value types; consumers
// may hold them as long as they like.
type RenderSnapshot struct {
	At         time.Time `json:"at"`
	Source     string    `json:"source,omitempty"`
	Hardware   bool      `json:"hardware"`
	SampleRate float64   `json:"sample_rate"`
	Count      int       `json:"count"`

	// Elapsed holds per-sample seconds since the window start; the
	// trace slices are index-aligned with it.
	Elapsed    []float64    `json:"elapsed"`
	Neural     []float64    `json:"neural"`
	OpticalRed []float64    `json:"optical_red"`
	OpticalIR  []float64    `json:"optical_ir"`
	Quaternion [4][]float64 `json:"quaternion"`

	Euler     frame.EulerAngles `json:"euler"`
	HeartRate float64           `json:"heart_rate_bpm"`
}

// renderTick builds a fresh snapshot, publishes it to subscribers, and
// refreshes the gauges that track the tick.
func (p *Pipeline) renderTick() {
	p.mu.Lock()
	act := p.active
	p.mu.Unlock()

	snap := p.buildSnapshot(act)

	p.mu.Lock()
	p.last = &snap
	for _, ch := range p.subs {
		select {
		case ch <- snap:
		default:
			// Slow consumer: replace the stale snapshot with the
			// current one rather than queueing history.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
	p.mu.Unlock()

	p.met.SetBufferFill(p.ring.Len())
	p.met.SetHeartRate(snap.HeartRate)
	p.syncSourceCounters(act)
}

// buildSnapshot runs the display chain over the trailing window: de-mean
// and band-pass the biosignal traces, divide hardware codes down to
// display units, smooth the quaternion, and estimate heart rate from the
// filtered red channel.
func (p *Pipeline) buildSnapshot(act *active) RenderSnapshot {
	snap := RenderSnapshot{
		At:         p.clock.Now(),
		SampleRate: p.ring.SampleRate(),
	}
	if act != nil {
		snap.Source = act.src.Name()
		snap.Hardware = act.src.Hardware()
	}

	n := int(DISPLAY_WINDOW.Seconds() * p.ring.SampleRate())
	samples := p.ring.Latest(n)
	snap.Count = len(samples)
	if len(samples) == 0 {
		return snap
	}

	base := samples[0].Timestamp
	elapsed := make([]float64, len(samples))
	neural := make([]float64, len(samples))
	red := make([]float64, len(samples))
	ir := make([]float64, len(samples))
	var quat [4][]float64
	for i := range quat {
		quat[i] = make([]float64, len(samples))
	}
	for i, s := range samples {
		elapsed[i] = s.Timestamp.Sub(base).Seconds()
		neural[i] = float64(s.NeuralRaw)
		red[i] = float64(s.OpticalRed)
		ir[i] = float64(s.OpticalIR)
		for j := 0; j < 4; j++ {
			quat[j][i] = float64(s.Orientation[j])
		}
	}

	neural = p.neuralFilter.Apply(dsp.Demean(neural))
	red = p.opticalFilter.Apply(dsp.Demean(red))
	ir = p.opticalFilter.Apply(dsp.Demean(ir))
	if snap.Hardware {
		scale(neural, 1/p.eegScale)
		scale(red, 1/p.ppgScale)
		scale(ir, 1/p.ppgScale)
	}
	for j := range quat {
		quat[j] = dsp.MovingAverage(dsp.Demean(quat[j]), quatSmoothWindow)
	}

	snap.Elapsed = elapsed
	snap.Neural = neural
	snap.OpticalRed = red
	snap.OpticalIR = ir
	snap.Quaternion = quat
	snap.HeartRate = dsp.HeartRate(red, p.ring.SampleRate())
	snap.Euler = frame.OrientationEuler(samples[len(samples)-1].Orientation)
	return snap
}

func scale(x []float64, k float64) {
	for i := range x {
		x[i] *= k
	}
}

// Subscribe registers a render snapshot consumer. The channel holds one
// snapshot; a consumer that falls behind sees the latest, not a backlog.
// The returned cancel function is idempotent and closes the channel.
func (p *Pipeline) Subscribe() (<-chan RenderSnapshot, func()) {
	ch := make(chan RenderSnapshot, 1)

	p.mu.Lock()
	if p.subsClosed {
		p.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := p.nextSub
	p.nextSub++
	p.subs[id] = ch
	p.mu.Unlock()

	cancel := func() {
		p.mu.Lock()
		if _, ok := p.subs[id]; ok {
			delete(p.subs, id)
			close(ch)
		}
		p.mu.Unlock()
	}
	return ch, cancel
}

// LastSnapshot returns the most recent render snapshot, if one exists.
func (p *Pipeline) LastSnapshot() (RenderSnapshot, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last == nil {
		return RenderSnapshot{}, false
	}
	return *p.last, true
}
