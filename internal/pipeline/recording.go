package pipeline

import (
	"github.com/BITBCI/EmoSense/internal/monitoring"
	"github.com/BITBCI/EmoSense/internal/record"
	"github.com/BITBCI/EmoSense/internal/security"
)

// StartRecording opens a CSV session that captures every sample flowing
// through the pipeline from now on. An empty path picks a timestamped
// name under the configured record directory; an explicit path must
// stay inside the record directory or the system temp directory.
// Recording is independent of the connection: it survives Disconnect
// and waits for the next source.
func (p *Pipeline) StartRecording(path string) (*record.Recorder, error) {
	p.recordMu.Lock()
	defer p.recordMu.Unlock()

	p.mu.Lock()
	open := p.recorder != nil
	p.mu.Unlock()
	if open {
		return nil, ErrAlreadyRecording
	}

	if path == "" {
		path = record.DefaultSessionPath(p.recordDir, p.clock.Now())
	} else if err := security.ValidateRecordPath(path, p.recordDir); err != nil {
		return nil, err
	}
	rec, err := record.CreateSession(path)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.recorder = rec
	p.mu.Unlock()
	p.met.SetRecording(true)
	return rec, nil
}

// StopRecording closes the open session and returns its recorder so the
// caller can read the final sample count and path. The recorder is
// returned even when the flush fails.
func (p *Pipeline) StopRecording() (*record.Recorder, error) {
	p.recordMu.Lock()
	defer p.recordMu.Unlock()

	p.mu.Lock()
	rec := p.recorder
	p.recorder = nil
	p.mu.Unlock()
	if rec == nil {
		return nil, ErrNotRecording
	}

	p.met.SetRecording(false)
	if err := rec.Stop(); err != nil {
		return rec, err
	}
	return rec, nil
}

// dropRecorder detaches and closes a session after a write failure so a
// bad disk cannot stall the consume loop sample after sample.
func (p *Pipeline) dropRecorder(rec *record.Recorder) {
	p.mu.Lock()
	if p.recorder == rec {
		p.recorder = nil
	}
	p.mu.Unlock()
	p.met.SetRecording(false)
	if err := rec.Stop(); err != nil {
		monitoring.Logf("pipeline: closing failed session: %v", err)
	}
}
