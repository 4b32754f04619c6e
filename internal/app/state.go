package app

import (
	"context"

	"github.com/idanyas/speedcheck/internal/data"
)

type Phase string

const (
	PhaseIdle     Phase = "idle"
	PhaseLatency  Phase = "latency"
	PhaseDownload Phase = "download"
	PhaseUpload   Phase = "upload"
	PhaseComplete Phase = "complete"
	PhaseFailed   Phase = "failed"
)

// Running reports whether a probe is in progress.
func (p Phase) Running() bool {
	return p == PhaseLatency || p == PhaseDownload || p == PhaseUpload
}

// State is a snapshot of a run as seen by the presentation layer.
type State struct {
	Phase    Phase
	Message  string
	Progress float64
	Results  data.Results
	Err      string
}

// tracker owns the state of one run and publishes every change.
type tracker struct {
	ctx     context.Context
	updates chan<- State
	state   State
}

func (t *tracker) emit() {
	if t.updates == nil {
		return
	}
	select {
	case t.updates <- t.state:
	case <-t.ctx.Done():
	}
}

func (t *tracker) enter(phase Phase, message string) {
	t.state.Phase = phase
	t.state.Message = message
	t.emit()
}

// advance moves progress forward; it never goes back within a run.
func (t *tracker) advance(p float64) {
	if p > 100 {
		p = 100
	}
	if p > t.state.Progress {
		t.state.Progress = p
	}
	t.emit()
}

// band maps a probe's 0..1 sub-progress onto [from, to].
func (t *tracker) band(from, to float64) func(float64) {
	return func(p float64) {
		t.advance(from + p*(to-from))
	}
}
