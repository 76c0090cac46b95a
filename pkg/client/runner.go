package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Phase is a state of the measurement orchestrator.
type Phase string

const (
	// PhaseIdle is the state before a run and after a failed one.
	PhaseIdle = Phase("idle")
	// PhasePing is the latency probe.
	PhasePing = Phase("ping")
	// PhaseDownload is the bulk download.
	PhaseDownload = Phase("download")
	// PhaseUpload is the bulk upload.
	PhaseUpload = Phase("upload")
	// PhaseDone is the state after a successful run.
	PhaseDone = Phase("done")
)

// ErrRunActive is returned by Run when another run is in progress.
var ErrRunActive = errors.New("a measurement run is already active")

// Measurer runs the individual phases of a measurement.
type Measurer interface {
	// Ping returns the median round-trip time in milliseconds.
	Ping(ctx context.Context) (float64, error)
	// Download returns the download rate in Mbit/s.
	Download(ctx context.Context) (float64, error)
	// Upload returns the upload rate in Mbit/s.
	Upload(ctx context.Context) (float64, error)
}

// Result is the outcome of a run. A field is nil until its phase completes
// successfully.
type Result struct {
	PingMs       *float64 `json:",omitempty"`
	DownloadMbps *float64 `json:",omitempty"`
	UploadMbps   *float64 `json:",omitempty"`

	StartTime time.Time
	EndTime   time.Time
}

// Runner sequences the ping, download and upload phases. Phases never run
// concurrently and only one run may be active at a time.
type Runner struct {
	measurer     Measurer
	emitter      Emitter
	phaseTimeout time.Duration

	active  atomic.Bool
	phaseMu sync.Mutex
	phase   Phase
}

// NewRunner returns an idle Runner. A positive phaseTimeout bounds each
// phase; zero disables the timeout.
func NewRunner(m Measurer, emitter Emitter, phaseTimeout time.Duration) *Runner {
	if emitter == nil {
		emitter = Discard{}
	}
	return &Runner{
		measurer:     m,
		emitter:      emitter,
		phaseTimeout: phaseTimeout,
		phase:        PhaseIdle,
	}
}

// Active reports whether a run is in progress. Callers can use it to
// disable starting a new run.
func (r *Runner) Active() bool {
	return r.active.Load()
}

// Phase returns the current phase.
func (r *Runner) Phase() Phase {
	r.phaseMu.Lock()
	defer r.phaseMu.Unlock()
	return r.phase
}

func (r *Runner) setPhase(p Phase) {
	r.phaseMu.Lock()
	r.phase = p
	r.phaseMu.Unlock()
	r.emitter.OnPhase(p)
}

// Run executes ping, download and upload in this order. The first failure
// aborts the run: the returned Result holds the values of the phases that
// completed, later phases are not attempted and the Runner goes back to
// idle. Cancelling ctx aborts the current phase.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	if !r.active.CompareAndSwap(false, true) {
		return nil, ErrRunActive
	}
	defer r.active.Store(false)

	result := &Result{StartTime: time.Now()}
	phases := []struct {
		phase Phase
		run   func(context.Context) (float64, error)
		dst   **float64
	}{
		{PhasePing, r.measurer.Ping, &result.PingMs},
		{PhaseDownload, r.measurer.Download, &result.DownloadMbps},
		{PhaseUpload, r.measurer.Upload, &result.UploadMbps},
	}
	for _, p := range phases {
		r.setPhase(p.phase)
		v, err := r.runPhase(ctx, p.run)
		if err != nil {
			result.EndTime = time.Now()
			r.setPhase(PhaseIdle)
			err = fmt.Errorf("%s phase: %w", p.phase, err)
			r.emitter.OnError(err)
			return result, err
		}
		*p.dst = &v
	}
	result.EndTime = time.Now()
	r.setPhase(PhaseDone)
	r.emitter.OnResult(*result)
	return result, nil
}

func (r *Runner) runPhase(ctx context.Context,
	run func(context.Context) (float64, error)) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if r.phaseTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.phaseTimeout)
		defer cancel()
	}
	return run(ctx)
}
