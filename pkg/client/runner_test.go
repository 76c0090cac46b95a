package client

import (
	"context"
	"errors"
	"testing"
	"time"
)

// fakeMeasurer returns canned values and records which phases ran.
type fakeMeasurer struct {
	ping, download, upload          float64
	pingErr, downloadErr, uploadErr error

	// block, if not nil, makes Ping wait until it is closed.
	block chan struct{}

	calls []Phase
}

func (m *fakeMeasurer) Ping(ctx context.Context) (float64, error) {
	m.calls = append(m.calls, PhasePing)
	if m.block != nil {
		<-m.block
	}
	return m.ping, m.pingErr
}

func (m *fakeMeasurer) Download(ctx context.Context) (float64, error) {
	m.calls = append(m.calls, PhaseDownload)
	return m.download, m.downloadErr
}

func (m *fakeMeasurer) Upload(ctx context.Context) (float64, error) {
	m.calls = append(m.calls, PhaseUpload)
	return m.upload, m.uploadErr
}

func TestRunner_Run(t *testing.T) {
	t.Run("phases run in order", func(t *testing.T) {
		m := &fakeMeasurer{ping: 12, download: 80, upload: 40}
		rec := &recorder{}
		r := NewRunner(m, rec, 0)
		res, err := r.Run(context.Background())
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if *res.PingMs != 12 || *res.DownloadMbps != 80 || *res.UploadMbps != 40 {
			t.Errorf("unexpected result: %+v", res)
		}
		want := []Phase{PhasePing, PhaseDownload, PhaseUpload, PhaseDone}
		if len(rec.phases) != len(want) {
			t.Fatalf("phases = %v, want %v", rec.phases, want)
		}
		for i := range want {
			if rec.phases[i] != want[i] {
				t.Errorf("phases = %v, want %v", rec.phases, want)
				break
			}
		}
		if r.Phase() != PhaseDone || r.Active() {
			t.Errorf("runner in phase %s, active=%v", r.Phase(), r.Active())
		}
		if res.EndTime.Before(res.StartTime) {
			t.Errorf("EndTime before StartTime")
		}
	})

	t.Run("failing download skips upload", func(t *testing.T) {
		downloadErr := errors.New("connection reset")
		m := &fakeMeasurer{ping: 12, downloadErr: downloadErr}
		rec := &recorder{}
		r := NewRunner(m, rec, 0)
		res, err := r.Run(context.Background())
		if !errors.Is(err, downloadErr) {
			t.Fatalf("Run() error = %v, want %v", err, downloadErr)
		}
		for _, c := range m.calls {
			if c == PhaseUpload {
				t.Errorf("upload phase ran after a failed download")
			}
		}
		if res.PingMs == nil || *res.PingMs != 12 {
			t.Errorf("ping result not kept: %+v", res)
		}
		if res.DownloadMbps != nil || res.UploadMbps != nil {
			t.Errorf("later results should be unset: %+v", res)
		}
		if r.Phase() != PhaseIdle || r.Active() {
			t.Errorf("runner in phase %s, active=%v", r.Phase(), r.Active())
		}
		if len(rec.errs) != 1 || len(rec.results) != 0 {
			t.Errorf("emitted %d errors and %d results", len(rec.errs), len(rec.results))
		}
	})

	t.Run("concurrent run is rejected", func(t *testing.T) {
		m := &fakeMeasurer{block: make(chan struct{})}
		r := NewRunner(m, nil, 0)
		done := make(chan error)
		go func() {
			_, err := r.Run(context.Background())
			done <- err
		}()
		for !r.Active() {
			time.Sleep(time.Millisecond)
		}
		if _, err := r.Run(context.Background()); !errors.Is(err, ErrRunActive) {
			t.Errorf("second Run() error = %v, want ErrRunActive", err)
		}
		close(m.block)
		if err := <-done; err != nil {
			t.Errorf("first Run() error = %v", err)
		}
		if r.Active() {
			t.Errorf("runner still active")
		}
	})

	t.Run("cancelled context aborts before the first phase", func(t *testing.T) {
		m := &fakeMeasurer{}
		r := NewRunner(m, nil, 0)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		res, err := r.Run(ctx)
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run() error = %v, want context.Canceled", err)
		}
		if len(m.calls) != 0 || res.PingMs != nil {
			t.Errorf("phases ran with a cancelled context: %v", m.calls)
		}
	})
}

// slowMeasurer waits for its context in every phase.
type slowMeasurer struct{}

func (slowMeasurer) Ping(ctx context.Context) (float64, error) {
	<-ctx.Done()
	return 0, ctx.Err()
}

func (slowMeasurer) Download(ctx context.Context) (float64, error) { return 0, nil }
func (slowMeasurer) Upload(ctx context.Context) (float64, error)   { return 0, nil }

func TestRunner_phaseTimeout(t *testing.T) {
	r := NewRunner(slowMeasurer{}, nil, 10*time.Millisecond)
	_, err := r.Run(context.Background())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Run() error = %v, want context.DeadlineExceeded", err)
	}
}
