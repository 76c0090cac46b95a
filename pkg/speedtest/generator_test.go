package speedtest

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/filecatalog/speedtest/pkg/speedtest/spec"
)

// countingWriter discards data and records the sizes of the writes.
type countingWriter struct {
	total    int64
	writes   int
	maxWrite int
}

func (w *countingWriter) Write(p []byte) (int, error) {
	w.total += int64(len(p))
	w.writes++
	if len(p) > w.maxWrite {
		w.maxWrite = len(p)
	}
	return len(p), nil
}

func TestGenerator_Stream(t *testing.T) {
	tests := []struct {
		name   string
		sizeMB float64
		want   int64
	}{
		{name: "min", sizeMB: 1, want: 1048576},
		{name: "mid", sizeMB: 20, want: 20 * 1048576},
		{name: "max", sizeMB: 50, want: 50 * 1048576},
		{name: "below-range", sizeMB: 0, want: 1048576},
		{name: "negative", sizeMB: -3, want: 1048576},
		{name: "above-range", sizeMB: 500, want: 50 * 1048576},
		{name: "fractional", sizeMB: 2.5, want: 2621440},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewGenerator(spec.SizeBytes(tt.sizeMB))
			w := &countingWriter{}
			n, err := g.Stream(context.Background(), w)
			if err != nil {
				t.Fatalf("Generator.Stream() error = %v", err)
			}
			if n != tt.want || w.total != tt.want {
				t.Errorf("Generator.Stream() = %d (writer saw %d), want %d", n, w.total, tt.want)
			}
			if w.maxWrite > spec.ChunkSize {
				t.Errorf("write of %d bytes exceeds chunk size", w.maxWrite)
			}
			if !g.Done() || g.Sent() != tt.want {
				t.Errorf("generator not done after stream: sent %d", g.Sent())
			}
			// Once done, further calls write nothing.
			n, err = g.WriteTo(w)
			if n != 0 || err != nil {
				t.Errorf("Generator.WriteTo() after completion = %d, %v", n, err)
			}
		})
	}
}

// drainWriter blocks every Write until a drain signal is received, like a
// transport whose send buffer is full.
type drainWriter struct {
	writes chan []byte
	drain  chan struct{}
}

func (w *drainWriter) Write(p []byte) (int, error) {
	w.writes <- p
	<-w.drain
	return len(p), nil
}

func TestGenerator_Backpressure(t *testing.T) {
	const total = 3*spec.ChunkSize + 100
	g := NewGenerator(total)
	if cap(g.chunk) != spec.ChunkSize {
		t.Fatalf("generator holds %d bytes, want %d", cap(g.chunk), spec.ChunkSize)
	}

	w := &drainWriter{
		writes: make(chan []byte),
		drain:  make(chan struct{}),
	}
	type result struct {
		n   int64
		err error
	}
	done := make(chan result, 1)
	go func() {
		n, err := g.Stream(context.Background(), w)
		done <- result{n, err}
	}()

	var first []byte
	wantSizes := []int{spec.ChunkSize, spec.ChunkSize, spec.ChunkSize, 100}
	for i, want := range wantSizes {
		var p []byte
		select {
		case p = <-w.writes:
		case <-time.After(time.Second):
			t.Fatalf("write #%d never happened", i)
		}
		if len(p) != want {
			t.Errorf("write #%d: len = %d, want %d", i, len(p), want)
		}
		if first == nil {
			first = p
		} else if &p[0] != &first[0] {
			t.Errorf("write #%d does not reuse the chunk buffer", i)
		}
		// While the writer is blocked, nothing is accounted as sent and no
		// other write is attempted.
		if got := g.Sent(); got != int64(i*spec.ChunkSize) {
			t.Errorf("Sent() while blocked = %d, want %d", got, i*spec.ChunkSize)
		}
		select {
		case <-w.writes:
			t.Fatalf("write issued before drain signal")
		case <-time.After(20 * time.Millisecond):
		}
		w.drain <- struct{}{}
	}

	select {
	case r := <-done:
		if r.err != nil || r.n != total {
			t.Errorf("Generator.Stream() = %d, %v, want %d, nil", r.n, r.err, total)
		}
	case <-time.After(time.Second):
		t.Fatalf("stream did not terminate")
	}
}

type shortWriter struct{}

func (shortWriter) Write(p []byte) (int, error) {
	return len(p) / 2, nil
}

type failingWriter struct {
	after int
	err   error
}

func (w *failingWriter) Write(p []byte) (int, error) {
	if w.after <= 0 {
		return 0, w.err
	}
	w.after--
	return len(p), nil
}

func TestGenerator_StreamErrors(t *testing.T) {
	t.Run("short write", func(t *testing.T) {
		g := NewGenerator(spec.MiB)
		n, err := g.Stream(context.Background(), shortWriter{})
		if !errors.Is(err, io.ErrShortWrite) {
			t.Errorf("expected io.ErrShortWrite, got %v", err)
		}
		if n != spec.ChunkSize/2 {
			t.Errorf("Stream() = %d, want %d", n, spec.ChunkSize/2)
		}
	})

	t.Run("writer error", func(t *testing.T) {
		errBoom := errors.New("connection reset")
		g := NewGenerator(spec.MiB)
		n, err := g.Stream(context.Background(), &failingWriter{after: 2, err: errBoom})
		if !errors.Is(err, errBoom) {
			t.Errorf("expected %v, got %v", errBoom, err)
		}
		if n != 2*spec.ChunkSize || g.Done() {
			t.Errorf("Stream() = %d, done = %v", n, g.Done())
		}
	})

	t.Run("canceled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		g := NewGenerator(spec.MiB)
		w := &countingWriter{}
		_, err := g.Stream(ctx, w)
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
		if w.writes != 0 {
			t.Errorf("%d writes after cancellation", w.writes)
		}
	})
}

func TestNewGenerator(t *testing.T) {
	g := NewGenerator(-1)
	if g.Total() != 0 || !g.Done() {
		t.Errorf("NewGenerator(-1): total = %d, done = %v", g.Total(), g.Done())
	}
	g = NewGenerator(10)
	if cap(g.chunk) != 10 {
		t.Errorf("small generator allocated %d bytes", cap(g.chunk))
	}
}
