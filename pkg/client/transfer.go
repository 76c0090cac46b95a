package client

import (
	"sync"
	"time"

	"github.com/filecatalog/speedtest/pkg/speedtest"
	"github.com/filecatalog/speedtest/pkg/speedtest/spec"
)

// Progress is a snapshot of a transfer in progress.
type Progress struct {
	Direction spec.Direction
	// Bytes is the number of bytes moved so far.
	Bytes int64
	// Total is the number of bytes the transfer is expected to move.
	Total int64
	// Elapsed is the time since the transfer started.
	Elapsed time.Duration
	// MbitPerSecond is the average rate so far. It is zero when not
	// reported for this direction or when no time has elapsed.
	MbitPerSecond float64
	// Remaining is the estimated time to completion at the current rate.
	// It is zero when the rate is unknown.
	Remaining time.Duration
}

// Transfer tracks one direction of a measurement run. The number of bytes
// moved is monotonic and never exceeds the target.
type Transfer struct {
	direction spec.Direction
	target    int64
	start     time.Time

	mu    sync.Mutex
	moved int64
}

// NewTransfer returns a Transfer started at start.
func NewTransfer(direction spec.Direction, target int64, start time.Time) *Transfer {
	return &Transfer{
		direction: direction,
		target:    target,
		start:     start,
	}
}

// Add records n more bytes and returns the updated count. Bytes beyond the
// target are not counted.
func (t *Transfer) Add(n int64) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n > 0 {
		t.moved += n
	}
	if t.moved > t.target {
		t.moved = t.target
	}
	return t.moved
}

// Bytes returns the number of bytes moved so far.
func (t *Transfer) Bytes() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.moved
}

// Complete reports whether the target has been reached.
func (t *Transfer) Complete() bool {
	return t.Bytes() >= t.target
}

// Rate returns the average rate in Mbit/s between the start and now.
func (t *Transfer) Rate(now time.Time) (float64, error) {
	return speedtest.MbitPerSecond(t.Bytes(), now.Sub(t.start))
}

// Progress returns a snapshot at time now. If withRate is false, the rate
// and time remaining are left unset.
func (t *Transfer) Progress(now time.Time, withRate bool) Progress {
	moved := t.Bytes()
	p := Progress{
		Direction: t.direction,
		Bytes:     moved,
		Total:     t.target,
		Elapsed:   now.Sub(t.start),
	}
	if !withRate {
		return p
	}
	rate, err := speedtest.MbitPerSecond(moved, p.Elapsed)
	if err != nil || rate == 0 {
		return p
	}
	p.MbitPerSecond = rate
	bytesPerSecond := float64(moved) / p.Elapsed.Seconds()
	p.Remaining = time.Duration(float64(t.target-moved) / bytesPerSecond * float64(time.Second))
	return p
}
