package speedtest

import (
	"context"
	"errors"
	"io"
	"sync/atomic"

	"github.com/filecatalog/speedtest/pkg/speedtest/spec"
)

// Sink consumes an inbound stream without storing it and counts the bytes
// read.
type Sink struct {
	received atomic.Int64
}

// NewSink returns an empty Sink.
func NewSink() *Sink {
	return &Sink{}
}

// Received returns the number of bytes consumed so far. It is safe to call
// concurrently with Consume.
func (s *Sink) Received() int64 {
	return s.received.Load()
}

// Consume reads r until EOF and returns the total number of bytes received
// by this sink. Read errors other than io.EOF are returned along with the
// count read before the failure, so callers never mistake a truncated stream
// for a complete one.
func (s *Sink) Consume(ctx context.Context, r io.Reader) (int64, error) {
	buf := make([]byte, spec.ChunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return s.received.Load(), err
		}
		n, err := r.Read(buf)
		if n > 0 {
			s.received.Add(int64(n))
		}
		if errors.Is(err, io.EOF) {
			return s.received.Load(), nil
		}
		if err != nil {
			return s.received.Load(), err
		}
	}
}
