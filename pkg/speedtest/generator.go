// Package speedtest implements the server side of the speed-test protocol:
// a bulk generator that streams a fixed number of bytes and a sink that
// discards an inbound stream while counting it.
package speedtest

import (
	"context"
	"io"
	"sync/atomic"

	"github.com/filecatalog/speedtest/pkg/speedtest/spec"
)

// Generator streams a fixed number of zero bytes in spec.ChunkSize writes.
//
// The generator keeps a single chunk buffer for its whole lifetime and an
// explicit (sent, total) state. Each write blocks until the destination
// accepts it, so a slow consumer suspends the generator instead of making it
// buffer data: resuming continues from the current offset.
type Generator struct {
	chunk []byte
	total int64
	sent  atomic.Int64
}

// NewGenerator returns a Generator for total bytes. A negative total is
// treated as zero.
func NewGenerator(total int64) *Generator {
	if total < 0 {
		total = 0
	}
	size := int64(spec.ChunkSize)
	if total < size {
		size = total
	}
	return &Generator{
		chunk: make([]byte, size),
		total: total,
	}
}

// Total returns the number of bytes this generator will emit.
func (g *Generator) Total() int64 {
	return g.total
}

// Sent returns the number of bytes accepted by the destination so far.
// It is safe to call concurrently with Stream.
func (g *Generator) Sent() int64 {
	return g.sent.Load()
}

// Done reports whether all the bytes have been written.
func (g *Generator) Done() bool {
	return g.sent.Load() >= g.total
}

// next returns the slice to write at the current offset. It is always a
// prefix of the shared chunk buffer.
func (g *Generator) next() []byte {
	remaining := g.total - g.sent.Load()
	if remaining >= int64(len(g.chunk)) {
		return g.chunk
	}
	return g.chunk[:remaining]
}

// Stream writes the remaining bytes to w, one chunk per Write call. It stops
// early if ctx is done or if w returns an error, and returns the number of
// bytes written by this call. A Write that accepts fewer bytes than offered
// without an error is reported as io.ErrShortWrite.
func (g *Generator) Stream(ctx context.Context, w io.Writer) (int64, error) {
	var written int64
	for !g.Done() {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		buf := g.next()
		n, err := w.Write(buf)
		if n > 0 {
			g.sent.Add(int64(n))
			written += int64(n)
		}
		if err != nil {
			return written, err
		}
		if n != len(buf) {
			return written, io.ErrShortWrite
		}
	}
	return written, nil
}

// WriteTo implements io.WriterTo.
func (g *Generator) WriteTo(w io.Writer) (int64, error) {
	return g.Stream(context.Background(), w)
}

var _ io.WriterTo = &Generator{}
