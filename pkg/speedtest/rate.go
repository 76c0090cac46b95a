package speedtest

import (
	"errors"
	"time"

	"github.com/filecatalog/speedtest/pkg/speedtest/spec"
)

// ErrNoElapsedTime is returned when a rate is requested for a zero or
// negative duration.
var ErrNoElapsedTime = errors.New("rate undefined: no elapsed time")

// MbitPerSecond converts a byte count over elapsed into megabits per second,
// where a megabit is 1,048,576 bits: (bytes * 8) / 1,048,576 / seconds.
func MbitPerSecond(bytes int64, elapsed time.Duration) (float64, error) {
	if elapsed <= 0 {
		return 0, ErrNoElapsedTime
	}
	return float64(bytes) * 8 / spec.MiB / elapsed.Seconds(), nil
}
