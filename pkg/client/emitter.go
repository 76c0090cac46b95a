package client

import (
	"fmt"
	"io"
	"os"
)

// Emitter is an interface for emitting results.
type Emitter interface {
	// OnPhase is called when the orchestrator enters a new phase.
	OnPhase(p Phase)
	// OnPingSample is called after each successful ping round trip.
	OnPingSample(seq int, rttMs float64)
	// OnProgress is called for every chunk transferred.
	OnProgress(p Progress)
	// OnResult is called when a run completes.
	OnResult(r Result)
	// OnError is called on errors.
	OnError(err error)
	// OnDebug is called to print debug information.
	OnDebug(msg string)
}

// Discard is an Emitter that ignores every event.
type Discard struct{}

func (Discard) OnPhase(Phase)             {}
func (Discard) OnPingSample(int, float64) {}
func (Discard) OnProgress(Progress)       {}
func (Discard) OnResult(Result)           {}
func (Discard) OnError(error)             {}
func (Discard) OnDebug(string)            {}

// HumanReadable prints human-readable output to Out (stdout if nil).
// It can be configured to include debug output, too.
type HumanReadable struct {
	Debug bool
	Out   io.Writer
}

func (e HumanReadable) out() io.Writer {
	if e.Out == nil {
		return os.Stdout
	}
	return e.Out
}

// OnPhase prints the phase being started.
func (e HumanReadable) OnPhase(p Phase) {
	switch p {
	case PhasePing, PhaseDownload, PhaseUpload:
		fmt.Fprintf(e.out(), "Running %s test...\n", p)
	}
}

// OnPingSample prints individual round trips in debug mode only.
func (e HumanReadable) OnPingSample(seq int, rttMs float64) {
	e.OnDebug(fmt.Sprintf("ping #%d: %.2f ms", seq, rttMs))
}

// OnProgress overwrites the current line with the transfer's progress.
func (e HumanReadable) OnProgress(p Progress) {
	line := fmt.Sprintf("\r  %s: %.1f / %.1f MB", p.Direction,
		float64(p.Bytes)/(1<<20), float64(p.Total)/(1<<20))
	if p.MbitPerSecond > 0 {
		line += fmt.Sprintf(", %.1f Mb/s, %.0fs left", p.MbitPerSecond, p.Remaining.Seconds())
	}
	if p.Bytes >= p.Total {
		line += "\n"
	}
	fmt.Fprint(e.out(), line)
}

// OnResult prints the summary of a completed run.
func (e HumanReadable) OnResult(r Result) {
	fmt.Fprintln(e.out())
	fmt.Fprintf(e.out(), "Test results:\n")
	fmt.Fprintf(e.out(), "  ping: %s ms\n", format(r.PingMs))
	fmt.Fprintf(e.out(), "  download: %s Mb/s\n", format(r.DownloadMbps))
	fmt.Fprintf(e.out(), "  upload: %s Mb/s\n", format(r.UploadMbps))
}

// OnError is called on errors.
func (e HumanReadable) OnError(err error) {
	fmt.Fprintln(e.out(), err)
}

// OnDebug is called to print debug information.
func (e HumanReadable) OnDebug(msg string) {
	if e.Debug {
		fmt.Fprintf(e.out(), "DEBUG: %s\n", msg)
	}
}

func format(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.1f", *v)
}

// Checks that HumanReadable and Discard implement Emitter.
var (
	_ Emitter = &HumanReadable{}
	_ Emitter = Discard{}
)
