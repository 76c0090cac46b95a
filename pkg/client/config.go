package client

import (
	"time"
)

// Config is the configuration for a Client.
type Config struct {
	// Server is the host[:port] of the server to connect to.
	Server string

	// Scheme is the URL scheme used to connect to the server (http or https).
	Scheme string

	// BasePath is prepended to every endpoint path. It is useful when the
	// server runs behind a reverse proxy that mounts it under a prefix
	// such as "/api".
	BasePath string

	// PingSamples is the number of round trips used by the latency prober.
	PingSamples int

	// DownloadSizeMB is the size requested for the download phase. The
	// server clamps it to [1, 50].
	DownloadSizeMB int

	// UploadSizeMB is the size of the payload sent in the upload phase.
	UploadSizeMB int

	// PhaseTimeout bounds each phase of a run. Zero means no timeout.
	PhaseTimeout time.Duration

	// MeasurementID is the manually configured Measurement ID ("mid") to pass to the server.
	MeasurementID string

	// Emitter is the interface used to emit the results of the test. It can be overridden
	// to provide a custom output.
	Emitter Emitter

	// NoVerify disables the TLS certificate verification.
	NoVerify bool
}
