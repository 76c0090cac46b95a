// Package spec contains constants for the speed-test protocol.
package spec

import "time"

const (
	// MiB is the number of bytes in one "megabyte" as used by the protocol,
	// both for transfer sizes and for the Mbit/s rate unit.
	MiB = 1 << 20

	// ChunkSize is the size of each write issued by the bulk generator.
	ChunkSize = 64 << 10

	// MinSizeMB and MaxSizeMB bound the download size requested by clients.
	// Out of range requests are clamped, never rejected.
	MinSizeMB = 1
	MaxSizeMB = 50

	// DefaultServerSizeMB is used when the sizeMb parameter is missing or
	// cannot be parsed.
	DefaultServerSizeMB = 5

	// DefaultDownloadSizeMB is the download size requested by the client.
	DefaultDownloadSizeMB = 20
	// DefaultUploadSizeMB is the upload size sent by the client.
	DefaultUploadSizeMB = 10
	// DefaultPingSamples is the number of ping round trips per probe.
	DefaultPingSamples = 7

	// DownloadPath streams bulk data to the client.
	DownloadPath = "/speed-test"
	// PingPath is the minimal echo endpoint.
	PingPath = "/speed-test/ping"
	// UploadPath accepts and discards a request body.
	UploadPath = "/speed-test/upload"
	// IPPath reports the client's address.
	IPPath = "/speed-test/ip"
	// ResultPath returns the server-side summary of a measurement.
	ResultPath = "/speed-test/result"
	// HealthPath is the liveness endpoint.
	HealthPath = "/health"

	// DefaultSessionCacheTTL is how long a measurement session is kept in
	// memory after creation before being archived.
	DefaultSessionCacheTTL = 1 * time.Minute
)

// Direction is the direction of a bulk transfer.
type Direction string

const (
	// DirectionDownload is a server to client transfer.
	DirectionDownload = Direction("download")
	// DirectionUpload is a client to server transfer.
	DirectionUpload = Direction("upload")
)

// ClampSizeMB clamps a requested download size to [MinSizeMB, MaxSizeMB].
func ClampSizeMB(sizeMB float64) float64 {
	if sizeMB < MinSizeMB {
		return MinSizeMB
	}
	if sizeMB > MaxSizeMB {
		return MaxSizeMB
	}
	return sizeMB
}

// SizeBytes returns the number of bytes corresponding to sizeMB, after
// clamping.
func SizeBytes(sizeMB float64) int64 {
	return int64(ClampSizeMB(sizeMB) * MiB)
}
