// Package model contains the JSON messages exchanged by the speed-test
// endpoints and the server-side archival format.
package model

import (
	"time"

	"github.com/m-lab/tcp-info/tcp"
)

// PingResponse is the body returned by the ping endpoint.
type PingResponse struct {
	// T is the server time in milliseconds since the Unix epoch.
	T int64 `json:"t"`
}

// UploadResponse is the body returned by the upload endpoint.
type UploadResponse struct {
	// Received is the number of request body bytes read by the server.
	Received int64 `json:"received"`
}

// IPResponse is the body returned by the IP endpoint.
type IPResponse struct {
	IP string `json:"ip"`
}

// HealthResponse is the body returned by the health endpoint.
type HealthResponse struct {
	OK bool `json:"ok"`
}

// Transfer describes one bulk transfer as observed by the server.
type Transfer struct {
	// Direction is either "download" or "upload".
	Direction string
	// UUID identifies the TCP connection the transfer ran on.
	UUID string
	// StartTime and EndTime delimit the transfer.
	StartTime time.Time
	EndTime   time.Time
	// Bytes is the number of application bytes moved.
	Bytes int64
	// TargetBytes is the requested size. Zero for uploads.
	TargetBytes int64
	// MbitPerSecond is the server-side rate.
	MbitPerSecond float64
	// Error is the failure that ended the transfer early, if any.
	Error string `json:",omitempty"`
}

// ConnectionInfo carries network-level information for a transfer's
// connection, collected at the end of the transfer.
type ConnectionInfo struct {
	UUID string
	// BytesRead and BytesWritten are the connection's cumulative counters,
	// including HTTP framing and any earlier requests on the same conn.
	BytesRead    int64
	BytesWritten int64
	TCPInfo      *tcp.LinuxTCPInfo `json:",omitempty"`
}

// SessionSummary is the view of a measurement session returned by the result
// endpoint.
type SessionSummary struct {
	ID        string
	StartTime time.Time
	Pings     int
	Transfers []Transfer
}

// ArchivalData is the on-disk format for a measurement session.
type ArchivalData struct {
	// GitShortCommit is the Git commit (short form) of the running server code.
	GitShortCommit string
	// Version is the symbolic version (if any) of the running server code.
	Version string
	// ID is the measurement ID the client attached to its requests.
	ID string

	StartTime time.Time
	// EndTime is set when the session expires, since there is no explicit
	// termination message.
	EndTime time.Time

	Client string
	Server string

	Pings       int
	Transfers   []Transfer
	Connections []ConnectionInfo
}
