// Package metrics defines the Prometheus metrics exported by the server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Transfers counts bulk transfers by direction and outcome
	// ("ok", "error").
	Transfers = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "speedtest_transfers_total",
			Help: "Number of bulk transfers by direction and result.",
		},
		[]string{"direction", "result"},
	)

	// TransferBytes counts application bytes moved by direction.
	TransferBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "speedtest_transfer_bytes_total",
			Help: "Application bytes moved by bulk transfers.",
		},
		[]string{"direction"},
	)

	// TransferRate is the distribution of server-side transfer rates.
	TransferRate = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "speedtest_transfer_rate_mbps",
			Help:    "Server-side bulk transfer rate in Mbit/s.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14),
		},
		[]string{"direction"},
	)

	// Pings counts ping requests served.
	Pings = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "speedtest_pings_total",
			Help: "Number of ping requests served.",
		},
	)

	// RateLimited counts requests rejected by the rate limiter.
	RateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "speedtest_rate_limited_total",
			Help: "Number of requests rejected by the per-client rate limiter.",
		},
	)

	// ArchiveErrors counts session archives that could not be written.
	ArchiveErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "speedtest_archive_errors_total",
			Help: "Number of measurement sessions that failed to be archived.",
		},
	)
)
