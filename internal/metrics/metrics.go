// Package metrics implements Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ReaderDatagramsTotal counts datagrams handled by a reader, by outcome
	ReaderDatagramsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tapcheck_reader_datagrams_total",
			Help: "Total number of datagrams handled by a reader",
		},
		[]string{"reader", "outcome"},
	)

	// ReaderReadErrorsTotal counts source read failures
	ReaderReadErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tapcheck_reader_read_errors_total",
			Help: "Total number of source read failures",
		},
		[]string{"reader"},
	)

	// ReaderSentTotal counts datagrams written back through the transport
	ReaderSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tapcheck_reader_sent_total",
			Help: "Total number of datagrams sent through a reader's transport",
		},
		[]string{"reader"},
	)

	// ReaderQueueDepth tracks results waiting to be consumed by Run
	ReaderQueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tapcheck_reader_queue_depth",
			Help: "Number of read results queued for Run",
		},
		[]string{"reader"},
	)

	// ReaderState tracks the reader lifecycle
	ReaderState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tapcheck_reader_state",
			Help: "Current reader state (0=idle, 1=running, 2=stopping, 3=stopped)",
		},
		[]string{"reader"},
	)

	// ReaderRunSeconds measures how long Run calls take
	ReaderRunSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tapcheck_reader_run_seconds",
			Help:    "Duration of reader Run calls in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10), // 100µs to ~26s
		},
		[]string{"reader", "result"},
	)
)

// Datagram outcomes
const (
	OutcomeMatched     = "matched"
	OutcomeUnmatched   = "unmatched"
	OutcomeDecodeError = "decode_error"
)

// Run results
const (
	RunSatisfied = "satisfied"
	RunTimeout   = "timeout"
	RunEOF       = "eof"
	RunError     = "error"
)
