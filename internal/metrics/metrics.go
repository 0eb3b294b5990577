// Package metrics implements Prometheus instrumentation for the packet
// pipeline, named and shaped after the teacher's internal/metrics package.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BacklogDepth tracks the current number of buffers queued on a
	// device's backlog.
	BacklogDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nbstack_backlog_depth",
			Help: "Number of buffers currently queued on a device backlog",
		},
		[]string{"device"},
	)

	// RXPacketsTotal counts buffers drained from the backlog by poll.
	RXPacketsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nbstack_rx_packets_total",
			Help: "Total number of buffers processed by a device's poll loop",
		},
		[]string{"device"},
	)

	// TXPacketsTotal counts buffers handed to a driver's Write.
	TXPacketsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nbstack_tx_packets_total",
			Help: "Total number of buffers written to a device driver",
		},
		[]string{"device"},
	)

	// DropsTotal counts buffers marked DROPPED, labelled by the stage that
	// dropped them. Device.Poll also counts every dropped buffer it drains
	// under stage "datalink", so such a buffer appears under both its own
	// stage and "datalink".
	DropsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nbstack_drops_total",
			Help: "Total number of buffers dropped, by pipeline stage",
		},
		[]string{"device", "stage"},
	)

	// PollBatchSize observes how many buffers a single poll() call drains.
	PollBatchSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nbstack_poll_batch_size",
			Help:    "Number of buffers drained per poll() call",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
		[]string{"device"},
	)

	// ReassemblyActiveBuckets tracks in-progress IPv4 fragment buckets.
	ReassemblyActiveBuckets = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "nbstack_reassembly_active_buckets",
			Help: "Number of in-progress IPv4 fragment reassembly buckets",
		},
	)

	// ReassemblyDroppedOverlap counts fragments dropped for overlapping
	// an already-accepted fragment.
	ReassemblyDroppedOverlap = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nbstack_reassembly_overlap_drops_total",
			Help: "Total number of IPv4 fragments dropped for overlapping an existing fragment",
		},
	)

	// ReassemblyTimeouts counts buckets evicted by the TTL sweeper.
	ReassemblyTimeouts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nbstack_reassembly_timeouts_total",
			Help: "Total number of IPv4 fragment buckets evicted by timeout",
		},
	)
)
