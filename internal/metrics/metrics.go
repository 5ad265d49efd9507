// Package metrics holds the Prometheus collectors for the chat pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "pocketchat"

var (
	// Requests counts finished chat requests by result ("ok", "busy", "invalid",
	// "transport", "serialization", "incomplete", "canceled").
	Requests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "requests_total",
		Help:      "Chat requests by result.",
	}, []string{"result"})

	RequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "request_duration_seconds",
		Help:      "Wall time of a chat request from dispatch to completion.",
		Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
	})

	FirstFragment = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "first_fragment_seconds",
		Help:      "Latency from sending the request to the first content fragment.",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	})

	Fragments = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fragments_total",
		Help:      "Content fragments extracted from the stream.",
	})

	Flushes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "flushes_total",
		Help:      "Coalesced deliveries to the UI sink.",
	})

	NoiseLines = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "noise_lines_total",
		Help:      "Stream lines ignored as noise or malformed events.",
	})

	// DroppedBytes counts bytes lost to buffer overflow, by buffer ("line", "coalesce").
	DroppedBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "dropped_bytes_total",
		Help:      "Bytes dropped or truncated because a fixed buffer was full.",
	}, []string{"buffer"})

	SinkLockTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sink_lock_timeouts_total",
		Help:      "Fragment deliveries deferred because the UI lock was not acquired in time.",
	})
)
