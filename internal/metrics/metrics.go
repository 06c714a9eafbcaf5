// Package metrics declares the collector's Prometheus instrumentation:
// session lifecycle, BMP/BGP parse outcomes, and publish-layer health.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	SessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bgpmond_sessions_active",
			Help: "Router BMP sessions currently open.",
		},
	)

	SessionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bgpmond_sessions_total",
			Help: "Router sessions opened, by terminal state.",
		},
		[]string{"state"},
	)

	BMPMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bgpmond_bmp_messages_total",
			Help: "BMP messages parsed, by message type.",
		},
		[]string{"msg_type"},
	)

	BGPUpdatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bgpmond_bgp_updates_total",
			Help: "BGP UPDATE messages parsed, by AFI/SAFI.",
		},
		[]string{"afi", "safi"},
	)

	RouteEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bgpmond_route_events_total",
			Help: "Route events emitted, by family and action.",
		},
		[]string{"family", "action"},
	)

	ParseErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bgpmond_parse_errors_total",
			Help: "Parse failures by stage.",
		},
		[]string{"stage", "reason"},
	)

	PublishLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bgpmond_publish_latency_seconds",
			Help:    "Time from enqueue to producer acknowledgment.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		},
		[]string{"topic_var"},
	)

	PublishQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bgpmond_publish_queue_depth",
			Help: "Messages currently buffered in the bounded producer queue.",
		},
	)

	PublishErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bgpmond_publish_errors_total",
			Help: "Producer-reported delivery failures.",
		},
		[]string{"topic_var"},
	)

	BrokerDisconnectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bgpmond_broker_disconnects_total",
			Help: "Broker disconnect events observed by the producer client.",
		},
	)

	HeartbeatsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bgpmond_heartbeats_total",
			Help: "Collector heartbeat ticks; no heartbeat message is published.",
		},
	)
)

var registerOnce sync.Once

// Register registers every collector metric with the default registry.
// Safe to call more than once; only the first call takes effect.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			SessionsActive,
			SessionsTotal,
			BMPMessagesTotal,
			BGPUpdatesTotal,
			RouteEventsTotal,
			ParseErrorsTotal,
			PublishLatency,
			PublishQueueDepth,
			PublishErrorsTotal,
			BrokerDisconnectsTotal,
			HeartbeatsTotal,
		)
	})
}
