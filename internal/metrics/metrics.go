// Costboard Gateway - realtime presence and event fan-out for Costboard
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/costboard/gateway

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus Metrics Integration for Production Observability
// This package provides instrumentation for:
// - WebSocket connection lifecycle
// - Room membership churn
// - Event delivery and fan-out throughput
// - Authentication failures
// - API endpoint latency and throughput

var (
	// Connection Metrics
	WSConnections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gateway_websocket_connections",
			Help: "Current number of active WebSocket connections",
		},
		[]string{"endpoint"}, // "chat", "notifications"
	)

	WSConnectsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_websocket_connects_total",
			Help: "Total number of accepted WebSocket connections",
		},
		[]string{"endpoint"},
	)

	WSDisconnectsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_websocket_disconnects_total",
			Help: "Total number of closed WebSocket connections",
		},
		[]string{"endpoint"},
	)

	WSMessagesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_websocket_messages_received_total",
			Help: "Total number of inbound WebSocket commands",
		},
		[]string{"command"},
	)

	WSMessagesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_websocket_messages_sent_total",
			Help: "Total number of outbound WebSocket messages",
		},
	)

	WSDroppedSends = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_websocket_dropped_sends_total",
			Help: "Total number of messages dropped because a connection's send buffer was full",
		},
	)

	WSErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_websocket_errors_total",
			Help: "Total number of WebSocket errors",
		},
		[]string{"error_type"}, // "read", "write", "upgrade", "decode"
	)

	// Room Metrics
	RoomsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gateway_rooms_active",
			Help: "Current number of rooms with at least one member",
		},
	)

	RoomJoinsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_room_joins_total",
			Help: "Total number of room joins",
		},
		[]string{"kind"}, // "project", "discussion", "user"
	)

	RoomLeavesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_room_leaves_total",
			Help: "Total number of room leaves",
		},
		[]string{"kind"},
	)

	// Delivery Metrics
	DeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_deliveries_total",
			Help: "Total number of events accepted for fan-out",
		},
		[]string{"event"},
	)

	DeliveryFanout = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_delivery_fanout_connections",
			Help:    "Number of connections each delivered event was fanned out to",
			Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100, 250},
		},
		[]string{"event"},
	)

	DispatchQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gateway_dispatch_queue_depth",
			Help: "Current number of events waiting in the dispatch queue",
		},
	)

	DispatchQueueRejects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_dispatch_queue_rejects_total",
			Help: "Total number of deliveries rejected because the dispatch queue was full",
		},
	)

	TypingRelayed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_typing_relayed_total",
			Help: "Total number of typing signals relayed to rooms",
		},
	)

	TypingThrottled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_typing_throttled_total",
			Help: "Total number of typing signals dropped by the per-connection rate limiter",
		},
	)

	// Auth Metrics
	AuthFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_auth_failures_total",
			Help: "Total number of rejected credentials",
		},
		[]string{"reason"}, // "missing", "expired", "invalid"
	)

	// API Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_api_request_duration_seconds",
			Help:    "Duration of API requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)
)

// RecordAPIRequest records an API request metric
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordDelivery records an accepted fan-out event and how many connections received it
func RecordDelivery(event string, connections int) {
	DeliveriesTotal.WithLabelValues(event).Inc()
	DeliveryFanout.WithLabelValues(event).Observe(float64(connections))
}

// RecordAuthFailure records a rejected credential by category
func RecordAuthFailure(reason string) {
	AuthFailures.WithLabelValues(reason).Inc()
}

// RecordConnect records an accepted WebSocket connection
func RecordConnect(endpoint string) {
	WSConnectsTotal.WithLabelValues(endpoint).Inc()
	WSConnections.WithLabelValues(endpoint).Inc()
}

// RecordDisconnect records a closed WebSocket connection
func RecordDisconnect(endpoint string) {
	WSDisconnectsTotal.WithLabelValues(endpoint).Inc()
	WSConnections.WithLabelValues(endpoint).Dec()
}
