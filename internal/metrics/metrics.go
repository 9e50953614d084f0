package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

var (
	// Client connection metrics
	ClientConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tb_stream_client_connections",
			Help: "Number of connected websocket clients",
		},
	)

	ClientConnectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tb_stream_client_connections_total",
			Help: "Total accepted websocket connections",
		},
	)

	AuthFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tb_stream_auth_failures_total",
			Help: "Total rejected connections at authentication",
		},
	)

	// Subscription metrics
	ActiveSubscriptions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tb_stream_active_subscriptions",
			Help: "Number of registered client subscriptions",
		},
	)

	SubscriptionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tb_stream_subscriptions_total",
			Help: "Total subscribe requests by outcome",
		},
		[]string{"outcome"}, // ok, denied, rejected, failed
	)

	// Upstream connection metrics
	UpstreamConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tb_stream_upstream_connections",
			Help: "Number of live upstream exchange connections",
		},
	)

	UpstreamEstablishments = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tb_stream_upstream_establishments_total",
			Help: "Total upstream connection establishment attempts",
		},
		[]string{"result"}, // ok, error
	)

	CandlePollLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tb_stream_candle_poll_latency_ms",
			Help:    "Candlestick poll latency in milliseconds",
			Buckets: []float64{1, 5, 10, 50, 100, 500, 1000, 5000},
		},
	)

	CandlePollErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tb_stream_candle_poll_errors_total",
			Help: "Total candlestick poll failures",
		},
	)

	// Broadcast metrics
	BroadcastsDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tb_stream_broadcasts_delivered_total",
			Help: "Total market-data messages delivered to clients",
		},
		[]string{"channel"},
	)

	BroadcastsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tb_stream_broadcasts_dropped_total",
			Help: "Total market-data messages dropped (stale connection or full buffer)",
		},
		[]string{"channel"},
	)

	BroadcastDeliveryRatio = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tb_stream_broadcast_delivery_ratio",
			Help: "Delivered / (delivered + dropped) per channel (0-1)",
		},
		[]string{"channel"},
	)
)

// RecordBroadcast records one delivery attempt and refreshes the ratio gauge
func RecordBroadcast(channel string, delivered bool) {
	if delivered {
		BroadcastsDelivered.WithLabelValues(channel).Inc()
	} else {
		BroadcastsDropped.WithLabelValues(channel).Inc()
	}
	updateDeliveryRatio(channel)
}

// updateDeliveryRatio reads the counter pair and updates the gauge.
// Approximation for real-time display; dashboards should use promql.
func updateDeliveryRatio(channel string) {
	delivered, _ := BroadcastsDelivered.GetMetricWithLabelValues(channel)
	dropped, _ := BroadcastsDropped.GetMetricWithLabelValues(channel)
	if delivered == nil || dropped == nil {
		return
	}

	deliveredMetric := &dto.Metric{}
	droppedMetric := &dto.Metric{}
	if delivered.Write(deliveredMetric) != nil || dropped.Write(droppedMetric) != nil {
		return
	}

	d := deliveredMetric.Counter.GetValue()
	x := droppedMetric.Counter.GetValue()
	if total := d + x; total > 0 {
		BroadcastDeliveryRatio.WithLabelValues(channel).Set(d / total)
	}
}
