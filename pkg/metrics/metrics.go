package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// OrdersAdmitted counts orders that passed risk evaluation, by mode (paper/live).
var OrdersAdmitted = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "tradesim_orders_admitted_total",
		Help: "Total number of orders admitted by the executor",
	},
	[]string{"mode", "side"},
)

// OrdersRejected counts risk rejections by decision code.
var OrdersRejected = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "tradesim_orders_rejected_total",
		Help: "Total number of orders rejected by the risk policy",
	},
	[]string{"code"},
)

// SubmitLatency records the latency of the full submit path, including the
// ledger write.
var SubmitLatency = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "tradesim_order_submit_latency_seconds",
		Help:    "Latency in seconds of order submission, evaluate through persist",
		Buckets: prometheus.DefBuckets,
	},
)

// LedgerRecords tracks the number of records in the trade ledger.
var LedgerRecords = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "tradesim_ledger_records",
		Help: "Number of records currently in the trade ledger",
	},
)

// HTTP request instrumentation shared by all service routers.
var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradesim_http_requests_total",
			Help: "Total HTTP requests served, by route, method and status",
		},
		[]string{"path", "method", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tradesim_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds, by route and method",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method"},
	)
)

// AlertsDispatched counts outbound alert notifications by delivery outcome.
var AlertsDispatched = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "tradesim_alerts_dispatched_total",
		Help: "Total alert notifications dispatched to the alert hook",
	},
	[]string{"outcome"},
)

// TicksIngested counts market data ticks accepted by the ingestor.
var TicksIngested = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "tradesim_ticks_ingested_total",
		Help: "Total market data ticks ingested, by source",
	},
	[]string{"source"},
)

// Gateway price-stream instrumentation.
var (
	WSClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tradesim_ws_clients",
			Help: "Number of websocket clients connected to the price stream",
		},
	)

	WSDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tradesim_ws_dropped_total",
			Help: "Total price frames dropped because a client fell behind",
		},
	)
)

func init() {
	prometheus.MustRegister(OrdersAdmitted, OrdersRejected, SubmitLatency, LedgerRecords)
	prometheus.MustRegister(HTTPRequestsTotal, HTTPRequestDuration)
	prometheus.MustRegister(AlertsDispatched, TicksIngested)
	prometheus.MustRegister(WSClients, WSDropped)
}
