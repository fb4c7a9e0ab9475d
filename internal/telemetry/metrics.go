package telemetry

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics mirror the teacher's CounterVec/GaugeVec/HistogramVec idiom,
// pointed at the protocol runtime instead of HTTP request handling.
var (
	namespace = "trackfusion"

	MessagesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "protocol",
			Name:      "messages_sent_total",
			Help:      "Total number of envelopes sent, by endpoint and type.",
		},
		[]string{"endpoint", "type"},
	)

	MessagesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "protocol",
			Name:      "messages_received_total",
			Help:      "Total number of valid envelopes received, by endpoint and type.",
		},
		[]string{"endpoint", "type"},
	)

	NacksSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "protocol",
			Name:      "nacks_sent_total",
			Help:      "Total number of negative acknowledgements sent, by endpoint and reason.",
		},
		[]string{"endpoint", "reason"},
	)

	PendingReplies = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "protocol",
			Name:      "pending_replies",
			Help:      "Number of outbound messages awaiting a reply or ack.",
		},
		[]string{"endpoint"},
	)

	BroadcastQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "broadcast_queue_depth",
			Help:      "Number of broadcast payloads pending flush.",
		},
	)

	ConnectedClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "connected_clients",
			Help:      "Number of GUI clients currently on the broadcast roster.",
		},
	)

	SolverCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tracking",
			Name:      "solver_calls_total",
			Help:      "Triangulation attempts, by outcome.",
		},
		[]string{"outcome"},
	)

	BroadcastAckTimeouts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "broadcast_ack_timeouts_total",
			Help:      "Broadcast sends whose ack did not arrive within the grace period.",
		},
		[]string{},
	)
)

func init() {
	prometheus.MustRegister(
		MessagesSent,
		MessagesReceived,
		NacksSent,
		PendingReplies,
		BroadcastQueueDepth,
		ConnectedClients,
		SolverCalls,
		BroadcastAckTimeouts,
	)
}

// ServeMetrics exposes the registered collectors on addr at /metrics using
// a minimal chi mux, the same router the teacher uses for its HTTP surface.
// It is the one HTTP endpoint this otherwise-raw-socket service keeps.
func ServeMetrics(addr string) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}
	go func() { _ = srv.Serve(ln) }()
	return srv, nil
}

// ShutdownMetrics gracefully stops a server started by ServeMetrics.
func ShutdownMetrics(srv *http.Server) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}
