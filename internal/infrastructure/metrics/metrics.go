package metrics

import (
	"net/http"

	"github.com/hilthontt/roomdrop/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "roomdrop"

type Metrics struct {
	RoomsActive           prometheus.Gauge
	MembersConnected      prometheus.Gauge
	ConnectionsOpen       prometheus.Gauge
	RoomsCreated          prometheus.Counter
	KeyAllocationFailures prometheus.Counter
	Shares                *prometheus.CounterVec
	Deliveries            *prometheus.CounterVec
	DroppedFrames         prometheus.Counter
	HTTPRequests          *prometheus.CounterVec
	HTTPDuration          *prometheus.HistogramVec
}

// New registers every collector on reg; pass a fresh prometheus.Registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		RoomsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rooms_active",
			Help:      "Number of live rooms",
		}),
		MembersConnected: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "members_connected",
			Help:      "Number of members enrolled in a room",
		}),
		ConnectionsOpen: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_connections_open",
			Help:      "Number of open WebSocket connections",
		}),
		RoomsCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rooms_created_total",
			Help:      "Total rooms created",
		}),
		KeyAllocationFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "key_allocation_failures_total",
			Help:      "Room key allocations that ran out of attempts",
		}),
		Shares: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "shares_total",
			Help:      "Share requests by kind and outcome",
		}, []string{"kind", "outcome"}),
		Deliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "share_deliveries_total",
			Help:      "Share events enqueued to recipients",
		}, []string{"kind"}),
		DroppedFrames: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_dropped_frames_total",
			Help:      "Outbound frames dropped because a client buffer was full",
		}),
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests",
		}, []string{"method", "path", "status"}),
		HTTPDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}
}

func (m *Metrics) ObserveRegistry(stats domain.RegistryStats) {
	m.RoomsActive.Set(float64(stats.Rooms))
	m.MembersConnected.Set(float64(stats.Members))
}

func (m *Metrics) ObserveShare(kind domain.ShareKind, outcome domain.Outcome, delivered int) {
	label := outcome.Status
	if !outcome.OK() {
		label = outcome.Error
	}
	m.Shares.WithLabelValues(string(kind), label).Inc()
	if delivered > 0 {
		m.Deliveries.WithLabelValues(string(kind)).Add(float64(delivered))
	}
}

func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
