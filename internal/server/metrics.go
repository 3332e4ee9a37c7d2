package server

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Tyrowin/gochat-relay/internal/relay"
)

const metricsNamespace = "gochat"

// Metrics exposes relay and transport counters. It is a relay.Observer.
type Metrics struct {
	connections   prometheus.Gauge
	rooms         prometheus.Gauge
	eventsIn      *prometheus.CounterVec
	deliveries    *prometheus.CounterVec
	dropped       *prometheus.CounterVec
	queueOverflow prometheus.Counter
	rateLimited   prometheus.Counter
}

// NewMetrics registers the collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		connections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "connections",
			Help:      "Number of registered WebSocket connections",
		}),
		rooms: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "rooms",
			Help:      "Number of rooms with at least one member",
		}),
		eventsIn: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "events_received_total",
			Help:      "Inbound events read from clients",
		}, []string{"event"}),
		deliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "deliveries_total",
			Help:      "Outbound events emitted to connections",
		}, []string{"event"}),
		dropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "events_dropped_total",
			Help:      "Inbound events dropped by the relay",
		}, []string{"event", "reason"}),
		queueOverflow: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "send_queue_overflow_total",
			Help:      "Deliveries discarded because the connection send queue was full",
		}),
		rateLimited: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "rate_limited_total",
			Help:      "Inbound messages discarded by the per-connection rate limit",
		}),
	}
}

var _ relay.Observer = (*Metrics)(nil)

func (m *Metrics) Delivered(d relay.Delivery) {
	m.deliveries.WithLabelValues(d.Event.Name).Inc()
}

func (m *Metrics) Dropped(event string, err error) {
	m.dropped.WithLabelValues(eventLabel(event), dropReason(err)).Inc()
}

func (m *Metrics) received(event string) {
	m.eventsIn.WithLabelValues(eventLabel(event)).Inc()
}

func (m *Metrics) setRegistryStats(connections, rooms int) {
	m.connections.Set(float64(connections))
	m.rooms.Set(float64(rooms))
}

// eventLabel keeps client supplied names out of label values.
func eventLabel(event string) string {
	if relay.IsInbound(event) {
		return event
	}
	return "other"
}

func dropReason(err error) string {
	switch {
	case errors.Is(err, relay.ErrUnknownEvent):
		return "unknown_event"
	case errors.Is(err, relay.ErrMissingUsers):
		return "missing_users"
	case errors.Is(err, relay.ErrMissingRoom):
		return "missing_room"
	case errors.Is(err, relay.ErrMissingUserID):
		return "missing_user_id"
	case errors.Is(err, relay.ErrMalformedPayload):
		return "malformed"
	default:
		return "other"
	}
}
