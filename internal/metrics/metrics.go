package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config configures the Prometheus collectors.
type Config struct {
	Namespace string
	Registry  *prometheus.Registry
}

// Option configures Metrics.
type Option func(*Config)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) Option {
	return func(c *Config) {
		c.Namespace = namespace
	}
}

// WithRegistry sets the registry the collectors register with.
func WithRegistry(registry *prometheus.Registry) Option {
	return func(c *Config) {
		c.Registry = registry
	}
}

// Metrics holds the service collectors. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	onlineUsers      prometheus.Gauge
	connections      *prometheus.CounterVec
	inboundEvents    *prometheus.CounterVec
	messagesSent     prometheus.Counter
	messagesRecalled prometheus.Counter
	callTransitions  *prometheus.CounterVec
	activeCalls      prometheus.Gauge
	callDuration     prometheus.Histogram
}

// New registers the service collectors.
func New(opts ...Option) *Metrics {
	cfg := Config{Namespace: "talk"}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Registry == nil {
		cfg.Registry = prometheus.NewRegistry()
		cfg.Registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	factory := promauto.With(cfg.Registry)
	ns := cfg.Namespace

	return &Metrics{
		registry: cfg.Registry,

		onlineUsers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "online_users",
			Help:      "Number of users with a live connection",
		}),
		connections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "connections_total",
			Help:      "WebSocket connection attempts by outcome",
		}, []string{"result"}),
		inboundEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "inbound_events_total",
			Help:      "Inbound WebSocket events by type and result code",
		}, []string{"type", "code"}),
		messagesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "messages_sent_total",
			Help:      "Messages persisted",
		}),
		messagesRecalled: factory.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "messages_recalled_total",
			Help:      "Messages recalled",
		}),
		callTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "call_transitions_total",
			Help:      "Call session state transitions by target state",
		}, []string{"state"}),
		activeCalls: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "call_sessions",
			Help:      "Call sessions currently ringing or active",
		}),
		callDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "call_duration_seconds",
			Help:      "Duration of answered calls",
			Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}),
	}
}

// UserOnline implements presence.Observer.
func (m *Metrics) UserOnline(string) {
	if m == nil {
		return
	}
	m.onlineUsers.Inc()
}

// UserOffline implements presence.Observer.
func (m *Metrics) UserOffline(string) {
	if m == nil {
		return
	}
	m.onlineUsers.Dec()
}

func (m *Metrics) ConnectionAccepted() {
	if m == nil {
		return
	}
	m.connections.WithLabelValues("accepted").Inc()
}

func (m *Metrics) ConnectionRejected() {
	if m == nil {
		return
	}
	m.connections.WithLabelValues("rejected").Inc()
}

// InboundEvent counts one dispatched event. code is "OK" on success.
func (m *Metrics) InboundEvent(eventType, code string) {
	if m == nil {
		return
	}
	m.inboundEvents.WithLabelValues(eventType, code).Inc()
}

func (m *Metrics) MessageSent() {
	if m == nil {
		return
	}
	m.messagesSent.Inc()
}

func (m *Metrics) MessageRecalled() {
	if m == nil {
		return
	}
	m.messagesRecalled.Inc()
}

// CallStarted counts a session entering ringing.
func (m *Metrics) CallStarted() {
	if m == nil {
		return
	}
	m.activeCalls.Inc()
}

// CallTransition counts a transition into state.
func (m *Metrics) CallTransition(state string) {
	if m == nil {
		return
	}
	m.callTransitions.WithLabelValues(state).Inc()
}

// CallFinished records a session leaving the table. answered is zero for
// calls that never connected.
func (m *Metrics) CallFinished(answered time.Time) {
	if m == nil {
		return
	}
	m.activeCalls.Dec()
	if !answered.IsZero() {
		m.callDuration.Observe(time.Since(answered).Seconds())
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
