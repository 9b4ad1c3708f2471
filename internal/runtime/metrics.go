package runtime

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/drblury/p4flow/internal/runtime/stream"
)

// Forward results recorded by RouterMetrics.
const (
	ForwardResultOK       = "ok"
	ForwardResultFailed   = "failed"
	ForwardResultOversize = "oversize"
)

// RouterMetrics records stream routing and forwarding in Prometheus. It
// implements stream.Observer.
type RouterMetrics struct {
	mu sync.Mutex

	published       *prometheus.CounterVec
	delivered       *prometheus.CounterVec
	dropped         *prometheus.CounterVec
	ignored         prometheus.Counter
	stopped         *prometheus.CounterVec
	forwarded       *prometheus.CounterVec
	forwardDuration *prometheus.HistogramVec

	registerer prometheus.Registerer
	registered bool
}

var _ stream.Observer = (*RouterMetrics)(nil)

func newStreamCounterVec(name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "p4flow",
			Subsystem: "stream",
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

// NewRouterMetrics creates the collectors. A nil registerer uses
// prometheus.DefaultRegisterer.
func NewRouterMetrics(registerer prometheus.Registerer) *RouterMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &RouterMetrics{
		registerer: registerer,
		published:  newStreamCounterVec("envelopes_published_total", "Envelopes routed to a kind hub", []string{"kind"}),
		delivered:  newStreamCounterVec("envelopes_delivered_total", "Envelope copies handed to subscriptions", []string{"kind"}),
		dropped:    newStreamCounterVec("envelopes_dropped_total", "Envelopes lost to subscription buffer overflow", []string{"kind"}),
		ignored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "p4flow",
			Subsystem: "stream",
			Name:      "envelopes_ignored_total",
			Help:      "Inbound messages of an unrecognised kind",
		}),
		stopped:   newStreamCounterVec("router_stopped_total", "Stream router stops by final state", []string{"state"}),
		forwarded: newStreamCounterVec("forwarded_total", "Envelopes handed to the sink by result", []string{"kind", "result"}),
		forwardDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "p4flow",
				Subsystem: "stream",
				Name:      "forward_duration_seconds",
				Help:      "Time spent publishing one envelope, retries included",
				Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 10),
			},
			[]string{"kind"},
		),
	}
}

// Register registers the collectors. Safe to call multiple times.
func (m *RouterMetrics) Register() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}

	collectors := []prometheus.Collector{
		m.published,
		m.delivered,
		m.dropped,
		m.ignored,
		m.stopped,
		m.forwarded,
		m.forwardDuration,
	}
	for _, c := range collectors {
		if err := m.registerer.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if !errors.As(err, &already) {
				return err
			}
		}
	}

	m.registered = true
	return nil
}

func (m *RouterMetrics) EnvelopePublished(kind stream.Kind, delivered, dropped int) {
	k := kind.String()
	m.published.WithLabelValues(k).Inc()
	if delivered > 0 {
		m.delivered.WithLabelValues(k).Add(float64(delivered))
	}
	if dropped > 0 {
		m.dropped.WithLabelValues(k).Add(float64(dropped))
	}
}

func (m *RouterMetrics) EnvelopeIgnored(string) {
	m.ignored.Inc()
}

func (m *RouterMetrics) RouterStopped(state stream.State, _ error) {
	m.stopped.WithLabelValues(state.String()).Inc()
}

// RecordForward records the outcome of forwarding one envelope.
func (m *RouterMetrics) RecordForward(kind, result string, took time.Duration) {
	m.forwarded.WithLabelValues(kind, result).Inc()
	if result != ForwardResultOversize {
		m.forwardDuration.WithLabelValues(kind).Observe(took.Seconds())
	}
}
