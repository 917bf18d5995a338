package intersection

import (
	"time"

	"github.com/aukilabs/kenaz/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	eventLabel  = "event"
	policyLabel = "policy"
)

var (
	probeEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "probe_events",
		Help: "The number of probe transitions by event.",
	}, []string{eventLabel})

	probeResolveLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "probe_resolve_latency",
		Help:    "The time to resolve a probe intersection.",
		Buckets: []float64{.00001, .00005, .0001, .0005, .001, .005},
	}, []string{policyLabel})

	probeCandidates = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "probe_candidates",
		Help:    "The number of index candidates returned for a probe.",
		Buckets: []float64{0, 1, 2, 4, 8, 16, 32, 64, 128},
	}, []string{policyLabel})
)

func instrumentResolve(policy TestPolicy, candidates int, d time.Duration) {
	labels := prometheus.Labels{policyLabel: policy.String()}
	probeResolveLatency.With(labels).Observe(d.Seconds())
	probeCandidates.With(labels).Observe(float64(candidates))
}

// ListenerWithMetrics counts transitions before forwarding them.
func ListenerWithMetrics(l Listener) Listener {
	return listenerWithMetrics{Listener: l}
}

type listenerWithMetrics struct {
	Listener
}

func (l listenerWithMetrics) OnEnter(p *Probe, e *models.Entity) {
	instrumentEvent("enter")
	l.Listener.OnEnter(p, e)
}

func (l listenerWithMetrics) OnStay(p *Probe, e *models.Entity) {
	instrumentEvent("stay")
	l.Listener.OnStay(p, e)
}

func (l listenerWithMetrics) OnExit(p *Probe, e *models.Entity) {
	instrumentEvent("exit")
	l.Listener.OnExit(p, e)
}

func instrumentEvent(event string) {
	probeEvents.
		With(prometheus.Labels{eventLabel: event}).
		Inc()
}
