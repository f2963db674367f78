package metric

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yndnr/chatmesh-go/internal/core/event"
)

const namespace = "chatmesh"

// Peer phases reported by SetPeerPhase.
var peerPhases = []string{"disconnected", "connecting", "connected"}

// Registry holds all application metrics.
type Registry struct {
	registry *prometheus.Registry

	commandsTotal    *prometheus.CounterVec
	commandDuration  *prometheus.HistogramVec
	admissionsTotal  *prometheus.CounterVec
	sessionsGauge    *prometheus.GaugeVec
	eventsTotal      *prometheus.CounterVec
	observerFailures *prometheus.CounterVec
	peerState        *prometheus.GaugeVec
	peerEnvelopes    *prometheus.CounterVec
	peerRelays       *prometheus.CounterVec
	peerDedupDrops   prometheus.Counter
	syncApplies      *prometheus.CounterVec
}

// NewRegistry creates a registry with every chat metric registered.
func NewRegistry() *Registry {
	r := &Registry{registry: prometheus.NewRegistry()}

	r.commandsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "commands_total",
		Help: "Client commands processed, by command and result.",
	}, []string{"command", "result"})

	r.commandDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Name: "command_duration_seconds",
		Help:    "Client command processing latency.",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
	}, []string{"command"})

	r.admissionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "admissions_total",
		Help: "Accepted client sockets by admission result.",
	}, []string{"result"})

	r.sessionsGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace, Name: "sessions",
		Help: "Sessions known to the registry, by locality.",
	}, []string{"locality"})

	r.eventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "events_published_total",
		Help: "Session events published on the bus, by kind.",
	}, []string{"kind"})

	r.observerFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "event_observer_failures_total",
		Help: "Event observers that panicked or timed out.",
	}, []string{"observer", "reason"})

	r.peerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "peer", Name: "state",
		Help: "Peer link phase (1 for the current phase).",
	}, []string{"peer", "phase"})

	r.peerEnvelopes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "peer", Name: "envelopes_total",
		Help: "Peer envelopes by direction and type.",
	}, []string{"direction", "type"})

	r.peerRelays = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "peer", Name: "relays_total",
		Help: "Peer envelopes relayed onward, by type.",
	}, []string{"type"})

	r.peerDedupDrops = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "peer", Name: "duplicate_drops_total",
		Help: "Peer envelopes dropped because they were already seen.",
	})

	r.syncApplies = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "dbsync", Name: "applies_total",
		Help: "Replicated snapshot applies by result.",
	}, []string{"result"})

	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.commandsTotal,
		r.commandDuration,
		r.admissionsTotal,
		r.sessionsGauge,
		r.eventsTotal,
		r.observerFailures,
		r.peerState,
		r.peerEnvelopes,
		r.peerRelays,
		r.peerDedupDrops,
		r.syncApplies,
	)
	return r
}

// Prometheus returns the underlying registry for extra collectors.
func (r *Registry) Prometheus() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// Handler serves the registry in Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// ObserveCommand records one processed client command.
func (r *Registry) ObserveCommand(command, result string, seconds float64) {
	if r == nil {
		return
	}
	r.commandsTotal.WithLabelValues(command, result).Inc()
	r.commandDuration.WithLabelValues(command).Observe(seconds)
}

// IncAdmission records an admission decision ("accepted", "rejected_capacity", "rejected_pool").
func (r *Registry) IncAdmission(result string) {
	if r == nil {
		return
	}
	r.admissionsTotal.WithLabelValues(result).Inc()
}

// SetSessions sets the local and remote session gauges.
func (r *Registry) SetSessions(local, remote int) {
	if r == nil {
		return
	}
	r.sessionsGauge.WithLabelValues("local").Set(float64(local))
	r.sessionsGauge.WithLabelValues("remote").Set(float64(remote))
}

// EventPublished implements event.Hooks.
func (r *Registry) EventPublished(t event.Type) {
	if r == nil {
		return
	}
	r.eventsTotal.WithLabelValues(t.String()).Inc()
}

// ObserverFailed implements event.Hooks.
func (r *Registry) ObserverFailed(name, reason string) {
	if r == nil {
		return
	}
	r.observerFailures.WithLabelValues(name, reason).Inc()
}

// SetPeerPhase marks phase as the current phase of peer.
func (r *Registry) SetPeerPhase(peer, phase string) {
	if r == nil {
		return
	}
	for _, p := range peerPhases {
		v := 0.0
		if p == phase {
			v = 1
		}
		r.peerState.WithLabelValues(peer, p).Set(v)
	}
}

// ForgetPeer removes the phase series of a peer that is no longer tracked.
func (r *Registry) ForgetPeer(peer string) {
	if r == nil {
		return
	}
	for _, p := range peerPhases {
		r.peerState.DeleteLabelValues(peer, p)
	}
}

// IncPeerEnvelope counts an envelope sent ("out") or received ("in").
func (r *Registry) IncPeerEnvelope(direction, typ string) {
	if r == nil {
		return
	}
	r.peerEnvelopes.WithLabelValues(direction, typ).Inc()
}

// IncPeerRelay counts an envelope relayed onward.
func (r *Registry) IncPeerRelay(typ string) {
	if r == nil {
		return
	}
	r.peerRelays.WithLabelValues(typ).Inc()
}

// IncPeerDuplicate counts an envelope dropped as already seen.
func (r *Registry) IncPeerDuplicate() {
	if r == nil {
		return
	}
	r.peerDedupDrops.Inc()
}

// IncSyncApply counts a snapshot apply ("changed", "unchanged", "duplicate", "error").
func (r *Registry) IncSyncApply(result string) {
	if r == nil {
		return
	}
	r.syncApplies.WithLabelValues(result).Inc()
}
