// Package metrics exposes the simulator's Prometheus instrumentation: per
// node packet and FSM-transition counters, global event-loop gauges, and
// rendez-vous cache hit/miss counters.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "hcsim"
	subsystem = "sim"
)

// Label names.
const (
	labelNodeID = "node_id"
	labelSM     = "state_machine"
	labelFrom   = "from_state"
	labelTo     = "to_state"
)

// Collector holds every Prometheus metric the scenario runner and hypercube
// layer report into.
//
//   - EventsProcessed / QueueDepth track the discrete-event core.
//   - PacketsSent / PacketsReceived / PacketsDropped are per-node packet
//     counters (spec.md's sentPacketsCount/receivedPacketsCount, restored
//     from the original implementation's StateMachines bookkeeping).
//   - StateTransitions counts FSM transitions labeled by which of the three
//     state machines moved and between which states.
//   - RendezVousCacheHits / RendezVousCacheMisses track the client lookup
//     cache's effectiveness.
type Collector struct {
	EventsProcessed prometheus.Counter
	QueueDepth      prometheus.Gauge

	PacketsSent     *prometheus.CounterVec
	PacketsReceived *prometheus.CounterVec
	PacketsDropped  *prometheus.CounterVec

	StateTransitions *prometheus.CounterVec

	RendezVousCacheHits   prometheus.Counter
	RendezVousCacheMisses prometheus.Counter
}

// NewCollector creates a Collector with every metric registered against
// reg. If reg is nil, prometheus.DefaultRegisterer is used.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.EventsProcessed,
		c.QueueDepth,
		c.PacketsSent,
		c.PacketsReceived,
		c.PacketsDropped,
		c.StateTransitions,
		c.RendezVousCacheHits,
		c.RendezVousCacheMisses,
	)

	return c
}

func newMetrics() *Collector {
	nodeLabels := []string{labelNodeID}
	transitionLabels := []string{labelNodeID, labelSM, labelFrom, labelTo}

	return &Collector{
		EventsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "events_processed_total",
			Help:      "Total scheduler events fired.",
		}),

		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "event_queue_depth",
			Help:      "Number of events currently pending in the scheduler.",
		}),

		PacketsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "packets_sent_total",
			Help:      "Total packets transmitted per node.",
		}, nodeLabels),

		PacketsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "packets_received_total",
			Help:      "Total packets received per node.",
		}, nodeLabels),

		PacketsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "packets_dropped_total",
			Help:      "Total packets dropped per node (no route, malformed payload).",
		}, nodeLabels),

		StateTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "state_transitions_total",
			Help:      "Total FSM state transitions, labeled by state machine and states.",
		}, transitionLabels),

		RendezVousCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "rendez_vous_cache_hits_total",
			Help:      "Total rendez-vous client lookups served from cache.",
		}),

		RendezVousCacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "rendez_vous_cache_misses_total",
			Help:      "Total rendez-vous client lookups that required an AddressSolve round trip.",
		}),
	}
}

// -------------------------------------------------------------------------
// Event loop
// -------------------------------------------------------------------------

// RecordEventFired increments the processed-events counter and updates the
// queue-depth gauge to pending, the scheduler's count of events still
// queued after this one fired.
func (c *Collector) RecordEventFired(pending int) {
	c.EventsProcessed.Inc()
	c.QueueDepth.Set(float64(pending))
}

// -------------------------------------------------------------------------
// Packet counters
// -------------------------------------------------------------------------

// IncPacketsSent increments the transmitted-packets counter for nodeID.
func (c *Collector) IncPacketsSent(nodeID string) {
	c.PacketsSent.WithLabelValues(nodeID).Inc()
}

// IncPacketsReceived increments the received-packets counter for nodeID.
func (c *Collector) IncPacketsReceived(nodeID string) {
	c.PacketsReceived.WithLabelValues(nodeID).Inc()
}

// IncPacketsDropped increments the dropped-packets counter for nodeID.
func (c *Collector) IncPacketsDropped(nodeID string) {
	c.PacketsDropped.WithLabelValues(nodeID).Inc()
}

// -------------------------------------------------------------------------
// State transitions
// -------------------------------------------------------------------------

// RecordStateTransition increments the transition counter for one of this
// node's three state machines (sm is e.g. "main", "pap", "hbl").
func (c *Collector) RecordStateTransition(nodeID, sm, from, to string) {
	c.StateTransitions.WithLabelValues(nodeID, sm, from, to).Inc()
}

// -------------------------------------------------------------------------
// Rendez-vous cache
// -------------------------------------------------------------------------

// RecordRendezVousLookup increments the cache hit or miss counter.
func (c *Collector) RecordRendezVousLookup(hit bool) {
	if hit {
		c.RendezVousCacheHits.Inc()
		return
	}
	c.RendezVousCacheMisses.Inc()
}
