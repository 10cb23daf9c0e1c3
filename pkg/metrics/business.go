package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
)

var stateTransition = &Metric{
	ID:          "stateTransition",
	Name:        "state_transition_total",
	Description: "Applied status transitions, partitioned by entity and edge.",
	Type:        "counter_vec",
	Args:        []string{"entity", "from", "to"},
}

var activationTotal = &Metric{
	ID:          "activationTotal",
	Name:        "activation_total",
	Description: "Service activation outcomes.",
	Type:        "counter_vec",
	Args:        []string{"result"},
}

var lockContention = &Metric{
	ID:          "lockContention",
	Name:        "lock_contention_total",
	Description: "Per-transaction lock acquisitions that found the key held.",
	Type:        "counter_vec",
	Args:        []string{"backend"},
}

const subsystem = "billing"

// Business holds domain counters. A nil *Business is valid and records nothing.
type Business struct {
	transitions *prometheus.CounterVec
	activations *prometheus.CounterVec
	contention  *prometheus.CounterVec
	bpDur       *prometheus.HistogramVec
}

// NewBusiness registers the business collectors on reg. Collectors already
// registered by an earlier call are reused.
func NewBusiness(reg prometheus.Registerer) *Business {
	b := &Business{}
	b.transitions = register(reg, stateTransition).(*prometheus.CounterVec)
	b.activations = register(reg, activationTotal).(*prometheus.CounterVec)
	b.contention = register(reg, lockContention).(*prometheus.CounterVec)
	b.bpDur = register(reg, MetricsBusinessProcess).(*prometheus.HistogramVec)
	return b
}

func register(reg prometheus.Registerer, m *Metric) prometheus.Collector {
	c := NewMetric(m, subsystem)
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			c = are.ExistingCollector
		}
	}
	return c
}

func (b *Business) Transition(entity, from, to string) {
	if b == nil {
		return
	}
	b.transitions.WithLabelValues(entity, from, to).Inc()
}

func (b *Business) Activation(result string) {
	if b == nil {
		return
	}
	b.activations.WithLabelValues(result).Inc()
}

func (b *Business) LockContention(backend string) {
	if b == nil {
		return
	}
	b.contention.WithLabelValues(backend).Inc()
}

// ObserveSince records a bp_dur sample, meant for defer.
func (b *Business) ObserveSince(typ, subtype string, start time.Time) {
	if b == nil {
		return
	}
	b.bpDur.WithLabelValues(typ, subtype).Observe(MillisecondsSince(start))
}

func newDefaultBusiness() *Business {
	return NewBusiness(prometheus.DefaultRegisterer)
}

var Module = fx.Options(
	fx.Provide(newDefaultBusiness),
)
