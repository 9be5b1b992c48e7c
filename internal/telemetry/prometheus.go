package telemetry

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus turns telemetry events into Prometheus metrics.
type Prometheus struct {
	events         *prometheus.CounterVec
	outboxSize     prometheus.Gauge
	drainProcessed prometheus.Counter
	drainFailed    prometheus.Counter
	retryAttempts  *prometheus.CounterVec
	circuitOpened  *prometheus.CounterVec
	circuitOpen    *prometheus.GaugeVec
}

// NewPrometheus creates the collectors and registers them on reg
// (prometheus.DefaultRegisterer when nil). Registering twice on the same
// registry is tolerated so that CLI subcommands can share a process.
func NewPrometheus(reg prometheus.Registerer) (*Prometheus, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	p := &Prometheus{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tether_events_total",
			Help: "Reliability layer telemetry events by name",
		}, []string{"event"}),
		outboxSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tether_outbox_size",
			Help: "Pending mutations in the outbox after the last enqueue or drain",
		}),
		drainProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tether_outbox_drain_processed_total",
			Help: "Outbox entries successfully replayed",
		}),
		drainFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tether_outbox_drain_failed_total",
			Help: "Outbox replays that failed and were requeued",
		}),
		retryAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tether_retry_attempts_total",
			Help: "Failed non-final attempts by retry label",
		}, []string{"label"}),
		circuitOpened: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tether_circuit_opened_total",
			Help: "Circuit breaker openings by dependency",
		}, []string{"dependency"}),
		circuitOpen: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tether_circuit_open",
			Help: "1 while the dependency's circuit is known to be open, 0 once a call succeeds again",
		}, []string{"dependency"}),
	}

	collectors := []prometheus.Collector{
		p.events, p.outboxSize, p.drainProcessed, p.drainFailed, p.retryAttempts, p.circuitOpened, p.circuitOpen,
	}
	for i, c := range collectors {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				return nil, err
			}
			collectors[i] = are.ExistingCollector
		}
	}
	p.events = collectors[0].(*prometheus.CounterVec)
	p.outboxSize = collectors[1].(prometheus.Gauge)
	p.drainProcessed = collectors[2].(prometheus.Counter)
	p.drainFailed = collectors[3].(prometheus.Counter)
	p.retryAttempts = collectors[4].(*prometheus.CounterVec)
	p.circuitOpened = collectors[5].(*prometheus.CounterVec)
	p.circuitOpen = collectors[6].(*prometheus.GaugeVec)
	return p, nil
}

// Emit implements Sink.
func (p *Prometheus) Emit(_ context.Context, e Event) {
	p.events.WithLabelValues(e.Name).Inc()

	switch e.Name {
	case EventOutboxEnqueue:
		p.outboxSize.Set(float64(e.Int("size")))
	case EventOutboxDrain:
		p.outboxSize.Set(float64(e.Int("remaining")))
		p.drainProcessed.Add(float64(e.Int("processed")))
		p.drainFailed.Add(float64(e.Int("failed")))
	case EventRetryAttempt:
		p.retryAttempts.WithLabelValues(e.String("label")).Inc()
	case EventCircuitOpened:
		p.circuitOpened.WithLabelValues(e.String("dependency")).Inc()
		p.circuitOpen.WithLabelValues(e.String("dependency")).Set(1)
	case EventCircuitBlocked:
		p.circuitOpen.WithLabelValues(e.String("dependency")).Set(1)
	case EventCircuitClosed:
		p.circuitOpen.WithLabelValues(e.String("dependency")).Set(0)
	}
}
