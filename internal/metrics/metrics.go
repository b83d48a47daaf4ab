package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Sink records dispatch and simulation events.
type Sink interface {
	IncIncidentsCreated()
	RecordDispatch(outcome string)
	IncPositionUpdates()
	IncArrivals()
	AddActiveSimulations(delta int)
}

// Dispatch outcome labels.
const (
	OutcomeDispatched  = "dispatched"
	OutcomeNoUnit      = "no_unit"
	OutcomeNoRoute     = "no_route"
	OutcomeStoreFailed = "store_failed"
)

// PromSink records events in Prometheus metrics.
type PromSink struct {
	incidents   prometheus.Counter
	dispatches  *prometheus.CounterVec
	updates     prometheus.Counter
	arrivals    prometheus.Counter
	simulations prometheus.Gauge
}

// NewPromSink registers the collectors on the provided registerer. If reg is
// nil, the default registerer is used. Already-registered collectors are
// reused.
func NewPromSink(reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	incidents, err := register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "incidents_created_total",
		Help: "Total number of incidents recorded",
	}))
	if err != nil {
		return nil, err
	}
	dispatches, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_attempts_total",
		Help: "Dispatch attempts by outcome",
	}, []string{"outcome"}))
	if err != nil {
		return nil, err
	}
	updates, err := register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "responder_position_updates_total",
		Help: "Total number of simulated position updates",
	}))
	if err != nil {
		return nil, err
	}
	arrivals, err := register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "responder_arrivals_total",
		Help: "Total number of simulated arrivals",
	}))
	if err != nil {
		return nil, err
	}
	simulations, err := register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "active_simulations",
		Help: "Number of currently running unit simulations",
	}))
	if err != nil {
		return nil, err
	}

	return &PromSink{
		incidents:   incidents,
		dispatches:  dispatches,
		updates:     updates,
		arrivals:    arrivals,
		simulations: simulations,
	}, nil
}

// register adds c to reg, handing back the previously registered collector
// when one with the same descriptor already exists.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			return are.ExistingCollector.(C), nil
		}
		return c, err
	}
	return c, nil
}

func (s *PromSink) IncIncidentsCreated()           { s.incidents.Inc() }
func (s *PromSink) RecordDispatch(outcome string)  { s.dispatches.WithLabelValues(outcome).Inc() }
func (s *PromSink) IncPositionUpdates()            { s.updates.Inc() }
func (s *PromSink) IncArrivals()                   { s.arrivals.Inc() }
func (s *PromSink) AddActiveSimulations(delta int) { s.simulations.Add(float64(delta)) }

// NopSink discards all measurements. Used in tests.
type NopSink struct{}

func (NopSink) IncIncidentsCreated()     {}
func (NopSink) RecordDispatch(string)    {}
func (NopSink) IncPositionUpdates()      {}
func (NopSink) IncArrivals()             {}
func (NopSink) AddActiveSimulations(int) {}
