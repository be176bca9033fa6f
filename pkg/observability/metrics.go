package observability

import (
	"context"

	"github.com/aretw0/tendril/pkg/domain"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records command and process counters in Prometheus.
type Metrics struct {
	commands  *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	failures  *prometheus.CounterVec
	processes *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		commands: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tendril_commands_total",
				Help: "Total number of dispatched commands by kind and outcome",
			},
			[]string{"command", "outcome"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tendril_command_duration_seconds",
				Help:    "Duration of command executions",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"command"},
		),
		failures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tendril_failures_total",
				Help: "Total number of raised failures by kind",
			},
			[]string{"kind"},
		),
		processes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tendril_process_transitions_total",
				Help: "Total number of process status transitions",
			},
			[]string{"flow", "status"},
		),
	}
	for _, c := range []prometheus.Collector{m.commands, m.duration, m.failures, m.processes} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Listeners returns the hooks feeding the collectors.
func (m *Metrics) Listeners() domain.Listeners {
	return domain.Listeners{
		AfterCommand: func(_ context.Context, e *domain.CommandEvent) {
			m.commands.WithLabelValues(e.Command, string(e.Outcome)).Inc()
			m.duration.WithLabelValues(e.Command).Observe(e.Duration.Seconds())
		},
		OnError: func(_ context.Context, e *domain.CommandEvent) {
			if e.Failure != nil {
				m.failures.WithLabelValues(string(e.Failure.Kind)).Inc()
			}
		},
		OnProcess: func(_ context.Context, e *domain.ProcessEvent) {
			m.processes.WithLabelValues(e.Flow, string(e.Status)).Inc()
		},
	}
}
