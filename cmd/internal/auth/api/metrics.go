package authapi

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"notekeep/cmd/internal/auth/secerr"
)

// Metrics counts auth outcomes and classified security events.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	outcomes *prometheus.CounterVec
	events   *prometheus.CounterVec
}

var _ secerr.Observer = (*Metrics)(nil)

// NewMetrics registers the auth collectors on reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "notekeep",
			Subsystem: "auth",
			Name:      "operations_total",
			Help:      "Auth operations by operation and result.",
		}, []string{"op", "result"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "notekeep",
			Subsystem: "auth",
			Name:      "security_events_total",
			Help:      "Classified security errors by type and HTTP status.",
		}, []string{"type", "status"}),
	}
	for _, c := range []prometheus.Collector{m.outcomes, m.events} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// ObserveSecurityEvent implements secerr.Observer.
func (m *Metrics) ObserveSecurityEvent(t secerr.Type, status int) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(string(t), strconv.Itoa(status)).Inc()
}

func (m *Metrics) observeOutcome(op string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = string(secerr.Classify(err).Type())
	}
	m.outcomes.WithLabelValues(op, result).Inc()
}
