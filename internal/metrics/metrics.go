// Package metrics exposes agent counters and gauges for Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/pavkata12/client8/internal/domain"
)

const namespace = "kioskd"

// Metrics holds the agent collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	processesTerminated *prometheus.CounterVec
	windowsClosed       prometheus.Counter
	policyFailures      *prometheus.CounterVec
	connectAttempts     *prometheus.CounterVec
	sessionsEnded       *prometheus.CounterVec
	phase               *prometheus.GaugeVec
	remainingSeconds    prometheus.Gauge
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		processesTerminated: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "guard",
			Name:      "processes_terminated_total",
			Help:      "Processes terminated by the process guard",
		}, []string{"name"}),
		windowsClosed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "guard",
			Name:      "windows_closed_total",
			Help:      "Windows asked to close by the process guard",
		}),
		policyFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "policy",
			Name:      "failures_total",
			Help:      "Failed policy store operations",
		}, []string{"op"}),
		connectAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "remote",
			Name:      "connect_attempts_total",
			Help:      "Connect attempts against the authority by result",
		}, []string{"result"}),
		sessionsEnded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "ended_total",
			Help:      "Ended sessions by reason",
		}, []string{"reason"}),
		phase: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "controller",
			Name:      "phase",
			Help:      "1 for the current controller phase, 0 otherwise",
		}, []string{"phase"}),
		remainingSeconds: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "remaining_seconds",
			Help:      "Remaining time of the active session",
		}),
	}
}

// Registry returns the registry for the HTTP handler.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RegisterBlockedKeys exposes a counter read from the interceptor on scrape.
func (m *Metrics) RegisterBlockedKeys(read func() uint64) {
	if m == nil {
		return
	}
	promauto.With(m.registry).NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "input",
		Name:      "keys_blocked_total",
		Help:      "Key events blocked by the input interceptor",
	}, func() float64 { return float64(read()) })
}

func (m *Metrics) ProcessTerminated(name string) {
	if m == nil {
		return
	}
	m.processesTerminated.WithLabelValues(name).Inc()
}

func (m *Metrics) WindowsClosed(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.windowsClosed.Add(float64(n))
}

func (m *Metrics) PolicyFailure(op string) {
	if m == nil {
		return
	}
	m.policyFailures.WithLabelValues(op).Inc()
}

func (m *Metrics) ConnectAttempt(ok bool) {
	if m == nil {
		return
	}
	result := "success"
	if !ok {
		result = "error"
	}
	m.connectAttempts.WithLabelValues(result).Inc()
}

func (m *Metrics) SessionEnded(reason domain.EndReason) {
	if m == nil {
		return
	}
	m.sessionsEnded.WithLabelValues(string(reason)).Inc()
}

var allPhases = []domain.ControllerPhase{
	domain.PhaseLockedDisconnected,
	domain.PhaseLockedConnecting,
	domain.PhaseLockedAwaitingLogin,
	domain.PhaseAuthenticating,
	domain.PhaseSessionActive,
	domain.PhaseSessionEnding,
	domain.PhaseShuttingDown,
}

// SetPhase marks p as the only current phase.
func (m *Metrics) SetPhase(p domain.ControllerPhase) {
	if m == nil {
		return
	}
	for _, candidate := range allPhases {
		v := 0.0
		if candidate == p {
			v = 1
		}
		m.phase.WithLabelValues(string(candidate)).Set(v)
	}
}

func (m *Metrics) SetRemaining(seconds int) {
	if m == nil {
		return
	}
	m.remainingSeconds.Set(float64(seconds))
}
