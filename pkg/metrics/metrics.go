package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "tradingbot"

// Metrics holds every collector the engine exports. It satisfies the observer
// interfaces of the matching engine, the execution manager and the trading engine.
type Metrics struct {
	OrdersTotal       *prometheus.CounterVec
	FillsTotal        *prometheus.CounterVec
	MatchDuration     *prometheus.HistogramVec
	ExecutionsTotal   *prometheus.CounterVec
	ExecutionAttempts *prometheus.HistogramVec
	ExecutionDuration *prometheus.HistogramVec
	PositionsOpen     prometheus.Gauge
	PositionEvents    *prometheus.CounterVec
	RiskViolations    *prometheus.CounterVec
	MonitorPanics     prometheus.Counter
}

// New builds the collectors and registers them with reg. A nil reg leaves
// them unregistered.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		OrdersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "matching", Name: "orders_total",
			Help: "Orders submitted to the matching engine by outcome.",
		}, []string{"pair", "outcome"}),
		FillsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "matching", Name: "fills_total",
			Help: "Fills produced by matching passes.",
		}, []string{"pair"}),
		MatchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "matching", Name: "pass_duration_seconds",
			Help:    "Duration of one matching pass over a book.",
			Buckets: prometheus.ExponentialBuckets(0.00001, 4, 8),
		}, []string{"pair"}),
		ExecutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "execution", Name: "executions_total",
			Help: "Execute calls by strategy and outcome.",
		}, []string{"strategy", "outcome"}),
		ExecutionAttempts: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "execution", Name: "attempts",
			Help:    "Submission attempts per Execute call.",
			Buckets: []float64{1, 2, 3, 5, 8},
		}, []string{"strategy"}),
		ExecutionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "execution", Name: "duration_seconds",
			Help:    "Wall-clock duration of Execute calls.",
			Buckets: prometheus.DefBuckets,
		}, []string{"strategy"}),
		PositionsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "trading", Name: "positions_open",
			Help: "Positions currently monitored by the trading engine.",
		}),
		PositionEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "trading", Name: "position_events_total",
			Help: "Position opens and closes by reason.",
		}, []string{"event", "reason"}),
		RiskViolations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "risk", Name: "violations_total",
			Help: "Pre-trade risk rejections by rule.",
		}, []string{"rule"}),
		MonitorPanics: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "trading", Name: "monitor_panics_total",
			Help: "Recovered panics in position monitor ticks.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.OrdersTotal, m.FillsTotal, m.MatchDuration,
			m.ExecutionsTotal, m.ExecutionAttempts, m.ExecutionDuration,
			m.PositionsOpen, m.PositionEvents, m.RiskViolations, m.MonitorPanics,
		)
	}
	return m
}

func (m *Metrics) ObserveOrder(pair, outcome string) {
	m.OrdersTotal.WithLabelValues(pair, outcome).Inc()
}

func (m *Metrics) ObserveMatch(pair string, fills int, elapsed time.Duration) {
	m.MatchDuration.WithLabelValues(pair).Observe(elapsed.Seconds())
	if fills > 0 {
		m.FillsTotal.WithLabelValues(pair).Add(float64(fills))
	}
}

func (m *Metrics) ObserveExecution(strategy, outcome string, attempts int, elapsed time.Duration) {
	if strategy == "" {
		strategy = "none"
	}
	m.ExecutionsTotal.WithLabelValues(strategy, outcome).Inc()
	if attempts > 0 {
		m.ExecutionAttempts.WithLabelValues(strategy).Observe(float64(attempts))
	}
	m.ExecutionDuration.WithLabelValues(strategy).Observe(elapsed.Seconds())
}

func (m *Metrics) PositionOpened() {
	m.PositionsOpen.Inc()
	m.PositionEvents.WithLabelValues("open", "").Inc()
}

func (m *Metrics) PositionClosed(reason string) {
	m.PositionsOpen.Dec()
	m.PositionEvents.WithLabelValues("close", reason).Inc()
}

func (m *Metrics) RiskRejected(rule string) {
	m.RiskViolations.WithLabelValues(rule).Inc()
}

func (m *Metrics) MonitorPanicked() { m.MonitorPanics.Inc() }
