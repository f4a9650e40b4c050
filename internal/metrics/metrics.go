package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors of the checkout. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	EventPolls      *prometheus.CounterVec
	RetryPrompts    *prometheus.CounterVec
	RetriesSurfaced *prometheus.CounterVec
	EngineOutcomes  *prometheus.CounterVec
	PhaseDuration   *prometheus.HistogramVec
	Navigations     *prometheus.CounterVec
	SandboxRequests *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg. Tests pass
// a fresh prometheus.NewRegistry(); binaries pass prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		// Event polls by phase and result (decided, pending, error)
		EventPolls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "checkout_event_polls_total",
				Help: "Invoice event polls performed by the progress engine",
			},
			[]string{"phase", "result"},
		),

		RetryPrompts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "checkout_retry_prompts_total",
				Help: "Retry prompts shown to the user, by stream and answer",
			},
			[]string{"stream", "answer"},
		),

		// Errors surfaced without a prompt (server-domain or cap reached)
		RetriesSurfaced: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "checkout_retry_surfaced_total",
				Help: "Errors surfaced by the retry policy without prompting",
			},
			[]string{"stream", "reason"},
		),

		EngineOutcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "checkout_engine_outcomes_total",
				Help: "Terminal outcomes of progress engine runs",
			},
			[]string{"result", "code"},
		),

		PhaseDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "checkout_engine_phase_duration_seconds",
				Help:    "Duration of progress engine phases",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~80s
			},
			[]string{"phase"},
		),

		Navigations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "checkout_navigations_total",
				Help: "Scenario route transitions by destination",
			},
			[]string{"route"},
		),

		SandboxRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sandbox_requests_total",
				Help: "Requests served by the sandbox backend",
			},
			[]string{"endpoint", "status"},
		),
	}
}

func (m *Metrics) ObservePoll(phase, result string) {
	if m == nil {
		return
	}
	m.EventPolls.WithLabelValues(phase, result).Inc()
}

func (m *Metrics) ObservePrompt(stream string, answer bool) {
	if m == nil {
		return
	}
	label := "no"
	if answer {
		label = "yes"
	}
	m.RetryPrompts.WithLabelValues(stream, label).Inc()
}

func (m *Metrics) ObserveSurfaced(stream, reason string) {
	if m == nil {
		return
	}
	m.RetriesSurfaced.WithLabelValues(stream, reason).Inc()
}

// ObserveOutcome counts an engine run; code is empty for finished payments.
func (m *Metrics) ObserveOutcome(result, code string) {
	if m == nil {
		return
	}
	m.EngineOutcomes.WithLabelValues(result, code).Inc()
}

func (m *Metrics) ObservePhase(phase string, seconds float64) {
	if m == nil {
		return
	}
	m.PhaseDuration.WithLabelValues(phase).Observe(seconds)
}

func (m *Metrics) ObserveNavigation(route string) {
	if m == nil {
		return
	}
	m.Navigations.WithLabelValues(route).Inc()
}

func (m *Metrics) ObserveSandboxRequest(endpoint string, status int) {
	if m == nil {
		return
	}
	m.SandboxRequests.WithLabelValues(endpoint, statusClass(status)).Inc()
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
