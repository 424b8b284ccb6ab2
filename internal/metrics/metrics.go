package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bidpackuk/backend/internal/models"
)

const namespace = "acu"

// Metrics collects ledger and quota gate signals. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry          *prometheus.Registry
	quotes            *prometheus.CounterVec
	executions        *prometheus.CounterVec
	ledgerEntries     *prometheus.CounterVec
	ledgerACUs        *prometheus.CounterVec
	ledgerCorruptions prometheus.Counter
	providerLatency   *prometheus.HistogramVec
	jobRuns           *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: reg,
		quotes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quotes_total",
			Help:      "Quotes evaluated, by outcome code.",
		}, []string{"action_type", "outcome"}),
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ai_requests_total",
			Help:      "AI requests by terminal status.",
		}, []string{"action_type", "status"}),
		ledgerEntries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_entries_total",
			Help:      "Ledger entries appended, by transaction type.",
		}, []string{"transaction_type"}),
		ledgerACUs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_acus_total",
			Help:      "ACUs moved through the ledger, by transaction type.",
		}, []string{"transaction_type"}),
		ledgerCorruptions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_corruptions_total",
			Help:      "Ledger consistency check failures.",
		}),
		providerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ai_provider_duration_seconds",
			Help:      "AI provider call latency.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
		}, []string{"action_type", "result"}),
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_runs_total",
			Help:      "Background job runs, by job and result.",
		}, []string{"job", "result"}),
	}
	reg.MustRegister(m.quotes, m.executions, m.ledgerEntries, m.ledgerACUs,
		m.ledgerCorruptions, m.providerLatency, m.jobRuns)
	return m
}

// Handler exposes the registry for scraping.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveQuote(q *models.Quote) {
	if m == nil || q == nil {
		return
	}
	outcome := "ok"
	if !q.CanProceed {
		outcome = q.RejectionCode
	}
	m.quotes.WithLabelValues(string(q.ActionType), outcome).Inc()
}

func (m *Metrics) ObserveRequest(r *models.AIRequest) {
	if m == nil || r == nil {
		return
	}
	m.executions.WithLabelValues(string(r.ActionType), string(r.Status)).Inc()
}

func (m *Metrics) ObserveProvider(action models.ActionType, d time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.providerLatency.WithLabelValues(string(action), result).Observe(d.Seconds())
}

func (m *Metrics) ObserveJob(job string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.jobRuns.WithLabelValues(job, result).Inc()
}

// LedgerAppended implements ledger.Observer.
func (m *Metrics) LedgerAppended(t models.TransactionType, amount int) {
	if m == nil {
		return
	}
	m.ledgerEntries.WithLabelValues(string(t)).Inc()
	m.ledgerACUs.WithLabelValues(string(t)).Add(float64(amount))
}

// LedgerCorrupted implements ledger.Observer.
func (m *Metrics) LedgerCorrupted() {
	if m == nil {
		return
	}
	m.ledgerCorruptions.Inc()
}
