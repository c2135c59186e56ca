package metrics

import (
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	once             sync.Once
	stageDuration    *prom.HistogramVec
	runDuration      prom.Histogram
	stageResults     *prom.CounterVec
	documentOutcome  *prom.CounterVec
	ruleHits         *prom.CounterVec
	resolveDuration  *prom.HistogramVec
	resolveBatchSize prom.Histogram
	retries          prom.Counter
	retriesExhausted prom.Counter
}

// NewPrometheusRecorder constructs and registers Prometheus metrics (idempotent).
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{}
	pr.once.Do(func() {
		pr.stageDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "linkaudit",
			Name:      "stage_duration_seconds",
			Help:      "Duration of individual pipeline stages per document",
			Buckets:   prom.DefBuckets,
		}, []string{"stage"})
		pr.runDuration = prom.NewHistogram(prom.HistogramOpts{
			Namespace: "linkaudit",
			Name:      "run_duration_seconds",
			Help:      "Total pipeline run duration",
			Buckets:   prom.DefBuckets,
		})
		pr.stageResults = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "linkaudit",
			Name:      "stage_results_total",
			Help:      "Stage result counts by outcome",
		}, []string{"stage", "result"})
		pr.documentOutcome = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "linkaudit",
			Name:      "document_outcomes_total",
			Help:      "Document outcomes by final status",
		}, []string{"outcome"})
		pr.ruleHits = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "linkaudit",
			Name:      "rule_hits_total",
			Help:      "Corrective rule applications by rule name",
		}, []string{"rule"})
		pr.resolveDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "linkaudit",
			Name:      "resolve_batch_duration_seconds",
			Help:      "Duration of lookup resolution batch calls",
			Buckets:   prom.DefBuckets,
		}, []string{"result"})
		pr.resolveBatchSize = prom.NewHistogram(prom.HistogramOpts{
			Namespace: "linkaudit",
			Name:      "resolve_batch_size",
			Help:      "Number of keys per resolution batch",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250},
		})
		pr.retries = prom.NewCounter(prom.CounterOpts{
			Namespace: "linkaudit",
			Name:      "resolve_retries_total",
			Help:      "Total resolution batch retries (transient failures)",
		})
		pr.retriesExhausted = prom.NewCounter(prom.CounterOpts{
			Namespace: "linkaudit",
			Name:      "resolve_retry_exhausted_total",
			Help:      "Count of batches where retries were exhausted",
		})
		reg.MustRegister(pr.stageDuration, pr.runDuration, pr.stageResults, pr.documentOutcome, pr.ruleHits, pr.resolveDuration, pr.resolveBatchSize, pr.retries, pr.retriesExhausted)
	})
	return pr
}

func (p *PrometheusRecorder) ObserveStageDuration(stage string, d time.Duration) {
	if p == nil || p.stageDuration == nil {
		return
	}
	p.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (p *PrometheusRecorder) ObserveRunDuration(d time.Duration) {
	if p == nil || p.runDuration == nil {
		return
	}
	p.runDuration.Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncStageResult(stage string, result ResultLabel) {
	if p == nil || p.stageResults == nil {
		return
	}
	p.stageResults.WithLabelValues(stage, string(result)).Inc()
}

func (p *PrometheusRecorder) IncDocumentOutcome(outcome string) {
	if p == nil || p.documentOutcome == nil {
		return
	}
	p.documentOutcome.WithLabelValues(outcome).Inc()
}

func (p *PrometheusRecorder) IncRuleHit(rule string) {
	if p == nil || p.ruleHits == nil {
		return
	}
	p.ruleHits.WithLabelValues(rule).Inc()
}

func (p *PrometheusRecorder) ObserveResolveBatch(d time.Duration, size int, success bool) {
	if p == nil || p.resolveDuration == nil {
		return
	}
	res := "failed"
	if success {
		res = "success"
	}
	p.resolveDuration.WithLabelValues(res).Observe(d.Seconds())
	p.resolveBatchSize.Observe(float64(size))
}

func (p *PrometheusRecorder) IncResolveRetry() {
	if p == nil || p.retries == nil {
		return
	}
	p.retries.Inc()
}

func (p *PrometheusRecorder) IncResolveRetryExhausted() {
	if p == nil || p.retriesExhausted == nil {
		return
	}
	p.retriesExhausted.Inc()
}
