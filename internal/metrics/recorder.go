package metrics

import "time"

// ResultLabel enumerates stage result categories for counters.
type ResultLabel string

const (
	ResultSuccess  ResultLabel = "success"
	ResultFailed   ResultLabel = "failed"
	ResultSkipped  ResultLabel = "skipped"
	ResultCanceled ResultLabel = "canceled"
)

// Recorder defines observability hooks for pipeline and resolver metrics.
// Implementations may forward to Prometheus, OpenTelemetry, etc. All methods
// must be safe on the NoopRecorder (allowing optional injection).
type Recorder interface {
	ObserveStageDuration(stage string, d time.Duration)
	ObserveRunDuration(d time.Duration)
	IncStageResult(stage string, result ResultLabel)
	IncDocumentOutcome(outcome string) // outcome: success|failed|skipped|canceled
	IncRuleHit(rule string)
	ObserveResolveBatch(d time.Duration, size int, success bool)
	IncResolveRetry()
	IncResolveRetryExhausted()
}

// NoopRecorder is a Recorder that does nothing (default when metrics not configured).
type NoopRecorder struct{}

func (NoopRecorder) ObserveStageDuration(string, time.Duration)    {}
func (NoopRecorder) ObserveRunDuration(time.Duration)              {}
func (NoopRecorder) IncStageResult(string, ResultLabel)            {}
func (NoopRecorder) IncDocumentOutcome(string)                     {}
func (NoopRecorder) IncRuleHit(string)                             {}
func (NoopRecorder) ObserveResolveBatch(time.Duration, int, bool)  {}
func (NoopRecorder) IncResolveRetry()                              {}
func (NoopRecorder) IncResolveRetryExhausted()                     {}
