package pipeline

import "sync/atomic"

// ProgressEvent is reported after every stage transition for every job.
type ProgressEvent struct {
	Path      string
	Stage     Stage
	Completed int // jobs that reached a terminal stage so far
	Total     int
}

// ProgressSink receives progress events. Implementations must be safe for
// concurrent use; the pipeline reports from multiple stage workers.
type ProgressSink interface {
	Report(ev ProgressEvent)
}

// SinkFunc adapts a function to the ProgressSink interface.
type SinkFunc func(ev ProgressEvent)

// Report implements ProgressSink.
func (f SinkFunc) Report(ev ProgressEvent) { f(ev) }

// NoopSink discards progress events.
var NoopSink ProgressSink = SinkFunc(func(ProgressEvent) {})

// progressTracker fans stage transitions out to the sink with shared
// completed/total counters.
type progressTracker struct {
	sink      ProgressSink
	total     int
	completed atomic.Int64
}

func newProgressTracker(sink ProgressSink, total int) *progressTracker {
	if sink == nil {
		sink = NoopSink
	}
	return &progressTracker{sink: sink, total: total}
}

// transitioned reports a job entering a stage.
func (p *progressTracker) transitioned(job *Job, stage Stage) {
	p.sink.Report(ProgressEvent{
		Path:      job.FilePath,
		Stage:     stage,
		Completed: int(p.completed.Load()),
		Total:     p.total,
	})
}

// finished reports a job reaching a terminal stage.
func (p *progressTracker) finished(job *Job, stage Stage) {
	done := p.completed.Add(1)
	p.sink.Report(ProgressEvent{
		Path:      job.FilePath,
		Stage:     stage,
		Completed: int(done),
		Total:     p.total,
	})
}
