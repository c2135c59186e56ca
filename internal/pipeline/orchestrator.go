package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/linkaudit/internal/config"
	"git.home.luguber.info/inful/linkaudit/internal/document"
	"git.home.luguber.info/inful/linkaudit/internal/events"
	"git.home.luguber.info/inful/linkaudit/internal/hyperlink"
	"git.home.luguber.info/inful/linkaudit/internal/logfields"
	"git.home.luguber.info/inful/linkaudit/internal/metrics"
)

// errJobTerminal signals that a stage function already marked the job with a
// terminal outcome (skip or fail) and no further stages should run it.
var errJobTerminal = errors.New("job reached terminal state")

// KeyResolver resolves a set of lookup keys. It is the pipeline's only
// shared outbound dependency; all batching and throttling live behind it.
type KeyResolver interface {
	ResolveAll(ctx context.Context, keys []hyperlink.Key) (map[string]hyperlink.Resolution, error)
}

// Orchestrator drives document jobs through the fixed stage sequence with
// bounded queues between stages. Each stage runs its own worker pool; a slow
// or failing document never blocks its siblings beyond queue capacity.
type Orchestrator struct {
	cfg       *config.Config
	adapter   document.Adapter
	resolver  KeyResolver
	engine    *hyperlink.Engine
	recorder  metrics.Recorder
	publisher events.Publisher
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithRecorder injects a metrics recorder.
func WithRecorder(rec metrics.Recorder) Option {
	return func(o *Orchestrator) {
		if rec != nil {
			o.recorder = rec
		}
	}
}

// WithPublisher injects an event publisher.
func WithPublisher(pub events.Publisher) Option {
	return func(o *Orchestrator) {
		if pub != nil {
			o.publisher = pub
		}
	}
}

// NewOrchestrator builds a pipeline orchestrator around the given adapter
// and resolver. The rule engine is derived from cfg.Rules.
func NewOrchestrator(cfg *config.Config, adapter document.Adapter, res KeyResolver, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:       cfg,
		adapter:   adapter,
		resolver:  res,
		engine:    hyperlink.NewEngine(cfg.Rules),
		recorder:  metrics.NoopRecorder{},
		publisher: events.NoopPublisher{},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// ProcessDocuments runs the full pipeline over the given file paths and
// returns the aggregated result. Duplicate paths are admitted once. The
// returned error is non-nil only for empty input; per-document failures are
// reported through the result.
func (o *Orchestrator) ProcessDocuments(ctx context.Context, paths []string, sink ProgressSink) (*Result, error) {
	paths = dedupePaths(paths)
	if len(paths) == 0 {
		return nil, errors.New("no documents to process")
	}

	runID := uuid.NewString()
	start := time.Now()
	total := len(paths)
	tracker := newProgressTracker(sink, total)

	slog.Info("Starting audit run",
		logfields.RunID(runID),
		slog.Int("documents", total),
		slog.Int("max_concurrency", o.cfg.Pipeline.MaxConcurrency))

	capacity := o.cfg.Pipeline.BoundedCapacity
	if capacity <= 0 {
		capacity = 1
	}

	toValidate := make(chan *Job, capacity)
	toExtract := make(chan *Job, capacity)
	toPre := make(chan *Job, capacity)
	toResolve := make(chan *Job, capacity)
	toPost := make(chan *Job, capacity)
	toCommit := make(chan *Job, capacity)
	completed := make(chan *Job, capacity)
	// done never blocks: every job passes through it at most once.
	done := make(chan *Job, total)

	sp := o.cfg.Pipeline
	o.runStage(ctx, StageValidating, sp.WorkersFor(sp.StageParallelism.Validate), toValidate, toExtract, done, tracker, o.validate)
	o.runStage(ctx, StageExtracting, sp.WorkersFor(sp.StageParallelism.Extract), toExtract, toPre, done, tracker, o.extract)
	o.runStage(ctx, StagePreProcessing, sp.WorkersFor(sp.StageParallelism.PreProcess), toPre, toResolve, done, tracker, o.preProcess)
	o.runResolutionStage(ctx, toResolve, toPost, done, tracker)
	o.runStage(ctx, StagePostProcessing, sp.WorkersFor(sp.StageParallelism.PostProcess), toPost, toCommit, done, tracker, o.postProcess)
	o.runStage(ctx, StageCommitting, sp.WorkersFor(sp.StageParallelism.Commit), toCommit, completed, done, tracker, o.commit)

	go func() {
		defer close(toValidate)
		for _, path := range paths {
			job := &Job{
				ID:        uuid.NewString(),
				FilePath:  path,
				Stage:     StageQueued,
				StartedAt: time.Now(),
			}
			select {
			case <-ctx.Done():
				job.Outcome = OutcomeCanceled
				job.Errors = append(job.Errors, StageError{Stage: StageQueued, Category: CategoryCanceled, Message: ctx.Err().Error()})
				job.CompletedAt = time.Now()
				done <- job
				tracker.finished(job, StageQueued)
			case toValidate <- job:
				tracker.transitioned(job, StageValidating)
			}
		}
	}()

	jobs := make([]*Job, 0, total)
	for job := range completed {
		o.finishJob(ctx, runID, job, tracker)
		jobs = append(jobs, job)
	}
	// All stage workers have exited once the final stage closed; drain
	// the terminal jobs they parked on done.
	close(done)
	for job := range done {
		o.recorder.IncDocumentOutcome(string(job.Outcome))
		o.publishDocument(ctx, runID, job)
		jobs = append(jobs, job)
	}

	duration := time.Since(start)
	o.recorder.ObserveRunDuration(duration)
	result := buildResult(runID, jobs, duration, ctx.Err() != nil)

	slog.Info("Audit run finished",
		logfields.RunID(runID),
		logfields.Outcome(runOutcome(result)),
		slog.Int("succeeded", result.SuccessfulFiles),
		slog.Int("failed", result.FailedFiles),
		slog.Int("skipped", result.SkippedFiles),
		logfields.DurationMS(float64(duration.Milliseconds())))
	return result, nil
}

// ProcessSingleDocument runs the pipeline for one file.
func (o *Orchestrator) ProcessSingleDocument(ctx context.Context, path string, sink ProgressSink) (*SingleResult, error) {
	result, err := o.ProcessDocuments(ctx, []string{path}, sink)
	if err != nil {
		return nil, err
	}
	if len(result.Documents) != 1 {
		return nil, fmt.Errorf("expected one document result, got %d", len(result.Documents))
	}
	return &SingleResult{
		Document:  result.Documents[0],
		Changelog: result.Changelog,
		Duration:  result.Duration,
	}, nil
}

// runStage starts a worker pool moving jobs from in to out through fn.
// Terminal jobs (failed, skipped, canceled) divert to done instead. out is
// closed after all workers exit, which cascades shutdown stage by stage.
func (o *Orchestrator) runStage(ctx context.Context, stage Stage, workers int, in <-chan *Job, out chan<- *Job, done chan<- *Job, tracker *progressTracker, fn func(context.Context, *Job) error) {
	if workers <= 0 {
		workers = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range in {
				// Cancellation is honored between jobs, never
				// mid-job: a unit that started finishes.
				if ctx.Err() != nil {
					o.park(job, stage, OutcomeCanceled, CategoryCanceled, ctx.Err().Error(), done, tracker)
					continue
				}

				job.Stage = stage
				stageStart := time.Now()
				err := o.callStage(ctx, stage, job, fn)
				o.recorder.ObserveStageDuration(string(stage), time.Since(stageStart))

				if err != nil {
					if !errors.Is(err, errJobTerminal) && job.Outcome == "" {
						job.fail(stage, categoryFor(stage), err)
					}
					o.recorder.IncStageResult(string(stage), resultLabel(job.Outcome))
					job.CompletedAt = time.Now()
					attrs := []slog.Attr{
						logfields.JobID(job.ID),
						logfields.Path(job.FilePath),
						logfields.Stage(string(stage)),
						logfields.Outcome(string(job.Outcome)),
					}
					if !errors.Is(err, errJobTerminal) {
						attrs = append(attrs, logfields.Error(err))
					}
					slog.LogAttrs(ctx, slog.LevelWarn, "Document left pipeline", attrs...)
					done <- job
					tracker.finished(job, job.Stage)
					continue
				}

				o.recorder.IncStageResult(string(stage), metrics.ResultSuccess)
				tracker.transitioned(job, stage)
				out <- job
			}
		}()
	}
	go func() {
		wg.Wait()
		close(out)
	}()
}

// callStage applies the configured stage timeout. Commit is exempt: once a
// document started committing it is allowed to finish.
func (o *Orchestrator) callStage(ctx context.Context, stage Stage, job *Job, fn func(context.Context, *Job) error) error {
	if stage == StageCommitting {
		return fn(context.WithoutCancel(ctx), job)
	}
	if timeout := o.cfg.StageTimeoutDuration(); timeout > 0 {
		sctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return fn(sctx, job)
	}
	return fn(ctx, job)
}

// park diverts a job to done with a terminal outcome.
func (o *Orchestrator) park(job *Job, stage Stage, outcome Outcome, category ErrorCategory, reason string, done chan<- *Job, tracker *progressTracker) {
	if job.Outcome == "" {
		job.Outcome = outcome
		job.Errors = append(job.Errors, StageError{Stage: stage, Category: category, Message: reason})
	}
	job.CompletedAt = time.Now()
	done <- job
	tracker.finished(job, job.Stage)
}

// runResolutionStage is the coalescing stage: a single goroutine buffers
// incoming jobs up to the resolution window, resolves their combined key set
// in one resolver call, and fans the shared results back out. Jobs with no
// lookup keys pass straight through.
func (o *Orchestrator) runResolutionStage(ctx context.Context, in <-chan *Job, out chan<- *Job, done chan<- *Job, tracker *progressTracker) {
	window := o.cfg.Pipeline.ResolutionWindow
	if window <= 0 {
		window = 1
	}

	flush := func(buf []*Job) {
		if len(buf) == 0 {
			return
		}
		seen := make(map[string]struct{})
		var keys []hyperlink.Key
		for _, job := range buf {
			for _, key := range job.lookupKeys() {
				if _, ok := seen[key.Value]; ok {
					continue
				}
				seen[key.Value] = struct{}{}
				keys = append(keys, key)
			}
		}

		start := time.Now()
		results, err := o.resolver.ResolveAll(ctx, keys)
		o.recorder.ObserveStageDuration(string(StageAwaitingResolution), time.Since(start))

		for _, job := range buf {
			if err != nil {
				o.recorder.IncStageResult(string(StageAwaitingResolution), metrics.ResultCanceled)
				o.park(job, StageAwaitingResolution, OutcomeCanceled, CategoryCanceled, err.Error(), done, tracker)
				continue
			}
			job.resolutions = results
			o.recorder.IncStageResult(string(StageAwaitingResolution), metrics.ResultSuccess)
			tracker.transitioned(job, StageAwaitingResolution)
			out <- job
		}
	}

	go func() {
		defer close(out)
		buf := make([]*Job, 0, window)
		for job := range in {
			if ctx.Err() != nil {
				o.park(job, StageAwaitingResolution, OutcomeCanceled, CategoryCanceled, ctx.Err().Error(), done, tracker)
				continue
			}
			job.Stage = StageAwaitingResolution
			if len(job.lookupKeys()) == 0 {
				tracker.transitioned(job, StageAwaitingResolution)
				out <- job
				continue
			}
			buf = append(buf, job)
			if len(buf) >= window {
				flush(buf)
				buf = buf[:0]
			}
		}
		flush(buf)
	}()
}

// validate checks existence and extension, then fingerprints the file.
// Non-documents are skipped, not failed.
func (o *Orchestrator) validate(ctx context.Context, job *Job) error {
	info, err := os.Stat(job.FilePath)
	if err != nil {
		job.skip(StageValidating, CategoryValidation, fmt.Sprintf("file not accessible: %v", err))
		return errJobTerminal
	}
	if info.IsDir() {
		job.skip(StageValidating, CategoryValidation, "path is a directory")
		return errJobTerminal
	}
	if !strings.EqualFold(filepath.Ext(job.FilePath), ".docx") {
		job.skip(StageValidating, CategoryValidation, "not a .docx document")
		return errJobTerminal
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	hash, err := hashFile(job.FilePath)
	if err != nil {
		return fmt.Errorf("fingerprint %s: %w", job.FilePath, err)
	}
	job.FileHash = hash
	return nil
}

func (o *Orchestrator) extract(ctx context.Context, job *Job) error {
	contents, err := o.adapter.Open(ctx, job.FilePath)
	if err != nil {
		return fmt.Errorf("open document: %w", err)
	}
	for _, rec := range contents.Hyperlinks {
		rec.DocumentID = job.ID
	}
	job.Contents = contents
	slog.Debug("Extracted hyperlinks",
		logfields.JobID(job.ID),
		logfields.Path(job.FilePath),
		logfields.LinkCount(len(contents.Hyperlinks)))
	return nil
}

func (o *Orchestrator) preProcess(ctx context.Context, job *Job) error {
	for _, rec := range job.Contents.Hyperlinks {
		if err := ctx.Err(); err != nil {
			return err
		}
		pre := o.engine.ApplyPre(rec, job.Contents.Bookmarks)
		job.Changes = append(job.Changes, pre.Changes...)
		job.DoubleSpaceFixes += pre.DoubleSpaceFixes
		if pre.RemovedInvisible {
			job.InvisibleRemoved++
		}
		for _, c := range pre.Changes {
			o.recorder.IncRuleHit(string(c.Category))
		}
	}
	return nil
}

func (o *Orchestrator) postProcess(ctx context.Context, job *Job) error {
	for _, rec := range job.Contents.Hyperlinks {
		if err := ctx.Err(); err != nil {
			return err
		}
		if rec.MarkedForDeletion || rec.LookupKey == nil {
			continue
		}
		res, ok := job.resolutions[rec.LookupKey.Value]
		if !ok {
			continue
		}
		post := o.engine.ApplyPost(rec, res)
		job.Changes = append(job.Changes, post.Changes...)
		if post.ContentIDAppended {
			job.ContentIDsAppended++
		}
		if post.TitleFixed {
			job.TitlesFixed++
		}
		for _, c := range post.Changes {
			o.recorder.IncRuleHit(string(c.Category))
		}
	}
	return nil
}

// commit writes modified documents back through the adapter, taking a backup
// first and restoring it when the write fails. Unmodified documents are a
// no-op success.
func (o *Orchestrator) commit(ctx context.Context, job *Job) error {
	if job.Contents == nil || !job.Contents.Modified() {
		return nil
	}

	if o.cfg.Backup.Enabled {
		backupPath, err := o.adapter.CreateBackup(job.FilePath)
		if err != nil {
			return fmt.Errorf("create backup: %w", err)
		}
		job.BackupPath = backupPath
	}

	if err := o.adapter.Commit(ctx, job.FilePath, job.Contents); err != nil {
		if job.BackupPath != "" {
			if rerr := o.adapter.RestoreFromBackup(job.FilePath, job.BackupPath); rerr != nil {
				slog.Error("Backup restore failed after commit error",
					logfields.Path(job.FilePath),
					logfields.Error(rerr))
			} else {
				slog.Info("Restored document from backup after failed commit",
					logfields.Path(job.FilePath),
					slog.String("backup", job.BackupPath))
			}
		}
		return fmt.Errorf("commit document: %w", err)
	}
	return nil
}

// finishJob finalizes a job that completed every stage.
func (o *Orchestrator) finishJob(ctx context.Context, runID string, job *Job, tracker *progressTracker) {
	job.Stage = StageCompleted
	if job.Outcome == "" {
		job.Outcome = OutcomeSuccess
	}
	job.CompletedAt = time.Now()
	o.recorder.IncDocumentOutcome(string(job.Outcome))
	tracker.finished(job, StageCompleted)
	o.publishDocument(ctx, runID, job)
}

// publishDocument emits the audit event for a finished job plus one issue
// event per problematic link. Publication failures are logged, never fatal.
func (o *Orchestrator) publishDocument(ctx context.Context, runID string, job *Job) {
	counts := make(map[string]int)
	for _, c := range job.Changes {
		counts[string(c.Category)]++
	}
	var errs []string
	for _, e := range job.Errors {
		errs = append(errs, e.Error())
	}
	ev := &events.DocumentAuditedEvent{
		RunID:       runID,
		Path:        job.FilePath,
		Outcome:     string(job.Outcome),
		Stage:       string(job.Stage),
		Counts:      counts,
		Errors:      errs,
		Duration:    job.Duration(),
		CompletedAt: job.CompletedAt,
	}
	if job.Contents != nil {
		ev.LinkCount = len(job.Contents.Hyperlinks)
	}
	if err := o.publisher.PublishDocumentAudited(ctx, ev); err != nil {
		slog.Warn("Event publish failed", logfields.Path(job.FilePath), logfields.Error(err))
	}

	if job.Contents == nil {
		return
	}
	now := time.Now()
	for _, rec := range job.Contents.Hyperlinks {
		if rec.Status != "NotFound" && rec.Status != "Error" && !hyperlink.IsExpiredStatus(rec.Status) {
			continue
		}
		issue := &events.LinkIssueEvent{
			RunID:     runID,
			Path:      job.FilePath,
			ElementID: rec.ElementID,
			Address:   rec.Address,
			Display:   rec.DisplayText,
			Status:    rec.Status,
			SeenAt:    now,
		}
		if rec.LookupKey != nil {
			issue.LookupKey = rec.LookupKey.Value
		}
		if err := o.publisher.PublishLinkIssue(ctx, issue); err != nil {
			slog.Warn("Link issue publish failed", logfields.Path(job.FilePath), logfields.Error(err))
		}
	}
}

func categoryFor(stage Stage) ErrorCategory {
	switch stage {
	case StageValidating:
		return CategoryValidation
	case StageExtracting:
		return CategoryExtraction
	case StageAwaitingResolution:
		return CategoryResolution
	case StageCommitting:
		return CategoryCommit
	default:
		return CategoryInternal
	}
}

func resultLabel(outcome Outcome) metrics.ResultLabel {
	switch outcome {
	case OutcomeSkipped:
		return metrics.ResultSkipped
	case OutcomeCanceled:
		return metrics.ResultCanceled
	default:
		return metrics.ResultFailed
	}
}

func runOutcome(r *Result) string {
	switch {
	case r.Canceled:
		return string(OutcomeCanceled)
	case r.Success:
		return string(OutcomeSuccess)
	default:
		return string(OutcomeFailed)
	}
}

// dedupePaths admits each cleaned path once, preserving first-seen order.
func dedupePaths(paths []string) []string {
	seen := make(map[string]struct{}, len(paths))
	var out []string
	for _, p := range paths {
		clean := filepath.Clean(p)
		if _, ok := seen[clean]; ok {
			continue
		}
		seen[clean] = struct{}{}
		out = append(out, clean)
	}
	return out
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
