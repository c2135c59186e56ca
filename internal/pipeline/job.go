// Package pipeline wires validation, extraction, rule application, lookup
// resolution, and commit into a staged concurrent pipeline over many
// documents, with bounded queues between stages and bulkhead isolation per
// document job.
package pipeline

import (
	"time"

	"git.home.luguber.info/inful/linkaudit/internal/document"
	"git.home.luguber.info/inful/linkaudit/internal/hyperlink"
)

// Stage names one pipeline stage. Jobs move through stages strictly in this
// order and never re-enter an earlier stage.
type Stage string

const (
	StageQueued             Stage = "queued"
	StageValidating         Stage = "validating"
	StageExtracting         Stage = "extracting"
	StagePreProcessing      Stage = "preprocessing"
	StageAwaitingResolution Stage = "awaiting_resolution"
	StagePostProcessing     Stage = "postprocessing"
	StageCommitting         Stage = "committing"
	StageCompleted          Stage = "completed"
	StageFailed             Stage = "failed"
)

// Outcome is a job's terminal status.
type Outcome string

const (
	OutcomeSuccess  Outcome = "success"
	OutcomeFailed   Outcome = "failed"
	OutcomeSkipped  Outcome = "skipped"
	OutcomeCanceled Outcome = "canceled"
)

// Job is one file moving through the pipeline. A failure at any stage
// freezes the job at that stage without blocking sibling jobs.
type Job struct {
	ID       string
	FilePath string
	FileHash string

	Contents *document.Contents

	Stage      Stage
	Outcome    Outcome
	BackupPath string
	Errors     []StageError

	Changes            []hyperlink.Change
	DoubleSpaceFixes   int
	ContentIDsAppended int
	InvisibleRemoved   int
	TitlesFixed        int

	resolutions map[string]hyperlink.Resolution

	StartedAt   time.Time
	CompletedAt time.Time
}

// fail freezes the job at the given stage with a structured error.
func (j *Job) fail(stage Stage, category ErrorCategory, err error) {
	j.Stage = stage
	j.Outcome = OutcomeFailed
	j.Errors = append(j.Errors, StageError{Stage: stage, Category: category, Message: err.Error()})
}

// skip marks the job as skipped at the given stage.
func (j *Job) skip(stage Stage, category ErrorCategory, reason string) {
	j.Stage = stage
	j.Outcome = OutcomeSkipped
	j.Errors = append(j.Errors, StageError{Stage: stage, Category: category, Message: reason})
}

// lookupKeys returns the distinct lookup keys of the job's live hyperlinks.
func (j *Job) lookupKeys() []hyperlink.Key {
	if j.Contents == nil {
		return nil
	}
	var keys []hyperlink.Key
	seen := make(map[string]struct{})
	for _, rec := range j.Contents.Hyperlinks {
		if rec.MarkedForDeletion || rec.LookupKey == nil {
			continue
		}
		if _, ok := seen[rec.LookupKey.Value]; ok {
			continue
		}
		seen[rec.LookupKey.Value] = struct{}{}
		keys = append(keys, *rec.LookupKey)
	}
	return keys
}

// Duration returns the job's wall-clock processing time.
func (j *Job) Duration() time.Duration {
	if j.StartedAt.IsZero() || j.CompletedAt.IsZero() {
		return 0
	}
	return j.CompletedAt.Sub(j.StartedAt)
}
