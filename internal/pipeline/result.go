package pipeline

import (
	"sort"
	"time"

	"git.home.luguber.info/inful/linkaudit/internal/changelog"
	"git.home.luguber.info/inful/linkaudit/internal/hyperlink"
)

// DocumentResult is one job's contribution to the run result.
type DocumentResult struct {
	Path               string
	Hash               string
	Outcome            Outcome
	Stage              Stage
	BackupPath         string
	Errors             []StageError
	Changes            []hyperlink.Change
	HyperlinkCount     int
	DoubleSpaceFixes   int
	ContentIDsAppended int
	InvisibleRemoved   int
	TitlesFixed        int
	Duration           time.Duration
}

// Stats aggregates per-rule counters across the run.
type Stats struct {
	DoubleSpaceFixes   int
	ContentIDsAppended int
	InvisibleRemoved   int
	TitlesFixed        int
}

// Result is the batch-level outcome of ProcessDocuments. It is always
// returned; per-job failures surface through FailedFiles and the per-document
// results, never as a top-level error.
type Result struct {
	RunID           string
	Success         bool
	Canceled        bool
	TotalFiles      int
	SuccessfulFiles int
	FailedFiles     int
	SkippedFiles    int
	Duration        time.Duration
	Documents       []*DocumentResult
	Changelog       *changelog.Report
	Stats           Stats
}

// SingleResult is the outcome of ProcessSingleDocument.
type SingleResult struct {
	Document  *DocumentResult
	Changelog *changelog.Report
	Duration  time.Duration
}

// buildResult aggregates finished jobs into the run result. Documents are
// ordered by file path so output is deterministic regardless of completion
// order.
func buildResult(runID string, jobs []*Job, duration time.Duration, canceled bool) *Result {
	res := &Result{
		RunID:      runID,
		Canceled:   canceled,
		TotalFiles: len(jobs),
		Duration:   duration,
	}

	var outcomes []changelog.DocumentOutcome
	for _, job := range jobs {
		dr := &DocumentResult{
			Path:               job.FilePath,
			Hash:               job.FileHash,
			Outcome:            job.Outcome,
			Stage:              job.Stage,
			BackupPath:         job.BackupPath,
			Errors:             job.Errors,
			Changes:            job.Changes,
			DoubleSpaceFixes:   job.DoubleSpaceFixes,
			ContentIDsAppended: job.ContentIDsAppended,
			InvisibleRemoved:   job.InvisibleRemoved,
			TitlesFixed:        job.TitlesFixed,
			Duration:           job.Duration(),
		}
		if job.Contents != nil {
			dr.HyperlinkCount = len(job.Contents.Hyperlinks)
		}
		res.Documents = append(res.Documents, dr)

		switch job.Outcome {
		case OutcomeSuccess:
			res.SuccessfulFiles++
		case OutcomeSkipped, OutcomeCanceled:
			res.SkippedFiles++
		default:
			res.FailedFiles++
		}

		res.Stats.DoubleSpaceFixes += job.DoubleSpaceFixes
		res.Stats.ContentIDsAppended += job.ContentIDsAppended
		res.Stats.InvisibleRemoved += job.InvisibleRemoved
		res.Stats.TitlesFixed += job.TitlesFixed

		if job.Outcome == OutcomeSuccess {
			outcomes = append(outcomes, changelog.DocumentOutcome{
				Path:             job.FilePath,
				Changes:          job.Changes,
				DoubleSpaceFixes: job.DoubleSpaceFixes,
			})
		}
	}

	sort.Slice(res.Documents, func(i, j int) bool {
		return res.Documents[i].Path < res.Documents[j].Path
	})

	res.Changelog = changelog.Build(outcomes)
	res.Success = res.FailedFiles == 0 && !canceled
	return res
}
