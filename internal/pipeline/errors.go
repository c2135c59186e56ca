package pipeline

import "fmt"

// ErrorCategory classifies a per-job failure for reporting and routing.
type ErrorCategory string

const (
	CategoryValidation ErrorCategory = "validation"
	CategoryExtraction ErrorCategory = "extraction"
	CategoryResolution ErrorCategory = "resolution"
	CategoryCommit     ErrorCategory = "commit"
	CategoryCanceled   ErrorCategory = "canceled"
	CategoryInternal   ErrorCategory = "internal"
)

// StageError is one structured error captured on a job. Per-job errors are
// never thrown out of the orchestrator's top-level call; they surface through
// the job's Errors collection and the aggregate counts.
type StageError struct {
	Stage    Stage
	Category ErrorCategory
	Message  string
}

// Error implements the error interface.
func (e StageError) Error() string {
	return fmt.Sprintf("[%s:%s] %s", e.Stage, e.Category, e.Message)
}
