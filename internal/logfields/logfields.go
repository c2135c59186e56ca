package logfields

import "log/slog"

// Canonical log field name constants to avoid drift across packages.
const (
	KeyRunID      = "run_id"
	KeyJobID      = "job_id"
	KeyPath       = "path"
	KeyStage      = "stage"
	KeyOutcome    = "outcome"
	KeyDurationMS = "duration_ms"
	KeyKeyCount   = "key_count"
	KeyBatchSize  = "batch_size"
	KeyLinkCount  = "link_count"
	KeyError      = "error"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func RunID(id string) slog.Attr       { return slog.String(KeyRunID, id) }
func JobID(id string) slog.Attr       { return slog.String(KeyJobID, id) }
func Path(p string) slog.Attr         { return slog.String(KeyPath, p) }
func Stage(name string) slog.Attr     { return slog.String(KeyStage, name) }
func Outcome(o string) slog.Attr      { return slog.String(KeyOutcome, o) }
func DurationMS(ms float64) slog.Attr { return slog.Float64(KeyDurationMS, ms) }
func KeyCount(n int) slog.Attr        { return slog.Int(KeyKeyCount, n) }
func BatchSize(n int) slog.Attr       { return slog.Int(KeyBatchSize, n) }
func LinkCount(n int) slog.Attr       { return slog.Int(KeyLinkCount, n) }

func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
