package hyperlink

// Resolution is the outcome of resolving one lookup key against the external
// source. Immutable once produced; consumed by the post-resolution rules.
type Resolution struct {
	Key       string
	Found     bool
	ContentID string
	Title     string
	Status    string // free-form source status, e.g. Released/Expired/Draft
	Err       string // non-empty when resolution itself failed for this key
}

// NotFound builds a negative resolution for a key, optionally carrying the
// failure reason.
func NotFound(key, reason string) Resolution {
	return Resolution{Key: key, Found: false, Err: reason}
}
