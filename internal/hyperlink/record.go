// Package hyperlink holds the hyperlink record model, the lookup-key
// extraction algorithm, and the corrective rule engine applied to records
// before and after lookup resolution.
package hyperlink

// ProcessingStatus tracks where a record is in its processing lifecycle.
type ProcessingStatus string

const (
	ProcessingPending   ProcessingStatus = "pending"
	ProcessingProcessed ProcessingStatus = "processed"
	ProcessingFailed    ProcessingStatus = "failed"
	ProcessingSkipped   ProcessingStatus = "skipped"
)

// Record is one hyperlink instance inside one document. Records are created
// during extraction and mutated in place by the rule engine; they live for a
// single pipeline run.
type Record struct {
	// ElementID is document-local and stable across a single open/commit
	// cycle, so edits land on the same element.
	ElementID  string
	DocumentID string
	// RelID is the OOXML relationship id backing external targets.
	// Empty for anchor-only links.
	RelID string

	Address     string
	SubAddress  string
	DisplayText string

	// LookupKey is derived exclusively from Address/SubAddress. Mutate the
	// target through SetTarget so the key is recomputed, never hand-set.
	LookupKey *Key

	ContentID string
	Title     string
	Status    string

	Processing      ProcessingStatus
	ProcessingNotes []string

	MarkedForDeletion bool

	// Change tracking consumed by the document adapter on commit.
	TextChanged   bool
	TargetChanged bool
}

// NewRecord builds a record and derives its lookup key.
func NewRecord(elementID, address, subAddress, displayText string) *Record {
	r := &Record{
		ElementID:   elementID,
		Address:     address,
		SubAddress:  subAddress,
		DisplayText: displayText,
		Processing:  ProcessingPending,
	}
	r.recomputeKey()
	return r
}

// SetTarget updates the link target and recomputes the lookup key.
func (r *Record) SetTarget(address, subAddress string) {
	if r.Address == address && r.SubAddress == subAddress {
		return
	}
	r.Address = address
	r.SubAddress = subAddress
	r.TargetChanged = true
	r.recomputeKey()
}

// SetDisplayText updates the visible text and records the change.
func (r *Record) SetDisplayText(text string) {
	if r.DisplayText == text {
		return
	}
	r.DisplayText = text
	r.TextChanged = true
}

// AddNote appends a human-readable processing note.
func (r *Record) AddNote(note string) {
	r.ProcessingNotes = append(r.ProcessingNotes, note)
}

// Modified reports whether the record carries edits the adapter must commit.
func (r *Record) Modified() bool {
	return r.TextChanged || r.TargetChanged || r.MarkedForDeletion
}

func (r *Record) recomputeKey() {
	if k, ok := Classify(r.Address, r.SubAddress); ok {
		r.LookupKey = &k
	} else {
		r.LookupKey = nil
	}
}
