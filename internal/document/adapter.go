// Package document defines the document adapter boundary the pipeline talks
// to, together with the concrete DOCX implementation and an in-memory test
// double. The pipeline treats adapter operations as fallible, possibly slow,
// blocking calls.
package document

import (
	"context"

	"git.home.luguber.info/inful/linkaudit/internal/hyperlink"
)

// Contents is the in-memory view of one opened document: its hyperlink
// records in document order plus the bookmark names internal anchors may
// point at.
type Contents struct {
	Hyperlinks []*hyperlink.Record
	Bookmarks  map[string]struct{}
}

// Modified reports whether any record carries edits worth committing.
func (c *Contents) Modified() bool {
	for _, rec := range c.Hyperlinks {
		if rec.Modified() {
			return true
		}
	}
	return false
}

// Adapter is the collaborator contract for opening, mutating, and committing
// documents. Element identity must be preserved across one Open -> mutate ->
// Commit cycle so edits land on the element they were read from.
type Adapter interface {
	Open(ctx context.Context, path string) (*Contents, error)
	Commit(ctx context.Context, path string, contents *Contents) error
	CreateBackup(path string) (string, error)
	RestoreFromBackup(path, backupPath string) error
}
