package document

import (
	"context"
	"fmt"
	"sync"
)

// MemoryAdapter is an in-memory Adapter for tests and embedding. Documents
// are registered up front; Open returns fresh record copies so concurrent
// jobs never share mutable state.
type MemoryAdapter struct {
	mu        sync.Mutex
	docs      map[string]*Contents
	committed map[string]*Contents
	backups   map[string]*Contents

	// Failure injection per path.
	OpenErr   map[string]error
	CommitErr map[string]error

	OpenCalls   int
	CommitCalls int
}

// NewMemoryAdapter creates an empty in-memory adapter.
func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{
		docs:      make(map[string]*Contents),
		committed: make(map[string]*Contents),
		backups:   make(map[string]*Contents),
		OpenErr:   make(map[string]error),
		CommitErr: make(map[string]error),
	}
}

// AddDocument registers a document under path.
func (m *MemoryAdapter) AddDocument(path string, contents *Contents) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[path] = contents
}

// Open returns a deep copy of the registered document.
func (m *MemoryAdapter) Open(_ context.Context, path string) (*Contents, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.OpenCalls++
	if err := m.OpenErr[path]; err != nil {
		return nil, err
	}
	src, ok := m.docs[path]
	if !ok {
		return nil, fmt.Errorf("document %s not registered", path)
	}
	return cloneContents(src), nil
}

// Commit stores the committed contents for later inspection.
func (m *MemoryAdapter) Commit(_ context.Context, path string, contents *Contents) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CommitCalls++
	if err := m.CommitErr[path]; err != nil {
		return err
	}
	if _, ok := m.docs[path]; !ok {
		return fmt.Errorf("document %s not registered", path)
	}
	m.committed[path] = cloneContents(contents)
	return nil
}

// Committed returns the last committed contents for path, nil if none.
func (m *MemoryAdapter) Committed(path string) *Contents {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.committed[path]
}

// CreateBackup snapshots the current document state.
func (m *MemoryAdapter) CreateBackup(path string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	src, ok := m.docs[path]
	if !ok {
		return "", fmt.Errorf("document %s not registered", path)
	}
	backupPath := path + ".bak"
	m.backups[backupPath] = cloneContents(src)
	return backupPath, nil
}

// RestoreFromBackup restores a snapshot taken by CreateBackup.
func (m *MemoryAdapter) RestoreFromBackup(path, backupPath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.backups[backupPath]
	if !ok {
		return fmt.Errorf("backup %s not found", backupPath)
	}
	m.docs[path] = cloneContents(snap)
	delete(m.committed, path)
	return nil
}

func cloneContents(src *Contents) *Contents {
	dst := &Contents{Bookmarks: make(map[string]struct{}, len(src.Bookmarks))}
	for b := range src.Bookmarks {
		dst.Bookmarks[b] = struct{}{}
	}
	for _, rec := range src.Hyperlinks {
		cp := *rec
		cp.ProcessingNotes = append([]string(nil), rec.ProcessingNotes...)
		if rec.LookupKey != nil {
			k := *rec.LookupKey
			cp.LookupKey = &k
		}
		dst.Hyperlinks = append(dst.Hyperlinks, &cp)
	}
	return dst
}
