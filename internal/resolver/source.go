// Package resolver turns lookup keys into resolution results. It deduplicates
// keys, maps document ids through the identifier dictionary, and dispatches
// bounded, rate-limited, retried batches against a pluggable Source.
package resolver

import (
	"context"
	"sync"

	"git.home.luguber.info/inful/linkaudit/internal/dictionary"
	"git.home.luguber.info/inful/linkaudit/internal/hyperlink"
)

// Source is one logical operation against the external resolution source:
// resolve a batch of content identifiers. Implementations must return a
// result per requested key when the call succeeds; missing keys are treated
// as not found. The concrete transport is irrelevant to callers.
type Source interface {
	ResolveBatch(ctx context.Context, keys []string) (map[string]hyperlink.Resolution, error)
}

// DictionarySource resolves content identifiers entirely from the local
// dictionary. Used for offline runs and as the substitute source in tests.
type DictionarySource struct {
	store *dictionary.Store
}

// NewDictionarySource wraps a dictionary store as a Source.
func NewDictionarySource(store *dictionary.Store) *DictionarySource {
	return &DictionarySource{store: store}
}

// ResolveBatch looks keys up in the dictionary; unknown keys resolve to not found.
func (s *DictionarySource) ResolveBatch(ctx context.Context, keys []string) (map[string]hyperlink.Resolution, error) {
	meta, err := s.store.ContentMetadata(ctx, keys)
	if err != nil {
		return nil, err
	}
	out := make(map[string]hyperlink.Resolution, len(keys))
	for _, key := range keys {
		if e, ok := meta[key]; ok {
			out[key] = hyperlink.Resolution{
				Key:       key,
				Found:     true,
				ContentID: e.ContentID,
				Title:     e.Title,
				Status:    e.Status,
			}
		} else {
			out[key] = hyperlink.NotFound(key, "")
		}
	}
	return out, nil
}

// StaticSource serves canned results and records every batch it sees.
// Intended for tests of the resolver and the pipeline.
type StaticSource struct {
	mu      sync.Mutex
	results map[string]hyperlink.Resolution
	batches [][]string

	// Err, when set, fails every call until FailCount reaches zero
	// (negative FailCount fails forever).
	Err       error
	FailCount int
}

// NewStaticSource builds a source answering from the given results map.
func NewStaticSource(results map[string]hyperlink.Resolution) *StaticSource {
	if results == nil {
		results = make(map[string]hyperlink.Resolution)
	}
	return &StaticSource{results: results}
}

// ResolveBatch returns canned results, honoring failure injection.
func (s *StaticSource) ResolveBatch(_ context.Context, keys []string) (map[string]hyperlink.Resolution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, append([]string(nil), keys...))
	if s.Err != nil && s.FailCount != 0 {
		if s.FailCount > 0 {
			s.FailCount--
		}
		return nil, s.Err
	}
	out := make(map[string]hyperlink.Resolution, len(keys))
	for _, key := range keys {
		if r, ok := s.results[key]; ok {
			out[key] = r
		} else {
			out[key] = hyperlink.NotFound(key, "")
		}
	}
	return out, nil
}

// Batches returns a copy of the batches dispatched so far.
func (s *StaticSource) Batches() [][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]string(nil), s.batches...)
}

// KeyCalls counts how many dispatched batch slots contained the given key.
func (s *StaticSource) KeyCalls(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, b := range s.batches {
		for _, k := range b {
			if k == key {
				n++
			}
		}
	}
	return n
}
