package resolver

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/linkaudit/internal/config"
	"git.home.luguber.info/inful/linkaudit/internal/dictionary"
	"git.home.luguber.info/inful/linkaudit/internal/hyperlink"
	"git.home.luguber.info/inful/linkaudit/internal/retry"
)

func fastPolicy(maxRetries int) retry.Policy {
	return retry.NewPolicy(config.RetryBackoffFixed, time.Millisecond, time.Millisecond, maxRetries)
}

func contentKey(value string) hyperlink.Key {
	return hyperlink.Key{Value: value, Kind: hyperlink.KeyKindContent}
}

func found(key, title string) hyperlink.Resolution {
	return hyperlink.Resolution{Key: key, Found: true, ContentID: key, Title: title, Status: "Released"}
}

func TestResolveAllDedupesKeys(t *testing.T) {
	source := NewStaticSource(map[string]hyperlink.Resolution{
		"TSRC-VEN-667788": found("TSRC-VEN-667788", "Vendor Policy"),
	})
	r := New(source, nil, Options{BatchSize: 50, Parallelism: 2, Policy: fastPolicy(0)})

	// The same key referenced from three documents resolves exactly once.
	keys := []hyperlink.Key{
		contentKey("TSRC-VEN-667788"),
		contentKey("TSRC-VEN-667788"),
		contentKey("TSRC-VEN-667788"),
	}
	results, err := r.ResolveAll(context.Background(), keys)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results["TSRC-VEN-667788"].Found)
	assert.Equal(t, 1, source.KeyCalls("TSRC-VEN-667788"))
}

func TestResolveAllRespectsBatchSize(t *testing.T) {
	source := NewStaticSource(nil)
	r := New(source, nil, Options{BatchSize: 50, Parallelism: 4, Policy: fastPolicy(0)})

	var keys []hyperlink.Key
	for i := 0; i < 120; i++ {
		keys = append(keys, contentKey(fmt.Sprintf("TSRC-GEN-%06d", i)))
	}

	results, err := r.ResolveAll(context.Background(), keys)
	require.NoError(t, err)
	assert.Len(t, results, 120)

	batches := source.Batches()
	require.Len(t, batches, 3)
	total := 0
	for _, b := range batches {
		assert.LessOrEqual(t, len(b), 50)
		total += len(b)
	}
	assert.Equal(t, 120, total)
}

func TestResolveAllRetriesTransientFailures(t *testing.T) {
	source := NewStaticSource(map[string]hyperlink.Resolution{
		"TSRC-VEN-667788": found("TSRC-VEN-667788", "Vendor Policy"),
	})
	source.Err = Transient(errors.New("upstream flapping"))
	source.FailCount = 2

	r := New(source, nil, Options{BatchSize: 50, Parallelism: 1, Policy: fastPolicy(3)})
	results, err := r.ResolveAll(context.Background(), []hyperlink.Key{contentKey("TSRC-VEN-667788")})
	require.NoError(t, err)
	assert.True(t, results["TSRC-VEN-667788"].Found)
	assert.Len(t, source.Batches(), 3) // two failures, one success
}

func TestResolveAllExhaustedRetriesDegradeToNotFound(t *testing.T) {
	source := NewStaticSource(nil)
	source.Err = Transient(errors.New("upstream down"))
	source.FailCount = -1

	r := New(source, nil, Options{BatchSize: 50, Parallelism: 1, Policy: fastPolicy(2)})
	keys := []hyperlink.Key{contentKey("TSRC-A-111111"), contentKey("TSRC-B-222222")}

	results, err := r.ResolveAll(context.Background(), keys)
	require.NoError(t, err, "batch failure must not fail the whole resolution")
	require.Len(t, results, 2)
	for _, key := range keys {
		res := results[key.Value]
		assert.False(t, res.Found)
		assert.Contains(t, res.Err, "upstream down")
	}
	assert.Len(t, source.Batches(), 3) // initial attempt + 2 retries
}

func TestResolveAllPermanentFailureSkipsRetries(t *testing.T) {
	source := NewStaticSource(nil)
	source.Err = errors.New("401 unauthorized")
	source.FailCount = -1

	r := New(source, nil, Options{BatchSize: 50, Parallelism: 1, Policy: fastPolicy(5)})
	results, err := r.ResolveAll(context.Background(), []hyperlink.Key{contentKey("TSRC-A-111111")})
	require.NoError(t, err)
	assert.False(t, results["TSRC-A-111111"].Found)
	assert.Len(t, source.Batches(), 1)
}

func TestResolveAllPartialResults(t *testing.T) {
	// One batch fails permanently, the other succeeds; the failing batch
	// must not poison the successful one.
	source := NewStaticSource(map[string]hyperlink.Resolution{
		"TSRC-A-111111": found("TSRC-A-111111", "A"),
		"TSRC-B-222222": found("TSRC-B-222222", "B"),
	})
	source.Err = errors.New("first call rejected")
	source.FailCount = 1

	r := New(source, nil, Options{BatchSize: 1, Parallelism: 1, Policy: fastPolicy(0)})
	results, err := r.ResolveAll(context.Background(), []hyperlink.Key{
		contentKey("TSRC-A-111111"),
		contentKey("TSRC-B-222222"),
	})
	require.NoError(t, err)
	require.Len(t, results, 2)

	foundCount := 0
	for _, res := range results {
		if res.Found {
			foundCount++
		}
	}
	assert.Equal(t, 1, foundCount)
}

func TestResolveAllMapsDocumentKeys(t *testing.T) {
	store, err := dictionary.NewStore(":memory:")
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Upsert(context.Background(), []dictionary.Entry{
		{DocID: "D-42", ContentID: "TSRC-VEN-667788", Title: "Vendor Policy", Status: "Released"},
	}))

	source := NewStaticSource(map[string]hyperlink.Resolution{
		"TSRC-VEN-667788": found("TSRC-VEN-667788", "Vendor Policy"),
	})
	r := New(source, store, Options{BatchSize: 50, Parallelism: 1, Policy: fastPolicy(0)})

	keys := []hyperlink.Key{
		{Value: "D-42", Kind: hyperlink.KeyKindDocument},
		{Value: "D-404", Kind: hyperlink.KeyKindDocument},
	}
	results, err := r.ResolveAll(context.Background(), keys)
	require.NoError(t, err)

	mapped := results["D-42"]
	assert.True(t, mapped.Found)
	assert.Equal(t, "D-42", mapped.Key, "result is re-keyed to the original lookup key")
	assert.Equal(t, "TSRC-VEN-667788", mapped.ContentID)

	unmapped := results["D-404"]
	assert.False(t, unmapped.Found)
	assert.Contains(t, unmapped.Err, "not in dictionary")
	assert.Equal(t, 1, source.KeyCalls("TSRC-VEN-667788"))
	assert.Zero(t, source.KeyCalls("D-42"), "document ids never reach the source directly")
}

func TestResolveAllDocumentKeysWithoutDictionary(t *testing.T) {
	source := NewStaticSource(nil)
	r := New(source, nil, Options{BatchSize: 50, Parallelism: 1, Policy: fastPolicy(0)})

	results, err := r.ResolveAll(context.Background(), []hyperlink.Key{
		{Value: "D-42", Kind: hyperlink.KeyKindDocument},
	})
	require.NoError(t, err)
	assert.False(t, results["D-42"].Found)
	assert.Empty(t, source.Batches())
}

func TestResolveAllEmptyInput(t *testing.T) {
	source := NewStaticSource(nil)
	r := New(source, nil, Options{})

	results, err := r.ResolveAll(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Empty(t, source.Batches())
}

func TestResolveAllCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	source := NewStaticSource(nil)
	r := New(source, nil, Options{BatchSize: 1, Parallelism: 1, Policy: fastPolicy(0)})

	_, err := r.ResolveAll(ctx, []hyperlink.Key{contentKey("TSRC-A-111111")})
	assert.ErrorIs(t, err, context.Canceled)
}
