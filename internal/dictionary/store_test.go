package dictionary

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestUpsertAndLookup(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.Upsert(ctx, []Entry{
		{DocID: "D-42", ContentID: "TSRC-VEN-667788", Title: "Vendor Policy", Status: "Released"},
		{DocID: "D-43", ContentID: "CMS-POL-123456", Title: "Expense Policy", Status: "Expired"},
		{ContentID: "TSRC-ORP-000001", Title: "Orphan", Status: "Draft"},
	}))

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	mapped, err := store.MapDocumentIDs(ctx, []string{"D-42", "D-43", "D-404"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"D-42": "TSRC-VEN-667788",
		"D-43": "CMS-POL-123456",
	}, mapped)

	meta, err := store.ContentMetadata(ctx, []string{"TSRC-VEN-667788", "TSRC-MISSING-999999"})
	require.NoError(t, err)
	require.Len(t, meta, 1)
	assert.Equal(t, "Vendor Policy", meta["TSRC-VEN-667788"].Title)
	assert.Equal(t, "Released", meta["TSRC-VEN-667788"].Status)
}

func TestUpsertReplacesExisting(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.Upsert(ctx, []Entry{
		{DocID: "D-42", ContentID: "TSRC-VEN-667788", Title: "Vendor Policy", Status: "Released"},
	}))
	require.NoError(t, store.Upsert(ctx, []Entry{
		{DocID: "D-42", ContentID: "TSRC-VEN-667788", Title: "Vendor Policy v2", Status: "Expired"},
	}))

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	meta, err := store.ContentMetadata(ctx, []string{"TSRC-VEN-667788"})
	require.NoError(t, err)
	assert.Equal(t, "Vendor Policy v2", meta["TSRC-VEN-667788"].Title)
	assert.Equal(t, "Expired", meta["TSRC-VEN-667788"].Status)
}

func TestUpsertRejectsEmptyContentID(t *testing.T) {
	store := newTestStore(t)
	err := store.Upsert(context.Background(), []Entry{{DocID: "D-42"}})
	assert.Error(t, err)
}

func TestEmptyQueries(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	mapped, err := store.MapDocumentIDs(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, mapped)

	meta, err := store.ContentMetadata(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, meta)
}

func TestPersistsToFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "dict.db")

	store, err := NewStore(path)
	require.NoError(t, err)
	require.NoError(t, store.Upsert(ctx, []Entry{
		{DocID: "D-42", ContentID: "TSRC-VEN-667788", Title: "Vendor Policy", Status: "Released"},
	}))
	require.NoError(t, store.Close())

	reopened, err := NewStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	n, err := reopened.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
