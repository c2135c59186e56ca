package backup

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackupAndRestore(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(filepath.Join(dir, "backups"))

	src := filepath.Join(dir, "doc.docx")
	require.NoError(t, os.WriteFile(src, []byte("original"), 0o600))

	backupPath, err := m.Backup(src)
	require.NoError(t, err)
	assert.Contains(t, filepath.Base(backupPath), "doc.docx.")
	assert.Equal(t, ".bak", filepath.Ext(backupPath))

	require.NoError(t, os.WriteFile(src, []byte("corrupted"), 0o600))
	require.NoError(t, m.Restore(src, backupPath))

	data, err := os.ReadFile(src)
	require.NoError(t, err)
	assert.Equal(t, "original", string(data))
}

func TestBackupMissingSource(t *testing.T) {
	m := NewManager(t.TempDir())
	_, err := m.Backup(filepath.Join(t.TempDir(), "nope.docx"))
	assert.Error(t, err)
}

func TestPrune(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir)

	old := filepath.Join(dir, "old.docx.20200101-000000.000.bak")
	fresh := filepath.Join(dir, "fresh.docx.bak")
	require.NoError(t, os.WriteFile(old, []byte("x"), 0o600))
	require.NoError(t, os.WriteFile(fresh, []byte("y"), 0o600))
	past := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(old, past, past))

	require.NoError(t, m.Prune(24*time.Hour))

	_, err := os.Stat(old)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(fresh)
	assert.NoError(t, err)
}

func TestPruneMissingDirectory(t *testing.T) {
	m := NewManager(filepath.Join(t.TempDir(), "never-created"))
	assert.NoError(t, m.Prune(time.Hour))
}
