// Package backup manages pre-commit document backups in a dedicated
// directory, so a failed commit can be rolled back without leaving a
// partially written document behind.
package backup

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"git.home.luguber.info/inful/linkaudit/internal/logfields"
)

// Manager handles backup copies for documents about to be committed.
type Manager struct {
	dir string
}

// NewManager creates a backup manager rooted at dir. An empty dir falls back
// to a linkaudit-backups directory under the system temp dir.
func NewManager(dir string) *Manager {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "linkaudit-backups")
	}
	return &Manager{dir: dir}
}

// Dir returns the backup directory.
func (m *Manager) Dir() string {
	return m.dir
}

// Create ensures the backup directory exists.
func (m *Manager) Create() error {
	if err := os.MkdirAll(m.dir, 0o750); err != nil {
		return fmt.Errorf("create backup directory: %w", err)
	}
	return nil
}

// Backup copies src into the backup directory under a timestamped name and
// returns the backup path.
func (m *Manager) Backup(src string) (string, error) {
	if err := m.Create(); err != nil {
		return "", err
	}
	name := fmt.Sprintf("%s.%s.bak", filepath.Base(src), time.Now().Format("20060102-150405.000"))
	dst := filepath.Join(m.dir, name)
	if err := copyFile(src, dst); err != nil {
		return "", fmt.Errorf("backup %s: %w", src, err)
	}
	slog.Debug("Created backup", logfields.Path(src), slog.String("backup", dst))
	return dst, nil
}

// Restore copies a backup back over the original path.
func (m *Manager) Restore(dst, backupPath string) error {
	if err := copyFile(backupPath, dst); err != nil {
		return fmt.Errorf("restore %s from %s: %w", dst, backupPath, err)
	}
	slog.Info("Restored document from backup", logfields.Path(dst), slog.String("backup", backupPath))
	return nil
}

// Prune removes backups older than maxAge. Best effort; unreadable entries
// are skipped.
func (m *Manager) Prune(maxAge time.Duration) error {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read backup directory: %w", err)
	}
	cutoff := time.Now().Add(-maxAge)
	for _, e := range entries {
		info, err := e.Info()
		if err != nil || info.IsDir() {
			continue
		}
		if info.ModTime().Before(cutoff) {
			_ = os.Remove(filepath.Join(m.dir, e.Name()))
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(filepath.Clean(src))
	if err != nil {
		return err
	}
	defer func() {
		_ = in.Close() // read-only handle
	}()

	out, err := os.OpenFile(filepath.Clean(dst), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
