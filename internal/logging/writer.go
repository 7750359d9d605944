// Package logging provides a rotating file writer for structured log output.
// It implements io.WriteCloser and rotates log files by size, keeping a
// configurable number of backups and removing files older than a maximum age.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// RotatingWriter is an io.WriteCloser that rotates log files by size.
type RotatingWriter struct {
	mu         sync.Mutex
	file       *os.File
	filePath   string
	size       int64
	maxBytes   int64
	maxBackups int
	maxAgeDays int
}

// NewRotatingWriter opens the log file (creating it if needed) and returns a
// writer that rotates when the file exceeds maxSizeMB. Rotated files are
// named <base>-<timestamp>.log. At most maxBackups rotated files are kept,
// and files older than maxAgeDays are removed.
func NewRotatingWriter(filePath string, maxSizeMB, maxBackups, maxAgeDays int) (*RotatingWriter, error) {
	rw := &RotatingWriter{
		filePath:   filePath,
		maxBytes:   int64(maxSizeMB) * 1024 * 1024,
		maxBackups: maxBackups,
		maxAgeDays: maxAgeDays,
	}

	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}
	if err := rw.openFile(); err != nil {
		return nil, err
	}
	return rw, nil
}

func (rw *RotatingWriter) openFile() error {
	f, err := os.OpenFile(rw.filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat log file: %w", err)
	}
	rw.file = f
	rw.size = info.Size()
	return nil
}

// Write appends p to the current log file, rotating first when the write
// would exceed the size limit.
func (rw *RotatingWriter) Write(p []byte) (int, error) {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	if rw.maxBytes > 0 && rw.size+int64(len(p)) > rw.maxBytes {
		if err := rw.rotate(); err != nil {
			return 0, err
		}
	}

	n, err := rw.file.Write(p)
	rw.size += int64(n)
	return n, err
}

// Close closes the underlying file.
func (rw *RotatingWriter) Close() error {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	return rw.file.Close()
}

// rotate renames the current file to a timestamped backup, reopens a fresh
// file, and prunes old backups. Must be called with rw.mu held.
func (rw *RotatingWriter) rotate() error {
	if err := rw.file.Close(); err != nil {
		return fmt.Errorf("closing log file for rotation: %w", err)
	}

	backup := rw.backupName(time.Now())
	if err := os.Rename(rw.filePath, backup); err != nil {
		return fmt.Errorf("renaming log file: %w", err)
	}

	if err := rw.openFile(); err != nil {
		return err
	}

	rw.pruneBackups()
	return nil
}

func (rw *RotatingWriter) backupName(t time.Time) string {
	dir := filepath.Dir(rw.filePath)
	base := filepath.Base(rw.filePath)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	return filepath.Join(dir, fmt.Sprintf("%s-%s%s", stem, t.Format("20060102T150405.000"), ext))
}

// pruneBackups removes rotated files beyond maxBackups and older than
// maxAgeDays. Errors are ignored; pruning is best-effort.
func (rw *RotatingWriter) pruneBackups() {
	dir := filepath.Dir(rw.filePath)
	base := filepath.Base(rw.filePath)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}

	var backups []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || name == base {
			continue
		}
		if strings.HasPrefix(name, stem+"-") && strings.HasSuffix(name, ext) {
			backups = append(backups, name)
		}
	}

	// Timestamped names sort chronologically.
	sort.Strings(backups)

	cutoff := time.Now().AddDate(0, 0, -rw.maxAgeDays)
	excess := len(backups) - rw.maxBackups

	for i, name := range backups {
		full := filepath.Join(dir, name)
		if i < excess {
			os.Remove(full)
			continue
		}
		if rw.maxAgeDays > 0 {
			if info, err := os.Stat(full); err == nil && info.ModTime().Before(cutoff) {
				os.Remove(full)
			}
		}
	}
}
