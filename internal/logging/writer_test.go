package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRotatingWriter_WritesAndAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")

	rw, err := NewRotatingWriter(path, 10, 3, 30)
	if err != nil {
		t.Fatalf("creating writer: %v", err)
	}

	if _, err := rw.Write([]byte("line one\n")); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if _, err := rw.Write([]byte("line two\n")); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	rw.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading log: %v", err)
	}
	if !bytes.Contains(data, []byte("line one")) || !bytes.Contains(data, []byte("line two")) {
		t.Fatalf("unexpected log contents: %s", data)
	}
}

func TestRotatingWriter_RotatesBySize(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")

	rw, err := NewRotatingWriter(path, 1, 3, 30)
	if err != nil {
		t.Fatalf("creating writer: %v", err)
	}
	defer rw.Close()

	// Force the size limit down so a second write rotates.
	rw.maxBytes = 16

	if _, err := rw.Write([]byte("0123456789\n")); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if _, err := rw.Write([]byte("abcdefghij\n")); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("reading dir: %v", err)
	}

	var backups int
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "app-") && strings.HasSuffix(e.Name(), ".log") {
			backups++
		}
	}
	if backups != 1 {
		t.Fatalf("expected 1 rotated backup, got %d", backups)
	}

	// The fresh file holds only the second write.
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading log: %v", err)
	}
	if !bytes.Contains(data, []byte("abcdefghij")) || bytes.Contains(data, []byte("0123456789")) {
		t.Fatalf("unexpected contents after rotation: %s", data)
	}
}
