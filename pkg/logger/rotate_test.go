package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestRotatingWriterRotatesBySize(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.log")
	w := &rotatingWriter{path: path, maxSize: 32, maxBackups: 4, maxAge: time.Hour}
	defer w.Close()

	line := []byte(strings.Repeat("a", 24) + "\n")
	if _, err := w.Write(line); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if _, err := w.Write(line); err != nil {
		t.Fatalf("second write: %v", err)
	}

	backups, err := filepath.Glob(filepath.Join(dir, "audit-*.log"))
	if err != nil {
		t.Fatalf("glob backups: %v", err)
	}
	if len(backups) != 1 {
		t.Fatalf("expected one backup after rotation, got %v", backups)
	}

	current, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read current file: %v", err)
	}
	if int64(len(current)) != int64(len(line)) {
		t.Fatalf("current file must only hold the latest write, got %d bytes", len(current))
	}
}

func TestRotatingWriterPrunesOldBackups(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.log")
	w := &rotatingWriter{path: path, maxSize: 8, maxBackups: 2, maxAge: time.Hour}
	defer w.Close()

	for i := 0; i < 6; i++ {
		if _, err := w.Write([]byte("0123456\n")); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
		// 备份名以毫秒时间戳区分，保证相邻轮转不同名。
		time.Sleep(2 * time.Millisecond)
	}

	backups, err := filepath.Glob(filepath.Join(dir, "audit-*.log"))
	if err != nil {
		t.Fatalf("glob backups: %v", err)
	}
	if len(backups) > 2 {
		t.Fatalf("expected at most 2 backups, got %v", backups)
	}
}
