package sentinel

import (
	"crypto/sha256"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestChecksum(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "binary")
	content := []byte("fake binary contents")
	if err := os.WriteFile(path, content, 0o755); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}

	got, err := checksum(path)
	if err != nil {
		t.Fatalf("checksum failed: %v", err)
	}

	want := sha256.Sum256(content)
	if got != want {
		t.Errorf("checksum mismatch: got %x, want %x", got, want)
	}
}

func TestChecksumChangesWithContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "binary")

	if err := os.WriteFile(path, []byte("v1"), 0o755); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}
	sum1, err := checksum(path)
	if err != nil {
		t.Fatalf("checksum failed: %v", err)
	}

	if err := os.WriteFile(path, []byte("v2"), 0o755); err != nil {
		t.Fatalf("failed to rewrite file: %v", err)
	}
	sum2, err := checksum(path)
	if err != nil {
		t.Fatalf("checksum failed: %v", err)
	}

	if sum1 == sum2 {
		t.Error("different contents produced the same checksum")
	}
}

func TestChecksumNotFound(t *testing.T) {
	if _, err := checksum("/nonexistent/binary"); err == nil {
		t.Error("expected error for nonexistent file, got nil")
	}
}

func TestPauseDoublesDelayUpToCap(t *testing.T) {
	s := &Supervisor{delay: restartDelayMin, done: make(chan struct{}), log: slog.Default()}
	close(s.done)

	for i := 0; i < 20; i++ {
		s.pause()
	}
	if s.delay != restartDelayMax {
		t.Errorf("delay = %v, want cap at %v", s.delay, restartDelayMax)
	}
}

func TestPauseInterruptedByDone(t *testing.T) {
	s := &Supervisor{delay: time.Hour, done: make(chan struct{}), log: slog.Default()}
	close(s.done)

	finished := make(chan struct{})
	go func() {
		s.pause()
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("pause did not return after done was closed")
	}
}
