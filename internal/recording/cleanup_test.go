package recording

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSweep(t *testing.T) {
	dir := t.TempDir()

	write := func(name string, age time.Duration) {
		t.Helper()
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte("audio"), 0644); err != nil {
			t.Fatalf("writing %s: %v", name, err)
		}
		mtime := time.Now().Add(-age)
		if err := os.Chtimes(path, mtime, mtime); err != nil {
			t.Fatalf("aging %s: %v", name, err)
		}
	}

	write("old.wav", 48*time.Hour)
	write("fresh.wav", time.Hour)
	write("old-but-not-audio.txt", 48*time.Hour)

	removed, err := sweep(dir, ".wav", 24*time.Hour)
	if err != nil {
		t.Fatalf("sweep() error: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}

	for name, want := range map[string]bool{
		"old.wav":               false,
		"fresh.wav":             true,
		"old-but-not-audio.txt": true,
	} {
		_, err := os.Stat(filepath.Join(dir, name))
		exists := err == nil
		if exists != want {
			t.Errorf("%s exists = %v, want %v", name, exists, want)
		}
	}
}

func TestSweepMissingDirectory(t *testing.T) {
	removed, err := sweep(filepath.Join(t.TempDir(), "nope"), ".wav", time.Hour)
	if err != nil {
		t.Fatalf("sweep() error: %v", err)
	}
	if removed != 0 {
		t.Errorf("removed = %d, want 0", removed)
	}
}
