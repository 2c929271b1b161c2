package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

type fakeReloader struct {
	calls chan []string
}

func (f *fakeReloader) Reload(dirs []string) error {
	f.calls <- dirs
	return nil
}

func TestWatchIrconfReloadsOnMatchingFileWrite(t *testing.T) {
	dir := t.TempDir()
	r := &fakeReloader{calls: make(chan []string, 4)}

	w, err := WatchIrconf([]string{dir}, ".irconf", r)
	if err != nil {
		t.Fatalf("WatchIrconf: %v", err)
	}
	defer w.Close()

	path := filepath.Join(dir, "living_room.irconf")
	if err := os.WriteFile(path, []byte("{}"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case dirs := <-r.calls:
		if len(dirs) != 1 || dirs[0] != dir {
			t.Errorf("reload called with %v, want [%s]", dirs, dir)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("reload was not triggered by file creation")
	}
}

func TestWatchIrconfIgnoresNonMatchingFiles(t *testing.T) {
	dir := t.TempDir()
	r := &fakeReloader{calls: make(chan []string, 4)}

	w, err := WatchIrconf([]string{dir}, ".irconf", r)
	if err != nil {
		t.Fatalf("WatchIrconf: %v", err)
	}
	defer w.Close()

	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hi"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case dirs := <-r.calls:
		t.Errorf("unexpected reload for non-matching file: %v", dirs)
	case <-time.After(300 * time.Millisecond):
	}
}
