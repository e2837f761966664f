package watcher

import (
	"testing"
	"time"
)

func TestIgnoreWindowsLifecycle(t *testing.T) {
	w := NewIgnoreWindows(50 * time.Millisecond)

	if w.Active(time.Now()) {
		t.Fatal("no window should be active initially")
	}

	release := w.Hold()
	if !w.Active(time.Now()) {
		t.Fatal("window must be active while a hold is open")
	}

	release()
	if !w.Active(time.Now()) {
		t.Fatal("grace period must keep the window active right after release")
	}

	// Release is idempotent.
	release()

	time.Sleep(80 * time.Millisecond)
	if w.Active(time.Now()) {
		t.Fatal("window must close once the grace period elapses")
	}
}

func TestIgnoreWindowsOverlappingHolds(t *testing.T) {
	w := NewIgnoreWindows(10 * time.Millisecond)

	r1 := w.Hold()
	r2 := w.Hold()

	r1()
	time.Sleep(30 * time.Millisecond)
	if !w.Active(time.Now()) {
		t.Fatal("window must stay active while another hold is open")
	}

	r2()
	time.Sleep(30 * time.Millisecond)
	if w.Active(time.Now()) {
		t.Fatal("window must close after the last hold releases")
	}
}

func TestNewIgnoreWindowsDefaultGrace(t *testing.T) {
	if w := NewIgnoreWindows(0); w.grace != DefaultGrace {
		t.Errorf("grace = %v, want %v", w.grace, DefaultGrace)
	}
}

func TestUnderGitDir(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"/repo/.git", true},
		{"/repo/.git/config", true},
		{"/repo/sub/.git/HEAD", true},
		{"/repo/file.txt", false},
		{"/repo/.gitignore", false},
		{"/repo/sub/notes.md", false},
	}

	for _, tt := range tests {
		if got := underGitDir("/repo", tt.path); got != tt.want {
			t.Errorf("underGitDir(/repo, %q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}
