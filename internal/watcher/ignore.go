package watcher

import (
	"sync"
	"time"
)

// DefaultGrace is how long after a VCS write finishes that file events for
// the same repository are still attributed to the write itself. Filesystem
// notification delivery lags the writes that caused it.
const DefaultGrace = 2 * time.Second

// IgnoreWindows tracks the intervals during which the engine itself is
// writing to a repository's working tree. Events observed inside a window are
// self-triggered and must not reach the engine, otherwise every pull would
// debounce into a spurious commit of the content that was just pulled.
//
// One instance is shared between a repository's engine (which opens windows
// around mutating git operations) and its watcher (which consults them).
type IgnoreWindows struct {
	mu    sync.Mutex
	grace time.Duration
	holds int       // currently running VCS writes
	until time.Time // suppression tail after the last write finished
}

// NewIgnoreWindows creates a registry with the given grace period. A zero
// grace uses DefaultGrace.
func NewIgnoreWindows(grace time.Duration) *IgnoreWindows {
	if grace <= 0 {
		grace = DefaultGrace
	}
	return &IgnoreWindows{grace: grace}
}

// Hold opens an ignore window covering a VCS write. The returned release
// function closes it and extends suppression by the grace period; it must be
// called exactly once.
func (w *IgnoreWindows) Hold() func() {
	w.mu.Lock()
	w.holds++
	w.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			w.mu.Lock()
			w.holds--
			if end := time.Now().Add(w.grace); end.After(w.until) {
				w.until = end
			}
			w.mu.Unlock()
		})
	}
}

// Active reports whether events observed at instant t fall inside an ignore
// window.
func (w *IgnoreWindows) Active(t time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.holds > 0 || t.Before(w.until)
}
