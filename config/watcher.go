package config

import (
	"fmt"
	"os"
	"time"
)

// Watcher detects configuration changes by modification time, not content.
// The zero modification time means nothing has been applied yet, so the first
// Check always reports a change.
type Watcher struct {
	Path string

	applied time.Time
}

// NewWatcher returns a Watcher for path with nothing applied.
func NewWatcher(path string) *Watcher { return &Watcher{Path: path} }

// Check stats the file and reports whether its modification time differs from
// the last committed one. The returned time must be passed to Commit once the
// new configuration has been fully applied.
func (w *Watcher) Check() (time.Time, bool, error) {
	fi, err := os.Stat(w.Path)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("stat config: %w", err)
	}
	mod := fi.ModTime()
	return mod, !mod.Equal(w.applied), nil
}

// Commit records mod as the applied modification time.
func (w *Watcher) Commit(mod time.Time) { w.applied = mod }

// Applied returns the last committed modification time.
func (w *Watcher) Applied() time.Time { return w.applied }
