package config

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// WatchTargets holds callbacks that fire when specific config files change.
// Used for hot-reload of tag rules and the requester block-list without
// restarting the server. The running server sets these callbacks at
// startup.
type WatchTargets struct {
	// OnTagRulesChange fires when tagrules.yaml is written or created.
	// Typically triggers tagrules.Classifier.Reload() to pick up new
	// tag classification rules.
	OnTagRulesChange func()

	// OnBlockListChange fires when blocked.yaml is written or created.
	// Typically triggers requester.BlockList.Reload() to update the
	// in-memory blocked-requester set. This is what makes `qpe block`
	// take effect instantly — the CLI writes blocked.yaml, the watcher
	// fires, and the server's block-list updates in memory.
	OnBlockListChange func()
}

// Watcher monitors the qpe config directory for file changes using
// fsnotify. It watches for modifications to tagrules.yaml and
// blocked.yaml, firing the appropriate callback when a change is
// detected.
//
// The watcher runs a background goroutine that processes fsnotify events.
// Call Close() to stop the watcher and release resources.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	done      chan struct{}
}

// NewWatcher creates a file watcher on the given config directory.
// It watches for changes to tagrules.yaml and blocked.yaml.
//
// The watcher immediately starts processing events in a background
// goroutine. Events are debounced naturally by fsnotify — rapid
// successive writes typically produce a single event.
func NewWatcher(dir string, targets WatchTargets) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}

	// Watch the entire config directory. fsnotify will send events for
	// any file created, written, renamed, or removed in this directory.
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watching directory %s: %w", dir, err)
	}

	w := &Watcher{
		fsWatcher: fw,
		done:      make(chan struct{}),
	}

	// Start the event processing goroutine.
	go w.processEvents(targets)

	slog.Info("file watcher started", "dir", dir)
	return w, nil
}

// processEvents reads fsnotify events and dispatches to the appropriate
// callback. Runs in a background goroutine until Close() is called.
func (w *Watcher) processEvents(targets WatchTargets) {
	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			// We only care about write and create events — not remove
			// or rename, which would indicate the file was deleted.
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			// Match on filename regardless of directory path.
			name := filepath.Base(event.Name)
			switch name {
			case "tagrules.yaml":
				slog.Info("tagrules.yaml changed, triggering reload")
				if targets.OnTagRulesChange != nil {
					targets.OnTagRulesChange()
				}
			case "blocked.yaml":
				slog.Info("blocked.yaml changed, triggering reload")
				if targets.OnBlockListChange != nil {
					targets.OnBlockListChange()
				}
			}

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			slog.Error("file watcher error", "error", err)

		case <-w.done:
			return
		}
	}
}

// Close stops the file watcher goroutine and releases the underlying
// fsnotify watcher. Safe to call multiple times.
func (w *Watcher) Close() error {
	// Signal the goroutine to stop.
	select {
	case <-w.done:
		// Already closed.
		return nil
	default:
		close(w.done)
	}
	return w.fsWatcher.Close()
}
