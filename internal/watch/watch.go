// Package watch implements the ingest --watch loop (SPEC_FULL.md §12): a
// debounced fsnotify watcher over the ingestion source directory that
// re-invokes a caller-supplied ingest callback whenever .lean (or the
// configured extension) files settle after a burst of edits. Grounded on
// the teacher's internal/core/mangle_watcher.go MangleWatcher: a
// debounce map keyed by path, a periodic debounce ticker, and a
// select-loop over fsnotify's Events/Errors channels plus a stop channel.
package watch

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Th0rgal/explain.md-sub002/internal/logging"
)

// IngestFunc re-ingests the watched directory; called once per debounced
// settle window covering every path that changed within it.
type IngestFunc func(ctx context.Context, changedPaths []string) error

// Watcher debounces filesystem events under one directory and invokes
// IngestFunc once changes settle.
type Watcher struct {
	mu          sync.Mutex
	watcher     *fsnotify.Watcher
	dir         string
	extension   string
	ingest      IngestFunc
	debounceMap map[string]time.Time
	debounceDur time.Duration
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool

	EventsHandled int
	IngestsRun    int
	Errors        int
}

// New constructs a Watcher over dir, triggering ingest for files matching
// extension (e.g. ".lean"). debounceDur bounds how long a path's events
// must be quiet before it is considered settled.
func New(dir, extension string, ingest IngestFunc, debounceDur time.Duration) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounceDur <= 0 {
		debounceDur = 500 * time.Millisecond
	}
	return &Watcher{
		watcher:     fw,
		dir:         dir,
		extension:   joinExt(extension),
		ingest:      ingest,
		debounceMap: map[string]time.Time{},
		debounceDur: debounceDur,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}, nil
}

// Start begins watching dir in a background goroutine.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := os.MkdirAll(w.dir, 0755); err != nil {
		logging.Get(logging.CategoryBoot).Warn("watch: failed to create %s: %v (continuing)", w.dir, err)
	}
	if err := w.watcher.Add(w.dir); err != nil {
		logging.Get(logging.CategoryBoot).Warn("watch: initial watch of %s failed: %v", w.dir, err)
	} else {
		logging.Boot("watch: watching %s for *%s changes", w.dir, w.extension)
	}

	go w.run(ctx)
	return nil
}

// Stop stops the watcher and waits for the event loop to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh
	w.watcher.Close()
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.Get(logging.CategoryBoot).Error("watch: fsnotify error: %v", err)
			w.mu.Lock()
			w.Errors++
			w.mu.Unlock()
		case <-ticker.C:
			w.processSettled(ctx)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !strings.HasSuffix(event.Name, w.extension) {
		return
	}
	switch {
	case event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0:
		return
	}

	w.mu.Lock()
	w.EventsHandled++
	w.debounceMap[event.Name] = time.Now()
	w.mu.Unlock()
}

func (w *Watcher) processSettled(ctx context.Context) {
	w.mu.Lock()
	now := time.Now()
	var settled []string
	for path, t := range w.debounceMap {
		if now.Sub(t) >= w.debounceDur {
			settled = append(settled, path)
			delete(w.debounceMap, path)
		}
	}
	w.mu.Unlock()

	if len(settled) == 0 {
		return
	}

	logging.Boot("watch: re-ingesting %d changed path(s)", len(settled))
	if err := w.ingest(ctx, settled); err != nil {
		logging.Get(logging.CategoryBoot).Error("watch: ingest callback failed: %v", err)
		w.mu.Lock()
		w.Errors++
		w.mu.Unlock()
		return
	}
	w.mu.Lock()
	w.IngestsRun++
	w.mu.Unlock()
}

// WatchedDirs returns the directories fsnotify is currently watching.
func (w *Watcher) WatchedDirs() []string {
	return w.watcher.WatchList()
}

// IsRunning reports whether Start has been called without a matching Stop.
func (w *Watcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// joinExt normalizes a bare file extension (adding the leading dot if the
// caller omitted it), matching spec's "file.lean"-style configuration.
func joinExt(ext string) string {
	if ext == "" || strings.HasPrefix(ext, ".") {
		return ext
	}
	return "." + ext
}

// NormalizePath is exposed so CLI wiring can present consistent paths in
// logs regardless of how the user supplied the watched directory.
func NormalizePath(dir string) string {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return dir
	}
	return abs
}
