package ingestion

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/poiesic/inkwell/core"
)

// DefaultDebounce is how long a file must be quiet before it is ingested.
const DefaultDebounce = 400 * time.Millisecond

// DefaultExtensions are the file types watched when none are configured.
var DefaultExtensions = []string{".md", ".txt"}

// Watcher feeds file changes under a set of root directories into a Pipeline.
type Watcher struct {
	pipeline   *Pipeline
	roots      []string
	extensions []string
	recursive  bool
	debounce   time.Duration
	projectID  core.ID
	logger     *slog.Logger

	mu      sync.Mutex
	fsw     *fsnotify.Watcher
	timers  map[string]*time.Timer
	done    chan struct{}
	started bool
	stopped sync.WaitGroup
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithExtensions limits watching to files with the given extensions.
// An empty list watches every file.
func WithExtensions(exts ...string) WatcherOption {
	return func(w *Watcher) { w.extensions = exts }
}

// WithRecursive watches subdirectories of each root.
func WithRecursive(recursive bool) WatcherOption {
	return func(w *Watcher) { w.recursive = recursive }
}

// WithDebounce sets the quiet period before a changed file is ingested.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithProject assigns ingested files to a project.
func WithProject(id core.ID) WatcherOption {
	return func(w *Watcher) { w.projectID = id }
}

// WithWatcherLogger sets a custom logger.
func WithWatcherLogger(logger *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// NewWatcher creates a watcher over roots. Roots are made absolute.
func NewWatcher(pipeline *Pipeline, roots []string, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		pipeline:   pipeline,
		extensions: DefaultExtensions,
		recursive:  true,
		debounce:   DefaultDebounce,
		logger:     slog.Default(),
		timers:     make(map[string]*time.Timer),
	}
	for _, root := range roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, err
		}
		w.roots = append(w.roots, filepath.Clean(abs))
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With("component", "watcher")
	return w, nil
}

// Start begins watching. It runs until ctx is cancelled or Stop is called.
// Missing roots are an error.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return nil
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	for _, root := range w.roots {
		if err := w.addTree(fsw, root); err != nil {
			fsw.Close()
			return err
		}
	}

	w.fsw = fsw
	w.done = make(chan struct{})
	w.started = true
	w.logger.Info("watching", "roots", w.roots, "extensions", w.extensions, "recursive", w.recursive)

	w.stopped.Add(1)
	go w.run(ctx, fsw, w.done)
	return nil
}

// Sync ingests every matching file already present under the roots.
func (w *Watcher) Sync(ctx context.Context) error {
	for _, root := range w.roots {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if path != root && !w.recursive {
					return filepath.SkipDir
				}
				return nil
			}
			if !matchExtension(path, w.extensions) {
				return nil
			}
			if _, err := w.pipeline.IngestFile(ctx, path, w.projectID); err != nil {
				w.logger.Warn("error ingesting file", "path", path, "err", err)
			}
			return ctx.Err()
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Stop stops watching and cancels pending debounced changes.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return
	}
	for path, t := range w.timers {
		t.Stop()
		delete(w.timers, path)
	}
	close(w.done)
	w.fsw.Close()
	w.fsw = nil
	w.started = false
	w.mu.Unlock()

	w.stopped.Wait()
}

func (w *Watcher) run(ctx context.Context, fsw *fsnotify.Watcher, done chan struct{}) {
	defer w.stopped.Done()
	for {
		select {
		case <-ctx.Done():
			go w.Stop()
			return
		case <-done:
			return
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(ctx, ev)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", "err", err)
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, ev fsnotify.Event) {
	path := filepath.Clean(ev.Name)
	w.logger.Debug("watcher event", "op", ev.Op.String(), "path", path)

	switch {
	case ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write):
		info, err := os.Stat(path)
		if err == nil && info.IsDir() {
			w.handleNewDirectory(ctx, path)
			return
		}
		if matchExtension(path, w.extensions) {
			w.schedule(ctx, path)
		}
	case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
		w.cancel(path)
		if !matchExtension(path, w.extensions) {
			return
		}
		if err := w.pipeline.RemoveFile(ctx, path); err != nil {
			w.logger.Warn("error removing file", "path", path, "err", err)
		}
	}
}

// handleNewDirectory starts watching a directory created under a root and
// ingests what it already contains.
func (w *Watcher) handleNewDirectory(ctx context.Context, dir string) {
	if !w.recursive {
		return
	}
	w.mu.Lock()
	fsw := w.fsw
	w.mu.Unlock()
	if fsw == nil {
		return
	}

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return fsw.Add(path)
		}
		if matchExtension(path, w.extensions) {
			w.schedule(ctx, path)
		}
		return nil
	})
	if err != nil {
		w.logger.Warn("error watching new directory", "path", dir, "err", err)
	}
}

// schedule ingests path once it has been quiet for the debounce period.
func (w *Watcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started {
		return
	}
	if t, ok := w.timers[path]; ok {
		t.Stop()
	}
	w.timers[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.timers, path)
		w.mu.Unlock()

		if _, err := w.pipeline.IngestFile(ctx, path, w.projectID); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return
			}
			w.logger.Warn("error ingesting file", "path", path, "err", err)
		}
	})
}

func (w *Watcher) cancel(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.timers[path]; ok {
		t.Stop()
		delete(w.timers, path)
	}
}

func (w *Watcher) addTree(fsw *fsnotify.Watcher, root string) error {
	if !w.recursive {
		return fsw.Add(root)
	}
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return fsw.Add(path)
		}
		return nil
	})
}

// Roots returns the watched root directories.
func (w *Watcher) Roots() []string {
	return append([]string(nil), w.roots...)
}

func matchExtension(path string, extensions []string) bool {
	if len(extensions) == 0 {
		return true
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	for _, e := range extensions {
		if strings.TrimPrefix(strings.ToLower(e), ".") == ext {
			return true
		}
	}
	return false
}
