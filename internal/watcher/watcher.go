// Package watcher reloads configuration-like files (the glossary, passage seed files) when they
// change on disk, using fsnotify with debouncing.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const defaultDebounce = 400 * time.Millisecond

// Watcher calls onChange for watched files after writes settle. Files are watched through their
// parent directory so editors that replace a file by rename are still seen.
type Watcher struct {
	files       map[string]struct{} // exact files
	dirs        map[string]struct{} // directories whose matching files are all watched
	extensions  []string
	onChange    func(path string)
	onRemove    func(path string)
	debounce    time.Duration
	watcher     *fsnotify.Watcher
	mu          sync.Mutex
	debounceMap map[string]*time.Timer
	done        chan struct{}
	started     bool
	stopOnce    sync.Once
	logger      *zap.Logger
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// WithDebounce sets how long a file must be quiet before onChange fires.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) { w.debounce = d }
}

// WithExtensions limits directory watches to files with these extensions.
func WithExtensions(exts ...string) Option {
	return func(w *Watcher) { w.extensions = exts }
}

// OnRemove sets a callback for files that disappear.
func OnRemove(fn func(path string)) Option {
	return func(w *Watcher) { w.onRemove = fn }
}

// New creates a watcher that calls onChange with the path of each changed file.
func New(onChange func(path string), opts ...Option) *Watcher {
	w := &Watcher{
		files:       make(map[string]struct{}),
		dirs:        make(map[string]struct{}),
		onChange:    onChange,
		debounce:    defaultDebounce,
		debounceMap: make(map[string]*time.Timer),
		done:        make(chan struct{}),
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// AddFile watches a single file. The file itself may not exist yet; its directory must.
func (w *Watcher) AddFile(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.files[abs] = struct{}{}
	if w.watcher != nil {
		return w.watcher.Add(filepath.Dir(abs))
	}
	return nil
}

// AddDirectory watches every file in dir that matches the configured extensions.
func (w *Watcher) AddDirectory(dir string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.dirs[abs] = struct{}{}
	if w.watcher != nil {
		return w.watcher.Add(abs)
	}
	return nil
}

// Start begins delivering events. It runs until ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return nil
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	for _, dir := range w.watchDirsLocked() {
		if err := fw.Add(dir); err != nil {
			_ = fw.Close()
			return err
		}
	}
	w.watcher = fw
	w.started = true
	w.logger.Debug("watcher starting", zap.Strings("paths", w.pathsLocked()))
	go w.run(ctx, fw)
	return nil
}

func (w *Watcher) watchDirsLocked() []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(d string) {
		if _, ok := seen[d]; !ok {
			seen[d] = struct{}{}
			out = append(out, d)
		}
	}
	for f := range w.files {
		add(filepath.Dir(f))
	}
	for d := range w.dirs {
		add(d)
	}
	return out
}

func (w *Watcher) run(ctx context.Context, fw *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-fw.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			if err != nil {
				w.logger.Debug("watcher error", zap.Error(err))
			}
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	path := filepath.Clean(ev.Name)
	if !w.watched(path) {
		return
	}
	w.logger.Debug("watcher event", zap.String("op", ev.Op.String()), zap.String("path", path))
	switch {
	case ev.Has(fsnotify.Create), ev.Has(fsnotify.Write):
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			return
		}
		w.debounceChange(path)
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		// A rename away is followed by a Create when an editor replaces the file.
		w.cancelDebounce(path)
		if _, err := os.Stat(path); os.IsNotExist(err) && w.onRemove != nil {
			w.onRemove(path)
		}
	}
}

func (w *Watcher) watched(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.files[path]; ok {
		return true
	}
	if _, ok := w.dirs[filepath.Dir(path)]; ok {
		return matchExtension(path, w.extensions)
	}
	return false
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

func (w *Watcher) debounceChange(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.debounceMap[path]; ok {
		t.Stop()
	}
	w.debounceMap[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.debounceMap, path)
		w.mu.Unlock()
		w.logger.Debug("watcher file changed (debounced)", zap.String("path", path))
		if w.onChange != nil {
			w.onChange(path)
		}
	})
}

func (w *Watcher) cancelDebounce(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.debounceMap[path]; ok {
		t.Stop()
		delete(w.debounceMap, path)
	}
}

// Paths returns the watched files and directories.
func (w *Watcher) Paths() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pathsLocked()
}

func (w *Watcher) pathsLocked() []string {
	out := make([]string, 0, len(w.files)+len(w.dirs))
	for f := range w.files {
		out = append(out, f)
	}
	for d := range w.dirs {
		out = append(out, d)
	}
	return out
}

// Sync calls onChange for every existing watched file.
func (w *Watcher) Sync() {
	w.mu.Lock()
	var paths []string
	for f := range w.files {
		if _, err := os.Stat(f); err == nil {
			paths = append(paths, f)
		}
	}
	dirs := make([]string, 0, len(w.dirs))
	for d := range w.dirs {
		dirs = append(dirs, d)
	}
	exts := append([]string(nil), w.extensions...)
	w.mu.Unlock()

	for _, d := range dirs {
		entries, err := os.ReadDir(d)
		if err != nil {
			w.logger.Debug("watcher sync failed", zap.String("dir", d), zap.Error(err))
			continue
		}
		for _, e := range entries {
			if !e.IsDir() && matchExtension(e.Name(), exts) {
				paths = append(paths, filepath.Join(d, e.Name()))
			}
		}
	}
	for _, p := range paths {
		if w.onChange != nil {
			w.onChange(p)
		}
	}
}

// Stop stops the watcher and releases resources.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return
	}
	for path, t := range w.debounceMap {
		t.Stop()
		delete(w.debounceMap, path)
	}
	_ = w.watcher.Close()
	w.watcher = nil
	w.started = false
	w.mu.Unlock()
	w.stopOnce.Do(func() { close(w.done) })
}
