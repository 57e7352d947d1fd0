// Package watch notices changes to the shared event asset file and reports
// the new event context. It listens for filesystem notifications and falls
// back to polling where none are available.
package watch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/agentworkforce/pagekeeper/internal/pagedoc"
)

const DefaultInterval = 500 * time.Millisecond

// LoadEventContext reads a YAML (or JSON) event file.
func LoadEventContext(path string) (pagedoc.EventContext, error) {
	var ec pagedoc.EventContext
	data, err := os.ReadFile(path)
	if err != nil {
		return ec, fmt.Errorf("watch: read event file: %w", err)
	}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	if err := decoder.Decode(&ec); err != nil && !errors.Is(err, io.EOF) {
		return ec, fmt.Errorf("watch: parse event file: %w", err)
	}
	return ec, nil
}

type AssetWatcher struct {
	Path     string
	Interval time.Duration
	// ForcePolling skips filesystem notifications entirely.
	ForcePolling bool
	OnChange     func(ctx context.Context, ec pagedoc.EventContext)
	Logger       *zap.SugaredLogger

	mu   sync.Mutex
	last fingerprint
	mode string
}

type fingerprint struct {
	exists  bool
	modTime time.Time
	size    int64
}

func (w *AssetWatcher) logger() *zap.SugaredLogger {
	if w.Logger == nil {
		return zap.NewNop().Sugar()
	}
	return w.Logger
}

// Mode reports "notify" or "poll" once Run has started.
func (w *AssetWatcher) Mode() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.mode
}

// Run blocks until ctx is cancelled. OnChange is called from this goroutine
// only, once per observed change of the file's size or modification time.
func (w *AssetWatcher) Run(ctx context.Context) error {
	if w.Path == "" {
		return errors.New("watch: path is required")
	}
	w.setLast(stat(w.Path))
	if !w.ForcePolling {
		watcher, err := fsnotify.NewWatcher()
		if err == nil {
			if err = watcher.Add(filepath.Dir(w.Path)); err == nil {
				w.setMode("notify")
				return w.notifyLoop(ctx, watcher)
			}
			_ = watcher.Close()
		}
		w.logger().Warnw("file notifications unavailable, polling event file", "path", w.Path, "error", err)
	}
	w.setMode("poll")
	return w.pollLoop(ctx)
}

func (w *AssetWatcher) notifyLoop(ctx context.Context, watcher *fsnotify.Watcher) error {
	defer watcher.Close()
	target := filepath.Clean(w.Path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			w.check(ctx)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger().Warnw("event file watcher error", "path", w.Path, "error", err)
		}
	}
}

func (w *AssetWatcher) pollLoop(ctx context.Context) error {
	interval := w.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.check(ctx)
		}
	}
}

func (w *AssetWatcher) check(ctx context.Context) {
	current := stat(w.Path)
	w.mu.Lock()
	changed := current != w.last
	w.last = current
	w.mu.Unlock()
	if !changed || !current.exists {
		return
	}
	ec, err := LoadEventContext(w.Path)
	if err != nil {
		w.logger().Warnw("ignoring unreadable event file", "path", w.Path, "error", err)
		return
	}
	w.logger().Debugw("event file changed", "path", w.Path)
	if w.OnChange != nil {
		w.OnChange(ctx, ec)
	}
}

func (w *AssetWatcher) setLast(fp fingerprint) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.last = fp
}

func (w *AssetWatcher) setMode(mode string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.mode = mode
}

func stat(path string) fingerprint {
	info, err := os.Stat(path)
	if err != nil {
		return fingerprint{}
	}
	return fingerprint{exists: true, modTime: info.ModTime(), size: info.Size()}
}
