// Package watch triggers a reload when scripts in a directory change.
//
// Events are debounced so an editor's write-then-rename produces one
// callback carrying every script that changed in the window.
package watch

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"

	"github.com/keshon/mycelium/internal/registry"
)

const defaultDebounce = 500 * time.Millisecond

var ErrStarted = errors.New("watch: Run called more than once")

type Config struct {
	// Dir is the scripts directory. Subdirectories are not watched.
	Dir string
	// Debounce is the quiet period before OnChange fires.
	Debounce time.Duration
	// OnChange receives the changed script file names.
	OnChange func(ctx context.Context, changed []string) error
	Logger   *log.Logger
}

type Watcher struct {
	cfg      Config
	fsw      *fsnotify.Watcher
	logger   *log.Logger
	debounce time.Duration
	started  atomic.Bool
}

func New(cfg Config) (*Watcher, error) {
	dir, err := filepath.Abs(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("watch: resolve directory: %w", err)
	}
	cfg.Dir = dir

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: create fsnotify watcher: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("watch: add %s: %w", dir, err)
	}

	w := &Watcher{cfg: cfg, fsw: fsw, logger: cfg.Logger, debounce: cfg.Debounce}
	if w.logger == nil {
		w.logger = log.Default()
	}
	if w.debounce <= 0 {
		w.debounce = defaultDebounce
	}
	return w, nil
}

// isScript reports whether name is a script file worth reloading for. The
// extension check matches the loader exactly. Hidden files and editor swap
// files are ignored.
func isScript(name string) bool {
	base := filepath.Base(name)
	if strings.HasPrefix(base, ".") || strings.HasSuffix(base, "~") {
		return false
	}
	return filepath.Ext(base) == registry.ScriptExt
}

// Run blocks until ctx ends. A callback still running when the next window
// closes is not started twice; the pending names wait for the next window.
func (w *Watcher) Run(ctx context.Context) error {
	if !w.started.CompareAndSwap(false, true) {
		return ErrStarted
	}

	var (
		mu      sync.Mutex
		pending = make(map[string]struct{})
		timer   *time.Timer
		running atomic.Bool
	)

	fire := func() {
		if ctx.Err() != nil {
			return
		}
		if !running.CompareAndSwap(false, true) {
			w.logger.Debug("reload still running, postponing")
			mu.Lock()
			timer.Reset(w.debounce)
			mu.Unlock()
			return
		}
		defer running.Store(false)

		mu.Lock()
		changed := slices.Sorted(maps.Keys(pending))
		clear(pending)
		mu.Unlock()
		if len(changed) == 0 || w.cfg.OnChange == nil {
			return
		}

		w.logger.Info("scripts changed", "files", changed)
		if err := w.cfg.OnChange(ctx, changed); err != nil {
			w.logger.Error("reload after change failed", "err", err)
		}
	}

	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
		if err := w.fsw.Close(); err != nil {
			w.logger.Warn("close fsnotify", "err", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case evt, ok := <-w.fsw.Events:
			if !ok {
				return errors.New("watch: event channel closed")
			}
			if evt.Op == fsnotify.Chmod || !isScript(evt.Name) {
				continue
			}
			mu.Lock()
			pending[filepath.Base(evt.Name)] = struct{}{}
			if timer == nil {
				timer = time.AfterFunc(w.debounce, fire)
			} else {
				timer.Reset(w.debounce)
			}
			mu.Unlock()

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return errors.New("watch: error channel closed")
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				w.logger.Warn("fsnotify queue overflowed, some changes may be missed")
				continue
			}
			w.logger.Error("fsnotify error", "err", err)
		}
	}
}
