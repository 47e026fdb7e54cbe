// Package watch decompiles packages dropped into an inbox directory.
package watch

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/wedecode/internal/wxapkg"
)

// Handler is called once a package file has stopped changing.
type Handler func(ctx context.Context, path string)

// DefaultSettle is how long a package must stay unchanged before it is handled.
const DefaultSettle = 500 * time.Millisecond

// Options tunes Watch.
type Options struct {
	// Settle debounces writes: packages are copied in chunks.
	Settle time.Duration
	// Existing hands packages already present at startup to the handler.
	Existing bool
}

// Watch starts an fsnotify watcher on root and calls handle for every
// package file created or rewritten below it, until ctx is cancelled.
// Handlers run on the watcher goroutine, one at a time.
//
// New directories created at runtime are automatically added to the watch
// list. Removing or renaming a pending package cancels it.
func Watch(ctx context.Context, root string, opts Options, logger *slog.Logger, handle Handler) error {
	if opts.Settle <= 0 {
		opts.Settle = DefaultSettle
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := addDirsRecursive(w, root); err != nil {
		return err
	}
	logger.Info("watcher: started", slog.String("root", root))

	if opts.Existing {
		for _, p := range packagesUnder(root) {
			handle(ctx, p)
		}
	}

	pending := make(map[string]*time.Timer)
	ready := make(chan string, 64)
	schedule := func(p string) {
		if t, ok := pending[p]; ok {
			t.Reset(opts.Settle)
			return
		}
		pending[p] = time.AfterFunc(opts.Settle, func() {
			select {
			case ready <- p:
			case <-ctx.Done():
			}
		})
	}
	cancel := func(p string) {
		if t, ok := pending[p]; ok {
			t.Stop()
			delete(pending, p)
		}
	}

	for {
		select {
		case <-ctx.Done():
			for p := range pending {
				cancel(p)
			}
			logger.Info("watcher: stopped")
			return nil

		case p := <-ready:
			if _, ok := pending[p]; !ok {
				continue
			}
			delete(pending, p)
			if info, err := os.Stat(p); err != nil || !info.Mode().IsRegular() {
				continue
			}
			logger.Debug("watcher: package settled", slog.String("path", p))
			handle(ctx, p)

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}

			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
					if addErr := addDirsRecursive(w, ev.Name); addErr != nil {
						logger.Warn("watcher: add new dir failed",
							slog.String("path", ev.Name),
							slog.String("error", addErr.Error()))
					} else {
						logger.Debug("watcher: watching new dir", slog.String("path", ev.Name))
					}
					for _, p := range packagesUnder(ev.Name) {
						schedule(p)
					}
					continue
				}
			}

			if !isPackage(ev.Name) {
				continue
			}
			switch {
			case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
				schedule(ev.Name)
			case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				cancel(ev.Name)
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

func isPackage(p string) bool {
	return strings.EqualFold(filepath.Ext(p), wxapkg.Ext)
}

// packagesUnder returns the package files below dir in walk order.
func packagesUnder(dir string) []string {
	var out []string
	_ = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err == nil && d.Type().IsRegular() && isPackage(p) {
			out = append(out, p)
		}
		return nil
	})
	return out
}

// addDirsRecursive adds root and all its subdirectories to the watcher.
func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
}
