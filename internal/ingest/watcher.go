package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// Watcher observes the ingest root and reports conv-* directories whose
// events file was created or rewritten, so the runner can re-derive just
// those sessions.
type Watcher struct {
	root    string
	logger  *slog.Logger
	watcher *fsnotify.Watcher
}

// NewWatcher watches root and its app-*/conv-* subdirectories.
func NewWatcher(root string, logger *slog.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	dirs := []string{root}
	appDirs, _ := filepath.Glob(filepath.Join(root, "app-*"))
	dirs = append(dirs, appDirs...)
	for _, appDir := range appDirs {
		convDirs, _ := filepath.Glob(filepath.Join(appDir, "conv-*"))
		dirs = append(dirs, convDirs...)
	}
	for _, dir := range dirs {
		if err := fw.Add(dir); err != nil {
			fw.Close()
			return nil, fmt.Errorf("watch %s: %w", dir, err)
		}
	}

	return &Watcher{root: root, logger: logger, watcher: fw}, nil
}

// Run forwards changed session directories to out until ctx is done.
func (w *Watcher) Run(ctx context.Context, out chan<- string) error {
	defer w.watcher.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			// New app/conv directories need watching themselves.
			if event.Op&fsnotify.Create != 0 && isWatchableDir(event.Name) {
				if err := w.watcher.Add(event.Name); err != nil {
					w.logger.Warn("cannot watch new directory",
						slog.String("dir", event.Name),
						slog.String("error", err.Error()))
				}
				continue
			}
			if convDir, ok := sessionDirFor(event.Name); ok {
				select {
				case out <- convDir:
				case <-ctx.Done():
					return ctx.Err()
				}
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", slog.String("error", err.Error()))
		}
	}
}

func isWatchableDir(path string) bool {
	base := filepath.Base(path)
	return strings.HasPrefix(base, "app-") || strings.HasPrefix(base, "conv-")
}

// sessionDirFor maps a changed events file to its conv-* directory.
func sessionDirFor(path string) (string, bool) {
	base := filepath.Base(path)
	for _, name := range eventFileNames {
		if base == name {
			return filepath.Dir(path), true
		}
	}
	return "", false
}
