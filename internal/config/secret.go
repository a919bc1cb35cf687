package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// WatchedSecret holds the trimmed contents of a file and reloads them when
// the file changes. It implements near.KeySource.
type WatchedSecret struct {
	path string
	log  *slog.Logger
	val  atomic.Pointer[string]
}

// WatchSecret reads path and keeps it current until ctx ends. The parent
// directory is watched so atomic replacements (rename over, symlink swaps)
// are observed.
func WatchSecret(ctx context.Context, path string, log *slog.Logger) (*WatchedSecret, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve secret path: %w", err)
	}
	s := &WatchedSecret{path: abs, log: log}
	v, err := s.read()
	if err != nil {
		return nil, err
	}
	s.val.Store(&v)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}
	go s.run(ctx, w)
	return s, nil
}

// Current returns the latest successfully read value.
func (s *WatchedSecret) Current() string { return *s.val.Load() }

func (s *WatchedSecret) read() (string, error) {
	b, err := os.ReadFile(s.path)
	if err != nil {
		return "", fmt.Errorf("read secret: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}

func (s *WatchedSecret) run(ctx context.Context, w *fsnotify.Watcher) {
	defer func() { _ = w.Close() }()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			s.reload()
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			s.log.Warn("secret.watch.err", slog.String("path", s.path), slog.String("err", err.Error()))
		}
	}
}

func (s *WatchedSecret) reload() {
	v, err := s.read()
	if err != nil {
		// Keep serving the previous value while the file is being replaced.
		s.log.Debug("secret.reload.skip", slog.String("path", s.path), slog.String("err", err.Error()))
		return
	}
	if old := s.val.Swap(&v); *old != v {
		s.log.Info("secret.reload.ok", slog.String("path", s.path))
	}
}
