package gate

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/reviewd/internal/logging"
)

// reloadDelay coalesces the burst of events an editor save produces.
const reloadDelay = 200 * time.Millisecond

// WatchPolicy reloads the policy file whenever it changes and passes each
// valid result to apply. Edits that fail to parse are logged and the
// previous policy stays in effect. WatchPolicy blocks until ctx ends.
func WatchPolicy(ctx context.Context, path string, logger *logging.Logger, apply func(*Policy)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating policy watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	path = filepath.Clean(path)
	// Watch the directory: editors replace files by rename.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watching %s: %w", path, err)
	}

	reload := make(chan struct{}, 1)
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != path || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(reloadDelay, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})

		case <-reload:
			p, err := LoadPolicy(path)
			if err != nil {
				logger.Warn(ctx, "policy reload rejected, keeping previous policy", zap.String("path", path), zap.Error(err))
				continue
			}
			logger.Info(ctx, "policy reloaded", zap.String("path", path), zap.Int("gates", p.Registry.Len()))
			apply(p)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn(ctx, "policy watcher error", zap.Error(err))
		}
	}
}
