package verify

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
)

// WatchTools reloads the tool table whenever the backing file changes. No-op
// when the pipeline runs on the embedded table. The watcher stops with ctx.
func (p *Pipeline) WatchTools(ctx context.Context) error {
	if p.toolsPath == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "create tools watcher")
	}
	// Watch the directory: editors and config rollouts typically replace the
	// file rather than write it in place.
	if err := watcher.Add(filepath.Dir(p.toolsPath)); err != nil {
		watcher.Close()
		return errors.Wrap(err, "watch tools directory")
	}

	go func() {
		defer watcher.Close()
		target := filepath.Clean(p.toolsPath)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if err := p.Reload(); err != nil {
					p.logger.Error().Err(err).Msg("Tool table reload failed; keeping previous table")
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				p.logger.Error().Err(err).Msg("Tools watcher error")
			}
		}
	}()
	return nil
}
