package index

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"

	"github.com/zhang3xing1/codmate-sub000/internal/model"
	"github.com/zhang3xing1/codmate-sub000/internal/scan"
)

const DefaultDebounce = 500 * time.Millisecond

// Watcher re-runs a full refresh shortly after anything changes under the
// log roots. fsnotify is not recursive, so every directory is watched and
// new directories are added as they appear.
type Watcher struct {
	ix       *Index
	fsw      *fsnotify.Watcher
	debounce time.Duration
	// OnRefresh is called after each refresh triggered by a change.
	OnRefresh func([]model.SessionSummary, error)
}

func NewWatcher(ix *Index, debounce time.Duration) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	w := &Watcher{ix: ix, fsw: fsw, debounce: debounce}
	for _, root := range []string{ix.opts.Roots.Codex, ix.opts.Roots.Claude, ix.opts.Roots.Gemini} {
		if root == "" {
			continue
		}
		if err := w.addTree(root); err != nil {
			log.Warn().Err(err).Str("path", root).Msg("watch root failed")
		}
	}
	return w, nil
}

func (w *Watcher) addTree(root string) error {
	if _, err := os.Stat(root); err != nil {
		return err
	}
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if err := w.fsw.Add(path); err != nil {
				log.Debug().Err(err).Str("path", path).Msg("watch failed")
			}
		}
		return nil
	})
}

// Run blocks until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsw.Close()

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = w.addTree(event.Name)
				}
			}
			if !relevant(event) {
				continue
			}
			timer.Reset(w.debounce)

		case <-timer.C:
			sums, err := w.ix.Refresh(ctx, scan.All())
			if err != nil {
				log.Warn().Err(err).Msg("refresh after change failed")
			}
			if w.OnRefresh != nil {
				w.OnRefresh(sums, err)
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			log.Error().Err(err).Msg("watcher error")
		}
	}
}

func relevant(e fsnotify.Event) bool {
	if e.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}
	switch filepath.Ext(e.Name) {
	case ".jsonl", ".json", "":
		return true
	}
	return false
}
