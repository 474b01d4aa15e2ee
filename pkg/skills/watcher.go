package skills

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher invalidates the loader cache when skill files change on disk, so
// long-lived processes pick up edited SKILL.md and reference files without
// a restart.
type Watcher struct {
	watcher  *fsnotify.Watcher
	loader   *Loader
	logger   zerolog.Logger
	debounce time.Duration
	timer    *time.Timer
	stopCh   chan struct{}
}

// NewWatcher creates a watcher over the loader's skills directory
func NewWatcher(loader *Loader, logger zerolog.Logger) (*Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		watcher:  watcher,
		loader:   loader,
		logger:   logger,
		debounce: 500 * time.Millisecond,
		stopCh:   make(chan struct{}),
	}

	if err := w.addWatches(); err != nil {
		watcher.Close()
		return nil, err
	}

	go w.run()

	return w, nil
}

// addWatches registers the skills root plus every skill and reference
// folder. fsnotify does not recurse, so each level is added explicitly.
func (w *Watcher) addWatches() error {
	dir := w.loader.Dir()
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil
	}

	if err := w.watcher.Add(dir); err != nil {
		return err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		skillDir := filepath.Join(dir, entry.Name())
		if err := w.watcher.Add(skillDir); err != nil {
			continue
		}
		refDir := filepath.Join(skillDir, "reference")
		if _, err := os.Stat(refDir); err == nil {
			w.watcher.Add(refDir)
		}
	}
	return nil
}

// Stop stops the watcher
func (w *Watcher) Stop() error {
	close(w.stopCh)
	return w.watcher.Close()
}

func (w *Watcher) run() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			if !strings.HasSuffix(strings.ToLower(event.Name), ".md") {
				continue
			}

			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Remove) {
				w.logger.Debug().
					Str("file", filepath.Base(event.Name)).
					Str("op", event.Op.String()).
					Msg("Skill change detected")

				w.scheduleReload()
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("Skill watcher error")

		case <-w.stopCh:
			return
		}
	}
}

// scheduleReload debounces cache invalidation
func (w *Watcher) scheduleReload() {
	if w.timer != nil {
		w.timer.Stop()
	}

	w.timer = time.AfterFunc(w.debounce, func() {
		w.logger.Debug().Msg("Reloading skills after file changes")
		w.loader.Invalidate()
		w.addWatches()
	})
}
