package memory

import (
	"fmt"
	"path/filepath"

	"github.com/artpar/mockengine/ports"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// FixtureWatcher reloads a MockStore from its fixture file whenever the
// file changes on disk. A reload that fails to parse keeps the previous
// dataset.
type FixtureWatcher struct {
	store    *MockStore
	path     string
	ids      ports.IDGenerator
	logger   zerolog.Logger
	watcher  *fsnotify.Watcher
	onReload []func()
	stopCh   chan struct{}
}

// NewFixtureWatcher creates a watcher for path, loading the initial dataset.
func NewFixtureWatcher(store *MockStore, path string, ids ports.IDGenerator, logger zerolog.Logger) (*FixtureWatcher, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}

	w := &FixtureWatcher{
		store:  store,
		path:   absPath,
		ids:    ids,
		logger: logger.With().Str("component", "fixture-watcher").Logger(),
		stopCh: make(chan struct{}),
	}

	if err := w.Reload(); err != nil {
		return nil, err
	}

	return w, nil
}

// OnReload registers a callback invoked after each successful reload.
func (w *FixtureWatcher) OnReload(fn func()) {
	w.onReload = append(w.onReload, fn)
}

// Reload loads the fixture file into the store.
func (w *FixtureWatcher) Reload() error {
	services, responses, err := LoadFixture(w.path, w.ids)
	if err != nil {
		return err
	}

	w.store.Replace(services, responses)

	w.logger.Debug().
		Int("services", len(services)).
		Int("responses", len(responses)).
		Msg("fixture loaded")

	for _, fn := range w.onReload {
		fn()
	}
	return nil
}

// Watch starts watching the fixture file for changes.
func (w *FixtureWatcher) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	w.watcher = watcher

	// Watch the directory (more reliable for editors that do atomic saves)
	dir := filepath.Dir(w.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch directory: %w", err)
	}

	go w.watchLoop()

	w.logger.Info().Str("path", w.path).Msg("watching fixture file for changes")
	return nil
}

// Stop stops watching.
func (w *FixtureWatcher) Stop() {
	close(w.stopCh)
	if w.watcher != nil {
		w.watcher.Close()
	}
}

func (w *FixtureWatcher) watchLoop() {
	filename := filepath.Base(w.path)

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			if filepath.Base(event.Name) != filename {
				continue
			}

			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				w.logger.Debug().
					Str("event", event.Op.String()).
					Str("file", event.Name).
					Msg("fixture file changed")

				if err := w.Reload(); err != nil {
					w.logger.Error().Err(err).Msg("fixture reload failed, keeping old dataset")
				}
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("fixture watcher error")

		case <-w.stopCh:
			return
		}
	}
}
