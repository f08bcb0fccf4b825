package library

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// Watcher invalidates the store's cached view when the library directory
// changes on disk. It does not scan or index anything itself; the store
// rebuilds lazily on the next lookup.
type Watcher struct {
	store   *Store
	watcher *fsnotify.Watcher
	logger  *logrus.Logger
	done    chan struct{}
}

// NewWatcher starts watching the store's root directory recursively.
func NewWatcher(store *Store) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	w := &Watcher{
		store:   store,
		watcher: fsw,
		logger:  logger,
		done:    make(chan struct{}),
	}

	if err := w.addRecursive(store.Root()); err != nil {
		fsw.Close()
		return nil, err
	}

	go w.loop()
	w.logger.WithField("library_path", store.Root()).Info("Library watcher started")
	return w, nil
}

// Stop shuts the watcher down.
func (w *Watcher) Stop() {
	close(w.done)
	w.watcher.Close()
}

func (w *Watcher) addRecursive(dir string) error {
	return filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return w.watcher.Add(path)
		}
		return nil
	})
}

func (w *Watcher) loop() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.WithError(err).Error("Library watcher error")
		case <-w.done:
			return
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	name := filepath.Base(event.Name)
	if strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".tmp") || strings.HasSuffix(name, ".part") {
		return
	}

	// New directories need to be watched before files land in them.
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addRecursive(event.Name); err != nil {
				w.logger.WithField("path", event.Name).WithError(err).Warn("Could not watch new directory")
			}
		}
	}

	if event.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename|fsnotify.Write) != 0 {
		if w.store.IsAudioFile(event.Name) || event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
			w.logger.WithFields(logrus.Fields{
				"path": event.Name,
				"op":   event.Op.String(),
			}).Debug("Library changed, invalidating view")
			w.store.Invalidate()
		}
	}
}
