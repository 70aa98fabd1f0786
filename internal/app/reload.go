package app

import (
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce batches the burst of events an editor save produces.
const reloadDebounce = 150 * time.Millisecond

// reloader watches the notebook's directory and posts a reload when the
// notebook file changes. The directory is watched rather than the file so
// that editors which save by rename are still seen.
type reloader struct {
	log     *slog.Logger
	path    string
	watcher *fsnotify.Watcher
	post    func(name string, fn func())
	reload  func()

	stop chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

func newReloader(path string, log *slog.Logger, post func(string, func()), reload func()) (*reloader, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		w.Close()
		return nil, err
	}
	r := &reloader{
		log:     log,
		path:    abs,
		watcher: w,
		post:    post,
		reload:  reload,
		stop:    make(chan struct{}),
	}
	r.wg.Add(1)
	go r.run()
	log.Debug("watching notebook for metadata changes", "path", abs)
	return r, nil
}

func (r *reloader) run() {
	defer r.wg.Done()

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-r.stop:
			return

		case ev, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != r.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
			} else {
				timer.Reset(reloadDebounce)
			}
			fire = timer.C

		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			r.log.Warn("notebook watcher error", "path", r.path, "error", err)

		case <-fire:
			fire = nil
			r.post("metadata.reload", r.reload)
		}
	}
}

// Close stops watching and waits for the watcher goroutine.
func (r *reloader) Close() {
	r.once.Do(func() {
		close(r.stop)
		r.wg.Wait()
		if err := r.watcher.Close(); err != nil {
			r.log.Warn("closing notebook watcher", "error", err)
		}
	})
}
