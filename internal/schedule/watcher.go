package schedule

import (
	"github.com/fsnotify/fsnotify"
	"github.com/goodtune/restwell/internal/metrics"
	"github.com/rs/zerolog"
)

// Watcher reloads a Registry whenever a schedule file in its directory changes.
type Watcher struct {
	watcher  *fsnotify.Watcher
	registry *Registry
	dir      string
	logger   zerolog.Logger
	done     chan struct{}
}

// NewWatcher starts watching dir. The registry should already be loaded.
func NewWatcher(dir string, registry *Registry, logger zerolog.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(dir); err != nil {
		_ = fw.Close()
		return nil, err
	}

	w := &Watcher{
		watcher:  fw,
		registry: registry,
		dir:      dir,
		logger:   logger.With().Str("component", "schedule-watcher").Logger(),
		done:     make(chan struct{}),
	}

	go w.processEvents()

	return w, nil
}

func (w *Watcher) processEvents() {
	defer close(w.done)
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !isScheduleFile(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			w.reload(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("Schedule watch error")
		}
	}
}

func (w *Watcher) reload(event fsnotify.Event) {
	if err := w.registry.LoadFromDir(w.dir); err != nil {
		metrics.ScheduleReloads.WithLabelValues("error").Inc()
		w.logger.Error().Err(err).Str("file", event.Name).Msg("Failed to reload schedules, keeping previous set")
		return
	}
	metrics.ScheduleReloads.WithLabelValues("ok").Inc()
	w.logger.Info().
		Str("file", event.Name).
		Str("op", event.Op.String()).
		Int("schedules", len(w.registry.List())).
		Msg("Schedules reloaded")
}

// Close stops watching and waits for the event loop to exit.
func (w *Watcher) Close() error {
	err := w.watcher.Close()
	<-w.done
	return err
}
