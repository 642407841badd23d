package watcher

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// notifier signals on C after the domain list changes on disk. The parent directory is
// watched so editors that replace the file by rename are seen, and bursts of events
// within the debounce window collapse into one signal.
type notifier struct {
	C <-chan struct{}

	fsw      *fsnotify.Watcher
	path     string
	debounce time.Duration
	logger   zerolog.Logger
	signal   chan struct{}
	done     chan struct{}
}

func newNotifier(ctx context.Context, path string, debounce time.Duration, logger zerolog.Logger) (*notifier, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	dir := filepath.Dir(abs)
	if err := fsw.Add(dir); err != nil {
		_ = fsw.Close() // Ignore close error in error path
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	signal := make(chan struct{}, 1)
	n := &notifier{
		C:        signal,
		fsw:      fsw,
		path:     abs,
		debounce: debounce,
		logger:   logger,
		signal:   signal,
		done:     make(chan struct{}),
	}

	go n.loop(ctx)

	logger.Debug().Str("event", "watch.notify_started").Str("dir", dir).Msg("watching directory for changes")

	return n, nil
}

func (n *notifier) loop(ctx context.Context) {
	defer close(n.done)

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-n.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != n.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
				continue
			}

			n.logger.Debug().Str("op", event.Op.String()).Str("event", "watch.file_changed").Msg("domain list event")

			if timer == nil {
				timer = time.NewTimer(n.debounce)
			} else {
				timer.Reset(n.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			select {
			case n.signal <- struct{}{}:
			default:
			}

		case err, ok := <-n.fsw.Errors:
			if !ok {
				return
			}
			n.logger.Error().Err(err).Str("event", "watch.notify_error").Msg("file watcher error")
		}
	}
}

// Close stops the underlying watcher and waits for the event loop to exit.
func (n *notifier) Close() error {
	err := n.fsw.Close()
	<-n.done
	return err
}
