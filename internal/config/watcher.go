package config

import (
	"context"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/onvifeye/onvifeye/internal/log"
)

// WatchCameraDir watches the per-camera config directory and invokes onChange
// after any create/write/remove settles. Changes are coalesced with a short
// debounce since editors produce bursts of events for one save.
//
// A slow polling sweep runs alongside fsnotify as a safety net; if fsnotify
// cannot be set up at all, polling is the only mechanism.
func WatchCameraDir(ctx context.Context, dir string, onChange func()) {
	logger := log.WithComponent("config-watcher")

	watcher, err := fsnotify.NewWatcher()
	usePolling := false
	if err != nil {
		logger.Warn().Err(err).Msg("fsnotify unavailable, falling back to polling")
		usePolling = true
	} else if err := watcher.Add(dir); err != nil {
		logger.Warn().Err(err).Str("dir", dir).Msg("cannot watch config dir, falling back to polling")
		watcher.Close()
		usePolling = true
	}

	if !usePolling {
		go func() {
			defer watcher.Close()
			var pending *time.Timer
			fire := make(chan struct{}, 1)
			for {
				select {
				case <-ctx.Done():
					return
				case event, ok := <-watcher.Events:
					if !ok {
						return
					}
					if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
						continue
					}
					logger.Debug().Str("file", event.Name).Str("op", event.Op.String()).Msg("config change detected")
					if pending == nil {
						pending = time.AfterFunc(500*time.Millisecond, func() {
							select {
							case fire <- struct{}{}:
							default:
							}
						})
					} else {
						pending.Reset(500 * time.Millisecond)
					}
				case <-fire:
					pending = nil
					onChange()
				case err, ok := <-watcher.Errors:
					if !ok {
						return
					}
					logger.Warn().Err(err).Msg("config watcher error")
				}
			}
		}()
	}

	go func() {
		interval := 60 * time.Second
		if usePolling {
			interval = 10 * time.Second
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		var lastSig string
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sig := dirSignature(dir)
				if lastSig != "" && sig != lastSig {
					onChange()
				}
				lastSig = sig
			}
		}
	}()
}
