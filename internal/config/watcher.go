package config

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// reloadDebounce coalesces the burst of events editors emit on save.
const reloadDebounce = 150 * time.Millisecond

// Watch reloads configFile whenever it changes and passes the result, with
// environment overrides applied, to onChange. It blocks until ctx is done.
// The parent directory is watched so atomic rename-on-save is picked up.
func Watch(ctx context.Context, configFile string, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() {
		if errClose := watcher.Close(); errClose != nil {
			log.Errorf("config watcher: close error: %v", errClose)
		}
	}()

	abs, err := filepath.Abs(configFile)
	if err != nil {
		return err
	}
	if err = watcher.Add(filepath.Dir(abs)); err != nil {
		return err
	}

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
			} else {
				timer.Reset(reloadDebounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			cfg, errLoad := LoadConfig(abs)
			if errLoad != nil {
				log.WithError(errLoad).Warn("config watcher: keeping previous configuration")
				continue
			}
			cfg.ApplyEnv(os.LookupEnv)
			log.Infof("config watcher: reloaded %s", abs)
			onChange(cfg)
		case errWatch, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.WithError(errWatch).Warn("config watcher: watch error")
		}
	}
}
