package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/koustreak/cosbrowser/internal/errs"
	"github.com/koustreak/cosbrowser/internal/logger"
)

// DefaultDebounce coalesces the burst of events editors emit on save.
const DefaultDebounce = 100 * time.Millisecond

// ChangeFunc receives each reloaded configuration.
type ChangeFunc func(*Config)

// Watch reloads the configuration whenever the loader's config file is
// written, created or renamed, and passes the result to fn. It blocks until
// ctx is done. A reload that fails is logged and skipped.
//
// The parent directory is watched rather than the file, so editors that
// save by replacing the file keep triggering reloads.
func (l *Loader) Watch(ctx context.Context, debounce time.Duration, log *logger.Logger, fn ChangeFunc) error {
	path := l.File()
	if path == "" {
		path = l.file
	}
	if path == "" {
		return errs.New(errs.ErrKindNotFound, "no config file to watch")
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	log = logger.OrGlobal(log).Component("config")

	abs, err := filepath.Abs(path)
	if err != nil {
		return errs.Wrap(errs.ErrKindInvalidInput, "resolve "+path, err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return errs.Wrap(errs.ErrKindUnknown, "create watcher", err)
	}
	defer w.Close()

	if err := w.Add(filepath.Dir(abs)); err != nil {
		return errs.Wrap(errs.ErrKindNotFound, "watch "+filepath.Dir(abs), err)
	}
	log.With().Str("file", abs).Logger().Debug("watching config")

	timer := time.NewTimer(debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			timer.Reset(debounce)

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.WarnWith("config watcher error", err, nil)

		case <-timer.C:
			cfg, err := l.Load()
			if err != nil {
				log.WarnWith("config reload failed", err, map[string]interface{}{"file": abs})
				continue
			}
			log.InfoWith("config reloaded", map[string]interface{}{"file": abs})
			fn(cfg)
		}
	}
}
