package syncengine

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// ConfigWatcher watches conf.ini and the exclude list for out-of-band edits
// (an operator hand-editing either file while the daemon runs) and reports
// which one changed, so the control loop can request a restart that picks
// up the new settings.
type ConfigWatcher struct {
	configPath  string
	excludePath string
	logger      *slog.Logger
}

// NewConfigWatcher creates a ConfigWatcher for the given conf.ini and
// exclude-list paths.
func NewConfigWatcher(configPath, excludePath string, logger *slog.Logger) *ConfigWatcher {
	return &ConfigWatcher{configPath: configPath, excludePath: excludePath, logger: logger}
}

// Run watches both files until ctx is canceled, sending the matching
// CommandKind on out each time one of them is created, written, or
// replaced (editors commonly save via rename-over, so Create/Rename count
// as a change too, unlike the main tree watcher which treats them as new
// content to sync).
func (w *ConfigWatcher) Run(ctx context.Context, out chan<- CommandKind) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("syncengine: creating config watcher: %w", err)
	}
	defer fsw.Close()

	dirs := map[string]bool{
		filepath.Dir(w.configPath):  true,
		filepath.Dir(w.excludePath): true,
	}

	for dir := range dirs {
		if err := fsw.Add(dir); err != nil {
			w.logger.Warn("failed to watch config directory", slog.String("path", dir), slog.String("error", err.Error()))
		}
	}

	configName := filepath.Base(w.configPath)
	excludeName := filepath.Base(w.excludePath)

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}

			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}

			var kind CommandKind

			switch filepath.Base(ev.Name) {
			case configName:
				kind = CmdUpdateConfigFile
			case excludeName:
				kind = CmdUpdateExcludeFile
			default:
				continue
			}

			select {
			case out <- kind:
			case <-ctx.Done():
				return nil
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}

			w.logger.Warn("config watcher error", slog.String("error", err.Error()))
		}
	}
}
