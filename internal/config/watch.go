package config

import (
	"log/slog"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the configuration whenever the file changes and passes
// each valid result to onChange. Invalid edits are logged and ignored, so
// the running settings stay in force. Load must have succeeded first.
func (l *Loader) Watch(logger *slog.Logger, onChange func(*Config)) {
	if logger == nil {
		logger = slog.Default()
	}
	l.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := l.Load()
		if err != nil {
			logger.Error("config reload rejected", "file", e.Name, "error", err)
			return
		}
		logger.Info("config reloaded", "file", e.Name)
		onChange(cfg)
	})
	l.v.WatchConfig()
}
