package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofrs/flock"

	"github.com/roach88/sitesync/internal/config"
	"github.com/roach88/sitesync/internal/engine"
	"github.com/roach88/sitesync/internal/logging"
	"github.com/roach88/sitesync/internal/store"
	"github.com/roach88/sitesync/internal/transport"
)

// runtime is the loaded configuration and logger shared by commands.
type runtime struct {
	cfg      *config.Config
	loader   *config.Loader
	logger   *slog.Logger
	closeLog func() error
}

func loadRuntime(opts *RootOptions) (*runtime, error) {
	loader := config.NewLoader(opts.ConfigPath)
	cfg, err := loader.Load()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}

	level := cfg.Log.Level
	if opts.Verbose {
		level = "debug"
	}
	logger, closeLog, err := logging.New(logging.Options{
		Level:      level,
		Format:     cfg.Log.Format,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to configure logging", err)
	}
	slog.SetDefault(logger)

	return &runtime{cfg: cfg, loader: loader, logger: logger, closeLog: closeLog}, nil
}

func (rt *runtime) close() {
	if err := rt.closeLog(); err != nil {
		fmt.Fprintf(os.Stderr, "closing log file: %v\n", err)
	}
}

func (rt *runtime) openStore() (*store.Store, error) {
	st, err := store.Open(rt.cfg.Database.Path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return st, nil
}

// newSynchroniser builds the engine from the current sync settings.
func (rt *runtime) newSynchroniser(st *store.Store) (*engine.Synchroniser, error) {
	central, err := newCentral(rt.cfg.Sync, rt.logger)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid sync settings", err)
	}
	return engine.New(st, central,
		engine.WithLogger(rt.logger),
		engine.WithBatchSizes(rt.cfg.Sync.BatchSize, rt.cfg.Sync.PushBatchSize),
	), nil
}

// newCentral returns nil when central is not configured, leaving the
// synchroniser blocked with NOT_CONFIGURED.
func newCentral(s config.SyncSettings, logger *slog.Logger) (engine.Central, error) {
	if !s.Configured() {
		return nil, nil
	}
	tc := s.TransportConfig()
	tc.Logger = logger
	c, err := transport.NewClient(tc)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// acquireSyncLock takes the advisory lock that keeps two processes from
// syncing the same database.
func acquireSyncLock(dbPath string) (*flock.Flock, error) {
	lock := flock.New(dbPath + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "acquiring sync lock", err)
	}
	if !locked {
		return nil, NewExitError(ExitCommandError,
			fmt.Sprintf("another sitesync process is syncing %s", dbPath))
	}
	return lock, nil
}

// signalContext is cancelled on SIGINT/SIGTERM or when parent is done.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
