package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/sitesync/internal/api"
	"github.com/roach88/sitesync/internal/config"
	"github.com/roach88/sitesync/internal/engine"
	"github.com/roach88/sitesync/internal/model"
	"github.com/roach88/sitesync/internal/scheduler"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	NoInitialSync bool
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the resident sync scheduler and control API",
		Long: `Run sync cycles every sync.interval_seconds and serve the control API
on api.listen until interrupted.

Edits to the config file are picked up live: a new interval restarts the
timer and new central settings clear an authentication block.

Example:
  sitesync serve --config /etc/sitesync/sitesync.yaml`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.NoInitialSync, "no-initial-sync", false, "wait for the timer or a trigger before the first cycle")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	rt, err := loadRuntime(opts.RootOptions)
	if err != nil {
		return err
	}
	defer rt.close()
	logger := rt.logger

	lock, err := acquireSyncLock(rt.cfg.Database.Path)
	if err != nil {
		return err
	}
	defer func() { _ = lock.Unlock() }()

	st, err := rt.openStore()
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			logger.Error("error closing database", "error", closeErr)
		}
	}()

	syncer, err := rt.newSynchroniser(st)
	if err != nil {
		return err
	}
	if err := syncer.Blocked(); err != nil {
		logger.Warn("sync is blocked until reconfigured", "reason", err)
	}

	schedOpts := []scheduler.Option{
		scheduler.WithLogger(logger),
		scheduler.WithCycleHook(cycleLogger(logger)),
	}
	if !opts.NoInitialSync {
		schedOpts = append(schedOpts, scheduler.WithSyncOnStart())
	}
	sched := scheduler.New(syncer, rt.cfg.Sync.Interval(), schedOpts...)

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	if _, statErr := os.Stat(rt.loader.Path()); statErr == nil {
		rt.loader.Watch(logger, func(c *config.Config) {
			applyReload(logger, sched, syncer, c)
		})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sched.Run(gctx)
	})
	if listen := rt.cfg.API.Listen; listen != "" {
		srv := api.New(sched, syncer, st, logger)
		g.Go(func() error {
			return srv.ListenAndServe(gctx, listen)
		})
	}

	fmt.Fprintf(cmd.OutOrStdout(), "sitesync serving %s. Press Ctrl-C to stop.\n", rt.cfg.Database.Path)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return WrapExitError(ExitFailure, "serve stopped", err)
	}
	logger.Info("sitesync stopped gracefully")
	return nil
}

// applyReload pushes reloaded settings into the running scheduler and
// synchroniser.
func applyReload(logger *slog.Logger, sched *scheduler.Scheduler, syncer *engine.Synchroniser, c *config.Config) {
	if d := c.Sync.Interval(); d != sched.Interval() {
		sched.SetInterval(d)
	}
	central, err := newCentral(c.Sync, logger)
	if err != nil {
		logger.Error("reloaded sync settings rejected", "error", err)
		return
	}
	syncer.SetCentral(central)
}

// cycleLogger reports cycles that leave the engine blocked.
func cycleLogger(logger *slog.Logger) scheduler.CycleHook {
	return func(log model.SyncLog, err error) {
		var se *engine.SyncError
		if errors.As(err, &se) && se.RequiresReconfiguration() {
			logger.Error("sync blocked until settings change",
				"sync_log", log.ID,
				"code", se.Code,
				"config", "sync.url, sync.username, sync.password",
			)
		}
	}
}
