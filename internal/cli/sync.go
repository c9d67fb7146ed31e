package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/sitesync/internal/engine"
	"github.com/roach88/sitesync/internal/model"
)

// NewSyncCommand creates the one-shot sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one sync cycle and exit",
		Long: `Run a single pull, integrate and push cycle against central.

Fails if another sitesync process (serve or sync) holds the database.

Examples:
  sitesync sync
  sitesync sync --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(rootOpts, cmd)
		},
	}
	return cmd
}

// SyncResult is the output of the sync command.
type SyncResult struct {
	Log   model.SyncLog `json:"log"`
	Error string        `json:"error,omitempty"`
}

func runSync(opts *RootOptions, cmd *cobra.Command) error {
	rt, err := loadRuntime(opts)
	if err != nil {
		return err
	}
	defer rt.close()

	lock, err := acquireSyncLock(rt.cfg.Database.Path)
	if err != nil {
		return err
	}
	defer func() { _ = lock.Unlock() }()

	st, err := rt.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	syncer, err := rt.newSynchroniser(st)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	log, runErr := syncer.RunCycle(ctx)
	if runErr != nil {
		code := string(engine.CodeOf(runErr))
		if code == "" {
			code = string(engine.ErrCodeInternal)
		}
		if log.ID == "" {
			// Refused before a cycle began.
			_ = out.Error(code, runErr.Error(), nil)
		} else {
			_ = out.Emit(SyncResult{Log: log, Error: runErr.Error()}, func(w io.Writer) {
				fmt.Fprintf(w, "Sync %s failed [%s]: %s\n", log.ID, log.ErrorCode, log.ErrorMessage)
				printPhases(w, log)
			})
		}
		return WrapExitError(ExitFailure, "sync failed", runErr)
	}

	return out.Emit(SyncResult{Log: log}, func(w io.Writer) {
		fmt.Fprintf(w, "Sync %s finished in %s\n", log.ID, log.FinishedAt.Sub(log.StartedAt).Round(time.Millisecond))
		printPhases(w, log)
	})
}

func printPhases(w io.Writer, log model.SyncLog) {
	fmt.Fprintf(w, "  pulled:     %d/%d\n", log.Pull.Done, log.Pull.Total)
	fmt.Fprintf(w, "  integrated: %d/%d\n", log.Integration.Done, log.Integration.Total)
	fmt.Fprintf(w, "  pushed:     %d/%d\n", log.Push.Done, log.Push.Total)
}
