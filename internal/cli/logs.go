package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/sitesync/internal/model"
)

// LogsOptions holds flags for the logs command.
type LogsOptions struct {
	*RootOptions
	Limit int
}

// NewLogsCommand creates the logs command.
func NewLogsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LogsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "List recent sync cycles",
		Long: `List recent sync logs, newest first, with per-phase progress and any
error code.

Examples:
  sitesync logs
  sitesync logs --limit 5 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogs(opts, cmd)
		},
	}

	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 20, "number of logs to show")

	return cmd
}

func runLogs(opts *LogsOptions, cmd *cobra.Command) error {
	rt, err := loadRuntime(opts.RootOptions)
	if err != nil {
		return err
	}
	defer rt.close()

	st, err := rt.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	logs, err := st.ListSyncLogs(context.Background(), opts.Limit)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read sync logs", err)
	}
	if logs == nil {
		logs = []model.SyncLog{}
	}

	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	return out.Emit(logs, func(w io.Writer) {
		if len(logs) == 0 {
			fmt.Fprintln(w, "No sync cycles recorded.")
			return
		}
		for _, l := range logs {
			fmt.Fprintln(w, describeLog(l))
			if opts.Verbose {
				printPhases(w, l)
			}
		}
	})
}
