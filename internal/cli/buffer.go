package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/sitesync/internal/model"
	"github.com/roach88/sitesync/internal/store"
)

// BufferOptions holds flags for the buffer command.
type BufferOptions struct {
	*RootOptions
	Pending bool
	Errors  bool
	Table   string
	Limit   int
}

// BufferResult is the output of the buffer command.
type BufferResult struct {
	Stats   store.BufferStats        `json:"stats"`
	Records []model.SyncBufferRecord `json:"records"`
}

// NewBufferCommand creates the buffer command.
func NewBufferCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &BufferOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "buffer",
		Short: "Inspect pulled records awaiting integration",
		Long: `List sync buffer rows, newest central cursor first.

Rows that failed to integrate keep their error and are retried on every
cycle; --errors shows just those.

Examples:
  sitesync buffer --pending
  sitesync buffer --errors --table stock_line`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBuffer(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Pending, "pending", false, "only rows not yet integrated")
	cmd.Flags().BoolVar(&opts.Errors, "errors", false, "only rows whose integration failed")
	cmd.Flags().StringVar(&opts.Table, "table", "", "filter by table name")
	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 50, "maximum rows")

	return cmd
}

func runBuffer(opts *BufferOptions, cmd *cobra.Command) error {
	filter := store.BufferFilter{PendingOnly: opts.Pending, ErrorsOnly: opts.Errors, Limit: opts.Limit}
	if opts.Table != "" {
		tbl, err := model.ParseTable(opts.Table)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid --table", err)
		}
		filter.Table = tbl
	}

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

	ctx := context.Background()
	var result BufferResult
	if result.Stats, err = st.BufferStats(ctx); err != nil {
		return WrapExitError(ExitCommandError, "failed to read buffer", err)
	}
	if result.Records, err = st.ListBuffer(ctx, filter); err != nil {
		return WrapExitError(ExitCommandError, "failed to read buffer", err)
	}
	if result.Records == nil {
		result.Records = []model.SyncBufferRecord{}
	}

	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	return out.Emit(result, func(w io.Writer) {
		fmt.Fprintf(w, "%d rows: %d pending, %d errored, %d integrated\n",
			result.Stats.Total, result.Stats.Pending, result.Stats.Errored, result.Stats.Integrated)
		for _, r := range result.Records {
			state := "integrated"
			if r.Pending() {
				state = "pending"
			}
			fmt.Fprintf(w, "%8d  %-12s %-36s %-7s %s\n", r.Cursor, r.Table, r.RecordID, r.Action, state)
			if r.IntegrationError != nil {
				fmt.Fprintf(w, "          attempts=%d error=%s\n", r.Attempts, *r.IntegrationError)
			}
		}
	})
}
