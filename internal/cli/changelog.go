package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/sitesync/internal/model"
)

// ChangelogOptions holds flags for the changelog command.
type ChangelogOptions struct {
	*RootOptions
	Limit int
}

// ChangelogResult is the output of the changelog command.
type ChangelogResult struct {
	PushCursor int64                  `json:"push_cursor"`
	Latest     int64                  `json:"latest_cursor"`
	Pending    int64                  `json:"pending"`
	Entries    []model.ChangelogEntry `json:"entries"`
}

// NewChangelogCommand creates the changelog command.
func NewChangelogCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ChangelogOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "changelog",
		Short: "Show local changes waiting to be pushed",
		Long: `Show the deduplicated, non-echo changelog entries past the push cursor:
exactly what the next cycle would push.

Examples:
  sitesync changelog
  sitesync changelog --limit 100 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChangelog(opts, cmd)
		},
	}

	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 50, "maximum entries")

	return cmd
}

func runChangelog(opts *ChangelogOptions, cmd *cobra.Command) error {
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
	var result ChangelogResult

	// Without a site id nothing has been pushed yet.
	siteID, ok, err := st.SiteID(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read site id", err)
	}
	if ok {
		if result.PushCursor, err = st.GetCursor(ctx, siteID, model.DirectionPush); err != nil {
			return WrapExitError(ExitCommandError, "failed to read push cursor", err)
		}
	}
	if result.Latest, err = st.LatestChangelogCursor(ctx); err != nil {
		return WrapExitError(ExitCommandError, "failed to read changelog", err)
	}
	if result.Pending, err = st.CountDedupWindow(ctx, result.PushCursor, result.Latest); err != nil {
		return WrapExitError(ExitCommandError, "failed to read changelog", err)
	}
	if result.Entries, err = st.DedupChangelogWindow(ctx, result.PushCursor, result.Latest, opts.Limit); err != nil {
		return WrapExitError(ExitCommandError, "failed to read changelog", err)
	}
	if result.Entries == nil {
		result.Entries = []model.ChangelogEntry{}
	}

	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	return out.Emit(result, func(w io.Writer) {
		fmt.Fprintf(w, "%d changes pending push (cursor %d of %d)\n", result.Pending, result.PushCursor, result.Latest)
		for _, e := range result.Entries {
			fmt.Fprintf(w, "%8d  %-12s %-36s %s\n", e.Cursor, e.Table, e.RecordID, e.Action)
		}
	})
}
