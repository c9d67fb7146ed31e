package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/sitesync/internal/api"
	"github.com/roach88/sitesync/internal/model"
)

// StatusOptions holds flags for the status command.
type StatusOptions struct {
	*RootOptions
	Offline bool
}

// StatusResult is the output of the status command.
type StatusResult struct {
	Source string `json:"source"` // "api" or "database"
	api.StatusResponse
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StatusOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show sync state, buffer and last cycle",
		Long: `Show the site's sync state, buffer counts, pending push count and the
latest sync log.

The running serve process is asked first so the engine phase is live; if it
cannot be reached the database is read directly.

Examples:
  sitesync status
  sitesync status --offline --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Offline, "offline", false, "read the database without asking the serve process")

	return cmd
}

func runStatus(opts *StatusOptions, cmd *cobra.Command) error {
	rt, err := loadRuntime(opts.RootOptions)
	if err != nil {
		return err
	}
	defer rt.close()

	ctx := context.Background()
	result := StatusResult{Source: "api"}

	live := false
	if !opts.Offline && rt.cfg.API.Listen != "" {
		if addr, err := apiAddr(opts.RootOptions, rt.cfg.API.Listen); err == nil {
			live = fetchStatus(addr, &result.StatusResponse) == nil
		}
	}
	if !live {
		st, err := rt.openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		result.Source = "database"
		if result.StatusResponse, err = api.BuildStatus(ctx, st, nil, nil); err != nil {
			return WrapExitError(ExitCommandError, "failed to read status", err)
		}
	}

	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	return out.Emit(result, func(w io.Writer) { printStatus(w, result) })
}

func fetchStatus(addr string, dst *api.StatusResponse) error {
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(addr + "/sync/status")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status endpoint returned %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(dst)
}

func printStatus(w io.Writer, r StatusResult) {
	fmt.Fprintf(w, "Sync state:   %s\n", r.SyncState)
	if r.SiteID != nil {
		fmt.Fprintf(w, "Site:         %d\n", *r.SiteID)
	} else {
		fmt.Fprintln(w, "Site:         (unknown until first login)")
	}
	if r.Source == "api" {
		fmt.Fprintf(w, "Engine:       %s (cycle %d)\n", r.Engine.Phase, r.Engine.Cycle)
		if r.Engine.Reason != "" {
			fmt.Fprintf(w, "  reason:     %s\n", r.Engine.Reason)
		}
		if r.BlockedReason != "" {
			fmt.Fprintf(w, "Blocked:      %s\n", r.BlockedReason)
		}
	} else {
		fmt.Fprintln(w, "Engine:       not running")
	}
	fmt.Fprintf(w, "Buffer:       %d pending (%d with errors), %d integrated\n",
		r.Buffer.Pending, r.Buffer.Errored, r.Buffer.Integrated)
	fmt.Fprintf(w, "Pending push: %d\n", r.PendingPush)
	if r.PushErrors > 0 {
		fmt.Fprintf(w, "Push errors:  %d\n", r.PushErrors)
	}
	if r.LatestLog != nil {
		fmt.Fprintf(w, "Last cycle:   %s\n", describeLog(*r.LatestLog))
	}
	if r.LastSuccessLog != nil && (r.LatestLog == nil || r.LastSuccessLog.ID != r.LatestLog.ID) {
		fmt.Fprintf(w, "Last success: %s\n", describeLog(*r.LastSuccessLog))
	}
}

func describeLog(l model.SyncLog) string {
	started := l.StartedAt.Format(time.RFC3339)
	switch {
	case l.Failed():
		return fmt.Sprintf("%s %s failed [%s] %s", l.ID, started, l.ErrorCode, l.ErrorMessage)
	case l.Finished():
		return fmt.Sprintf("%s %s ok (pulled %d, pushed %d)", l.ID, started, l.Pull.Done, l.Push.Done)
	default:
		return fmt.Sprintf("%s %s running", l.ID, started)
	}
}
