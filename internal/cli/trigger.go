package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/sitesync/internal/scheduler"
)

const apiTimeout = 5 * time.Second

// TriggerOptions holds flags for the trigger command.
type TriggerOptions struct {
	*RootOptions
	Addr string
}

// NewTriggerCommand creates the trigger command.
func NewTriggerCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TriggerOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "Ask a running serve process to sync now",
		Long: `Request an immediate sync cycle from a running "sitesync serve".

The request is never queued: if a cycle is already running the answer is
already_in_progress, and a blocked engine answers rejected with the reason.

Example:
  sitesync trigger
  sitesync trigger --addr 127.0.0.1:8787`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrigger(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "control API address (default api.listen)")

	return cmd
}

func runTrigger(opts *TriggerOptions, cmd *cobra.Command) error {
	addr, err := apiAddr(opts.RootOptions, opts.Addr)
	if err != nil {
		return err
	}

	client := &http.Client{Timeout: apiTimeout}
	resp, err := client.Post(addr+"/sync/trigger", "application/json", nil)
	if err != nil {
		return WrapExitError(ExitCommandError, "control API unreachable; is sitesync serve running?", err)
	}
	defer resp.Body.Close()

	var res scheduler.TriggerResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return WrapExitError(ExitCommandError, "unexpected control API response", err)
	}

	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	if err := out.Emit(res, func(w io.Writer) {
		switch res.Kind {
		case scheduler.Accepted:
			fmt.Fprintln(w, "Sync started.")
		case scheduler.AlreadyInProgress:
			fmt.Fprintln(w, "A sync is already in progress.")
		default:
			fmt.Fprintf(w, "Sync rejected: %s\n", res.Reason)
		}
	}); err != nil {
		return err
	}

	if res.Kind == scheduler.Rejected {
		return NewExitError(ExitFailure, "sync rejected: "+res.Reason)
	}
	return nil
}

// apiAddr resolves the control API base URL from a flag or the config.
func apiAddr(opts *RootOptions, flagAddr string) (string, error) {
	addr := flagAddr
	if addr == "" {
		rt, err := loadRuntime(opts)
		if err != nil {
			return "", err
		}
		rt.close()
		addr = rt.cfg.API.Listen
	}
	if addr == "" {
		return "", NewExitError(ExitCommandError, "control API is disabled (api.listen is empty)")
	}
	if strings.HasPrefix(addr, ":") {
		addr = "127.0.0.1" + addr
	}
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	return strings.TrimSuffix(addr, "/"), nil
}
