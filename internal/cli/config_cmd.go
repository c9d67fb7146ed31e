package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/sitesync/internal/config"
)

// ConfigInitOptions holds flags for config init.
type ConfigInitOptions struct {
	*RootOptions
	Force    bool
	URL      string
	Username string
	Database string
}

// NewConfigCommand creates the config command group.
func NewConfigCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Create or inspect the config file",
	}
	cmd.AddCommand(newConfigInitCommand(rootOpts))
	cmd.AddCommand(newConfigShowCommand(rootOpts))
	return cmd
}

func newConfigInitCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ConfigInitOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		Long: `Write a config file with default settings.

The password is best kept out of the file: set SITESYNC_SYNC_PASSWORD in
the environment or in a .env file next to the config.

Example:
  sitesync config init --url https://central.example.org --username site7`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigInit(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Force, "force", false, "overwrite an existing file")
	cmd.Flags().StringVar(&opts.URL, "url", "", "central server URL")
	cmd.Flags().StringVar(&opts.Username, "username", "", "site username")
	cmd.Flags().StringVar(&opts.Database, "db", "", "database path")

	return cmd
}

func runConfigInit(opts *ConfigInitOptions, cmd *cobra.Command) error {
	path := opts.ConfigPath
	if path == "" {
		path = config.DefaultFile
	}

	cfg := config.Default()
	cfg.Sync.URL = opts.URL
	cfg.Sync.Username = opts.Username
	if opts.Database != "" {
		cfg.Database.Path = opts.Database
	}

	if err := config.WriteFile(path, cfg, opts.Force); err != nil {
		if errors.Is(err, config.ErrExists) {
			return WrapExitError(ExitCommandError, "refusing to overwrite (use --force)", err)
		}
		return WrapExitError(ExitCommandError, "failed to write config", err)
	}

	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	return out.Emit(map[string]string{"path": path}, func(w io.Writer) {
		fmt.Fprintf(w, "Wrote %s\n", path)
	})
}

func newConfigShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "show",
		Short:         "Print the effective configuration",
		Long:          "Print the configuration after defaults, file, .env and environment are merged. The password is masked.",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := loadRuntime(rootOpts)
			if err != nil {
				return err
			}
			defer rt.close()

			cfg := rt.cfg.Redacted()
			out := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}
			var encodeErr error
			if err := out.Emit(cfg, func(w io.Writer) {
				enc := yaml.NewEncoder(w)
				enc.SetIndent(2)
				encodeErr = enc.Encode(cfg)
				enc.Close()
			}); err != nil {
				return err
			}
			return encodeErr
		},
	}
}
