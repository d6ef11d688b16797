package cli

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"proxy-dashboard/internal/config"
)

func newSettingsCmd(flags *globalFlags, streams Streams) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change the saved configuration",
		Args:  cobra.NoArgs,
	}
	cmd.AddCommand(newSettingsShowCmd(flags, streams), newSettingsSetCmd(flags, streams))
	return cmd
}

func settingsPath(flags *globalFlags) string {
	if p := strings.TrimSpace(flags.configPath); p != "" {
		return p
	}
	return config.Path()
}

func newSettingsShowCmd(flags *globalFlags, streams Streams) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Long: `Print the configuration after the file, PROXY_DASHBOARD_* variables, and
command line flags have been applied.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			path := settingsPath(flags)
			if asJSON {
				return printJSON(streams.Out, map[string]any{
					"config_path":   path,
					"server_url":    cfg.ServerURL,
					"poll_interval": cfg.PollInterval.String(),
					"retry_max":     cfg.RetryMax,
					"state_dir":     cfg.StateDir,
					"namespace":     cfg.Namespace,
					"log_level":     cfg.LogLevel,
					"log_file":      cfg.LogFile,
				})
			}
			fmt.Fprintf(streams.Out, "config: %s\n", path)
			fmt.Fprintf(streams.Out, "server_url: %s\n", cfg.ServerURL)
			fmt.Fprintf(streams.Out, "poll_interval: %s\n", cfg.PollInterval)
			fmt.Fprintf(streams.Out, "retry_max: %d\n", cfg.RetryMax)
			fmt.Fprintf(streams.Out, "state_dir: %s\n", cfg.StateDir)
			fmt.Fprintf(streams.Out, "namespace: %s\n", cfg.Namespace)
			fmt.Fprintf(streams.Out, "log_level: %s\n", cfg.LogLevel)
			fmt.Fprintf(streams.Out, "log_file: %s\n", cfg.LogFile)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON output")
	return cmd
}

func newSettingsSetCmd(flags *globalFlags, streams Streams) *cobra.Command {
	var (
		server   string
		interval time.Duration
		retryMax int
		logLevel string
	)
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Update the configuration file",
		Long: `Update fields in the configuration file. Fields without a flag keep their
saved value; environment variables are not written back.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := settingsPath(flags)
			file, err := config.LoadFile(path)
			if err != nil {
				return err
			}

			changed := false
			if cmd.Flags().Changed("server-url") {
				if err := config.CheckServerURL("--server-url", server); err != nil {
					return err
				}
				file.ServerURL = strings.TrimRight(strings.TrimSpace(server), "/")
				changed = true
			}
			if cmd.Flags().Changed("interval") {
				if interval <= 0 {
					return errors.New("--interval must be positive")
				}
				file.PollInterval = interval
				changed = true
			}
			if cmd.Flags().Changed("retry-max") {
				if retryMax < 0 {
					return errors.New("--retry-max must be >= 0")
				}
				file.RetryMax = retryMax
				changed = true
			}
			if cmd.Flags().Changed("level") {
				file.LogLevel = config.Normalize(config.Config{LogLevel: logLevel}).LogLevel
				changed = true
			}
			if !changed {
				return errors.New("nothing to change; pass --server-url, --interval, --retry-max, or --level")
			}

			// Unset fields stay unset so defaults keep applying.
			if err := config.Save(file, path); err != nil {
				return err
			}
			fmt.Fprintf(streams.Err, "updated settings in %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&server, "server-url", "", "job service base URL")
	cmd.Flags().DurationVar(&interval, "interval", 0, "poll interval, e.g. 1s")
	cmd.Flags().IntVar(&retryMax, "retry-max", 0, "retries on transport errors")
	cmd.Flags().StringVar(&logLevel, "level", "", "log level")
	return cmd
}
