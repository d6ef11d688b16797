// Package cli wires the dashboard commands.
package cli

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"proxy-dashboard/internal/dashboard"
)

// Streams are the process stdio and clipboard, replaced in tests.
type Streams struct {
	In        io.Reader
	Out       io.Writer
	Err       io.Writer
	IsTerm    func(w any) bool
	Clipboard dashboard.ClipboardWriter
}

func defaultStreams() Streams {
	return Streams{
		In:        os.Stdin,
		Out:       os.Stdout,
		Err:       os.Stderr,
		IsTerm:    isTerminal,
		Clipboard: dashboard.SystemClipboard{},
	}
}

type globalFlags struct {
	configPath string
	server     string
	stateDir   string
	logLevel   string
}

// Run executes the command line with process stdio and SIGINT/SIGTERM
// cancellation.
func Run(args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	root := NewRootCmd(defaultStreams())
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

func NewRootCmd(streams Streams) *cobra.Command {
	if streams.IsTerm == nil {
		streams.IsTerm = func(any) bool { return false }
	}
	if streams.Clipboard == nil {
		streams.Clipboard = dashboard.SystemClipboard{}
	}
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:   "proxy-dashboard",
		Short: "Operator dashboard for the proxy-test job service",
		Long: `proxy-dashboard starts, watches, and exports proxy-test jobs run by a
job service. Without a subcommand it opens the interactive dashboard.

Local choices (input text, selected result tab, last export) are kept in the
state directory so a restart resumes the same view.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDashboard(cmd, flags, streams)
		},
	}
	root.SetIn(streams.In)
	root.SetOut(streams.Out)
	root.SetErr(streams.Err)

	pf := root.PersistentFlags()
	pf.StringVar(&flags.configPath, "config", "", "config file path (default ~/.config/proxy-dashboard/config.yaml)")
	pf.StringVar(&flags.server, "server", "", "job service base URL")
	pf.StringVar(&flags.stateDir, "state-dir", "", "directory for persisted view state and logs")
	pf.StringVar(&flags.logLevel, "log-level", "", "log level (trace, debug, info, warn, error)")

	root.AddCommand(
		newDashboardCmd(flags, streams),
		newStartCmd(flags, streams),
		newStopCmd(flags, streams),
		newStatusCmd(flags, streams),
		newWatchCmd(flags, streams),
		newResultsCmd(flags, streams),
		newExportCmd(flags, streams),
		newSyncCmd(flags, streams),
		newResetCmd(flags, streams),
		newSettingsCmd(flags, streams),
	)
	return root
}
