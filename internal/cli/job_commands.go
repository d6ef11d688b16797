package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"proxy-dashboard/internal/config"
	"proxy-dashboard/internal/model"
	"proxy-dashboard/internal/present"
	"proxy-dashboard/internal/reconcile"
	"proxy-dashboard/internal/viewstore"
)

type statusReport struct {
	Status           model.Status   `json:"status"`
	ActiveTab        model.Tab      `json:"active_tab"`
	Progress         model.Progress `json:"progress"`
	Percent          int            `json:"percent"`
	Working          []string       `json:"working"`
	Unique           []string       `json:"unique"`
	ExportedArtifact string         `json:"exported_artifact,omitempty"`
	Server           string         `json:"server"`
	Error            string         `json:"error,omitempty"`
}

func newStatusReport(view model.ViewState, server string, fetchErr error) statusReport {
	r := statusReport{
		Status:           view.Status,
		ActiveTab:        view.ActiveTab,
		Progress:         view.Progress,
		Percent:          reconcile.Percent(view.Progress),
		Working:          nonNil(view.Results.Working),
		Unique:           nonNil(view.Results.Unique),
		ExportedArtifact: view.LastExportedArtifact,
		Server:           server,
	}
	if fetchErr != nil {
		r.Error = model.UserMessage(fetchErr)
	}
	return r
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

func newStartCmd(flags *globalFlags, streams Streams) *cobra.Command {
	var (
		file   string
		inline string
		watch  bool
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a proxy test",
		Long: `Start a proxy test with the proxies from --file, --input, or, when neither
is given, the input saved by the last session. Pass --file - to read stdin.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readInput(streams.In, file, inline)
			if err != nil {
				return err
			}
			s, err := openSession(flags, sessionOptions{
				notifier: headlessNotifier(streams),
				console:  headlessConsole(flags, streams),
			})
			if err != nil {
				return err
			}
			defer s.Close()

			ctx := cmd.Context()
			_ = s.refresh(ctx)
			if strings.TrimSpace(file) != "" || cmd.Flags().Changed("input") {
				s.engine.SetInput(text)
			}
			input, err := s.engine.PrepareStart()
			if err != nil {
				return err
			}
			ack, err := s.client.Start(ctx, input)
			s.engine.ApplyStart(ack, err)
			if err != nil {
				return err
			}
			if !watch {
				return nil
			}
			return runWatch(ctx, s, streams, asJSON)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "read proxies from a file, one per line (- for stdin)")
	cmd.Flags().StringVar(&inline, "input", "", "proxies as text, one per line")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "keep polling until the test finishes")
	cmd.Flags().BoolVar(&asJSON, "json", false, "with --watch, print one JSON status per poll")
	return cmd
}

func newStopCmd(flags *globalFlags, streams Streams) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the running proxy test",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(flags, sessionOptions{
				notifier: headlessNotifier(streams),
				console:  headlessConsole(flags, streams),
			})
			if err != nil {
				return err
			}
			defer s.Close()

			ctx := cmd.Context()
			// A fresh session is idle until it sees the running job.
			_ = s.refresh(ctx)
			if err := s.engine.PrepareStop(); err != nil {
				return err
			}
			err = s.client.Stop(ctx)
			if !s.engine.ApplyStop(err) {
				return err
			}
			// Settle the final counters.
			_ = s.refresh(ctx)
			return nil
		},
	}
}

func newStatusCmd(flags *globalFlags, streams Streams) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the job state and results",
		Long: `Fetch the job state once and print it. When the job service cannot be
reached the last saved view is printed and the command exits non-zero.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(flags, sessionOptions{
				notifier: headlessNotifier(streams),
				console:  headlessConsole(flags, streams),
			})
			if err != nil {
				return err
			}
			defer s.Close()

			fetchErr := s.refresh(cmd.Context())
			view := s.engine.View()
			if asJSON {
				if err := printJSON(streams.Out, newStatusReport(view, s.cfg.ServerURL, fetchErr)); err != nil {
					return err
				}
			} else if err := present.RenderPlain(view, streams.Out); err != nil {
				return err
			}
			if fetchErr != nil {
				return fmt.Errorf("showing last saved view: %w", fetchErr)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func newResultsCmd(flags *globalFlags, streams Streams) *cobra.Command {
	var (
		tab    string
		copyIt bool
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "results",
		Short: "Print the selected result list",
		Long: `Print the proxies of the selected result tab, one per line. --tab changes
and remembers the selection; --copy puts the unique proxies on the clipboard.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(flags, sessionOptions{
				notifier: headlessNotifier(streams),
				console:  headlessConsole(flags, streams),
			})
			if err != nil {
				return err
			}
			defer s.Close()

			fetchErr := s.refresh(cmd.Context())
			if strings.TrimSpace(tab) != "" {
				if err := s.engine.SwitchTab(tab); err != nil {
					return err
				}
			}
			if copyIt {
				text, err := s.engine.UniqueText()
				if err != nil {
					return err
				}
				if err := streams.Clipboard.WriteText(text); err != nil {
					return fmt.Errorf("copy to clipboard: %w", err)
				}
				fmt.Fprintf(streams.Err, "copied %d unique proxies\n", len(s.engine.View().Results.Unique))
			}

			view := s.engine.View()
			if asJSON {
				return printJSON(streams.Out, map[string]any{
					"active_tab": view.ActiveTab,
					"working":    nonNil(view.Results.Working),
					"unique":     nonNil(view.Results.Unique),
				})
			}
			pane := present.ActivePane(view)
			if pane.Empty() {
				fmt.Fprintln(streams.Err, pane.Placeholder)
			}
			for _, line := range pane.Lines {
				fmt.Fprintln(streams.Out, line)
			}
			if fetchErr != nil {
				fmt.Fprintf(streams.Err, "warning: job service unreachable, showing last saved view\n")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&tab, "tab", "", "select the result tab (working or unique)")
	cmd.Flags().BoolVar(&copyIt, "copy", false, "copy the unique proxies to the clipboard")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print both lists as JSON")
	return cmd
}

func newExportCmd(flags *globalFlags, streams Streams) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the unique proxies to a file on the job service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(flags, sessionOptions{
				notifier: headlessNotifier(streams),
				console:  headlessConsole(flags, streams),
			})
			if err != nil {
				return err
			}
			defer s.Close()

			ctx := cmd.Context()
			if err := s.refresh(ctx); err != nil {
				return err
			}
			if s.engine.View().Status == model.StatusRunning {
				return model.NewError(model.KindValidation, "export", "wait for the test to finish before exporting", nil)
			}
			if err := s.engine.PrepareExport(); err != nil {
				return err
			}
			art, err := s.client.ExportArtifact(ctx)
			s.engine.ApplyExport(art, err)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(streams.Out, art)
			}
			fmt.Fprintln(streams.Out, art.Name)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the artifact as JSON")
	return cmd
}

func newSyncCmd(flags *globalFlags, streams Streams) *cobra.Command {
	var filename string
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Sync the last exported artifact",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(flags, sessionOptions{
				notifier: headlessNotifier(streams),
				console:  headlessConsole(flags, streams),
			})
			if err != nil {
				return err
			}
			defer s.Close()

			want := strings.TrimSpace(filename)
			if got := s.engine.View().LastExportedArtifact; want != "" && want != got {
				return model.NewError(model.KindNoArtifact, "sync",
					fmt.Sprintf("%s is not the last exported artifact", want), nil)
			}
			name, err := s.engine.PrepareSync()
			if err != nil {
				return err
			}
			ack, err := s.client.SyncArtifact(cmd.Context(), name)
			s.engine.ApplySync(ack, err)
			return err
		},
	}
	cmd.Flags().StringVar(&filename, "filename", "", "expected artifact name; must match the last export")
	return cmd
}

func newResetCmd(flags *globalFlags, streams Streams) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Forget the saved input, tab, and export",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			store := viewstore.New(cfg.StateDir, cfg.Namespace)
			if err := store.Clear(); err != nil {
				return err
			}
			fmt.Fprintf(streams.Err, "cleared %s\n", store.Path())
			return nil
		},
	}
}

// configSummary is printed by the dashboard command when no terminal is
// attached.
func configSummary(cfg config.Config) string {
	return fmt.Sprintf("server %s, state %s", cfg.ServerURL, cfg.StateDir)
}
