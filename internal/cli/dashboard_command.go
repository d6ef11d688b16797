package cli

import (
	"errors"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"proxy-dashboard/internal/dashboard"
	"proxy-dashboard/internal/notify"
)

func newDashboardCmd(flags *globalFlags, streams Streams) *cobra.Command {
	return &cobra.Command{
		Use:   "dashboard",
		Short: "Open the interactive dashboard (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDashboard(cmd, flags, streams)
		},
	}
}

func runDashboard(cmd *cobra.Command, flags *globalFlags, streams Streams) error {
	if !streams.IsTerm(streams.In) || !streams.IsTerm(streams.Out) {
		cfg, err := loadConfig(flags)
		if err != nil {
			return err
		}
		return fmt.Errorf("dashboard requires an interactive terminal (%s); use status, watch, or start instead", configSummary(cfg))
	}

	latest := &notify.Latest{}
	// The TUI owns the terminal, so logs always go to the file.
	s, err := openSession(flags, sessionOptions{notifier: latest})
	if err != nil {
		return err
	}
	defer s.Close()

	ctx := cmd.Context()
	model := dashboard.New(dashboard.Options{
		Context:   ctx,
		Engine:    s.engine,
		Client:    s.client,
		Latest:    latest,
		Clipboard: streams.Clipboard,
		ServerURL: s.cfg.ServerURL,
	})
	program := tea.NewProgram(model,
		tea.WithAltScreen(),
		tea.WithContext(ctx),
		tea.WithInput(streams.In),
		tea.WithOutput(streams.Out),
	)
	s.log.Info().Str("server", s.cfg.ServerURL).Msg("dashboard opened")
	_, err = program.Run()
	// Persist whatever the operator typed, even on interrupt.
	s.engine.Flush()
	if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("dashboard: %w", err)
	}
	return nil
}
