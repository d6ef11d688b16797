package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/goccy/go-json"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"proxy-dashboard/internal/model"
	"proxy-dashboard/internal/present"
)

func newWatchCmd(flags *globalFlags, streams Streams) *cobra.Command {
	var (
		asJSON   bool
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow a running test until it finishes",
		Long: `Poll the job service until the running test finishes, showing a progress
bar on stderr, then print the final results. With --json one status object is
printed per poll instead. Returns at once when no test is running.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(flags, sessionOptions{
				notifier: headlessNotifier(streams),
				console:  headlessConsole(flags, streams),
				interval: interval,
			})
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.refresh(cmd.Context()); err != nil {
				return err
			}
			return runWatch(cmd.Context(), s, streams, asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print one JSON status per poll")
	cmd.Flags().DurationVar(&interval, "interval", 0, "poll interval (default from config)")
	return cmd
}

// runWatch drives the poll loop on the calling goroutine while the engine
// has it armed. Interrupting the watch is not an error.
func runWatch(ctx context.Context, s *session, streams Streams, asJSON bool) error {
	w := &watcher{
		out:    streams.Out,
		errOut: streams.Err,
		asJSON: asJSON,
		server: s.cfg.ServerURL,
		rate:   &present.RateTracker{},
	}
	w.report(s.engine.View())

	if s.engine.Loop().Armed() {
		err := s.engine.Loop().Run(ctx, func(ctx context.Context) bool {
			snap, ferr := s.client.FetchSnapshot(ctx)
			s.engine.ApplySnapshot(snap, ferr, nil)
			if ferr != nil {
				return false
			}
			w.report(s.engine.View())
			return !snap.IsRunning
		})
		w.finish()
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
	}
	if asJSON {
		return nil
	}
	return present.RenderPlain(s.engine.View(), streams.Out)
}

type watcher struct {
	out    io.Writer
	errOut io.Writer
	asJSON bool
	server string
	bar    *progressbar.ProgressBar
	rate   *present.RateTracker
}

func (w *watcher) report(view model.ViewState) {
	if w.asJSON {
		data, err := json.Marshal(newStatusReport(view, w.server, nil))
		if err == nil {
			fmt.Fprintln(w.out, string(data))
		}
		return
	}
	if view.Status != model.StatusRunning || view.Progress.Total == 0 {
		return
	}

	p := view.Progress
	w.rate.Observe(p, time.Now())
	if w.bar == nil {
		w.bar = newWatchBar(w.errOut, int64(p.Total))
	} else if w.bar.GetMax64() != int64(p.Total) {
		w.bar.ChangeMax64(int64(p.Total))
	}
	w.bar.Describe(fmt.Sprintf("working %d | unique %d | eta %s",
		p.WorkingCount, p.UniqueIPCount, w.rate.ETA(p)))
	current := p.Current
	if current > p.Total {
		current = p.Total
	}
	_ = w.bar.Set64(int64(current))
}

func (w *watcher) finish() {
	if w.bar != nil && !w.bar.IsFinished() {
		_ = w.bar.Finish()
	}
}

func newWatchBar(out io.Writer, total int64) *progressbar.ProgressBar {
	return progressbar.NewOptions64(total,
		progressbar.OptionSetDescription("testing"),
		progressbar.OptionSetWriter(out),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(out, "\n")
		}),
		progressbar.OptionSetRenderBlankState(true),
	)
}
