package cli

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"proxy-dashboard/internal/config"
	"proxy-dashboard/internal/engine"
	"proxy-dashboard/internal/jobclient"
	"proxy-dashboard/internal/logging"
	"proxy-dashboard/internal/notify"
	"proxy-dashboard/internal/poll"
	"proxy-dashboard/internal/viewstore"
)

// session is one configured engine plus the collaborators it was built from.
type session struct {
	cfg    config.Config
	log    zerolog.Logger
	closer io.Closer
	client *jobclient.Client
	store  *viewstore.Store
	engine *engine.Engine
}

type sessionOptions struct {
	notifier notify.Notifier
	// console receives human-readable logs. Nil sends them to the log file.
	console  io.Writer
	interval time.Duration
}

func loadConfig(flags *globalFlags) (config.Config, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return cfg, err
	}
	if v := strings.TrimSpace(flags.server); v != "" {
		if err := config.CheckServerURL("--server", v); err != nil {
			return cfg, err
		}
		cfg.ServerURL = v
	}
	if v := strings.TrimSpace(flags.stateDir); v != "" {
		cfg.StateDir = v
		// Keep the log beside the state unless the file names one.
		cfg.LogFile = ""
	}
	if v := strings.TrimSpace(flags.logLevel); v != "" {
		cfg.LogLevel = v
	}
	return config.Normalize(cfg), nil
}

func openSession(flags *globalFlags, opts sessionOptions) (*session, error) {
	cfg, err := loadConfig(flags)
	if err != nil {
		return nil, err
	}

	if opts.interval > 0 {
		cfg.PollInterval = opts.interval
	}
	logOpts := logging.Options{Level: cfg.LogLevel, Console: opts.console}
	if opts.console == nil {
		logOpts.File = cfg.LogFile
	}
	log, closer, err := logging.New(logOpts)
	if err != nil {
		return nil, err
	}

	client, err := jobclient.New(jobclient.Options{
		BaseURL:     cfg.ServerURL,
		RetryMax:    cfg.RetryMax,
		RetryLogger: logging.RetryLogger{Logger: log},
	})
	if err != nil {
		_ = closer.Close()
		return nil, err
	}

	store := viewstore.New(cfg.StateDir, cfg.Namespace)
	eng := engine.New(engine.Deps{
		Loop:     poll.New(cfg.PollInterval),
		Store:    store,
		Notifier: opts.notifier,
		Logger:   &log,
	})
	eng.Restore()

	log.Debug().
		Str("server", cfg.ServerURL).
		Str("state", store.Path()).
		Dur("interval", cfg.PollInterval).
		Msg("session opened")

	return &session{
		cfg:    cfg,
		log:    log,
		closer: closer,
		client: client,
		store:  store,
		engine: eng,
	}, nil
}

func (s *session) Close() error {
	return s.closer.Close()
}

// refresh applies one snapshot outside the poll loop. A fetch failure leaves
// the restored view in place and is returned for commands that need live
// state.
func (s *session) refresh(ctx context.Context) error {
	snap, err := s.client.FetchSnapshot(ctx)
	s.engine.ApplySnapshot(snap, err, nil)
	return err
}

// headlessConsole is where a headless command logs: stderr when the operator
// asked for a level on the command line, the log file otherwise.
func headlessConsole(flags *globalFlags, streams Streams) io.Writer {
	if strings.TrimSpace(flags.logLevel) != "" {
		return streams.Err
	}
	return nil
}

// headlessNotifier prints success and info messages. Warnings and errors
// reach the operator as the command's returned error instead.
func headlessNotifier(streams Streams) notify.Notifier {
	return notify.Only(
		&notify.Writer{Out: streams.Err, Color: streams.IsTerm(streams.Err)},
		notify.LevelSuccess, notify.LevelInfo,
	)
}
