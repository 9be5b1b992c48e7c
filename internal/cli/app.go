package cli

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/tether/internal/config"
	"github.com/roach88/tether/internal/mutation"
	"github.com/roach88/tether/internal/outbox"
	"github.com/roach88/tether/internal/reliable"
	"github.com/roach88/tether/internal/remote"
	"github.com/roach88/tether/internal/resilience"
	"github.com/roach88/tether/internal/retry"
	"github.com/roach88/tether/internal/rollout"
	"github.com/roach88/tether/internal/store"
	"github.com/roach88/tether/internal/telemetry"
)

// app is the object graph shared by subcommands, built from configuration.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	sink     telemetry.Sink
	store    *store.Store
	registry *mutation.Registry
	outbox   *outbox.Outbox
	flags    *rollout.Assigner
	drainer  *reliable.Drainer
	facade   *reliable.Facade
	breakers *resilience.Breakers
}

// loadConfig reads .env, the config file and the environment, then applies
// the --db override.
func loadConfig(opts *RootOptions) (*config.Config, error) {
	if err := config.LoadDotEnv(".env"); err != nil {
		return nil, err
	}
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	if opts.Database != "" {
		cfg.Database = opts.Database
	}
	return cfg, nil
}

// newLogger builds the process logger. --verbose forces debug level.
func newLogger(cfg config.LogConfig, verbose bool, w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose {
		level = slog.LevelDebug
	}
	hopts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, hopts))
	}
	return slog.New(slog.NewTextHandler(w, hopts))
}

// openApp loads configuration and opens the store. extra sinks receive
// telemetry alongside the debug log sink. Callers must Close the app.
func openApp(cmd *cobra.Command, opts *RootOptions, extra ...telemetry.Sink) (*app, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}

	logger := newLogger(cfg.Log, opts.Verbose, cmd.ErrOrStderr())
	slog.SetDefault(logger)

	registry, err := mutation.NewRegistry(cfg.Kinds()...)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid operation schema", err)
	}

	logger.Debug("opening database", "path", cfg.Database)
	st, err := store.Open(cfg.Database)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	sink := telemetry.Multi(append([]telemetry.Sink{telemetry.LogSink{Logger: logger}}, extra...))
	ob := outbox.New(st,
		outbox.WithCapacity(cfg.Outbox.Capacity),
		outbox.WithMaxAttempts(cfg.Outbox.MaxAttempts),
		outbox.WithSink(sink),
		outbox.WithLogger(logger))

	flags := rollout.New(cfg.Flags, st, rollout.WithLogger(logger))
	ropts := []reliable.Option{reliable.WithSink(sink), reliable.WithLogger(logger)}
	drainer := reliable.NewDrainer(ob, ropts...)
	retrier := retry.New(cfg.RetryOptions(), nil, sink, logger)

	return &app{
		cfg:      cfg,
		logger:   logger,
		sink:     sink,
		store:    st,
		registry: registry,
		outbox:   ob,
		flags:    flags,
		drainer:  drainer,
		facade:   reliable.NewFacade(registry, drainer, retrier, flags, ropts...),
		breakers: resilience.NewBreakers(cfg.BreakerOptions(), nil),
	}, nil
}

// Close releases the store.
func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.Error("error closing database", "error", err)
	}
}

// remoteWriter builds the HTTP writer for the configured endpoint and
// installs it as the drainer's fallback.
func (a *app) remoteWriter() (reliable.Writer, error) {
	if a.cfg.Remote.Endpoint == "" {
		return nil, NewExitError(ExitCommandError, "remote.endpoint is not configured (set it in the config file or TETHER_REMOTE_ENDPOINT)")
	}
	hw, err := remote.NewHTTPWriter(a.cfg.Remote.Endpoint,
		remote.WithToken(a.cfg.Remote.Token),
		remote.WithTimeout(a.cfg.Remote.Timeout.Std()),
		remote.WithLogger(a.logger))
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid remote endpoint", err)
	}
	a.drainer.RegisterFallback(hw.Write)
	return hw.Write, nil
}

// guard returns the resilience guard for a dependency, gated by the
// ai_resilience flag.
func (a *app) guard(dependency string) *resilience.Guard {
	return resilience.NewGuard(dependency, a.breakers.Get(dependency),
		resilience.WithEnabled(func(ctx context.Context) bool {
			return a.flags.IsEnabled(ctx, rollout.FlagAIResilience)
		}),
		resilience.WithGuardSink(a.sink),
		resilience.WithGuardLogger(a.logger))
}

func formatter(cmd *cobra.Command, opts *RootOptions) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
