package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/roach88/tether/internal/reliable"
	"github.com/roach88/tether/internal/telemetry"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	MetricsAddr string
	Interval    time.Duration

	// Writer overrides the HTTP writer (for testing).
	Writer reliable.Writer

	// Reconnects overrides the SIGUSR1 connectivity signal (for testing).
	Reconnects <-chan struct{}
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return newRunCommand(&RunOptions{RootOptions: rootOpts})
}

func newRunCommand(opts *RunOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the background outbox drainer",
		Long: `Drain the outbox at startup, then again on every connectivity signal and,
if an interval is set, periodically.

SIGUSR1 tells the drainer that connectivity has been restored. SIGINT and
SIGTERM stop it after in-flight drains finish.

Example:
  tether run --config tether.yaml --interval 1m --metrics-addr :9090`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDrainer(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (overrides config)")
	cmd.Flags().DurationVar(&opts.Interval, "interval", 0, "periodic drain interval (overrides config; 0 = signal-driven only)")

	return cmd
}

func runDrainer(cmd *cobra.Command, opts *RunOptions) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := telemetry.NewPrometheus(reg)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to register metrics", err)
	}

	a, err := openApp(cmd, opts.RootOptions, metrics)
	if err != nil {
		return err
	}
	defer a.Close()

	if opts.Writer != nil {
		a.drainer.RegisterFallback(opts.Writer)
	} else if _, err := a.remoteWriter(); err != nil {
		return err
	}

	interval := a.cfg.Drain.Interval.Std()
	if cmd.Flags().Changed("interval") {
		interval = opts.Interval
	}
	metricsAddr := a.cfg.Metrics.Addr
	if opts.MetricsAddr != "" {
		metricsAddr = opts.MetricsAddr
	}

	// Use command's context if available (for testing), otherwise create one
	ctx, cancel := context.WithCancel(commandContext(cmd))
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	reconnects := opts.Reconnects
	if reconnects == nil {
		usr1 := make(chan os.Signal, 1)
		signal.Notify(usr1, syscall.SIGUSR1)
		defer signal.Stop(usr1)
		ch := make(chan struct{}, 1)
		go forwardSignals(ctx, usr1, ch)
		reconnects = ch
	}

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	var srv *http.Server
	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		srv = &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			slog.Info("metrics listening", "addr", metricsAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", "error", err)
			}
		}()
	}

	if _, err := a.drainer.Drain(ctx); err != nil {
		slog.Error("startup drain failed", "error", err)
	}

	slog.Info("drainer started", "db", a.cfg.Database, "interval", interval)
	fmt.Fprintln(cmd.OutOrStdout(), "Drainer started. Send SIGUSR1 on reconnect, Ctrl-C to stop.")

	err = a.drainer.Run(ctx, reconnects, interval)

	if srv != nil {
		shutdownCtx, done := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer done()
		if serr := srv.Shutdown(shutdownCtx); serr != nil {
			slog.Error("metrics server shutdown", "error", serr)
		}
	}

	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return WrapExitError(ExitFailure, "drainer error", err)
	}
	slog.Info("drainer stopped gracefully")
	return nil
}

// forwardSignals turns OS signals into coalesced reconnect notifications.
func forwardSignals(ctx context.Context, in <-chan os.Signal, out chan<- struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-in:
			select {
			case out <- struct{}{}:
			default:
			}
		}
	}
}
