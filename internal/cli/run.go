package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/roach88/elara/internal/config"
	"github.com/roach88/elara/internal/metrics"
	"github.com/roach88/elara/internal/store"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	AdminAddr string
	NoAdmin   bool
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <config.yaml>",
		Short: "Run a pass-through instance",
		Long: `Run a pass-through engine instance described by a YAML configuration.

Each input message becomes a command in the command log and is routed to one
event with the same type and payload. The instance replays the event log on
start, so it can be stopped and restarted at any point.

An admin HTTP server exposes /metrics, /healthz, /logs, /positions/{name},
and POST /inputs/{source} for ring inputs.

Example:
  elara run ./orders.yaml
  elara run ./orders.yaml --admin-addr 127.0.0.1:9191 --verbose`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInstance(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.AdminAddr, "admin-addr", "", "admin server address (overrides config)")
	cmd.Flags().BoolVar(&opts.NoAdmin, "no-admin", false, "do not start the admin server")

	return cmd
}

func runInstance(opts *RunOptions, path string, cmd *cobra.Command) error {
	logger := newLogger(cmd.ErrOrStderr(), opts.Verbose)

	cfg, err := config.Load(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}

	logger.Info("opening database", "path", cfg.Database)
	st, err := store.Open(cfg.Database, store.WithLogger(logger))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			logger.Error("error closing database", "error", closeErr)
		}
	}()
	logger.Info("database ready", "log_id", st.ID())

	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	m, err := metrics.New(reg, cfg.Name)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to register metrics", err)
	}

	inst, err := newInstance(ctx, cfg, st, logger, m)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to build instance", err)
	}
	defer inst.close()

	if !opts.NoAdmin {
		addr := cfg.Admin.Addr
		if opts.AdminAddr != "" {
			addr = opts.AdminAddr
		}
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to start admin server", err)
		}
		srv := &http.Server{Handler: newAdminHandler(st, reg, inst), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("admin server failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			_ = srv.Shutdown(shutdownCtx)
		}()
		logger.Info("admin server listening", "addr", ln.Addr().String())
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	fmt.Fprintf(cmd.OutOrStdout(), "Instance %s started. Press Ctrl-C to stop.\n", cfg.Name)

	if err := inst.runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return WrapExitError(ExitFailure, "engine error", err)
	}

	logger.Info("instance stopped gracefully",
		"commands", inst.agent.Commands.Position(),
		"events", inst.agent.Events.Position(),
	)
	return nil
}
