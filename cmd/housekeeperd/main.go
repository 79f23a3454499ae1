// Command housekeeperd runs the data-lake housekeeping daemons.
//
//	housekeeperd scheduler   consume lifecycle events and schedule cleanups
//	housekeeperd cleanup     run cleanup cycles and the retention sweep
//	housekeeperd records     inspect and disable housekeeping records
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dray-io/housekeeper/internal/config"
	"github.com/dray-io/housekeeper/internal/logging"
)

var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

// shutdownTimeout bounds graceful shutdown after a signal.
const shutdownTimeout = 30 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "housekeeperd",
		Short:         "Data-lake housekeeping: schedules and performs deletion of expired and unreferenced data",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to configuration file (default: $HOUSEKEEPER_CONFIG or ./housekeeper.yaml)")

	cmd.AddCommand(
		newSchedulerCmd(opts),
		newCleanupCmd(opts),
		newRecordsCmd(opts),
		newVersionCmd(),
	)
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "housekeeperd version %s (built %s, commit %s)\n", version, buildTime, gitCommit)
		},
	}
}

func (o *rootOptions) load() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if o.configPath != "" {
		cfg, err = config.LoadFromPath(o.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) *logging.Logger {
	return logging.Configure(cfg.Observability.LogLevel, cfg.Observability.LogFormat)
}

// daemon is a long-running component started by a subcommand.
type daemon interface {
	Start(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// runDaemon starts d, waits for SIGINT/SIGTERM or a start failure, then
// shuts it down within shutdownTimeout.
func runDaemon(ctx context.Context, name string, d daemon, logger *logging.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- d.Start(ctx)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case runErr = <-errCh:
		if runErr != nil {
			logger.Errorf(name+" error", map[string]any{"error": runErr.Error()})
		}
	}

	logger.Info("initiating graceful shutdown")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := d.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("shutdown error", map[string]any{"error": err.Error()})
		if runErr == nil {
			runErr = err
		}
	}

	logger.Info(name + " shutdown complete")
	return runErr
}
