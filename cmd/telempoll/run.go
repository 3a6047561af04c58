package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/jpalmerr/telempoll"
	"github.com/jpalmerr/telempoll/config"
)

const (
	shutdownTimeout = 10 * time.Second
)

// newLogger creates a JSON logger for CLI use.
func newLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

// runCmd runs the configured read task.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the read task",
	Long: `Run the read task described by a config file.

The command will:
  - Load configuration from the specified YAML file
  - Validate the task against the configured device and channels
  - Serve the HTTP API and dashboard on the configured port
  - Poll the device if the task has auto_start set, or when
    POST /api/task/start is called

With --watch, changes to the config file are picked up without a restart.
A changed file that fails validation is logged and ignored; the running
task keeps its old configuration.

The command runs until interrupted (Ctrl+C), receives SIGTERM, or the task
exhausts its retries.

Example:
  telempoll run -c config.yaml
  telempoll run -c config.yaml --env-file .env --watch`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringP("config", "c", "", "path to config file (required)")
	runCmd.Flags().String("env-file", "", "load environment variables from this file first")
	runCmd.Flags().Bool("watch", false, "reload when the config file changes")
	_ = runCmd.MarkFlagRequired("config")
}

func runRun(cmd *cobra.Command, args []string) error {
	logger := newLogger()

	configFile, _ := cmd.Flags().GetString("config")
	envFile, _ := cmd.Flags().GetString("env-file")
	watch, _ := cmd.Flags().GetBool("watch")

	if err := loadEnvFile(envFile); err != nil {
		return err
	}
	defer telempoll.CloseIdleConnections()

	// set up context with signal handling - cancel on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(ctx, configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if !watch {
		return serve(ctx, cfg, logger)
	}
	return watchAndServe(ctx, configFile, cfg, logger)
}

// loadEnvFile loads path into the environment. Variables that are already
// set win. An empty path is a no-op.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file: %w", err)
	}
	return nil
}

// loadConfig parses the config file and validates its read task offline.
func loadConfig(ctx context.Context, path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := config.Validate(ctx, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// serve runs one poller until ctx is cancelled or the task gives up.
func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	opts, sinks, err := config.BuildOptions(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to build options: %w", err)
	}

	p, err := telempoll.New(opts...)
	if err != nil {
		for _, s := range sinks {
			_ = s.Close()
		}
		return fmt.Errorf("failed to create poller: %w", err)
	}

	logger.Info("starting telempoll",
		"task", cfg.Name,
		"device", cfg.Device.Key,
		"rate_hz", cfg.Task.Rate,
		"endpoints", len(cfg.Task.Endpoints),
		"sinks", len(sinks),
		"port", *cfg.Server.Port,
	)

	// start poller - blocks until context cancelled
	errChan := make(chan error, 1)
	go func() {
		errChan <- p.Start(ctx)
	}()

	select {
	case err := <-errChan:
		return finish(err, logger)

	case <-ctx.Done():
		// wait for graceful shutdown with timeout
		select {
		case err := <-errChan:
			return finish(err, logger)
		case <-time.After(shutdownTimeout):
			logger.Warn("shutdown timed out",
				"timeout", shutdownTimeout.String(),
				"action", "forcing exit",
			)
			return nil
		}
	}
}

func finish(err error, logger *slog.Logger) error {
	if err != nil {
		if errors.Is(err, telempoll.ErrRetriesExhausted) {
			return fmt.Errorf("task stopped: %w", err)
		}
		return fmt.Errorf("poller error: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}
