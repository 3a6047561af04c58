package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// validateCmd validates a config file without contacting the device.
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a config file",
	Long: `Validate a telempoll configuration file without starting the task.

This command parses the YAML, expands environment variables, and runs the
full read task validation against the configured device and channels. No
requests are sent to the device. It's useful for CI/CD pipelines or
pre-deployment checks.

Exit codes:
  0 - Config is valid
  1 - Config is invalid (error details printed to stderr)

Example:
  telempoll validate -c config.yaml
  telempoll validate -c config.yaml --env-file .env`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringP("config", "c", "", "path to config file (required)")
	validateCmd.Flags().String("env-file", "", "load environment variables from this file first")
	_ = validateCmd.MarkFlagRequired("config")
}

func runValidate(cmd *cobra.Command, args []string) error {
	configFile, _ := cmd.Flags().GetString("config")
	envFile, _ := cmd.Flags().GetString("env-file")
	if err := loadEnvFile(envFile); err != nil {
		return err
	}

	cfg, err := loadConfig(cmd.Context(), configFile)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	fields := 0
	for _, ep := range cfg.Task.Endpoints {
		for _, f := range ep.Fields {
			if f.IsEnabled() {
				fields++
			}
		}
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Config is valid!\n")
	_, _ = fmt.Fprintf(out, "  Task:      %s\n", cfg.Name)
	_, _ = fmt.Fprintf(out, "  Device:    %s (%s)\n", cfg.Device.Key, cfg.Device.Connection.BaseURL)
	_, _ = fmt.Fprintf(out, "  Rate:      %g Hz\n", cfg.Task.Rate)
	_, _ = fmt.Fprintf(out, "  Endpoints: %d (%d fields)\n", len(cfg.Task.Endpoints), fields)
	_, _ = fmt.Fprintf(out, "  Sinks:     %d\n", len(cfg.Sinks))
	if port := *cfg.Server.Port; port > 0 {
		_, _ = fmt.Fprintf(out, "  Port:      %d\n", port)
	} else {
		_, _ = fmt.Fprintf(out, "  Port:      disabled\n")
	}

	return nil
}
