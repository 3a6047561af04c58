// Package main is the entry point for the telempoll CLI.
//
// telempoll can be run either as a library (SDK) or as a standalone binary
// with YAML configuration. This CLI provides the standalone binary approach.
//
// Usage:
//
//	telempoll run -c config.yaml      # Run the read task and serve its API
//	telempoll validate -c config.yaml # Validate configuration offline
//	telempoll version                 # Show version info
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information - set at build time via ldflags.
// Example: go build -ldflags "-X main.version=1.0.0"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// rootCmd is the base command when called without subcommands.
var rootCmd = &cobra.Command{
	Use:   "telempoll",
	Short: "Poll HTTP devices for telemetry",
	Long: `telempoll polls JSON HTTP endpoints at a fixed rate and turns each
response into typed channel samples.

Quick start:
  1. Create a config file (telempoll.yaml)
  2. Run: telempoll run -c telempoll.yaml
  3. Open http://localhost:8080 in your browser

Example config:
  device:
    key: station
    connection: {base_url: "http://localhost:9000"}
  channels:
    - {key: 1, name: temperature, data_type: float64}
  task:
    rate: 1
    auto_start: true
    endpoints:
      - method: GET
        path: /api/data
        fields: [{pointer: /temperature, channel: 1}]`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		// Cobra already prints the error, just exit with code 1
		os.Exit(1)
	}
}

func main() {
	Execute()
}

// versionCmd prints version information.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Print the version, commit hash, and build date of this telempoll binary.`,
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		_, _ = fmt.Fprintf(out, "telempoll %s\n", version)
		_, _ = fmt.Fprintf(out, "  commit: %s\n", commit)
		_, _ = fmt.Fprintf(out, "  built:  %s\n", date)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
