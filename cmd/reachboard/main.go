// Package main is the entry point for the reachboard CLI.
//
// Reachboard can be embedded as a library or run as a standalone binary
// with YAML configuration. This CLI provides the standalone binary.
//
// Usage:
//
//	reachboard serve -c config.yaml    # Start monitoring and the dashboard
//	reachboard validate -c config.yaml # Validate configuration
//	reachboard status                  # Print the current status table
//	reachboard version                 # Show version info
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information, set at build time via ldflags.
// Example: go build -ldflags "-X main.version=1.0.0"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// rootCmd only displays help; functionality lives in subcommands.
var rootCmd = &cobra.Command{
	Use:   "reachboard",
	Short: "A periodic network reachability dashboard",
	Long: `Reachboard probes a fixed set of network targets on a fixed cadence,
keeps a short history per target, persists every observation and serves
a web dashboard with the latest snapshot.

Quick start:
  1. Create a config file (reachboard.yaml)
  2. Run: reachboard serve -c reachboard.yaml
  3. Open http://localhost:8050 in your browser

Example config:
  port: 8050
  probe_interval: 5s
  store: mongodb://localhost:27017/network_monitoring
  targets:
    - name: Google
      address: google.com
    - name: Localhost
      address: 127.0.0.1`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		// cobra already printed the error
		os.Exit(1)
	}
}

func main() {
	Execute()
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Print the version, commit hash, and build date of this reachboard binary.`,
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "reachboard %s\n", version)
		fmt.Fprintf(out, "  commit: %s\n", commit)
		fmt.Fprintf(out, "  built:  %s\n", date)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
