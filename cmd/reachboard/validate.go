package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jpalmerr/reachboard/config"
	"github.com/jpalmerr/reachboard/internal/persist"
)

// validateCmd validates a config file without starting the server.
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a config file",
	Long: `Validate a reachboard configuration file without starting the server.

This command parses the YAML, expands environment variables, validates
all fields and builds every target, including those generated by groups.
It does not connect to the store.

Exit codes:
  0 - Config is valid
  1 - Config is invalid (error details printed to stderr)

Example:
  reachboard validate -c reachboard.yaml`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringP("config", "c", "", "path to config file (required)")
	_ = validateCmd.MarkFlagRequired("config")
}

func runValidate(cmd *cobra.Command, args []string) error {
	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	targets, err := config.BuildTargets(cfg)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	direct := len(cfg.Targets)
	grouped := len(targets) - direct

	fmt.Printf("Config is valid!\n")
	fmt.Printf("  Port:           %d\n", cfg.Port)
	fmt.Printf("  Probe interval: %s\n", cfg.ProbeInterval.Duration())
	fmt.Printf("  Probe timeout:  %s\n", cfg.ProbeTimeout.Duration())
	fmt.Printf("  Probe mode:     %s\n", cfg.ProbeMode)
	fmt.Printf("  Store:          %s\n", persist.Redact(cfg.Store))
	fmt.Printf("  Targets:        %d direct + %d from groups = %d total\n",
		direct, grouped, len(targets))

	return nil
}
