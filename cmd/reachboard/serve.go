package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jpalmerr/reachboard"
	"github.com/jpalmerr/reachboard/config"
	"github.com/jpalmerr/reachboard/internal/persist"
)

const (
	shutdownTimeout = 10 * time.Second

	envPrefix = "REACHBOARD"
)

// overrideKeys are the settings that flags and REACHBOARD_* environment
// variables may override on top of the config file.
var overrideKeys = []string{"port", "store", "interval", "log-level"}

// newLogger creates a JSON logger for CLI use.
func newLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

func parseLogLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return level, nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start monitoring and the dashboard server",
	Long: `Start probing the configured targets and serve the dashboard.

The server will:
  - Load configuration from the specified YAML file
  - Apply overrides from flags and REACHBOARD_* environment variables
  - Probe every target each interval and persist every observation
  - Serve the dashboard UI on the configured port

Flags take precedence over environment variables, which take precedence
over the config file. For example REACHBOARD_PORT=9000 or
REACHBOARD_LOG_LEVEL=debug.

The server runs until interrupted (Ctrl+C) or receives SIGTERM.

Example:
  reachboard serve -c reachboard.yaml
  reachboard serve -c reachboard.yaml --port 9000 --interval 10s`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringP("config", "c", "", "path to config file (required)")
	_ = serveCmd.MarkFlagRequired("config")
	addOverrideFlags(serveCmd)
}

func addOverrideFlags(cmd *cobra.Command) {
	cmd.Flags().Int("port", 0, "override the HTTP port")
	cmd.Flags().String("store", "", "override the store URL (memory://, mongodb://, postgres://)")
	cmd.Flags().Duration("interval", 0, "override the probe interval")
	cmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
}

// newOverrideViper binds the override flags and REACHBOARD_* environment
// variables into a fresh viper instance.
func newOverrideViper(cmd *cobra.Command) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	for _, key := range overrideKeys {
		if err := v.BindPFlag(key, cmd.Flags().Lookup(key)); err != nil {
			return nil, fmt.Errorf("failed to bind flag %s: %w", key, err)
		}
	}
	return v, nil
}

// applyOverrides copies explicitly set overrides into cfg and revalidates.
func applyOverrides(cfg *config.Config, v *viper.Viper) error {
	if v.IsSet("port") {
		cfg.Port = v.GetInt("port")
	}
	if v.IsSet("store") {
		cfg.Store = v.GetString("store")
	}
	if v.IsSet("interval") {
		cfg.ProbeInterval = config.Duration(v.GetDuration("interval"))
	}
	return cfg.Validate()
}

func runServe(cmd *cobra.Command, args []string) error {
	v, err := newOverrideViper(cmd)
	if err != nil {
		return err
	}

	level, err := parseLogLevel(v.GetString("log-level"))
	if err != nil {
		return err
	}
	logger := newLogger(level)

	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := applyOverrides(cfg, v); err != nil {
		return fmt.Errorf("invalid override: %w", err)
	}

	logger.Info("config loaded",
		"targets", len(cfg.Targets),
		"groups", len(cfg.Groups),
	)
	logger.Info("starting server",
		"port", cfg.Port,
		"probe_interval", cfg.ProbeInterval.Duration().String(),
		"store", persist.Redact(cfg.Store),
	)

	opts, err := config.BuildOptions(cfg)
	if err != nil {
		return fmt.Errorf("failed to build targets: %w", err)
	}
	opts = append(opts, reachboard.WithLogger(logger))

	rb, err := reachboard.New(opts...)
	if err != nil {
		return fmt.Errorf("failed to create reachboard: %w", err)
	}

	// cancel on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errChan := make(chan error, 1)
	go func() {
		errChan <- rb.Start(ctx)
	}()

	select {
	case err := <-errChan:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		logger.Info("shutdown complete")
		return nil

	case <-ctx.Done():
		select {
		case err := <-errChan:
			if err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			logger.Info("shutdown complete")
			return nil
		case <-time.After(shutdownTimeout):
			logger.Warn("shutdown timed out",
				"timeout", shutdownTimeout.String(),
				"action", "forcing exit",
			)
			return nil
		}
	}
}
