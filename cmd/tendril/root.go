package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/aretw0/tendril/internal/cli"
	"github.com/aretw0/tendril/internal/config"
	"github.com/spf13/cobra"
)

var (
	cfg    *config.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "tendril",
	Short: "Tendril runs durable, resumable workflows",
	Long: `Tendril compiles YAML flows and runs them as processes that can suspend
on forms, timers and external events, survive restarts, and resume later.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: loadConfig,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "Path to a tendril.yaml configuration file")
	flags.StringSliceP("flows", "f", []string{"."}, "Flow files or directories")
	flags.String("store", config.StoreFile, "State store: memory, file, redis or sqlite")
	flags.String("dir", config.DefaultFileDir, "Directory of the file store")
	flags.String("log-level", config.DefaultLogLevel, "Log level: debug, info, warn or error")
	flags.String("log-format", "console", "Log format: text, json or console")
}

// loadConfig builds the configuration from defaults, the config file, the
// environment and finally explicit flags.
func loadConfig(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	c := config.NewDefault()
	c.Store = config.StoreFile
	c.LogFormat = "console"

	path, _ := flags.GetString("config")
	if err := c.Overlay(path); err != nil {
		return err
	}

	if flags.Changed("flows") || len(c.FlowPaths) == 0 {
		c.FlowPaths, _ = flags.GetStringSlice("flows")
	}
	if flags.Changed("store") {
		c.Store, _ = flags.GetString("store")
	}
	if flags.Changed("dir") {
		c.FileDir, _ = flags.GetString("dir")
	}
	if flags.Changed("log-level") {
		c.LogLevel, _ = flags.GetString("log-level")
	}
	if flags.Changed("log-format") {
		c.LogFormat, _ = flags.GetString("log-format")
	}
	if err := c.Validate(); err != nil {
		return err
	}

	l, err := cli.NewLogger(c)
	if err != nil {
		return err
	}
	cfg, logger = c, l
	return nil
}

// openHost builds the engine for commands that run processes.
func openHost(cmd *cobra.Command) (*cli.Host, error) {
	h, err := cli.BuildHost(cmd.Context(), cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("error initializing tendril: %w", err)
	}
	return h, nil
}
