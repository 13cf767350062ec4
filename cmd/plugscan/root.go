// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 plugscan Contributors

package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/plugscan/plugscan/internal/config"
	"github.com/plugscan/plugscan/internal/logging"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the plugscan CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plugscan",
		Short: "plugscan - plugin discovery host",
		Long: `plugscan watches plugin directories, describes every plugin file in an
isolated child process and keeps a repository of the types and parts found.`,
		SilenceUsage: true,
	}

	// Global flag for config file path
	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (default: XDG_CONFIG_HOME/plugscan/config.yaml)")
	config.RegisterGlobalFlags(cmd.PersistentFlags())

	// Add subcommands
	cmd.AddCommand(NewWatchCmd())
	cmd.AddCommand(NewScanCmd())
	cmd.AddCommand(NewSchemaCmd())

	return cmd
}

// loadConfig loads the configuration for cmd and sets up logging to w.
func loadConfig(cmd *cobra.Command, w io.Writer) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}
	logger := logging.Setup(logging.Options{
		Service: "plugscan",
		Version: version,
		Format:  cfg.LogFormat,
		Level:   cfg.Level(),
	}, w)
	slog.SetDefault(logger)
	return cfg, logger, nil
}
