// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 plugscan Contributors

package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/plugscan/plugscan/internal/config"
	plugins "github.com/plugscan/plugscan/internal/plugin"
	"github.com/plugscan/plugscan/pkg/plugin"
)

// scanReport is what the scan command prints.
type scanReport struct {
	Origins  []plugin.Origin         `json:"origins" yaml:"origins"`
	Types    []plugin.TypeDefinition `json:"types" yaml:"types"`
	Parts    []plugin.PartDefinition `json:"parts" yaml:"parts"`
	Failures []scanFailure           `json:"failures,omitempty" yaml:"failures,omitempty"`
}

type scanFailure struct {
	Path  string `json:"path" yaml:"path"`
	Error string `json:"error" yaml:"error"`
}

// NewScanCmd creates the scan subcommand.
func NewScanCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "scan [dir...]",
		Short: "Scan plugin directories once and print what was found",
		Long: `Scan describes every plugin file below the given directories (or the
configured search directories) and prints the discovered types and parts.
It exits non-zero when any file fails to scan.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if output != "yaml" && output != "json" {
				return fmt.Errorf("output must be 'yaml' or 'json', got %q", output)
			}
			cfg, logger, err := loadConfig(cmd, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			if len(args) > 0 {
				cfg.SearchDirs = args
			}
			return runScan(cmd, plugins.NewManager(cfg.ListenerConfig(logger),
				plugins.WithLogger(logger),
				plugins.WithScannerOptions(cfg.ScannerOptions()...),
			), output)
		},
	}

	config.RegisterFlags(cmd.Flags())
	cmd.Flags().StringVarP(&output, "output", "o", "yaml", "output format (yaml or json)")

	return cmd
}

func runScan(cmd *cobra.Command, mgr *plugins.Manager, output string) error {
	if err := mgr.ScanOnce(cmd.Context()); err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}

	repo := mgr.Repository()
	report := scanReport{
		Origins: repo.KnownPluginOrigins(),
		Types:   repo.Types(),
		Parts:   repo.Parts(),
	}
	failures := mgr.Failures()
	for _, f := range failures {
		report.Failures = append(report.Failures, scanFailure{Path: f.Path, Error: f.Cause.Error()})
	}

	if err := writeReport(cmd.OutOrStdout(), report, output); err != nil {
		return err
	}
	if len(failures) > 0 {
		return fmt.Errorf("%d plugin file(s) failed to scan", len(failures))
	}
	return nil
}

func writeReport(w io.Writer, report scanReport, output string) error {
	if output == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return fmt.Errorf("failed to encode report: %w", err)
		}
		return nil
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	return nil
}
