// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

// Command tickq sends batches of analytics requests to a tick-calc service
// and prints the merged results.
package main

import (
	"fmt"
	"os"

	"github.com/Query-farm/tickq/internal/config"
	"github.com/Query-farm/tickq/internal/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	v          = viper.New()
	configPath string
	cfg        *config.Config
	log        = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:           "tickq",
	Short:         "Batch client for the tick-calc analytics service",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if cfg, err = config.LoadViper(v, configPath); err != nil {
			return err
		}
		if log, err = logger.New(cfg.Log.Level, cfg.Log.Format, cfg.Log.Output); err != nil {
			return err
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = log.Sync()
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "config file (default ./tickq.yaml)")
	flags.String("service", "", "service address, host:port or unix:/path")
	flags.Bool("embedded", false, "answer requests with the in-process sample service")
	flags.String("catalog", "", "describe document to load functions from")
	flags.String("log-level", "", "log level: debug, info, warn or error")
	flags.String("log-format", "", "log format: text or json")

	v.BindPFlag("service.address", flags.Lookup("service"))
	v.BindPFlag("service.embedded", flags.Lookup("embedded"))
	v.BindPFlag("catalog.path", flags.Lookup("catalog"))
	v.BindPFlag("log.level", flags.Lookup("log-level"))
	v.BindPFlag("log.format", flags.Lookup("log-format"))

	rootCmd.AddCommand(functionsCmd, execCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "tickq: %v\n", err)
		os.Exit(1)
	}
}
