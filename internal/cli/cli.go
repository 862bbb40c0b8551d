// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package cli holds what every command binary shares: the --config flag
// and process setup.
package cli

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/relabs-tech/cycle_tracker/internal/config"
)

var configPath string

// ConfigFlags is added to the persistent flags of every command.
var ConfigFlags = pflag.NewFlagSet("config", pflag.ContinueOnError)

func init() {
	ConfigFlags.StringVarP(&configPath, "config", "c", "",
		`KEY=VALUE configuration file.
Built-in defaults are used when empty; see tracker_config.txt.`)
}

// ConfigPath returns the value of --config.
func ConfigPath() string { return configPath }

// Setup loads the configuration and returns a context cancelled on SIGTERM
// or, unless the command handles Ctrl-C itself, on SIGINT. Setup failures
// are fatal.
func Setup(cmd *cobra.Command, handlesInterrupt bool) (context.Context, context.CancelFunc) {
	log.Printf("starting %s", cmd.CommandPath())
	if err := config.InitGlobal(configPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if configPath != "" {
		log.Printf("config loaded from %s", configPath)
	}

	signals := []os.Signal{syscall.SIGTERM}
	if !handlesInterrupt {
		signals = append(signals, os.Interrupt)
	}
	return signal.NotifyContext(context.Background(), signals...)
}

// Execute runs root and exits non-zero on error.
func Execute(root *cobra.Command) {
	root.PersistentFlags().AddFlagSet(ConfigFlags)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
