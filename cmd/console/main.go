// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/relabs-tech/cycle_tracker/internal/app"
	"github.com/relabs-tech/cycle_tracker/internal/cli"
)

var rootCmd = &cobra.Command{
	Use:   "console",
	Short: "Calibrate and stream both trackers from an interactive prompt",
	Long: `Console opens the vertical and horizontal trackers and reads commands:
v and h calibrate a tracker, sc sends the fitted circles, stream sends phase
updates until Ctrl-C, quit exits.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := cli.Setup(cmd, true)
		defer stop()

		if err := app.RunTracker(ctx, os.Stdin, os.Stdout); err != nil {
			log.Fatalf("fatal: %v", err)
		}
	},
}

func main() {
	cli.Execute(rootCmd)
}
