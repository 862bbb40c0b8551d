// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"log"

	"github.com/spf13/cobra"

	"github.com/relabs-tech/cycle_tracker/internal/app"
	"github.com/relabs-tech/cycle_tracker/internal/cli"
)

var rootCmd = &cobra.Command{
	Use:   "web",
	Short: "Serve the packet stream over HTTP and websocket",
	Long: `Web receives the tracker's packets and serves /api/phase, /api/latest
and a /ws websocket that pushes every packet.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := cli.Setup(cmd, false)
		defer stop()

		if err := app.RunWeb(ctx); err != nil {
			log.Fatalf("fatal: %v", err)
		}
	},
}

func main() {
	cli.Execute(rootCmd)
}
