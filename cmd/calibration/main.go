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
	"github.com/relabs-tech/cycle_tracker/internal/config"
)

var (
	trackerName string
	save        bool
)

var rootCmd = &cobra.Command{
	Use:   "calibration",
	Short: "Fit the circle of one tracker and report its quality",
	Long: `Calibration collects CALIBRATION_SAMPLES positions from one tracker,
fits the circle, prints center, normal, radius and residuals, and with
--save stores the fit so the console can load it later.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := cli.Setup(cmd, false)
		defer stop()

		if err := app.RunCalibrate(ctx, trackerName, save, os.Stdout); err != nil {
			log.Fatalf("fatal: %v", err)
		}
	},
}

func init() {
	pFlags := rootCmd.PersistentFlags()
	pFlags.StringVarP(&trackerName, "tracker", "t", config.TrackerVertical, "tracker to calibrate (vertical or horizontal)")
	pFlags.BoolVar(&save, "save", false, "store the fit in STORE_PATH")
}

func main() {
	cli.Execute(rootCmd)
}
