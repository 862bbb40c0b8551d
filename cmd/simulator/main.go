package main

import (
	"log"

	"github.com/spf13/cobra"

	"github.com/relabs-tech/cycle_tracker/internal/app"
	"github.com/relabs-tech/cycle_tracker/internal/cli"
)

var count int

var rootCmd = &cobra.Command{
	Use:   "simulator",
	Short: "Send a simulated crank orbit as position packets",
	Long: `Simulator walks the MOCK_* orbit and sends one position packet per tick
to SIMULATOR_SEND_ADDR, where a tracker with a udp source receives it.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := cli.Setup(cmd, false)
		defer stop()

		if err := app.RunSimulator(ctx, count); err != nil {
			log.Fatalf("fatal: %v", err)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().IntVarP(&count, "count", "n", 0, "samples to send; 0 runs until interrupted")
}

func main() {
	cli.Execute(rootCmd)
}
