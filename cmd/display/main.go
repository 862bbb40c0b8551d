package main

import (
	"log"

	"github.com/spf13/cobra"

	"github.com/relabs-tech/cycle_tracker/internal/app"
	"github.com/relabs-tech/cycle_tracker/internal/cli"
)

var rootCmd = &cobra.Command{
	Use:   "display",
	Short: "Show angle, velocity and revolutions on an SSD1306 OLED",
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := cli.Setup(cmd, false)
		defer stop()

		if err := app.RunDisplay(ctx); err != nil {
			log.Fatalf("fatal: %v", err)
		}
	},
}

func main() {
	cli.Execute(rootCmd)
}
