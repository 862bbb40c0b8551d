package main

import (
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/relabs-tech/cycle_tracker/internal/app"
	"github.com/relabs-tech/cycle_tracker/internal/cli"
)

var useMQTT bool

var rootCmd = &cobra.Command{
	Use:   "viewer",
	Short: "Print the packets the tracker sends",
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := cli.Setup(cmd, false)
		defer stop()

		if err := app.RunViewer(ctx, useMQTT, os.Stdout); err != nil {
			log.Fatalf("fatal: %v", err)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&useMQTT, "mqtt", false, "subscribe to MQTT_BROKER instead of listening on VIEWER_LISTEN_ADDR")
}

func main() {
	cli.Execute(rootCmd)
}
