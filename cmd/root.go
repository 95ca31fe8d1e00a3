package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "spotwire",
	Short: "SpotWire is a realtime client for the Spotify dealer protocol.",
	Run: func(cmd *cobra.Command, args []string) {
		// Default to listening, the main mode of operation.
		runListen(cmd, args)
	},
}

// Execute executes the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
