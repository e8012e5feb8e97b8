package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "ncogctl",
	Short: "ncog session and authorization server",
	Long:  `ncogctl manages and runs the ncog WebSocket session and authorization server.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func main() {
	Execute()
}
