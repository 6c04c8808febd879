package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "capture-service",
	Short: "Session capture orchestrator: bus demux, camera recording, export",
	Long:  `HTTP API + MQTT capture orchestrator. Commands: api, migrate, seed.`,
	RunE:  runAPI, // default: run API (same as "capture-service api")
}

func init() {
	rootCmd.AddCommand(apiCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(seedCmd)
}

// Execute runs the root command and returns the error (for main to log.Fatal).
func Execute() error {
	return rootCmd.Execute()
}
