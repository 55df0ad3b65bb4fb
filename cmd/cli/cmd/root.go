// Package cmd implements the magister CLI (component J): a thin client
// over the control-plane API, plus a serve subcommand that runs the
// process in the foreground and a config subcommand for pre-flight
// validation.
package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	serverURL    string
	outputFormat string
)

// rootCmd represents the base command.
var rootCmd = &cobra.Command{
	Use:   "magister",
	Short: "Magister - rent and reconcile a GPU compute fleet",
	Long: `Magister rents bare-metal GPU compute instances from a marketplace
and keeps the live fleet reconciled against a target size.

This CLI can run the service in the foreground, validate configuration,
and inspect or manage the live instance table through the control-plane
API.`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", getEnvOrDefault("MAGISTER_URL", "http://localhost:8555"), "Magister control-plane URL")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "Output format (table, json)")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
