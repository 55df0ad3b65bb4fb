package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/unattended-backpack/magister/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect Magister configuration",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Load configuration from the environment and validate it",
	RunE:  runConfigValidate,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configValidateCmd)
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration invalid: %w", err)
	}

	fmt.Println("configuration valid")
	return nil
}
