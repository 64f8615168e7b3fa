package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/faithflow/mailroom/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration commands",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	RunE:  runConfigValidate,
}

func init() {
	configValidateCmd.Flags().StringVarP(&configFile, "config", "c", "/etc/mailroom/config.yaml", "Path to configuration file")
	configCmd.AddCommand(configValidateCmd)
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}

	fmt.Println("Configuration is valid")
	fmt.Printf("  Listen address: %s\n", cfg.Server.ListenAddr)
	fmt.Printf("  Database path: %s\n", cfg.Database.Path)
	fmt.Printf("  Queue path: %s\n", cfg.Queue.Path)
	fmt.Printf("  Workers: %d\n", cfg.Worker.Workers)
	fmt.Printf("  Mailer: %s (from %s)\n", cfg.Mailer.BaseURL, cfg.Mailer.FromEmail)
	fmt.Printf("  Metrics: %v\n", cfg.Metrics.Enabled)
	return nil
}
