package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/faithflow/mailroom/internal/app"
	"github.com/faithflow/mailroom/internal/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the delivery engine",
	RunE:  runServe,
}

var configFile string

func init() {
	serveCmd.Flags().StringVarP(&configFile, "config", "c", "/etc/mailroom/config.yaml", "Path to configuration file")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}

	a, err := app.New(cfg)
	if err != nil {
		return err
	}

	return a.Run(context.Background())
}
