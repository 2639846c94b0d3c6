package main

import (
	"fmt"
	"os"

	"github.com/artpar/mockengine/bootstrap"
	"github.com/artpar/mockengine/config"
	"github.com/spf13/cobra"
)

var (
	hotReload bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the mock server",
	Long: `Start the mock dispatch engine.

The server will:
  - Load configuration from mockengine.yaml (or --config)
  - Load mock definitions from the configured repository
  - Serve /rest/{service}/{version}/** with canned responses
  - Expose /healthz and, when enabled, /metrics

Examples:
  mockengine serve
  mockengine serve --config /etc/mockengine/config.yaml
  mockengine serve --hot-reload=false`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().BoolVar(&hotReload, "hot-reload", true, "enable hot reload of configuration")
}

func runServe(cmd *cobra.Command, args []string) error {
	// Check if config exists
	if _, err := os.Stat(cfgFile); os.IsNotExist(err) {
		fmt.Println("No configuration found.")
		fmt.Println()
		fmt.Printf("Run 'mockengine init' to create %s\n", cfgFile)
		fmt.Println("Or specify a config file with --config")
		return nil
	}

	var app *bootstrap.App
	var err error

	if hotReload {
		app, err = bootstrap.NewWithHotReload(cfgFile)
	} else {
		cfg, loadErr := config.Load(cfgFile)
		if loadErr != nil {
			return fmt.Errorf("error loading config: %w", loadErr)
		}
		app, err = bootstrap.New(cfg)
	}
	if err != nil {
		return fmt.Errorf("error initializing application: %w", err)
	}

	return app.Run()
}
