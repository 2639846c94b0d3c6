package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "mockengine",
	Short: "REST mock dispatch engine for virtualized services",
	Long: `Mockengine serves canned responses for virtualized REST services.

For each request it resolves the operation, computes a dispatch criterion
(URI parts, URI params, script, or JSON body), selects the matching canned
response, renders its templates, and answers after the configured delay.

Quick start:
  mockengine init      # Write a starter config and mock fixture
  mockengine serve     # Start the mock server

Management:
  mockengine validate  # Validate configuration and mock definitions`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "mockengine.yaml", "config file path")
}
