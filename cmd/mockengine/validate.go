package main

import (
	"fmt"
	"os"

	"github.com/artpar/mockengine/adapters/idgen"
	"github.com/artpar/mockengine/adapters/memory"
	"github.com/artpar/mockengine/adapters/sqlite"
	"github.com/artpar/mockengine/config"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration and mock definitions",
	Long: `Validate the mockengine configuration file.

Checks:
  - YAML syntax is valid
  - Required fields are present
  - The mock fixture parses (memory driver)
  - The database opens and migrates (sqlite driver, optional)

Examples:
  mockengine validate
  mockengine validate --config /etc/mockengine/config.yaml`,
	RunE: runValidate,
}

var validateCheckDatabase bool

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().BoolVar(&validateCheckDatabase, "check-database", false, "check if the sqlite database opens and migrates")
}

func runValidate(cmd *cobra.Command, args []string) error {
	fmt.Printf("Validating %s...\n\n", cfgFile)

	// Check file exists
	if _, err := os.Stat(cfgFile); os.IsNotExist(err) {
		fmt.Printf("  %s Config file exists\n", crossMark)
		return fmt.Errorf("config file not found: %s", cfgFile)
	}
	fmt.Printf("  %s Config file exists\n", checkMark)

	// Load and validate config
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Printf("  %s Config syntax valid\n", crossMark)
		return fmt.Errorf("config error: %w", err)
	}
	fmt.Printf("  %s Config syntax valid\n", checkMark)

	// Show config summary
	fmt.Printf("  %s Listen: %s:%d\n", checkMark, cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("  %s Repository: %s\n", checkMark, cfg.Repository.Driver)
	fmt.Printf("  %s CORS policy: %t\n", checkMark, cfg.Mocks.REST.EnableCORSPolicy)
	fmt.Printf("  %s Invocation stats: %t\n", checkMark, cfg.Mocks.EnableInvocationStats)

	// Fixture parses for the memory driver
	if cfg.Repository.Driver == "memory" && cfg.Repository.FixturePath != "" {
		services, responses, err := memory.LoadFixture(cfg.Repository.FixturePath, idgen.UUID{})
		if err != nil {
			fmt.Printf("  %s Mock fixture parses\n", crossMark)
			return fmt.Errorf("fixture error: %w", err)
		}
		fmt.Printf("  %s Mock fixture parses (%d services, %d responses)\n", checkMark, len(services), len(responses))
	}

	// Optional: check database
	if validateCheckDatabase && cfg.Repository.Driver == "sqlite" {
		if err := checkDatabase(cfg.Repository.SQLitePath); err != nil {
			fmt.Printf("  %s Database opens\n", crossMark)
			fmt.Printf("      Error: %v\n", err)
		} else {
			fmt.Printf("  %s Database opens\n", checkMark)
		}
	}

	fmt.Println()
	fmt.Println("Configuration is valid.")
	return nil
}

func checkDatabase(path string) error {
	db, err := sqlite.Open(path)
	if err != nil {
		return err
	}
	defer db.Close()
	return db.Migrate()
}

const (
	checkMark = "\033[32m✓\033[0m"
	crossMark = "\033[31m✗\033[0m"
)
