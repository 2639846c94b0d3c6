package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter configuration and mock fixture",
	Long: `Create mockengine.yaml and mocks.yaml in the current directory.

The generated fixture virtualizes a small Pets service so the engine is
immediately usable:

  mockengine init
  mockengine serve
  curl http://localhost:8080/rest/Pets/1.0/pets/1`,
	RunE: runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)

	initCmd.Flags().BoolVarP(&initForce, "force", "f", false, "overwrite existing files")
}

const starterConfig = `# mockengine configuration
server:
  host: 0.0.0.0
  port: 8080

mocks:
  enable-invocation-stats: true
  rest:
    enable-cors-policy: true
    cors:
      allowedOrigins: "*"
      allowCredentials: false

repository:
  driver: memory
  fixture_path: mocks.yaml

logging:
  level: info
  format: console

metrics:
  enabled: true
  path: /metrics
`

const starterFixture = `# Mock definitions served by mockengine.
services:
  - name: Pets
    version: "1.0"
    operations:
      - name: "GET /pets/{id}"
        dispatcher: SEQUENCE
        dispatcherRules: id
        responses:
          - name: pet-1
            status: 200
            mediaType: application/json
            dispatchCriteria: "?id=1"
            content: '{"id": 1, "name": "rex"}'
          - name: pet-2
            status: 200
            mediaType: application/json
            dispatchCriteria: "?id=2"
            content: '{"id": 2, "name": "mittens"}'
      - name: "GET /pets"
        dispatcher: URI_PARAMS
        dispatcherRules: status
        responses:
          - name: available
            status: 200
            mediaType: application/json
            dispatchCriteria: "?status=available"
            content: '[{"id": 1, "name": "rex"}]'
      - name: "POST /pets"
        defaultDelay: 100ms
        responses:
          - name: created
            status: 201
            mediaType: application/json
            headers:
              Location:
                - /pets/3
            content: '{"id": 3, "name": "{{ body.name }}"}'
`

func runInit(cmd *cobra.Command, args []string) error {
	files := map[string]string{
		cfgFile:     starterConfig,
		"mocks.yaml": starterFixture,
	}

	for path := range files {
		if _, err := os.Stat(path); err == nil && !initForce {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
	}

	for path, content := range files {
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
		fmt.Printf("Wrote %s\n", path)
	}

	fmt.Println()
	fmt.Println("Start the engine with: mockengine serve")
	return nil
}
