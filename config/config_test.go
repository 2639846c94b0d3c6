package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/artpar/mockengine/config"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "mockengine.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, `
mocks:
  enable-invocation-stats: true
  rest:
    enable-cors-policy: true
`)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Repository.Driver != "memory" {
		t.Errorf("Repository.Driver = %q, want memory", cfg.Repository.Driver)
	}
	if cfg.Mocks.REST.CORS.AllowedOrigins != "*" {
		t.Errorf("CORS.AllowedOrigins = %q, want *", cfg.Mocks.REST.CORS.AllowedOrigins)
	}
	if !cfg.Mocks.EnableInvocationStats {
		t.Error("EnableInvocationStats = false, want true")
	}
}

func TestLoad_EnvExpansion(t *testing.T) {
	os.Setenv("MOCKENGINE_TEST_ORIGIN", "https://example.com")
	defer os.Unsetenv("MOCKENGINE_TEST_ORIGIN")

	path := writeConfig(t, `
mocks:
  rest:
    cors:
      allowedOrigins: "${MOCKENGINE_TEST_ORIGIN}"
`)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Mocks.REST.CORS.AllowedOrigins != "https://example.com" {
		t.Errorf("AllowedOrigins = %q, want https://example.com", cfg.Mocks.REST.CORS.AllowedOrigins)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
`)

	os.Setenv("MOCKENGINE_SERVER_PORT", "7070")
	defer os.Unsetenv("MOCKENGINE_SERVER_PORT")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Errorf("Server.Port = %d, want 7070 (env should win)", cfg.Server.Port)
	}
}

func TestLoad_InvalidRepositoryDriver(t *testing.T) {
	path := writeConfig(t, `
repository:
  driver: "mongo"
`)

	if _, err := config.Load(path); err == nil {
		t.Error("expected error for unsupported repository.driver")
	}
}

func TestLoad_SqliteRequiresPath(t *testing.T) {
	path := writeConfig(t, `
repository:
  driver: "sqlite"
`)

	if _, err := config.Load(path); err == nil {
		t.Error("expected error when sqlite driver has no sqlite_path")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := config.Load("/nonexistent/mockengine.yaml"); err == nil {
		t.Error("expected error for missing config file")
	}
}
