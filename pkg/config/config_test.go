package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_DefaultsOnly(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if cfg.AgentName != "mesh-agent" {
		t.Errorf("expected default agent name, got %q", cfg.AgentName)
	}
	if cfg.HTTPPort != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.HTTPPort)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "mesh.yaml")

	configYAML := `
agent_name: calc-agent
http_port: 9191
namespace: staging
`
	if err := os.WriteFile(configFile, []byte(configYAML), 0644); err != nil {
		t.Fatalf("failed to create test config: %v", err)
	}

	cfg, err := Load(configFile)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if cfg.AgentName != "calc-agent" {
		t.Errorf("expected agent name from file, got %q", cfg.AgentName)
	}
	if cfg.HTTPPort != 9191 {
		t.Errorf("expected port from file, got %d", cfg.HTTPPort)
	}
	if cfg.Namespace != "staging" {
		t.Errorf("expected namespace from file, got %q", cfg.Namespace)
	}
	// Field the file left unset should keep the built-in default.
	if cfg.RegistryURL != "http://localhost:8000" {
		t.Errorf("expected default registry url, got %q", cfg.RegistryURL)
	}
}

func TestLoadFile_ExpandsEnvVarsInValues(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "mesh.yaml")

	configYAML := `
agent_name: calc-agent
registry_url: ${MESH_TEST_REGISTRY_URL:-http://fallback:8000}
namespace: ${MESH_TEST_NAMESPACE}
`
	if err := os.WriteFile(configFile, []byte(configYAML), 0644); err != nil {
		t.Fatalf("failed to create test config: %v", err)
	}

	t.Setenv("MESH_TEST_NAMESPACE", "from-env-value")
	// MESH_TEST_REGISTRY_URL intentionally left unset to exercise the default.

	cfg, err := LoadFile(configFile)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if cfg.RegistryURL != "http://fallback:8000" {
		t.Errorf("expected expanded default registry url, got %q", cfg.RegistryURL)
	}
	if cfg.Namespace != "from-env-value" {
		t.Errorf("expected namespace expanded from env var, got %q", cfg.Namespace)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "mesh.yaml")
	if err := os.WriteFile(configFile, []byte("agent_name: calc-agent\nhttp_port: 9191\n"), 0644); err != nil {
		t.Fatalf("failed to create test config: %v", err)
	}

	t.Setenv("MCP_MESH_AGENT_NAME", "env-agent")
	t.Setenv("MCP_MESH_HTTP_PORT", "7000")

	cfg, err := Load(configFile)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if cfg.AgentName != "env-agent" {
		t.Errorf("expected env to win over file, got %q", cfg.AgentName)
	}
	if cfg.HTTPPort != 7000 {
		t.Errorf("expected env port to win over file, got %d", cfg.HTTPPort)
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	if _, err := Load("/nonexistent/mesh.yaml"); err == nil {
		t.Fatal("expected an error for a missing config file")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "mesh.yaml")
	if err := os.WriteFile(configFile, []byte("agent_name: [unterminated"), 0644); err != nil {
		t.Fatalf("failed to create test config: %v", err)
	}
	if _, err := Load(configFile); err == nil {
		t.Fatal("expected an error for invalid YAML")
	}
}

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "mesh.yaml")
	if err := os.WriteFile(configFile, []byte("agent_name: first\n"), 0644); err != nil {
		t.Fatalf("failed to create test config: %v", err)
	}

	reloaded := make(chan Config, 1)
	w := NewWatcher(configFile, func(cfg Config) {
		select {
		case reloaded <- cfg:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- w.Start(ctx) }()

	// Give the watcher time to register before mutating the file.
	time.Sleep(50 * time.Millisecond)

	if err := os.WriteFile(configFile, []byte("agent_name: second\n"), 0644); err != nil {
		t.Fatalf("failed to update test config: %v", err)
	}

	select {
	case cfg := <-reloaded:
		if cfg.AgentName != "second" {
			t.Errorf("expected reloaded agent name 'second', got %q", cfg.AgentName)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for config reload")
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Start returned an error: %v", err)
	}
}
