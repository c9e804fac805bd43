package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Config is the runtime's own configuration, independent of anything a
// user's tool implementations need. Environment variables always win over
// a loaded file, which always wins over the Go-level defaults set here
// (spec.md §6: "env > code/param > default").
type Config struct {
	AgentName       string        `yaml:"agent_name"`
	HTTPHost        string        `yaml:"http_host"`
	HTTPPort        int           `yaml:"http_port"`
	Namespace       string        `yaml:"namespace"`
	HealthInterval  time.Duration `yaml:"health_interval"`
	RegistryURL     string        `yaml:"registry_url"`
	Debug           bool          `yaml:"debug"`
	LogLevel        string        `yaml:"log_level"`
}

// Default returns a Config populated with the runtime's built-in
// defaults, before any file or environment overlay is applied.
func Default() Config {
	return Config{
		AgentName:      "mesh-agent",
		HTTPPort:       8080,
		Namespace:      "default",
		HealthInterval: 5 * time.Second,
		RegistryURL:    "http://localhost:8000",
		LogLevel:       "info",
	}
}

// LoadFile reads a YAML file into a Config seeded with Default(), leaving
// fields the file omits at their default value. String values support the
// same `${VAR}`/`${VAR:-default}` env-var expansion as the rest of this
// package (expandEnvVars/ExpandEnvVarsInData): the file is first parsed
// into a generic map, expanded, then re-marshaled and decoded into Config,
// since yaml.v3 has no hook to expand values during a direct struct decode.
func LoadFile(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return cfg, fmt.Errorf("config: failed to parse %s: %w", path, err)
	}

	expanded, err := yaml.Marshal(ExpandEnvVarsInData(raw))
	if err != nil {
		return cfg, fmt.Errorf("config: failed to re-marshal expanded %s: %w", path, err)
	}
	if err := yaml.Unmarshal(expanded, &cfg); err != nil {
		return cfg, fmt.Errorf("config: failed to decode expanded %s: %w", path, err)
	}
	return cfg, nil
}

// Load builds the final Config: loads any `.env`/`.env.local` files into
// the process environment, starts from Default() (or the file at path, if
// non-empty), then applies every MCP_MESH_* environment override named in
// spec.md §6.
func Load(path string) (Config, error) {
	if err := LoadEnvFiles(); err != nil {
		return Default(), fmt.Errorf("config: failed to load .env files: %w", err)
	}

	cfg := Default()
	if path != "" {
		loaded, err := LoadFile(path)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}
	applyEnvOverrides(&cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MCP_MESH_AGENT_NAME"); v != "" {
		cfg.AgentName = v
	}
	if v := os.Getenv("MCP_MESH_HTTP_HOST"); v != "" {
		cfg.HTTPHost = v
	}
	if v := os.Getenv("MCP_MESH_HTTP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.HTTPPort = port
		}
	}
	if v := os.Getenv("MCP_MESH_NAMESPACE"); v != "" {
		cfg.Namespace = v
	}
	if v := os.Getenv("MCP_MESH_HEALTH_INTERVAL"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			cfg.HealthInterval = time.Duration(secs) * time.Second
		}
	}
	if v := os.Getenv("MCP_MESH_REGISTRY_URL"); v != "" {
		cfg.RegistryURL = v
	}
	if v := os.Getenv("MCP_MESH_DEBUG"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Debug = b
		}
	}
	if v := os.Getenv("MCP_MESH_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
}

// Watcher reloads a Config from its source file whenever fsnotify reports
// a write, debounced the way the teacher's file provider does (rapid
// saves coalesce into one reload).
type Watcher struct {
	path     string
	onChange func(Config)

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	closed  bool
}

// NewWatcher builds a Watcher for path. onChange is invoked with the
// freshly reloaded Config after each debounced write; a reload that fails
// to parse is logged and skipped, leaving the prior Config in effect.
func NewWatcher(path string, onChange func(Config)) *Watcher {
	return &Watcher{path: path, onChange: onChange}
}

// Start begins watching the config file's directory (fsnotify cannot
// reliably watch a single file across editors that write-then-rename) and
// blocks until ctx is done or Close is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return fmt.Errorf("config: watcher is closed")
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return fmt.Errorf("config: failed to create watcher: %w", err)
	}
	w.watcher = watcher
	w.mu.Unlock()

	absPath, err := filepath.Abs(w.path)
	if err != nil {
		watcher.Close()
		return fmt.Errorf("config: failed to resolve path: %w", err)
	}
	dir := filepath.Dir(absPath)
	name := filepath.Base(absPath)

	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("config: failed to watch %s: %w", dir, err)
	}
	defer watcher.Close()

	var debounce *time.Timer
	const debounceDelay = 100 * time.Millisecond
	reload := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(debounceDelay, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})

		case <-reload:
			cfg, err := Load(w.path)
			if err != nil {
				slog.Error("config: failed to reload, keeping prior config", "path", w.path, "error", err)
				continue
			}
			slog.Info("config: reloaded", "path", w.path)
			w.onChange(cfg)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("config: watcher error", "error", err)
		}
	}
}

// Close stops the watcher if running.
func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	if w.watcher != nil {
		err := w.watcher.Close()
		w.watcher = nil
		return err
	}
	return nil
}
