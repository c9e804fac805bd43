// Command meshagent is a minimal demonstration agent: it registers a
// toy tool through the manifest builder, starts the runtime, and serves
// it over /mcp until interrupted.
//
// Usage:
//
//	meshagent serve --registry-url http://localhost:8000
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"github.com/mcpmesh/agent-sdk-go/pkg/config"
	"github.com/mcpmesh/agent-sdk-go/pkg/configcore"
	"github.com/mcpmesh/agent-sdk-go/pkg/manifest"
	"github.com/mcpmesh/agent-sdk-go/pkg/mcpclient"
	"github.com/mcpmesh/agent-sdk-go/pkg/proxy"
	"github.com/mcpmesh/agent-sdk-go/pkg/runtime"
)

// CLI defines the command-line interface.
type CLI struct {
	Serve   ServeCmd   `cmd:"" help:"Start the demo agent."`
	Version VersionCmd `cmd:"" help:"Show version information."`

	LogLevel string `help:"Log level (debug, info, warn, error)." default:"info"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Println("meshagent dev")
	return nil
}

// ServeCmd starts the demo agent.
type ServeCmd struct {
	AgentName   string `name:"agent-name" help:"Agent name (suffixed with a random id)."`
	RegistryURL string `name:"registry-url" help:"Mesh registry URL."`
	Namespace   string `help:"Mesh namespace."`
	Host        string `help:"HTTP host to bind (empty = autodetect)."`
	Port        int    `help:"HTTP port to bind (0 = env override or 8080)."`
	ConfigFile  string `name:"config" help:"Optional YAML config file (env vars still win)."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("meshagent: shutting down")
		cancel()
	}()

	cfg, err := config.Load(c.ConfigFile)
	if err != nil {
		return fmt.Errorf("meshagent: failed to load config: %w", err)
	}

	agentName := firstNonEmpty(c.AgentName, cfg.AgentName)
	registryURL := firstNonEmpty(c.RegistryURL, cfg.RegistryURL)
	namespace := firstNonEmpty(c.Namespace, cfg.Namespace)
	host := firstNonEmpty(c.Host, cfg.HTTPHost)
	port := c.Port
	if port == 0 {
		port = cfg.HTTPPort
	}

	client := mcpclient.New()
	factory := proxy.NewFactory(client)

	builder := manifest.New(agentName).
		RegistryURL(registryURL).
		Namespace(namespace).
		Host(host).
		Port(port).
		HeartbeatInterval(cfg.HealthInterval).
		Tool(manifest.ToolSpec{
			FuncID:      "demo.greet",
			Capability:  "greet",
			Description: "Greets the caller by name.",
			Impl:        newGreetTool(),
		})

	m, err := manifest.Build(builder, client, factory)
	if err != nil {
		return fmt.Errorf("meshagent: failed to build manifest: %w", err)
	}

	rt := runtime.New(m, runtime.Options{
		Host:      host,
		Port:      port,
		Config:    configcore.NewEnvCore(),
		MCPClient: client,
		Factory:   factory,
	})

	if err := rt.Start(ctx); err != nil {
		return fmt.Errorf("meshagent: failed to start: %w", err)
	}
	slog.Info("meshagent: started", "agent_id", m.AgentID, "address", rt.Address())

	<-ctx.Done()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	return rt.Stop(stopCtx)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func main() {
	cli := CLI{}
	kctx := kong.Parse(&cli,
		kong.Name("meshagent"),
		kong.Description("Minimal mesh agent runtime demo"),
		kong.UsageOnError(),
	)

	initLogger(cli.LogLevel)

	err := kctx.Run(&cli)
	kctx.FatalIfErrorf(err)
}
