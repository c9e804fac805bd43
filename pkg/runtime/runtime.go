// Package runtime implements the runtime and lifecycle component (C8):
// the two-phase startup that hands a built manifest to the mesh core and
// then starts the event processor, the reverse-order shutdown, and the
// HTTP surface (health, metadata, /mcp) that fronts the agent process.
package runtime

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mcpmesh/agent-sdk-go/pkg/configcore"
	"github.com/mcpmesh/agent-sdk-go/pkg/eventproc"
	"github.com/mcpmesh/agent-sdk-go/pkg/manifest"
	"github.com/mcpmesh/agent-sdk-go/pkg/mcpclient"
	"github.com/mcpmesh/agent-sdk-go/pkg/meshcore"
	"github.com/mcpmesh/agent-sdk-go/pkg/proxy"
	"github.com/mcpmesh/agent-sdk-go/pkg/transport"
)

// Options configures a Runtime beyond what the manifest builder already
// decided. Host/Port resolution follows spec.md §6: a mesh-specific
// environment override takes precedence over the HTTP framework's own
// default, so an empty Host/Port here is resolved through ConfigCore.
type Options struct {
	Host string
	Port int

	Config    configcore.Core
	Core      meshcore.Core
	MCPClient *mcpclient.Client
	Factory   *proxy.Factory
}

// Runtime ties the manifest, mesh core, event processor, and HTTP
// transport together behind a single Start/Stop lifecycle.
type Runtime struct {
	manifest *manifest.Manifest
	core     meshcore.Core
	proc     *eventproc.Processor
	server   *transport.Server

	running bool
}

// New wires a Runtime around a built manifest. It does not start anything;
// call Start to begin the two-phase startup.
func New(m *manifest.Manifest, opts Options) *Runtime {
	if opts.Config == nil {
		opts.Config = configcore.NewEnvCore()
	}
	if opts.Core == nil {
		opts.Core = meshcore.NewHTTPCore(m.Core.RegistryURL)
	}

	host := opts.Host
	if host == "" {
		host = opts.Config.ResolveString("MCP_MESH_HTTP_HOST", "")
	}
	if host == "" {
		host = opts.Config.AutoDetectIP("")
	}
	port := opts.Port
	if port == 0 {
		port = opts.Config.ResolveInt("MCP_MESH_HTTP_PORT", 8080)
	}
	m.Core.Host = host
	m.Core.Port = port

	proc := eventproc.New(opts.Core, m.Wrappers, opts.MCPClient, opts.Factory, m.LLMConfigs, m.DirectAgents)
	server := transport.NewServer(transport.Config{Host: host, Port: port}, m.AgentID, m.Core.AgentName, m.Wrappers, opts.Core)

	return &Runtime{manifest: m, core: opts.Core, proc: proc, server: server}
}

// Start runs the two-phase startup (spec.md §4.8): hand the manifest to
// the mesh core first, so background registration and event production
// begin; only then start the event processor, so it never observes a
// topology event before the core itself is live. The HTTP server is
// started last, in its own goroutine, since it blocks.
func (r *Runtime) Start(ctx context.Context) error {
	if err := r.core.Start(ctx, r.manifest.Core); err != nil {
		return fmt.Errorf("runtime: mesh core failed to start: %w", err)
	}
	r.proc.Start(ctx)

	if err := r.server.Listen(); err != nil {
		return fmt.Errorf("runtime: http server failed to bind: %w", err)
	}
	r.running = true

	go func() {
		if err := r.server.Serve(); err != nil {
			slog.Error("runtime: http server exited", "error", err)
		}
	}()
	return nil
}

// Stop runs shutdown in reverse order: HTTP server, event processor, mesh
// core.
func (r *Runtime) Stop(ctx context.Context) error {
	r.running = false
	if err := r.server.Stop(ctx); err != nil {
		slog.Warn("runtime: http server shutdown error", "error", err)
	}
	r.proc.Stop()
	if err := r.core.Shutdown(ctx); err != nil {
		return fmt.Errorf("runtime: mesh core shutdown failed: %w", err)
	}
	return nil
}

// Running reports whether Start has completed and Stop has not yet run.
func (r *Runtime) Running() bool {
	return r.running
}

// Address returns the HTTP server's bound listen address.
func (r *Runtime) Address() string {
	return r.server.Address()
}
