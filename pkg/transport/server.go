// Package transport hosts the HTTP surface named as an out-of-scope
// external collaborator in spec.md §1 ("the web framework serving HTTP")
// and the MCP message-framing boundary ("the MCP message-framing
// library"): a chi router serving /health, /metadata, and an mcp-go
// streamable-HTTP /mcp handler backed by the wrapper registry (C4/C5).
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/mcpmesh/agent-sdk-go/pkg/wrapper"
)

// Config holds the host server's listen address and shutdown behavior.
type Config struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
}

func (c Config) addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// RunningChecker reports whether the agent's mesh-core connection
// considers itself live; the health endpoint mirrors its answer.
type RunningChecker interface {
	Running() bool
}

// Server is C8's HTTP surface: one chi router carrying liveness,
// metadata, and the peer MCP JSON-RPC endpoint.
type Server struct {
	cfg       Config
	agentID   string
	agentName string

	wrappers *wrapper.Registry
	checker  RunningChecker

	router     chi.Router
	mcpServer  *mcpserver.MCPServer
	streamable *mcpserver.StreamableHTTPServer
	httpServer *http.Server
	listener   net.Listener
}

// NewServer builds the router and mounts every tool currently registered
// in wrappers onto the mcp-go server. Tools registered after NewServer is
// called are not retroactively added; the manifest builder registers all
// tools before the runtime starts the server (spec.md §4.8 two-phase
// start).
func NewServer(cfg Config, agentID, agentName string, wrappers *wrapper.Registry, checker RunningChecker) *Server {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}

	s := &Server{
		cfg:       cfg,
		agentID:   agentID,
		agentName: agentName,
		wrappers:  wrappers,
		checker:   checker,
	}

	s.mcpServer = mcpserver.NewMCPServer(agentName, "1.0.0",
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithRecovery(),
	)
	s.mountTools()
	s.streamable = mcpserver.NewStreamableHTTPServer(s.mcpServer)

	r := chi.NewRouter()
	r.Use(metricsMiddleware)
	r.Use(traceMiddleware)
	r.Get("/health", s.handleHealth)
	r.Head("/health", s.handleHealth)
	r.Get("/metadata", s.handleMetadata)
	r.Handle("/mcp", s.streamable)
	r.Handle("/mcp/*", s.streamable)
	s.router = r

	return s
}

// mountTools registers every wrapper as an mcp-go tool whose handler
// bridges into the wrapper registry's dispatch path (C5).
func (s *Server) mountTools() {
	for _, w := range s.wrappers.List() {
		schema, err := json.Marshal(w.Schema)
		if err != nil {
			slog.Error("transport: failed to marshal tool schema, skipping", "capability", w.Capability, "error", err)
			continue
		}
		t := mcp.NewToolWithRawSchema(w.Capability, w.Description, schema)
		capability := w.Capability
		s.mcpServer.AddTool(t, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			result, err := s.wrappers.Dispatch(ctx, capability, uuid.NewString(), args)
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			payload, err := json.Marshal(result)
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			return mcp.NewToolResultText(string(payload)), nil
		})
	}
}

// Listen binds the TCP listener synchronously, so the caller can rely on
// Address() immediately after it returns (useful when Port is 0 and the
// OS assigns one).
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.cfg.addr())
	if err != nil {
		return fmt.Errorf("transport: failed to listen on %s: %w", s.cfg.addr(), err)
	}
	s.listener = ln
	s.httpServer = &http.Server{Handler: s.router}
	return nil
}

// Serve runs the HTTP server against the listener Listen bound; it blocks
// until Stop is called or the listener fails. Listen must be called first.
func (s *Server) Serve() error {
	slog.Info("transport: http server starting", "addr", s.listener.Addr().String())
	if err := s.httpServer.Serve(s.listener); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("transport: server failed: %w", err)
	}
	return nil
}

// Start binds and serves in one call; it blocks until Stop is called or
// the listener fails. Provided for standalone use outside the runtime's
// two-phase startup.
func (s *Server) Start() error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve()
}

// Stop gracefully drains in-flight requests within the configured
// shutdown timeout.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("transport: graceful shutdown failed: %w", err)
	}
	return nil
}

// Address returns the bound listen address, useful when Port was 0 and
// the OS picked one. Falls back to the configured address before Listen
// has run.
func (s *Server) Address() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.cfg.addr()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	healthy := s.checker == nil || s.checker.Running()
	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if r.Method == http.MethodHead {
		return
	}
	state := "healthy"
	if !healthy {
		state = "unhealthy"
	}
	_ = json.NewEncoder(w).Encode(map[string]string{"status": state, "agent": s.agentName})
}

// capabilityEntry mirrors spec.md §6's /metadata per-capability shape.
type capabilityEntry struct {
	FunctionName    string         `json:"function_name"`
	Capability      string         `json:"capability"`
	SessionRequired bool           `json:"session_required"`
	Stateful        bool           `json:"stateful"`
	Streaming       bool           `json:"streaming"`
	FullMCPAccess   bool           `json:"full_mcp_access"`
	Version         string         `json:"version"`
	Tags            []string       `json:"tags"`
	Description     string         `json:"description"`
	CustomMetadata  map[string]any `json:"custom_metadata"`
}

func (s *Server) handleMetadata(w http.ResponseWriter, r *http.Request) {
	capabilities := make(map[string]capabilityEntry)
	for _, wr := range s.wrappers.List() {
		if wr.Capability == "" {
			continue
		}
		fn := wr.Metadata.FunctionName
		if fn == "" {
			fn = wr.FuncID
		}
		capabilities[wr.Capability] = capabilityEntry{
			FunctionName:    fn,
			Capability:      wr.Capability,
			SessionRequired: wr.Metadata.SessionRequired,
			Stateful:        wr.Metadata.Stateful,
			Streaming:       wr.Metadata.Streaming,
			FullMCPAccess:   wr.Metadata.FullMCPAccess,
			Version:         wr.Metadata.Version,
			Tags:            wr.Metadata.Tags,
			Description:     wr.Description,
			CustomMetadata:  wr.Metadata.Custom,
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"agent_id":     s.agentID,
		"capabilities": capabilities,
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
	})
}
