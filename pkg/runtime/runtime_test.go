package runtime

import (
	"context"
	"testing"
	"time"

	"github.com/mcpmesh/agent-sdk-go/pkg/configcore"
	"github.com/mcpmesh/agent-sdk-go/pkg/manifest"
	"github.com/mcpmesh/agent-sdk-go/pkg/mcpclient"
	"github.com/mcpmesh/agent-sdk-go/pkg/meshcore"
	"github.com/mcpmesh/agent-sdk-go/pkg/proxy"
	"github.com/mcpmesh/agent-sdk-go/pkg/tool"
)

type stubTool struct{}

func (stubTool) Name() string          { return "add" }
func (stubTool) Description() string   { return "adds" }
func (stubTool) IsLongRunning() bool    { return false }
func (stubTool) Schema() map[string]any { return map[string]any{"type": "object"} }
func (stubTool) Call(ctx tool.Context, args map[string]any) (map[string]any, error) {
	return args, nil
}

type fakeCore struct {
	started bool
	stopped bool
}

func (f *fakeCore) Start(ctx context.Context, m meshcore.Manifest) error { f.started = true; return nil }
func (f *fakeCore) Poll(ctx context.Context) (meshcore.Event, bool) {
	select {
	case <-time.After(20 * time.Millisecond):
	case <-ctx.Done():
	}
	return meshcore.Event{}, false
}
func (f *fakeCore) ReportHealth(ctx context.Context, healthy bool) error { return nil }
func (f *fakeCore) Shutdown(ctx context.Context) error                  { f.stopped = true; return nil }
func (f *fakeCore) Running() bool                                       { return f.started && !f.stopped }

type fixedConfig struct{}

func (fixedConfig) ResolveString(key, fallback string) string { return fallback }

// ResolveInt returns 0 for the HTTP port regardless of fallback, so the
// test server binds an OS-assigned ephemeral port instead of a fixed one.
func (fixedConfig) ResolveInt(key string, fallback int) int {
	if key == "MCP_MESH_HTTP_PORT" {
		return 0
	}
	return fallback
}
func (fixedConfig) AutoDetectIP(hint string) string { return "127.0.0.1" }

var _ configcore.Core = fixedConfig{}

func buildTestManifest(t *testing.T) (*manifest.Manifest, *mcpclient.Client, *proxy.Factory) {
	t.Helper()
	client := mcpclient.New()
	factory := proxy.NewFactory(client)
	b := manifest.New("calc-agent").Tool(manifest.ToolSpec{
		FuncID:     "calc.add",
		Capability: "add",
		Impl:       stubTool{},
	})
	m, err := manifest.Build(b, client, factory)
	if err != nil {
		t.Fatalf("Build returned error: %v", err)
	}
	return m, client, factory
}

func TestStartRunsTwoPhaseStartupThenStop(t *testing.T) {
	m, client, factory := buildTestManifest(t)
	core := &fakeCore{}
	r := New(m, Options{Port: 0, Config: fixedConfig{}, Core: core, MCPClient: client, Factory: factory})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := r.Start(ctx); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if !core.started {
		t.Fatal("expected mesh core Start to have been called")
	}
	if !r.Running() {
		t.Fatal("expected runtime to report running after Start")
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer stopCancel()
	if err := r.Stop(stopCtx); err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}
	if !core.stopped {
		t.Fatal("expected mesh core Shutdown to have been called")
	}
	if r.Running() {
		t.Fatal("expected runtime to report not running after Stop")
	}
}
