package eventproc

import (
	"context"
	"testing"
	"time"

	"github.com/mcpmesh/agent-sdk-go/pkg/mcpclient"
	"github.com/mcpmesh/agent-sdk-go/pkg/meshcore"
	"github.com/mcpmesh/agent-sdk-go/pkg/proxy"
	"github.com/mcpmesh/agent-sdk-go/pkg/tool"
	"github.com/mcpmesh/agent-sdk-go/pkg/wrapper"
)

type fakeCore struct {
	events chan meshcore.Event
}

func newFakeCore() *fakeCore { return &fakeCore{events: make(chan meshcore.Event, 16)} }

func (f *fakeCore) Start(ctx context.Context, m meshcore.Manifest) error { return nil }
func (f *fakeCore) Poll(ctx context.Context) (meshcore.Event, bool) {
	select {
	case e := <-f.events:
		return e, true
	case <-time.After(50 * time.Millisecond):
		return meshcore.Event{}, false
	case <-ctx.Done():
		return meshcore.Event{}, false
	}
}
func (f *fakeCore) ReportHealth(ctx context.Context, healthy bool) error { return nil }
func (f *fakeCore) Shutdown(ctx context.Context) error                  { return nil }
func (f *fakeCore) Running() bool                                       { return true }

type noopTool struct{}

func (noopTool) Name() string          { return "add" }
func (noopTool) Description() string   { return "" }
func (noopTool) IsLongRunning() bool    { return false }
func (noopTool) Schema() map[string]any { return nil }
func (noopTool) Call(ctx tool.Context, args map[string]any) (map[string]any, error) {
	return nil, nil
}

func newTestProcessor(t *testing.T) (*Processor, *fakeCore, *wrapper.Registry, *wrapper.ToolWrapper) {
	t.Helper()
	client := mcpclient.New()
	factory := proxy.NewFactory(client)
	wreg := wrapper.NewRegistry(client, factory)

	w := wrapper.New("calc.add", "add", "", nil, noopTool{}, []mcpclient.ReturnType{mcpclient.ReturnAny}, 1)
	if err := wreg.Register(w); err != nil {
		t.Fatalf("Register returned error: %v", err)
	}

	core := newFakeCore()
	p := New(core, wreg, client, factory, nil, nil)
	return p, core, wreg, w
}

func TestDependencyAvailableThenUnavailableRoundtrip(t *testing.T) {
	p, core, _, w := newTestProcessor(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)
	defer p.Stop()

	core.events <- meshcore.Event{
		Kind:            meshcore.DependencyAvailable,
		RequesterFuncID: "calc.add",
		DepIndex:        0,
		Capability:      "mul",
		Endpoint:        "http://m:9000",
		FunctionName:    "multiply",
	}

	waitUntil(t, func() bool { return w.NumDeps() == 1 && depSlotPopulated(w) })

	core.events <- meshcore.Event{Kind: meshcore.DependencyUnavailable, RequesterFuncID: "calc.add", DepIndex: 0}
	waitUntil(t, func() bool { return !depSlotPopulated(w) })
}

func TestDependencyChangedRoutesByEndpointPresence(t *testing.T) {
	p, core, _, w := newTestProcessor(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)
	defer p.Stop()

	core.events <- meshcore.Event{
		Kind: meshcore.DependencyChanged, RequesterFuncID: "calc.add", DepIndex: 0,
		Endpoint: "http://m:9001", FunctionName: "multiply",
	}
	waitUntil(t, func() bool { return depSlotPopulated(w) })

	core.events <- meshcore.Event{Kind: meshcore.DependencyChanged, RequesterFuncID: "calc.add", DepIndex: 0}
	waitUntil(t, func() bool { return !depSlotPopulated(w) })
}

func TestLlmProviderAvailableThenToolsUpdatedConverge(t *testing.T) {
	p, core, _, _ := newTestProcessor(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)
	defer p.Stop()

	core.events <- meshcore.Event{Kind: meshcore.LlmProviderAvailable, FuncID: "calc.add", Endpoint: "http://llm", FunctionName: "generate", Model: "gpt"}
	waitUntil(t, func() bool {
		a, ok := p.agents.Get("calc.add")
		return ok && a.Available()
	})

	core.events <- meshcore.Event{Kind: meshcore.LlmToolsUpdated, FuncID: "calc.add", Tools: []meshcore.LLMToolInfo{{Name: "search", Capability: "search"}}}
	waitUntil(t, func() bool {
		a, _ := p.agents.Get("calc.add")
		return a != nil
	})
}

func TestLlmToolsUpdatedBeforeProviderCachesPending(t *testing.T) {
	p, core, _, _ := newTestProcessor(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)
	defer p.Stop()

	core.events <- meshcore.Event{Kind: meshcore.LlmToolsUpdated, FuncID: "calc.ask", Tools: []meshcore.LLMToolInfo{{Name: "search", Capability: "search"}}}
	waitUntil(t, func() bool {
		p.pendingMu.Lock()
		defer p.pendingMu.Unlock()
		_, ok := p.pendingTools["ask"]
		return ok
	})

	core.events <- meshcore.Event{Kind: meshcore.LlmProviderAvailable, FuncID: "calc.ask", Endpoint: "http://llm", FunctionName: "generate", Model: "gpt"}
	waitUntil(t, func() bool {
		_, ok := p.agents.Get("calc.ask")
		return ok
	})
}

func TestRegistrationFailedDoesNotStopProcessor(t *testing.T) {
	p, core, _, w := newTestProcessor(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)
	defer p.Stop()

	core.events <- meshcore.Event{Kind: meshcore.RegistrationFailed, Reason: "registry unreachable"}
	core.events <- meshcore.Event{Kind: meshcore.DependencyAvailable, RequesterFuncID: "calc.add", DepIndex: 0, Endpoint: "http://m", FunctionName: "multiply"}
	waitUntil(t, func() bool { return depSlotPopulated(w) })
}

func depSlotPopulated(w *wrapper.ToolWrapper) bool {
	return w.Dependency(0) != nil
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
