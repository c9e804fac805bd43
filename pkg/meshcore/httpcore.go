package meshcore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mcpmesh/agent-sdk-go/pkg/httpclient"
)

// pollInterval is the default bounded blocking poll used by the event
// processor's drain loop (spec.md §4.7).
const pollInterval = 5 * time.Second

// HTTPCore is the SDK's default Core: a thin HTTP client against the
// registry's REST surface. Registration and heartbeat go through the
// retrying httpclient, since transient registry unavailability should not
// abort startup (standalone mode, spec.md §7); event polling uses a plain
// client with its own timeout, since a stalled poll should time out and
// loop rather than pile up retries behind it.
type HTTPCore struct {
	registryURL string
	retrying    *httpclient.Client
	plain       *http.Client

	agentID   string
	running   atomic.Bool
	heartbeat time.Duration

	pending chan Event

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewHTTPCore builds an HTTPCore targeting the given registry base URL.
func NewHTTPCore(registryURL string) *HTTPCore {
	return &HTTPCore{
		registryURL: registryURL,
		retrying: httpclient.New(
			httpclient.WithMaxRetries(3),
			httpclient.WithBaseDelay(time.Second),
			httpclient.WithMaxDelay(10*time.Second),
		),
		plain:   &http.Client{Timeout: pollInterval + 2*time.Second},
		pending: make(chan Event, 64),
		stopCh:  make(chan struct{}),
	}
}

type registerRequest struct {
	AgentID   string              `json:"agent_id"`
	AgentName string              `json:"agent_name"`
	Version   string              `json:"version"`
	Host      string              `json:"host"`
	Port      int                 `json:"port"`
	Namespace string              `json:"namespace"`
	Tools     []ToolManifestEntry `json:"tools"`
}

// Start submits the registration request and launches the background
// heartbeat and event-polling loops. A registration failure is never
// returned as an error from Start; it is queued as a RegistrationFailed
// event so the event processor logs it and the agent continues serving
// inbound calls in standalone mode.
func (c *HTTPCore) Start(ctx context.Context, manifest Manifest) error {
	c.agentID = manifest.AgentID
	c.heartbeat = manifest.HeartbeatInterval
	if c.heartbeat <= 0 {
		c.heartbeat = 5 * time.Second
	}

	body, err := json.Marshal(registerRequest{
		AgentID:   manifest.AgentID,
		AgentName: manifest.AgentName,
		Version:   manifest.Version,
		Host:      manifest.Host,
		Port:      manifest.Port,
		Namespace: manifest.Namespace,
		Tools:     manifest.Tools,
	})
	if err != nil {
		return fmt.Errorf("meshcore: failed to marshal registration request: %w", err)
	}

	go c.registerWithRetryTolerance(ctx, body)

	c.wg.Add(2)
	go c.heartbeatLoop(ctx)
	go c.eventPollLoop(ctx)

	return nil
}

func (c *HTTPCore) registerWithRetryTolerance(ctx context.Context, body []byte) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.registryURL+"/agents/register", bytes.NewReader(body))
	if err != nil {
		c.queueRegistrationFailed(err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.retrying.Do(req)
	if err != nil {
		c.queueRegistrationFailed(err)
		return
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.queueRegistrationFailed(fmt.Errorf("registry returned HTTP %d", resp.StatusCode))
		return
	}

	c.running.Store(true)
	c.enqueue(Event{Kind: AgentRegistered})
}

func (c *HTTPCore) queueRegistrationFailed(err error) {
	slog.Warn("meshcore: registration failed, continuing in standalone mode", "error", err)
	c.enqueue(Event{Kind: RegistrationFailed, Reason: err.Error()})
}

func (c *HTTPCore) enqueue(e Event) {
	select {
	case c.pending <- e:
	default:
		slog.Warn("meshcore: event queue full, dropping event", "kind", e.Kind.String())
	}
}

// heartbeatLoop periodically reports health. Unlike registration, heartbeat
// failures are silent (logged only): the registry sees a missed beat and
// the agent retries on the next tick, never surfaced to the event
// processor, per the out-of-scope heartbeat contract.
func (c *HTTPCore) heartbeatLoop(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.sendHeartbeat(ctx)
		}
	}
}

func (c *HTTPCore) sendHeartbeat(ctx context.Context) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.registryURL+"/agents/"+c.agentID+"/heartbeat", nil)
	if err != nil {
		return
	}
	resp, err := c.retrying.Do(req)
	if err != nil {
		slog.Debug("meshcore: heartbeat failed", "error", err)
		c.running.Store(false)
		return
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	c.running.Store(resp.StatusCode >= 200 && resp.StatusCode < 300)
}

// eventPollLoop drains the registry's event stream on a bounded blocking
// poll, translating each wire event into an Event and queueing it for
// Poll to return.
func (c *HTTPCore) eventPollLoop(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		default:
		}

		events, err := c.fetchEvents(ctx)
		if err != nil {
			slog.Debug("meshcore: event poll failed", "error", err)
			select {
			case <-time.After(pollInterval):
			case <-c.stopCh:
				return
			}
			continue
		}
		for _, e := range events {
			c.enqueue(e)
		}
	}
}

type wireEvent struct {
	Kind            string        `json:"kind"`
	RequesterFuncID string        `json:"requester_func_id"`
	DepIndex        int           `json:"dep_index"`
	Capability      string        `json:"capability"`
	Endpoint        string        `json:"endpoint"`
	FunctionName    string        `json:"function_name"`
	FuncID          string        `json:"func_id"`
	Tools           []LLMToolInfo `json:"tools"`
	Model           string        `json:"model"`
	Reason          string        `json:"reason"`
}

func (c *HTTPCore) fetchEvents(ctx context.Context) ([]Event, error) {
	pollCtx, cancel := context.WithTimeout(ctx, pollInterval)
	defer cancel()

	url := fmt.Sprintf("%s/agents/%s/events?wait=%ds", c.registryURL, c.agentID, int(pollInterval.Seconds()))
	req, err := http.NewRequestWithContext(pollCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.plain.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("registry returned HTTP %d", resp.StatusCode)
	}

	var wire []wireEvent
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("meshcore: malformed event payload: %w", err)
	}

	out := make([]Event, 0, len(wire))
	for _, w := range wire {
		out = append(out, translateWireEvent(w))
	}
	return out, nil
}

func translateWireEvent(w wireEvent) Event {
	e := Event{
		RequesterFuncID: w.RequesterFuncID,
		DepIndex:        w.DepIndex,
		Capability:      w.Capability,
		Endpoint:        w.Endpoint,
		FunctionName:    w.FunctionName,
		FuncID:          w.FuncID,
		Tools:           w.Tools,
		Model:           w.Model,
		Reason:          w.Reason,
	}
	switch w.Kind {
	case "DependencyAvailable":
		e.Kind = DependencyAvailable
	case "DependencyUnavailable":
		e.Kind = DependencyUnavailable
	case "DependencyChanged":
		e.Kind = DependencyChanged
	case "LlmToolsUpdated":
		e.Kind = LlmToolsUpdated
	case "LlmProviderAvailable":
		e.Kind = LlmProviderAvailable
	case "RegistrationFailed":
		e.Kind = RegistrationFailed
	case "Shutdown":
		e.Kind = Shutdown
	default:
		e.Kind = RegistrationFailed
		e.Reason = fmt.Sprintf("unrecognized event kind %q", w.Kind)
	}
	return e
}

// Poll blocks for at most pollInterval waiting for a queued event.
func (c *HTTPCore) Poll(ctx context.Context) (Event, bool) {
	select {
	case e := <-c.pending:
		return e, true
	case <-ctx.Done():
		return Event{}, false
	case <-time.After(pollInterval):
		return Event{}, false
	}
}

// ReportHealth pushes the liveness state directly, independent of the
// periodic heartbeat loop. The runtime (C8) does not call it.
func (c *HTTPCore) ReportHealth(ctx context.Context, healthy bool) error {
	body, _ := json.Marshal(map[string]any{"healthy": healthy})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.registryURL+"/agents/"+c.agentID+"/health", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.retrying.Do(req)
	if err != nil {
		return nil // health reporting is best-effort, never fatal
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return nil
}

// Shutdown stops the background loops and best-effort notifies the
// registry this agent is going away.
func (c *HTTPCore) Shutdown(ctx context.Context) error {
	close(c.stopCh)
	c.wg.Wait()
	c.running.Store(false)

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.registryURL+"/agents/"+c.agentID, nil)
	if err != nil {
		return nil
	}
	resp, err := c.plain.Do(req)
	if err != nil {
		return nil
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return nil
}

// Running reports whether registration currently holds.
func (c *HTTPCore) Running() bool {
	return c.running.Load()
}

var _ Core = (*HTTPCore)(nil)
