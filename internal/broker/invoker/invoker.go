// Package invoker implements the HTTP agent invoker port (spec §4.1, §6.2).
// The execution engine depends only on ports.AgentInvoker; this is the one
// concrete adapter that actually reaches an agent over the network.
package invoker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kaptinlin/jsonrepair"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nicolasances/gale-broker/internal/broker/errs"
	"github.com/nicolasances/gale-broker/internal/broker/ports"
)

const (
	traceScope = "gale-broker.invoker"
	spanExecute = "gale-broker.invoker.execute"

	attrTaskKind      = "gale.task_kind"
	attrCorrelationID = "gale.correlation_id"
	attrAgentName     = "gale.agent_name"
	attrStatusCode    = "gale.http_status"
	attrStopReason    = "gale.stop_reason"

	maxErrorBodyBytes = 4096
)

// wireRequest is the body sent to an agent: its Task plus the
// correlationId the spec's §6.2 wire shape adds alongside it.
type wireRequest struct {
	ports.Task
	CorrelationID ports.CorrelationID `json:"correlationId"`
}

// HTTP invokes agents over plain HTTP POST.
type HTTP struct {
	client  *http.Client
	logger  ports.Logger
}

// New builds an HTTP invoker with the given per-request timeout.
func New(timeout time.Duration, logger ports.Logger) *HTTP {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTP{client: &http.Client{Timeout: timeout}, logger: logger}
}

var _ ports.AgentInvoker = (*HTTP)(nil)

// Execute POSTs task to agent's execution endpoint and returns its typed
// response (spec §4.1). Non-2xx responses are mapped to a synthetic failed
// stop reason rather than returned as an error; a response body that isn't
// valid JSON, even after jsonrepair's best-effort fix, is a protocol error.
func (h *HTTP) Execute(ctx context.Context, agent ports.AgentDefinition, task ports.Task) (ports.AgentTaskResponse, error) {
	ctx, span := otel.Tracer(traceScope).Start(ctx, spanExecute, trace.WithAttributes(
		attribute.String(attrTaskKind, string(task.TaskKind)),
		attribute.String(attrCorrelationID, string(task.CorrelationID)),
		attribute.String(attrAgentName, agent.Name),
	))
	defer span.End()

	resp, err := h.do(ctx, agent, task)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return ports.AgentTaskResponse{}, err
	}
	span.SetAttributes(attribute.String(attrStopReason, string(resp.StopReason)))
	span.SetStatus(codes.Ok, "")
	return resp, nil
}

func (h *HTTP) do(ctx context.Context, agent ports.AgentDefinition, task ports.Task) (ports.AgentTaskResponse, error) {
	body, err := json.Marshal(wireRequest{Task: task, CorrelationID: task.CorrelationID})
	if err != nil {
		return ports.AgentTaskResponse{}, errs.Runtime("invoker.Execute", fmt.Errorf("marshal request: %w", err))
	}

	url := agent.Endpoint.BaseURL + agent.Endpoint.ExecutionPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return ports.AgentTaskResponse{}, errs.Runtime("invoker.Execute", fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-correlation-id", string(task.CorrelationID))
	if agent.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+agent.AuthToken)
	}

	httpResp, err := h.client.Do(req)
	if err != nil {
		return ports.AgentTaskResponse{}, errs.Transient("invoker.Execute", fmt.Errorf("calling agent %q: %w", agent.Name, err))
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return ports.AgentTaskResponse{}, errs.Transient("invoker.Execute", fmt.Errorf("reading agent %q response: %w", agent.Name, err))
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return h.failedResponse(httpResp.StatusCode, raw), nil
	}

	return h.parseResponse(agent, raw)
}

// failedResponse maps a non-2xx status to the uniform synthetic failure the
// engine expects (spec §4.1): a remote outage looks the same as a remote
// agent that decided to fail the task.
func (h *HTTP) failedResponse(status int, raw []byte) ports.AgentTaskResponse {
	if len(raw) > maxErrorBodyBytes {
		raw = raw[:maxErrorBodyBytes]
	}
	return ports.AgentTaskResponse{
		StopReason: ports.StopFailed,
		TaskOutput: map[string]any{
			"error":  fmt.Sprintf("agent returned status %d", status),
			"status": status,
			"body":   string(raw),
		},
	}
}

// parseResponse decodes raw as an AgentTaskResponse, falling back to
// jsonrepair's tolerant fixup on a strict parse failure. A body that still
// doesn't parse is a protocol error, not a synthesized stop reason: the spec
// draws a line between "the agent failed the task" and "the agent didn't
// speak the protocol" (§4.1).
func (h *HTTP) parseResponse(agent ports.AgentDefinition, raw []byte) (ports.AgentTaskResponse, error) {
	var resp ports.AgentTaskResponse
	if err := json.Unmarshal(raw, &resp); err == nil {
		return h.validateStopReason(agent, resp)
	}

	repaired, repairErr := jsonrepair.JSONRepair(string(raw))
	if repairErr != nil {
		return ports.AgentTaskResponse{}, errs.Protocol("invoker.Execute", fmt.Errorf("agent %q returned unparseable response: %w", agent.Name, repairErr))
	}
	if err := json.Unmarshal([]byte(repaired), &resp); err != nil {
		return ports.AgentTaskResponse{}, errs.Protocol("invoker.Execute", fmt.Errorf("agent %q returned unparseable response even after repair: %w", agent.Name, err))
	}
	if h.logger != nil {
		h.logger.Warn("agent response required jsonrepair", "agent", agent.Name)
	}
	return h.validateStopReason(agent, resp)
}

func (h *HTTP) validateStopReason(agent ports.AgentDefinition, resp ports.AgentTaskResponse) (ports.AgentTaskResponse, error) {
	switch resp.StopReason {
	case ports.StopCompleted, ports.StopFailed, ports.StopSubtasks:
		return resp, nil
	default:
		return ports.AgentTaskResponse{}, errs.Protocol("invoker.Execute", fmt.Errorf("agent %q returned unknown stopReason %q", agent.Name, resp.StopReason))
	}
}
