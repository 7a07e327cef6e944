package managers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/xid"
	"github.com/rs/zerolog/log"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/toolbridge/toolbridge/internal/domain"
)

// RESTAdapter is the seam where connector-specific REST clients plug in.
// Adapters register by connector slug; connectors without one fall back to
// the stub adapter.
type RESTAdapter interface {
	Execute(ctx context.Context, connector domain.Connector, tool domain.ConnectorTool, args map[string]any) (json.RawMessage, error)
}

type toolExecutionManager struct {
	connectors   domain.ConnectorStore
	tools        domain.ToolStore
	jobs         domain.JobStore
	events       domain.EventStore
	actionLogs   domain.ActionLogStore
	restAdapters map[string]RESTAdapter
	client       *http.Client
	notifier     domain.Notifier
}

type ToolExecutionManagerDependencies struct {
	ConnectorStore domain.ConnectorStore
	ToolStore      domain.ToolStore
	JobStore       domain.JobStore
	EventStore     domain.EventStore
	ActionLogStore domain.ActionLogStore
	RESTAdapters   map[string]RESTAdapter
	HTTPClient     *http.Client
	Notifier       domain.Notifier
}

func NewToolExecutionManager(deps ToolExecutionManagerDependencies) domain.ToolExecutionService {
	client := deps.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	notifier := deps.Notifier
	if notifier == nil {
		notifier = NoopNotifier{}
	}

	return &toolExecutionManager{
		connectors:   deps.ConnectorStore,
		tools:        deps.ToolStore,
		jobs:         deps.JobStore,
		events:       deps.EventStore,
		actionLogs:   deps.ActionLogStore,
		restAdapters: deps.RESTAdapters,
		client:       client,
		notifier:     notifier,
	}
}

// ExecuteTool runs one tool invocation through the job state machine:
// queued -> running -> succeeded|failed. The job id is caller-supplied and
// assumed fresh per attempt; re-using an id overwrites the prior job.
func (m *toolExecutionManager) ExecuteTool(ctx context.Context, p domain.ExecuteToolParams) (domain.ExecuteToolResult, error) {
	started := time.Now()

	job := domain.PipelineJob{
		ID:          p.JobID,
		UserID:      p.UserID,
		ConnectorID: p.ConnectorID,
		ToolName:    p.ToolName,
		Status:      domain.JobStatusQueued,
		Args:        p.Args,
		CreatedAt:   started.UTC(),
	}

	if err := m.jobs.CreateJob(ctx, job); err != nil {
		return domain.ExecuteToolResult{}, fmt.Errorf("failed to create job: %w", err)
	}

	connector, err := m.connectors.GetConnector(ctx, p.ConnectorID)
	if err != nil {
		if domain.IsNotFound(err) {
			return m.failJob(ctx, job, started, "Connector not found", nil,
				domain.NewNotFoundError("Connector not found"))
		}
		return domain.ExecuteToolResult{}, err
	}

	tool, err := m.tools.GetTool(ctx, p.ConnectorID, p.ToolName)
	if err != nil {
		if domain.IsNotFound(err) {
			message := fmt.Sprintf("Tool '%s' not found", p.ToolName)
			return m.failJob(ctx, job, started, message, nil, domain.NewNotFoundError(message))
		}
		return domain.ExecuteToolResult{}, err
	}

	if violations := validateToolArgs(tool.Parameters, p.Args); len(violations) > 0 {
		return m.failJob(ctx, job, started, "Validation failed", violations,
			domain.NewValidationError("Validation failed", violations...))
	}

	now := time.Now().UTC()
	job.Status = domain.JobStatusRunning
	job.StartedAt = &now
	if err := m.jobs.UpdateJob(ctx, job); err != nil {
		return domain.ExecuteToolResult{}, fmt.Errorf("failed to mark job running: %w", err)
	}

	// The args travel with the event so a run can be replayed while debugging.
	m.emitEvent(ctx, job.ID, domain.EventLevelInfo,
		fmt.Sprintf("Executing tool '%s'", tool.Name), map[string]any{"args": p.Args})

	output, execErr := m.dispatch(ctx, connector, tool, p.Args)
	latency := time.Since(started).Milliseconds()

	if execErr != nil {
		return m.failJob(ctx, job, started, execErr.Error(), nil, nil)
	}

	finished := time.Now().UTC()
	job.Status = domain.JobStatusSucceeded
	job.Output = output
	job.FinishedAt = &finished
	if err := m.jobs.UpdateJob(ctx, job); err != nil {
		return domain.ExecuteToolResult{}, fmt.Errorf("failed to mark job succeeded: %w", err)
	}

	m.emitEvent(ctx, job.ID, domain.EventLevelInfo, "Tool execution completed", map[string]any{
		"result": json.RawMessage(output),
	})

	m.appendActionLog(ctx, p, output, domain.ActionStatusSuccess, "", latency)

	return domain.ExecuteToolResult{
		Success:   true,
		Result:    output,
		LatencyMS: latency,
	}, nil
}

func (m *toolExecutionManager) dispatch(ctx context.Context, connector domain.Connector, tool domain.ConnectorTool, args map[string]any) (json.RawMessage, error) {
	switch tool.Source {
	case domain.ToolSourceMCP:
		return m.callMCPTool(ctx, connector, tool.Name, args)
	case domain.ToolSourceREST:
		adapter, ok := m.restAdapters[connector.Slug]
		if !ok {
			adapter = stubRESTAdapter{}
		}
		return adapter.Execute(ctx, connector, tool, args)
	default:
		return nil, fmt.Errorf("unknown tool source %q", tool.Source)
	}
}

type jsonRPCRequest struct {
	JSONRPC string         `json:"jsonrpc"`
	ID      string         `json:"id"`
	Method  string         `json:"method"`
	Params  map[string]any `json:"params"`
}

type jsonRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type jsonRPCResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *jsonRPCError   `json:"error"`
}

func (m *toolExecutionManager) callMCPTool(ctx context.Context, connector domain.Connector, toolName string, args map[string]any) (json.RawMessage, error) {
	result, err := m.callMCP(ctx, connector, "tools/call", map[string]any{
		"name":      toolName,
		"arguments": args,
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (m *toolExecutionManager) callMCP(ctx context.Context, connector domain.Connector, method string, params map[string]any) (json.RawMessage, error) {
	if connector.MCPServerURL == "" {
		return nil, domain.NewConfigurationError(
			fmt.Sprintf("connector %s has no MCP server URL", connector.Slug))
	}

	envelope := jsonRPCRequest{
		JSONRPC: "2.0",
		ID:      uuid.NewString(),
		Method:  method,
		Params:  params,
	}

	body, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("failed to encode JSON-RPC request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, connector.MCPServerURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build MCP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("MCP server unreachable: %w", err)
	}
	defer resp.Body.Close()

	var raw bytes.Buffer
	if _, err := raw.ReadFrom(resp.Body); err != nil {
		return nil, fmt.Errorf("failed to read MCP response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		message := strings.TrimSpace(raw.String())
		if message == "" {
			message = resp.Status
		}
		return nil, fmt.Errorf("MCP server returned %d: %s", resp.StatusCode, message)
	}

	var rpcResponse jsonRPCResponse
	if err := json.Unmarshal(raw.Bytes(), &rpcResponse); err != nil {
		return nil, fmt.Errorf("failed to decode MCP response: %w", err)
	}

	if rpcResponse.Error != nil {
		return nil, fmt.Errorf("MCP error %d: %s", rpcResponse.Error.Code, rpcResponse.Error.Message)
	}

	return rpcResponse.Result, nil
}

// mcpToolList is the tools/list result shape.
type mcpToolList struct {
	Tools []struct {
		Name        string                 `json:"name"`
		Description string                 `json:"description"`
		InputSchema domain.ParameterSchema `json:"inputSchema"`
	} `json:"tools"`
}

// DiscoverTools queries a connector's MCP server for its tool catalog and
// merges the result into the stored tool definitions.
func (m *toolExecutionManager) DiscoverTools(ctx context.Context, connectorID string) ([]domain.ConnectorTool, error) {
	connector, err := m.connectors.GetConnector(ctx, connectorID)
	if err != nil {
		return nil, err
	}

	result, err := m.callMCP(ctx, connector, "tools/list", map[string]any{})
	if err != nil {
		return nil, err
	}

	var list mcpToolList
	if err := json.Unmarshal(result, &list); err != nil {
		return nil, fmt.Errorf("failed to decode tool list: %w", err)
	}

	discovered := make([]domain.ConnectorTool, 0, len(list.Tools))
	for _, remote := range list.Tools {
		tool := domain.ConnectorTool{
			ID:          xid.New().String(),
			ConnectorID: connector.ID,
			Name:        remote.Name,
			Description: remote.Description,
			Parameters:  remote.InputSchema,
			Source:      domain.ToolSourceMCP,
			CreatedAt:   time.Now().UTC(),
		}
		if err := m.tools.UpsertTool(ctx, tool); err != nil {
			return nil, fmt.Errorf("failed to store discovered tool %q: %w", remote.Name, err)
		}
		discovered = append(discovered, tool)
	}

	log.Info().
		Str("connector_id", connector.ID).
		Int("tool_count", len(discovered)).
		Msg("Discovered MCP tools")

	return discovered, nil
}

// RegisterTool persists a tool definition after checking that its declared
// parameter schema is itself valid JSON Schema. Broken schemas are rejected
// here instead of surfacing as validation noise at execution time.
func (m *toolExecutionManager) RegisterTool(ctx context.Context, tool domain.ConnectorTool) (domain.ConnectorTool, error) {
	if tool.Name == "" {
		return domain.ConnectorTool{}, domain.NewValidationError("tool name is required")
	}
	if tool.Source != domain.ToolSourceMCP && tool.Source != domain.ToolSourceREST {
		return domain.ConnectorTool{}, domain.NewValidationError(
			fmt.Sprintf("unknown tool source %q", tool.Source))
	}

	if _, err := m.connectors.GetConnector(ctx, tool.ConnectorID); err != nil {
		return domain.ConnectorTool{}, err
	}

	if err := compileParameterSchema(tool.Parameters); err != nil {
		return domain.ConnectorTool{}, domain.NewValidationError(
			fmt.Sprintf("invalid parameter schema: %v", err))
	}

	if tool.ID == "" {
		tool.ID = xid.New().String()
	}
	tool.CreatedAt = time.Now().UTC()

	if err := m.tools.UpsertTool(ctx, tool); err != nil {
		return domain.ConnectorTool{}, fmt.Errorf("failed to store tool: %w", err)
	}

	return tool, nil
}

func compileParameterSchema(schema domain.ParameterSchema) error {
	document := map[string]any{
		"type":       "object",
		"properties": schema.Properties,
	}
	if len(schema.Required) > 0 {
		document["required"] = schema.Required
	}

	raw, err := json.Marshal(document)
	if err != nil {
		return err
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("parameters.json", bytes.NewReader(raw)); err != nil {
		return err
	}

	_, err = compiler.Compile("parameters.json")
	return err
}

func (m *toolExecutionManager) failJob(ctx context.Context, job domain.PipelineJob, started time.Time, message string, details []string, typed error) (domain.ExecuteToolResult, error) {
	latency := time.Since(started).Milliseconds()
	finished := time.Now().UTC()

	job.Status = domain.JobStatusFailed
	job.Error = message
	job.FinishedAt = &finished

	if err := m.jobs.UpdateJob(ctx, job); err != nil {
		log.Error().Err(err).Str("job_id", job.ID).Msg("Failed to mark job failed")
	}

	var data map[string]any
	if len(details) > 0 {
		data = map[string]any{"errors": details}
	}
	m.emitEvent(ctx, job.ID, domain.EventLevelError, message, data)

	m.appendActionLog(ctx, domain.ExecuteToolParams{
		JobID:       job.ID,
		ConnectorID: job.ConnectorID,
		ToolName:    job.ToolName,
		Args:        job.Args,
		UserID:      job.UserID,
	}, nil, domain.ActionStatusError, message, latency)

	m.notifier.Notify(ctx, domain.Notification{
		Subject: "Tool execution failed",
		Body:    fmt.Sprintf("Job %s (%s) failed: %s", job.ID, job.ToolName, message),
	})

	result := domain.ExecuteToolResult{
		Success:   false,
		Error:     message,
		Details:   details,
		LatencyMS: latency,
	}

	return result, typed
}

func (m *toolExecutionManager) emitEvent(ctx context.Context, jobID string, level domain.EventLevel, message string, data map[string]any) {
	event := domain.PipelineEvent{
		ID:        xid.New().String(),
		JobID:     jobID,
		Level:     level,
		Message:   message,
		Data:      data,
		CreatedAt: time.Now().UTC(),
	}

	if err := m.events.AppendEvent(ctx, event); err != nil {
		log.Error().Err(err).Str("job_id", jobID).Msg("Failed to append pipeline event")
	}
}

func (m *toolExecutionManager) appendActionLog(ctx context.Context, p domain.ExecuteToolParams, response json.RawMessage, status domain.ActionStatus, errorText string, latency int64) {
	entry := domain.ActionLog{
		ID:          xid.New().String(),
		UserID:      p.UserID,
		ConnectorID: p.ConnectorID,
		ToolName:    p.ToolName,
		RequestArgs: p.Args,
		Response:    response,
		Status:      status,
		Error:       errorText,
		LatencyMS:   latency,
		CreatedAt:   time.Now().UTC(),
	}

	if err := m.actionLogs.AppendActionLog(ctx, entry); err != nil {
		log.Error().Err(err).Str("job_id", p.JobID).Msg("Failed to append action log")
	}
}

// stubRESTAdapter stands in for connector-specific REST clients. It answers
// with a deterministic envelope after a fixed delay so the pipeline around it
// can be exercised end to end.
type stubRESTAdapter struct{}

const stubRESTDelay = 100 * time.Millisecond

func (stubRESTAdapter) Execute(ctx context.Context, connector domain.Connector, tool domain.ConnectorTool, args map[string]any) (json.RawMessage, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(stubRESTDelay):
	}

	payload, err := json.Marshal(map[string]any{
		"status":    "ok",
		"connector": connector.Slug,
		"tool":      tool.Name,
		"args":      args,
	})
	if err != nil {
		return nil, err
	}

	return payload, nil
}
