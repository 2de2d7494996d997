package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/HyphaGroup/airops-go/apperr"
	"github.com/HyphaGroup/airops-go/execution"
	"github.com/HyphaGroup/airops-go/internal/audit"
	"github.com/HyphaGroup/airops-go/internal/validation"
	"github.com/HyphaGroup/airops-go/realtime"
)

// AppView describes a configured app
type AppView struct {
	Name         string             `json:"name"`
	ID           string             `json:"id"`
	Version      int                `json:"version,omitempty"`
	Description  string             `json:"description,omitempty"`
	Agent        bool               `json:"agent,omitempty"`
	InputsSchema *jsonschema.Schema `json:"inputs_schema,omitempty"`
}

// ExecutionView is the tool-facing form of an execution snapshot
type ExecutionView struct {
	ExecutionID  string          `json:"execution_id"`
	AppID        string          `json:"app_id"`
	Status       string          `json:"status"`
	Output       json.RawMessage `json:"output,omitempty"`
	ErrorCode    string          `json:"error_code,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	Streamed     string          `json:"streamed,omitempty"`
	TimedOut     bool            `json:"timed_out,omitempty"`
	Message      string          `json:"message,omitempty"`
}

// AppsParams has no fields; the apps tool takes no arguments
type AppsParams struct{}

func (s *Server) handleApps(ctx context.Context, request *mcp.CallToolRequest, params *AppsParams) (*mcp.CallToolResult, any, error) {
	names := s.apps.Names()
	apps := make([]AppView, 0, len(names))
	for _, name := range names {
		app, ok := s.apps.Lookup(name)
		if !ok {
			continue
		}
		apps = append(apps, AppView{
			Name:         name,
			ID:           app.ID,
			Version:      app.Version,
			Description:  app.Description,
			Agent:        app.Agent,
			InputsSchema: app.Inputs,
		})
	}
	return nil, map[string]any{"apps": apps, "count": len(apps)}, nil
}

// AppExecuteParams are the arguments of app_execute
type AppExecuteParams struct {
	App            string         `json:"app" description:"App name or id"`
	Inputs         map[string]any `json:"inputs,omitempty" description:"Input values for the app"`
	Version        int            `json:"version,omitempty" description:"App version to run"`
	Wait           *bool          `json:"wait,omitempty" description:"Wait for the result (default true)"`
	Stream         bool           `json:"stream,omitempty" description:"Stream output over the realtime channel"`
	TimeoutSeconds int            `json:"timeout_seconds,omitempty" description:"Seconds to wait for the result"`
}

func (s *Server) handleAppExecute(ctx context.Context, request *mcp.CallToolRequest, params *AppExecuteParams) (*mcp.CallToolResult, any, error) {
	appID, version, err := s.resolveApp(params.App)
	if err != nil {
		return nil, nil, err
	}
	if params.Version > 0 {
		version = params.Version
	}
	if params.Inputs == nil {
		params.Inputs = map[string]any{}
	}

	var (
		mu       sync.Mutex
		streamed strings.Builder
	)
	req := execution.Request{
		AppID:   appID,
		Version: version,
		Payload: map[string]any{"inputs": params.Inputs},
		Stream:  params.Stream,
	}
	if params.Stream {
		req.OnChunk = func(c realtime.Chunk) {
			mu.Lock()
			streamed.WriteString(c.Content)
			mu.Unlock()
		}
	}

	exec, err := s.client.Apps().Execute(ctx, req)
	s.recordAudit(ctx, audit.Event{
		Operation:   audit.OpExecutionSubmit,
		AppID:       appID,
		ExecutionID: executionID(exec),
		Details:     map[string]any{"version": version, "stream": params.Stream},
	}, err)
	if err != nil {
		return nil, nil, err
	}

	if params.Wait != nil && !*params.Wait {
		return nil, ExecutionView{
			ExecutionID: exec.ID(),
			AppID:       exec.Handle().AppID,
			Status:      string(execution.StatusPending),
			Message:     "submitted; use app_execution_get to fetch the result",
		}, nil
	}

	view, err := s.waitForResult(ctx, exec, params.TimeoutSeconds)
	if err != nil {
		return nil, nil, err
	}
	mu.Lock()
	view.Streamed = streamed.String()
	mu.Unlock()
	return nil, view, nil
}

// ExecutionGetParams are the arguments of app_execution_get
type ExecutionGetParams struct {
	App            string `json:"app" description:"App name or id"`
	ExecutionID    string `json:"execution_id" description:"Execution id"`
	Wait           bool   `json:"wait,omitempty" description:"Poll until the execution finishes"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty" description:"Seconds to wait when wait is set"`
}

func (s *Server) handleExecutionGet(ctx context.Context, request *mcp.CallToolRequest, params *ExecutionGetParams) (*mcp.CallToolResult, any, error) {
	appID, _, err := s.resolveApp(params.App)
	if err != nil {
		return nil, nil, err
	}
	if err := validation.ValidateExecutionID(params.ExecutionID); err != nil {
		return nil, nil, err
	}

	if params.Wait {
		view, err := s.waitForResult(ctx, s.client.Apps().Resume(ctx, appID, params.ExecutionID), params.TimeoutSeconds)
		if err != nil {
			return nil, nil, err
		}
		return nil, view, nil
	}

	res, err := s.client.Apps().GetResults(ctx, appID, params.ExecutionID)
	if err != nil {
		return nil, nil, err
	}
	if res == nil {
		return nil, nil, fmt.Errorf("execution %s not found", params.ExecutionID)
	}
	return nil, newExecutionView(res, appID, params.ExecutionID), nil
}

// ExecutionCancelParams are the arguments of app_execution_cancel
type ExecutionCancelParams struct {
	App         string `json:"app" description:"App name or id"`
	ExecutionID string `json:"execution_id" description:"Execution id"`
}

func (s *Server) handleExecutionCancel(ctx context.Context, request *mcp.CallToolRequest, params *ExecutionCancelParams) (*mcp.CallToolResult, any, error) {
	appID, _, err := s.resolveApp(params.App)
	if err != nil {
		return nil, nil, err
	}
	if err := validation.ValidateExecutionID(params.ExecutionID); err != nil {
		return nil, nil, err
	}

	err = s.client.Apps().Cancel(ctx, appID, params.ExecutionID)
	s.recordAudit(ctx, audit.Event{
		Operation:   audit.OpExecutionCancel,
		AppID:       appID,
		ExecutionID: params.ExecutionID,
	}, err)
	if err != nil {
		return nil, nil, err
	}
	return nil, map[string]any{
		"execution_id": params.ExecutionID,
		"app_id":       appID,
		"status":       string(execution.StatusCancelled),
	}, nil
}

// resolveApp maps an app name or id to the app id and configured version
func (s *Server) resolveApp(app string) (string, int, error) {
	if app == "" {
		return "", 0, apperr.MissingParameter("app")
	}
	appID, version := s.apps.Resolve(app)
	if err := validation.ValidateAppID(appID); err != nil {
		return "", 0, err
	}
	return appID, version, nil
}

// waitForResult waits up to timeoutSeconds for exec. Running out of time is
// reported in the view rather than as an error because the execution keeps
// running remotely.
func (s *Server) waitForResult(ctx context.Context, exec *execution.Execution, timeoutSeconds int) (ExecutionView, error) {
	waitCtx := ctx
	if timeoutSeconds > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, time.Duration(timeoutSeconds)*time.Second)
		defer cancel()
	}

	h := exec.Handle()
	res, err := exec.Result(waitCtx)
	switch {
	case err == nil:
		return newExecutionView(res, h.AppID, h.Ref()), nil
	case errors.Is(err, apperr.ErrExecutionTimeout),
		errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		return ExecutionView{
			ExecutionID: h.Ref(),
			AppID:       h.AppID,
			Status:      string(execution.StatusRunning),
			TimedOut:    true,
			Message:     "still running; use app_execution_get with wait=true to resume",
		}, nil
	default:
		return ExecutionView{}, err
	}
}

func newExecutionView(res *execution.Result, appID, executionID string) ExecutionView {
	view := ExecutionView{
		ExecutionID:  res.ID.String(),
		AppID:        res.AppID.String(),
		Status:       string(res.Status),
		Output:       res.Output,
		ErrorCode:    res.ErrorCode,
		ErrorMessage: res.ErrorMessage,
	}
	if view.ExecutionID == "" {
		view.ExecutionID = executionID
	}
	if view.AppID == "" {
		view.AppID = appID
	}
	return view
}

func executionID(exec *execution.Execution) string {
	if exec == nil {
		return ""
	}
	return exec.ID()
}
