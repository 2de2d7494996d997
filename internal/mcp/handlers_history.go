package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/HyphaGroup/airops-go/execution"
	"github.com/HyphaGroup/airops-go/internal/store"
)

// ExecutionHistoryParams are the arguments of execution_history
type ExecutionHistoryParams struct {
	App        string `json:"app,omitempty" description:"Only records for this app name or id"`
	Kind       string `json:"kind,omitempty" description:"execution or chat" enum:"execution,chat"`
	Unresolved bool   `json:"unresolved,omitempty" description:"Only work that has not resolved"`
	Limit      int    `json:"limit,omitempty" description:"Maximum records to return (default 50)"`
}

func (s *Server) handleExecutionHistory(ctx context.Context, request *mcp.CallToolRequest, params *ExecutionHistoryParams) (*mcp.CallToolResult, any, error) {
	filter := store.ListFilter{
		Kind:       params.Kind,
		Unresolved: params.Unresolved,
		Limit:      params.Limit,
	}
	if params.App != "" {
		appID, _, err := s.resolveApp(params.App)
		if err != nil {
			return nil, nil, err
		}
		filter.AppID = appID
	}
	switch params.Kind {
	case "", execution.KindExecution, execution.KindChat:
	default:
		return nil, nil, fmt.Errorf("invalid kind %q: must be %s or %s", params.Kind, execution.KindExecution, execution.KindChat)
	}

	records, err := s.history.List(ctx, filter)
	if err != nil {
		return nil, nil, err
	}
	if records == nil {
		records = []*store.Record{}
	}
	return nil, map[string]any{"records": records, "count": len(records)}, nil
}
