package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/HyphaGroup/airops-go/apperr"
	"github.com/HyphaGroup/airops-go/chat"
	"github.com/HyphaGroup/airops-go/internal/audit"
	"github.com/HyphaGroup/airops-go/internal/validation"
	"github.com/HyphaGroup/airops-go/realtime"
)

// AgentChatParams are the arguments of agent_chat
type AgentChatParams struct {
	App            string         `json:"app" description:"Agent app name or id"`
	Message        string         `json:"message" description:"Message to send"`
	SessionID      string         `json:"session_id,omitempty" description:"Session to continue"`
	Inputs         map[string]any `json:"inputs,omitempty" description:"Extra inputs sent with the message"`
	TimeoutSeconds int            `json:"timeout_seconds,omitempty" description:"Seconds to wait for the reply"`
}

// ChatAction is a tool invocation reported by the agent
type ChatAction struct {
	Tool  string          `json:"tool"`
	Input json.RawMessage `json:"input,omitempty"`
	Error string          `json:"error,omitempty"`
}

// ChatView is the result of agent_chat
type ChatView struct {
	SessionID   string       `json:"session_id"`
	ExecutionID string       `json:"execution_id,omitempty"`
	Reply       string       `json:"reply"`
	Actions     []ChatAction `json:"actions,omitempty"`
	TimedOut    bool         `json:"timed_out,omitempty"`
}

// chatCollector accumulates agent events for one turn
type chatCollector struct {
	mu      sync.Mutex
	tokens  strings.Builder
	actions []ChatAction
}

func (c *chatCollector) handle(ev realtime.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch e := ev.(type) {
	case realtime.AgentResponse:
		c.tokens.WriteString(e.Token)
	case realtime.AgentAction:
		c.actions = append(c.actions, ChatAction{Tool: e.Tool, Input: e.ToolInput})
	case realtime.AgentActionError:
		c.actions = append(c.actions, ChatAction{Tool: e.Tool, Error: e.ToolError})
	}
}

func (c *chatCollector) snapshot() (string, []ChatAction) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tokens.String(), append([]ChatAction(nil), c.actions...)
}

func (s *Server) handleAgentChat(ctx context.Context, request *mcp.CallToolRequest, params *AgentChatParams) (*mcp.CallToolResult, any, error) {
	appID, _, err := s.resolveApp(params.App)
	if err != nil {
		return nil, nil, err
	}
	if err := validation.ValidateMessage(params.Message); err != nil {
		return nil, nil, err
	}
	if params.SessionID != "" {
		if err := validation.ValidateSessionID(params.SessionID); err != nil {
			return nil, nil, err
		}
	}

	collector := &chatCollector{}
	sess, err := s.client.Apps().ChatStream(ctx, chat.Request{
		AppID:     appID,
		Message:   params.Message,
		SessionID: params.SessionID,
		Inputs:    params.Inputs,
		OnEvent:   collector.handle,
	})
	event := audit.Event{Operation: audit.OpChatSubmit, AppID: appID}
	if sess != nil {
		event.SessionID = sess.SessionID
		event.ExecutionID = sess.ExecutionID()
	}
	s.recordAudit(ctx, event, err)
	if err != nil {
		return nil, nil, err
	}

	waitCtx := ctx
	if params.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, time.Duration(params.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	view := ChatView{SessionID: sess.SessionID, ExecutionID: sess.ExecutionID()}
	res, err := sess.Result(waitCtx)
	tokens, actions := collector.snapshot()
	view.Actions = actions
	switch {
	case err == nil:
		view.Reply = res.Result
		if view.Reply == "" {
			view.Reply = tokens
		}
	case errors.Is(err, apperr.ErrExecutionTimeout),
		errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		view.Reply = tokens
		view.TimedOut = true
	default:
		return nil, nil, err
	}
	return nil, view, nil
}
