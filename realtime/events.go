package realtime

import (
	"encoding/json"
	"fmt"
)

// Event names delivered on stream channels
const (
	EventChunk            = "chunk"
	EventCompleted        = "completed"
	EventAgentResponse    = "agent-response"
	EventAgentAction      = "agent-action"
	EventAgentActionError = "agent-action-error"
)

// Event is one message received on a stream channel. The concrete type is
// one of Chunk, Completed, AgentResponse, AgentAction or AgentActionError.
type Event interface {
	EventName() string
}

// Handler receives chat stream events
type Handler func(Event)

// Chunk is a partial output of a streaming execution
type Chunk struct {
	Content string `json:"content"`
}

// Completed ends a stream. Executions fill Content, chats fill Result.
type Completed struct {
	Content string `json:"content,omitempty"`
	Result  string `json:"result,omitempty"`
}

// Text returns whichever of Result or Content is set
func (c Completed) Text() string {
	if c.Result != "" {
		return c.Result
	}
	return c.Content
}

// AgentResponse is a token of agent output
type AgentResponse struct {
	Token          string `json:"token"`
	StreamFinished bool   `json:"stream_finished"`
	Result         string `json:"result,omitempty"`
}

// AgentAction reports a tool invocation by the agent
type AgentAction struct {
	Tool      string          `json:"tool"`
	ToolInput json.RawMessage `json:"tool_input,omitempty"`
}

// AgentActionError reports a failed tool invocation
type AgentActionError struct {
	Tool      string `json:"tool"`
	ToolError string `json:"tool_error"`
}

func (Chunk) EventName() string            { return EventChunk }
func (Completed) EventName() string        { return EventCompleted }
func (AgentResponse) EventName() string    { return EventAgentResponse }
func (AgentAction) EventName() string      { return EventAgentAction }
func (AgentActionError) EventName() string { return EventAgentActionError }

// IsAgentResponse reports whether e is an AgentResponse
func IsAgentResponse(e Event) bool {
	_, ok := e.(AgentResponse)
	return ok
}

// IsAgentAction reports whether e is an AgentAction
func IsAgentAction(e Event) bool {
	_, ok := e.(AgentAction)
	return ok
}

// IsAgentActionError reports whether e is an AgentActionError
func IsAgentActionError(e Event) bool {
	_, ok := e.(AgentActionError)
	return ok
}

// IsCompleted reports whether e is a Completed
func IsCompleted(e Event) bool {
	_, ok := e.(Completed)
	return ok
}

// Decode parses the payload of a named stream event
func Decode(name string, data json.RawMessage) (Event, error) {
	fields := map[string]json.RawMessage{}
	if len(data) > 0 && string(data) != "null" {
		if err := json.Unmarshal(data, &fields); err != nil {
			return nil, fmt.Errorf("decoding %s event: %w", name, err)
		}
	}

	switch name {
	case EventChunk:
		return Chunk{Content: text(fields["content"])}, nil
	case EventCompleted:
		return Completed{Content: text(fields["content"]), Result: text(fields["result"])}, nil
	case EventAgentResponse:
		var finished bool
		_ = json.Unmarshal(fields["stream_finished"], &finished)
		return AgentResponse{
			Token:          text(fields["token"]),
			StreamFinished: finished,
			Result:         text(fields["result"]),
		}, nil
	case EventAgentAction:
		return AgentAction{Tool: text(fields["tool"]), ToolInput: fields["tool_input"]}, nil
	case EventAgentActionError:
		return AgentActionError{Tool: text(fields["tool"]), ToolError: text(fields["tool_error"])}, nil
	default:
		return nil, fmt.Errorf("unknown event %q", name)
	}
}

// text returns a JSON string's value, or the raw JSON for any other value
func text(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
