package execution

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// ID is a remote identifier that may arrive as a JSON number or string
type ID string

// UnmarshalJSON accepts numbers and strings
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id must be a number or string: %w", err)
	}
	*id = ID(n.String())
	return nil
}

// MarshalJSON emits numeric ids as numbers
func (id ID) MarshalJSON() ([]byte, error) {
	if _, err := strconv.ParseInt(string(id), 10, 64); err == nil {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

func (id ID) String() string {
	return string(id)
}

// Status is the lifecycle state of an execution
type Status string

const (
	StatusPending   Status = "pending"
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSuccess   Status = "success"
	StatusError     Status = "error"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further snapshots follow s. An empty status
// is not terminal.
func (s Status) Terminal() bool {
	switch s {
	case "", StatusPending, StatusQueued, StatusRunning:
		return false
	default:
		return true
	}
}

// Result is a snapshot of a remote execution record
type Result struct {
	ID              ID              `json:"id"`
	AppID           ID              `json:"airops_app_id"`
	UUID            string          `json:"uuid,omitempty"`
	Status          Status          `json:"status"`
	Output          json.RawMessage `json:"output,omitempty"`
	ErrorCode       string          `json:"error_code,omitempty"`
	ErrorMessage    string          `json:"error_message,omitempty"`
	StreamChannelID string          `json:"stream_channel_id,omitempty"`
}

// Text returns Output as a string when it is a JSON string, else the raw JSON
func (r *Result) Text() string {
	if r == nil || len(r.Output) == 0 || string(r.Output) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(r.Output, &s); err == nil {
		return s
	}
	return string(r.Output)
}

// Succeeded reports whether the execution finished successfully
func (r *Result) Succeeded() bool {
	return r != nil && r.Status == StatusSuccess
}

// Handle identifies a submitted execution
type Handle struct {
	ExecutionID     string    `json:"execution_id,omitempty"`
	AppID           string    `json:"app_id"`
	SessionID       string    `json:"session_id,omitempty"`
	StreamChannelID string    `json:"stream_channel_id,omitempty"`
	Kind            string    `json:"kind"`
	CreatedAt       time.Time `json:"created_at"`
}

// Ref returns the execution id, or the session id for chats without one
func (h Handle) Ref() string {
	if h.ExecutionID != "" {
		return h.ExecutionID
	}
	return h.SessionID
}

// Kinds of tracked work
const (
	KindExecution = "execution"
	KindChat      = "chat"
)

// Resolution sources
const (
	SourcePush    = "push"
	SourcePoll    = "poll"
	SourceCancel  = "cancel"
	SourceTimeout = "timeout"
	SourceError   = "error"
)

// submitResponse is the body returned by the submit endpoints
type submitResponse struct {
	Execution *Result `json:"airops_app_execution"`
}

// decode reads a bare execution record or one wrapped like a submit response
func (r *Result) decode(raw json.RawMessage) error {
	if err := json.Unmarshal(raw, r); err != nil {
		return fmt.Errorf("decoding execution: %w", err)
	}
	if r.ID != "" || r.Status != "" {
		return nil
	}
	var wrapped submitResponse
	if err := json.Unmarshal(raw, &wrapped); err == nil && wrapped.Execution != nil {
		*r = *wrapped.Execution
	}
	return nil
}
