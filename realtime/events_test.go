package realtime

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name  string
		event string
		data  string
		want  Event
	}{
		{"chunk", EventChunk, `{"content":"hel"}`, Chunk{Content: "hel"}},
		{"execution completed", EventCompleted, `{"content":"done"}`, Completed{Content: "done"}},
		{"chat completed", EventCompleted, `{"result":"answer"}`, Completed{Result: "answer"}},
		{"agent response", EventAgentResponse, `{"token":"Hi","stream_finished":true,"result":"Hi there"}`,
			AgentResponse{Token: "Hi", StreamFinished: true, Result: "Hi there"}},
		{"agent action", EventAgentAction, `{"tool":"search","tool_input":{"q":"go"}}`,
			AgentAction{Tool: "search", ToolInput: json.RawMessage(`{"q":"go"}`)}},
		{"agent action error", EventAgentActionError, `{"tool":"search","tool_error":"quota"}`,
			AgentActionError{Tool: "search", ToolError: "quota"}},
		{"non-string content", EventChunk, `{"content":{"a":1}}`, Chunk{Content: `{"a":1}`}},
		{"empty payload", EventCompleted, ``, Completed{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode(tt.event, json.RawMessage(tt.data))
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Decode() mismatch (-want +got):\n%s", diff)
			}
			if got.EventName() != tt.event {
				t.Errorf("EventName() = %q, want %q", got.EventName(), tt.event)
			}
		})
	}
}

func TestDecodeErrors(t *testing.T) {
	if _, err := Decode("mystery", json.RawMessage(`{}`)); err == nil {
		t.Error("Decode(unknown) error = nil, want error")
	}
	if _, err := Decode(EventChunk, json.RawMessage(`[1,2]`)); err == nil {
		t.Error("Decode(array) error = nil, want error")
	}
}

func TestTypeGuards(t *testing.T) {
	var resp Event = AgentResponse{Token: "x"}
	var action Event = AgentAction{Tool: "t"}
	var actionErr Event = AgentActionError{Tool: "t"}

	if !IsAgentResponse(resp) || IsAgentResponse(action) {
		t.Error("IsAgentResponse() misclassified events")
	}
	if !IsAgentAction(action) || IsAgentAction(actionErr) {
		t.Error("IsAgentAction() misclassified events")
	}
	if !IsAgentActionError(actionErr) || IsAgentActionError(resp) {
		t.Error("IsAgentActionError() misclassified events")
	}
	if !IsCompleted(Completed{}) || IsCompleted(resp) {
		t.Error("IsCompleted() misclassified events")
	}
}

func TestCompletedText(t *testing.T) {
	if got := (Completed{Content: "c"}).Text(); got != "c" {
		t.Errorf("Text() = %q, want %q", got, "c")
	}
	if got := (Completed{Content: "c", Result: "r"}).Text(); got != "r" {
		t.Errorf("Text() = %q, want %q", got, "r")
	}
}
