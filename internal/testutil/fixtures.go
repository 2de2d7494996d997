package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// FakeAPI is an httptest server speaking the AirOps app API.
// GET calls walk through the configured statuses; the last one repeats.
type FakeAPI struct {
	*httptest.Server

	mu          sync.Mutex
	executionID any
	appID       any
	statuses    []string
	output      any
	errorCode   string
	errorMsg    string
	failStatus  int
	failBody    string
	cancelFail  int
	cancelBody  string
	chatBody    any
	onSubmit    func(path string, payload map[string]any)

	submits  []map[string]any
	paths    []string
	headers  []http.Header
	gets     int
	cancels  int
	authReqs []map[string]any
}

// APIOption configures a FakeAPI
type APIOption func(*FakeAPI)

// WithExecution sets the ids returned by the submit endpoint
func WithExecution(executionID, appID any) APIOption {
	return func(f *FakeAPI) {
		f.executionID = executionID
		f.appID = appID
	}
}

// WithStatuses sets the sequence of statuses returned by polls
func WithStatuses(statuses ...string) APIOption {
	return func(f *FakeAPI) {
		f.statuses = statuses
	}
}

// WithOutput sets the output of the terminal record
func WithOutput(output any) APIOption {
	return func(f *FakeAPI) {
		f.output = output
	}
}

// WithExecutionError sets the error fields of the record
func WithExecutionError(code, message string) APIOption {
	return func(f *FakeAPI) {
		f.errorCode = code
		f.errorMsg = message
	}
}

// WithFailure makes every request fail with status and body
func WithFailure(status int, body string) APIOption {
	return func(f *FakeAPI) {
		f.failStatus = status
		f.failBody = body
	}
}

// WithCancelFailure makes the cancel endpoint fail with status and body
func WithCancelFailure(status int, body string) APIOption {
	return func(f *FakeAPI) {
		f.cancelFail = status
		f.cancelBody = body
	}
}

// WithChatResponse sets the body returned by the chat endpoint
func WithChatResponse(body any) APIOption {
	return func(f *FakeAPI) {
		f.chatBody = body
	}
}

// WithSubmitHook runs fn with each submit payload before responding
func WithSubmitHook(fn func(path string, payload map[string]any)) APIOption {
	return func(f *FakeAPI) {
		f.onSubmit = fn
	}
}

// NewFakeAPI starts a FakeAPI that is closed when the test ends
func NewFakeAPI(t *testing.T, opts ...APIOption) *FakeAPI {
	t.Helper()

	f := &FakeAPI{
		executionID: 101,
		appID:       7,
		statuses:    []string{"success"},
		output:      "done",
	}
	for _, opt := range opts {
		opt(f)
	}

	f.Server = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.Server.Close)
	return f
}

func (f *FakeAPI) handle(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.paths = append(f.paths, r.Method+" "+r.URL.Path)
	f.headers = append(f.headers, r.Header.Clone())
	failStatus, failBody := f.failStatus, f.failBody
	f.mu.Unlock()

	if failStatus != 0 {
		w.WriteHeader(failStatus)
		_, _ = w.Write([]byte(failBody))
		return
	}

	path := r.URL.Path
	switch {
	case r.Method == http.MethodPost && strings.HasSuffix(path, "/pusher/auth"):
		payload := decode(r)
		f.mu.Lock()
		f.authReqs = append(f.authReqs, payload)
		f.mu.Unlock()
		writeJSON(w, map[string]any{"auth": "key:signature"})

	case r.Method == http.MethodPost && (strings.Contains(path, "/async_execute") || strings.HasSuffix(path, "/chat_stream")):
		payload := decode(r)
		f.mu.Lock()
		f.submits = append(f.submits, payload)
		hook := f.onSubmit
		chatBody := f.chatBody
		f.mu.Unlock()

		if hook != nil {
			hook(path, payload)
		}
		if strings.HasSuffix(path, "/chat_stream") {
			if chatBody == nil {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			writeJSON(w, chatBody)
			return
		}
		f.mu.Lock()
		record := map[string]any{
			"id":            f.executionID,
			"airops_app_id": f.appID,
			"status":        "pending",
		}
		f.mu.Unlock()
		writeJSON(w, map[string]any{"airops_app_execution": record})

	case r.Method == http.MethodPatch && strings.HasSuffix(path, "/cancel"):
		f.mu.Lock()
		f.cancels++
		cancelFail, cancelBody := f.cancelFail, f.cancelBody
		f.mu.Unlock()
		if cancelFail != 0 {
			w.WriteHeader(cancelFail)
			_, _ = w.Write([]byte(cancelBody))
			return
		}
		w.WriteHeader(http.StatusNoContent)

	case r.Method == http.MethodGet && strings.Contains(path, "/executions/"):
		writeJSON(w, f.nextRecord())

	default:
		w.WriteHeader(http.StatusNotFound)
		writeJSON(w, map[string]any{"error": "no route for " + r.Method + " " + path})
	}
}

func (f *FakeAPI) nextRecord() map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()

	idx := f.gets
	if idx >= len(f.statuses) {
		idx = len(f.statuses) - 1
	}
	f.gets++

	status := "pending"
	if idx >= 0 {
		status = f.statuses[idx]
	}
	record := map[string]any{
		"id":            f.executionID,
		"airops_app_id": f.appID,
		"uuid":          "4f1c2b7e-0000-4000-8000-000000000001",
		"status":        status,
		"output":        nil,
		"error_code":    nil,
		"error_message": nil,
	}
	switch status {
	case "success":
		record["output"] = f.output
	case "error":
		record["error_code"] = f.errorCode
		record["error_message"] = f.errorMsg
	}
	return record
}

// Submits returns every submit payload received
func (f *FakeAPI) Submits() []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]map[string]any(nil), f.submits...)
}

// Paths returns "METHOD /path" for every request received
func (f *FakeAPI) Paths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.paths...)
}

// Headers returns the headers of every request received
func (f *FakeAPI) Headers() []http.Header {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]http.Header(nil), f.headers...)
}

// Gets returns the number of poll requests
func (f *FakeAPI) Gets() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gets
}

// Cancels returns the number of remote cancel requests
func (f *FakeAPI) Cancels() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancels
}

// Requests returns the total number of requests received
func (f *FakeAPI) Requests() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.paths)
}

func decode(r *http.Request) map[string]any {
	payload := map[string]any{}
	_ = json.NewDecoder(r.Body).Decode(&payload)
	return payload
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
