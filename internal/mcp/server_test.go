package mcp

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/HyphaGroup/airops-go"
	"github.com/HyphaGroup/airops-go/internal/audit"
	"github.com/HyphaGroup/airops-go/internal/auth"
	"github.com/HyphaGroup/airops-go/internal/config"
	"github.com/HyphaGroup/airops-go/internal/logger"
	"github.com/HyphaGroup/airops-go/internal/schedule"
	"github.com/HyphaGroup/airops-go/internal/store"
	"github.com/HyphaGroup/airops-go/internal/testutil"
	"github.com/HyphaGroup/airops-go/realtime"
)

type testServer struct {
	*Server
	api      *testutil.FakeAPI
	provider *realtime.MemoryProvider
	history  *store.Store
}

type serverOption func(*ServerConfig)

func readOnly() serverOption {
	return func(cfg *ServerConfig) { cfg.ReadOnly = true }
}

func withoutStores() serverOption {
	return func(cfg *ServerConfig) {
		cfg.History = nil
		cfg.Schedules = nil
	}
}

func withTokens(tokens *auth.Store) serverOption {
	return func(cfg *ServerConfig) { cfg.Tokens = tokens }
}

// bearerTransport adds a bearer token to every request
type bearerTransport struct {
	token string
}

func (b bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("Authorization", "Bearer "+b.token)
	return http.DefaultTransport.RoundTrip(req)
}

func newTestServer(t *testing.T, apiOpts []testutil.APIOption, opts ...serverOption) *testServer {
	t.Helper()

	api := testutil.NewFakeAPI(t, apiOpts...)
	provider := realtime.NewMemoryProvider()

	dir := t.TempDir()
	history, err := store.Open(dir)
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	t.Cleanup(func() { _ = history.Close() })

	schedules, err := schedule.NewStore(dir)
	if err != nil {
		t.Fatalf("schedule.NewStore() error = %v", err)
	}
	t.Cleanup(func() { _ = schedules.Close() })

	registry, err := config.NewAppRegistry(map[string]config.AppDefinition{
		"summarize": {ID: "7", Version: 2, Description: "Summarize text"},
		"assistant": {ID: "9", Agent: true},
	})
	if err != nil {
		t.Fatalf("NewAppRegistry() error = %v", err)
	}

	client := airops.New(
		airops.WithHost(api.URL),
		airops.WithLogger(logger.Discard()),
		airops.WithPolling(10*time.Millisecond, 2*time.Second),
		airops.WithRealtimeProvider(provider),
		airops.WithRecorder(history),
		airops.WithValidator(registry),
	)
	t.Cleanup(func() { _ = client.Close() })

	cfg := ServerConfig{
		Client:    client,
		Apps:      registry,
		History:   history,
		Schedules: schedules,
		Audit:     audit.New(false, io.Discard),
		Logger:    logger.Discard(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	s, err := NewServer(cfg)
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	t.Cleanup(s.Close)

	return &testServer{Server: s, api: api, provider: provider, history: history}
}

// call invokes a tool through the registry and returns its data
func (ts *testServer) call(t *testing.T, tool string, args map[string]any) (any, error) {
	t.Helper()
	raw, err := json.Marshal(args)
	if err != nil {
		t.Fatalf("marshal args: %v", err)
	}
	return ts.registry.CallTool(context.Background(), tool, raw)
}

func TestNewServerRequiresClient(t *testing.T) {
	if _, err := NewServer(ServerConfig{}); err == nil {
		t.Error("NewServer() without a client should fail")
	}
}

func TestServerRegistersTools(t *testing.T) {
	tests := []struct {
		name string
		opts []serverOption
		want []string
	}{
		{
			name: "all",
			want: []string{"agent_chat", "app_execute", "app_execution_cancel", "app_execution_get", "apps", "execution_history", "schedule"},
		},
		{
			name: "without stores",
			opts: []serverOption{withoutStores()},
			want: []string{"agent_chat", "app_execute", "app_execution_cancel", "app_execution_get", "apps"},
		},
		{
			name: "read only",
			opts: []serverOption{readOnly()},
			want: []string{"app_execution_get", "apps", "execution_history"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, nil, tt.opts...)
			got := toolNames(ts.registry.GetToolsForAccess(ts.access))
			sort.Strings(got)
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Errorf("tools = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHealthEndpoints(t *testing.T) {
	ts := newTestServer(t, nil)
	srv := httptest.NewServer(ts.Handler())
	defer srv.Close()

	tests := []struct {
		path string
		want string
	}{
		{"/health", `"status":"ok"`},
		{"/ready", `"status":"ready"`},
		{"/metrics", "airops_"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, err := http.Get(srv.URL + tt.path)
			if err != nil {
				t.Fatalf("GET %s error = %v", tt.path, err)
			}
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)
			if resp.StatusCode != http.StatusOK {
				t.Errorf("GET %s status = %d, want 200", tt.path, resp.StatusCode)
			}
			if !strings.Contains(string(body), tt.want) {
				t.Errorf("GET %s body = %q, want it to contain %q", tt.path, body, tt.want)
			}
		})
	}
}

func TestStreamableHTTPRoundTrip(t *testing.T) {
	ts := newTestServer(t, []testutil.APIOption{testutil.WithOutput("summary")})
	srv := httptest.NewServer(ts.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client := mcp.NewClient(&mcp.Implementation{Name: "airops-test", Version: "0.1.0"}, nil)
	session, err := client.Connect(ctx, &mcp.StreamableClientTransport{Endpoint: srv.URL + "/mcp"}, nil)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer session.Close()

	tools, err := session.ListTools(ctx, &mcp.ListToolsParams{})
	if err != nil {
		t.Fatalf("ListTools() error = %v", err)
	}
	if len(tools.Tools) != 7 {
		t.Errorf("ListTools() returned %d tools, want 7", len(tools.Tools))
	}

	result, err := session.CallTool(ctx, &mcp.CallToolParams{
		Name:      "app_execute",
		Arguments: map[string]any{"app": "summarize", "inputs": map[string]any{"text": "long"}},
	})
	if err != nil {
		t.Fatalf("CallTool() error = %v", err)
	}
	if result.IsError {
		t.Fatalf("CallTool() returned an error result: %v", result.Content)
	}
	text := result.Content[0].(*mcp.TextContent).Text
	var view ExecutionView
	if err := json.Unmarshal([]byte(text), &view); err != nil {
		t.Fatalf("decode result %q: %v", text, err)
	}
	if view.Status != "success" || string(view.Output) != `"summary"` {
		t.Errorf("view = %+v, want success with summary output", view)
	}

	result, err = session.CallTool(ctx, &mcp.CallToolParams{
		Name:      "app_execute",
		Arguments: map[string]any{},
	})
	if err != nil {
		t.Fatalf("CallTool() error = %v", err)
	}
	if !result.IsError {
		t.Error("app_execute without an app should return an error result")
	}
}

func TestRunScheduleExecutesApp(t *testing.T) {
	ts := newTestServer(t, []testutil.APIOption{testutil.WithOutput("nightly report")})

	out, err := ts.runSchedule(context.Background(), &schedule.Schedule{
		ID:     "sched_0000abcd",
		AppID:  "7",
		Inputs: map[string]any{"day": "monday"},
	})
	if err != nil {
		t.Fatalf("runSchedule() error = %v", err)
	}
	if out.ExecutionID != "101" || out.Output != "nightly report" {
		t.Errorf("runSchedule() = %+v, want execution 101 with output", out)
	}

	submits := ts.api.Submits()
	if len(submits) != 1 {
		t.Fatalf("submits = %d, want 1", len(submits))
	}
	inputs, _ := submits[0]["inputs"].(map[string]any)
	if inputs["day"] != "monday" {
		t.Errorf("submitted inputs = %v, want day=monday", submits[0]["inputs"])
	}
}

func TestRunScheduleReportsFailedExecution(t *testing.T) {
	ts := newTestServer(t, []testutil.APIOption{
		testutil.WithStatuses("error"),
		testutil.WithExecutionError("BAD_INPUT", "missing text"),
	})

	out, err := ts.runSchedule(context.Background(), &schedule.Schedule{ID: "sched_0000abcd", AppID: "7"})
	if err == nil || !strings.Contains(err.Error(), "missing text") {
		t.Errorf("runSchedule() error = %v, want the execution error message", err)
	}
	if out.ExecutionID != "101" {
		t.Errorf("runSchedule().ExecutionID = %q, want 101", out.ExecutionID)
	}
}

func TestStreamableHTTPRequiresToken(t *testing.T) {
	tokens, err := auth.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("auth.NewStore() error = %v", err)
	}
	t.Cleanup(func() { _ = tokens.Close() })
	_, readToken, err := tokens.CreateToken("reader", auth.ScopeRead, nil)
	if err != nil {
		t.Fatalf("CreateToken() error = %v", err)
	}

	ts := newTestServer(t, nil, withTokens(tokens))
	srv := httptest.NewServer(ts.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/mcp", "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatalf("POST /mcp error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("POST /mcp without token status = %d, want 401", resp.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client := mcp.NewClient(&mcp.Implementation{Name: "airops-test", Version: "0.1.0"}, nil)
	session, err := client.Connect(ctx, &mcp.StreamableClientTransport{
		Endpoint:   srv.URL + "/mcp",
		HTTPClient: &http.Client{Transport: bearerTransport{token: readToken}},
	}, nil)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer session.Close()

	result, err := session.CallTool(ctx, &mcp.CallToolParams{Name: "apps", Arguments: map[string]any{}})
	if err != nil {
		t.Fatalf("CallTool(apps) error = %v", err)
	}
	if result.IsError {
		t.Errorf("apps with a read token returned an error result: %v", result.Content)
	}

	result, err = session.CallTool(ctx, &mcp.CallToolParams{
		Name:      "app_execute",
		Arguments: map[string]any{"app": "summarize"},
	})
	if err != nil {
		t.Fatalf("CallTool(app_execute) error = %v", err)
	}
	if !result.IsError {
		t.Fatal("app_execute with a read token should be denied")
	}
	if text := result.Content[0].(*mcp.TextContent).Text; !strings.Contains(text, "requires write access") {
		t.Errorf("denial = %q, want it to mention write access", text)
	}
	if got := len(ts.api.Submits()); got != 0 {
		t.Errorf("submits = %d, want 0", got)
	}
}
