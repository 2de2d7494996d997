package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/HyphaGroup/airops-go/apperr"
	"github.com/HyphaGroup/airops-go/internal/logger"
	"github.com/HyphaGroup/airops-go/internal/ratelimit"
)

var fullIdentity = Identity{UserID: "u-1", WorkspaceID: 77, HashedUserID: "hash"}

func newTestClient(opts ...Option) *Client {
	return New(append([]Option{WithLogger(logger.Discard())}, opts...)...)
}

func TestIdentityComplete(t *testing.T) {
	tests := []struct {
		name     string
		id       Identity
		complete bool
		partial  bool
	}{
		{"empty", Identity{}, false, false},
		{"full", fullIdentity, true, false},
		{"missing hash", Identity{UserID: "u", WorkspaceID: 1}, false, true},
		{"only workspace", Identity{WorkspaceID: 1}, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.id.Complete(); got != tt.complete {
				t.Errorf("Complete() = %v, want %v", got, tt.complete)
			}
			if got := tt.id.Partial(); got != tt.partial {
				t.Errorf("Partial() = %v, want %v", got, tt.partial)
			}
		})
	}
}

func TestRequestSignsOnlyWithCompleteIdentity(t *testing.T) {
	tests := []struct {
		name     string
		identity Identity
		wantSign bool
	}{
		{"complete identity", fullIdentity, true},
		{"partial identity", Identity{UserID: "u-1", WorkspaceID: 77}, false},
		{"no identity", Identity{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got http.Header
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = r.Header.Clone()
				w.WriteHeader(http.StatusNoContent)
			}))
			defer srv.Close()

			c := newTestClient(WithIdentity(tt.identity))
			if _, err := c.Request(context.Background(), http.MethodGet, srv.URL, nil); err != nil {
				t.Fatalf("Request() error = %v", err)
			}

			if got.Get("Content-Type") != "application/json" {
				t.Errorf("Content-Type = %q, want application/json", got.Get("Content-Type"))
			}
			signed := got.Get("user_id") != ""
			if signed != tt.wantSign {
				t.Errorf("signed = %v, want %v (headers %v)", signed, tt.wantSign, got)
			}
			if tt.wantSign {
				if got.Get("workspace_id") != "77" {
					t.Errorf("workspace_id = %q, want %q", got.Get("workspace_id"), "77")
				}
				if got.Get("user_id_hashed") != "hash" {
					t.Errorf("user_id_hashed = %q, want %q", got.Get("user_id_hashed"), "hash")
				}
			}
		})
	}
}

func TestRequestErrors(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantStatus int
		wantMsg    string
	}{
		{"error field", http.StatusUnprocessableEntity, `{"error":"app not found"}`, 422, "app not found"},
		{"status text", http.StatusNotFound, `not json`, 404, "Not Found"},
		{"empty error field", http.StatusInternalServerError, `{"error":""}`, 500, "Internal Server Error"},
		{"unknown status", 599, ``, 599, "Internal API error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			_, err := newTestClient().Request(context.Background(), http.MethodGet, srv.URL, nil)
			var apiErr *apperr.APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("Request() error = %v, want *apperr.APIError", err)
			}
			if apiErr.Status != tt.wantStatus {
				t.Errorf("Status = %d, want %d", apiErr.Status, tt.wantStatus)
			}
			if apiErr.Message != tt.wantMsg {
				t.Errorf("Message = %q, want %q", apiErr.Message, tt.wantMsg)
			}
		})
	}
}

func TestRequestEmptyResults(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"no content", http.StatusNoContent, ""},
		{"empty body", http.StatusOK, ""},
		{"whitespace body", http.StatusOK, "  \n"},
		{"unparsable body", http.StatusOK, "<html>ok</html>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			got, err := newTestClient().Request(context.Background(), http.MethodPost, srv.URL, map[string]string{"a": "b"})
			if err != nil {
				t.Fatalf("Request() error = %v", err)
			}
			if got != nil {
				t.Errorf("Request() = %s, want nil", got)
			}
		})
	}
}

func TestPostEncodesBodyAndDecodesResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Method = %s, want POST", r.Method)
		}
		var in map[string]any
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			t.Errorf("decoding body: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"echo": in["inputs"]})
	}))
	defer srv.Close()

	var out struct {
		Echo map[string]string `json:"echo"`
	}
	err := newTestClient().Post(context.Background(), srv.URL, map[string]any{"inputs": map[string]string{"k": "v"}}, &out)
	if err != nil {
		t.Fatalf("Post() error = %v", err)
	}
	if out.Echo["k"] != "v" {
		t.Errorf("Echo = %v, want k=v", out.Echo)
	}
}

func TestNoRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_ = newTestClient().Patch(context.Background(), srv.URL, nil, nil)
	if got := calls.Load(); got != 1 {
		t.Errorf("server calls = %d, want 1", got)
	}
}

func TestRateLimiterBlocksUntilContextEnds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := newTestClient(WithRateLimiter(ratelimit.New(0.001, 1)))
	if _, err := c.Request(context.Background(), http.MethodGet, srv.URL, nil); err != nil {
		t.Fatalf("first Request() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.Request(ctx, http.MethodGet, srv.URL, nil); err == nil {
		t.Error("second Request() error = nil, want rate limit error")
	}
}

func TestChannelAuthorizer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var in channelAuthRequest
		_ = json.NewDecoder(r.Body).Decode(&in)
		if in.SocketID != "sock" || in.ChannelName != "private-abc" {
			t.Errorf("auth request = %+v", in)
		}
		_ = json.NewEncoder(w).Encode(channelAuthResponse{Auth: "key:sig"})
	}))
	defer srv.Close()

	a := NewChannelAuthorizer(newTestClient(WithIdentity(fullIdentity)), srv.URL)
	got, err := a.Authorize(context.Background(), "sock", "private-abc")
	if err != nil {
		t.Fatalf("Authorize() error = %v", err)
	}
	if got != "key:sig" {
		t.Errorf("Authorize() = %q, want %q", got, "key:sig")
	}
}
