package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	sdkauth "github.com/modelcontextprotocol/go-sdk/auth"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestVerifier(t *testing.T) {
	store := newTestStore(t)
	verify := Verifier(store, discardLogger())

	_, tokenID, err := store.CreateToken("ci", ScopeRead, nil)
	if err != nil {
		t.Fatalf("CreateToken() error = %v", err)
	}

	info, err := verify(context.Background(), tokenID, nil)
	if err != nil {
		t.Fatalf("verify() error = %v", err)
	}
	if len(info.Scopes) != 1 || info.Scopes[0] != ScopeRead {
		t.Errorf("Scopes = %v, want [read]", info.Scopes)
	}
	if info.UserID != tokenID {
		t.Errorf("UserID = %q, want the token id", MaskID(info.UserID))
	}
	if !info.Expiration.After(time.Now().AddDate(100, 0, 0)) {
		t.Errorf("Expiration = %v, want far future for tokens without expiry", info.Expiration)
	}

	if _, err := verify(context.Background(), "aops_missing", nil); !errors.Is(err, sdkauth.ErrInvalidToken) {
		t.Errorf("verify(unknown) error = %v, want sdk ErrInvalidToken", err)
	}
}

func TestVerifier_ExpiryCarriedThrough(t *testing.T) {
	store := newTestStore(t)
	verify := Verifier(store, discardLogger())

	expires := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	_, tokenID, err := store.CreateToken("ci", ScopeWrite, &expires)
	if err != nil {
		t.Fatalf("CreateToken() error = %v", err)
	}

	info, err := verify(context.Background(), tokenID, nil)
	if err != nil {
		t.Fatalf("verify() error = %v", err)
	}
	if !info.Expiration.Equal(expires) {
		t.Errorf("Expiration = %v, want %v", info.Expiration, expires)
	}
}

func TestMiddleware(t *testing.T) {
	store := newTestStore(t)
	_, tokenID, err := store.CreateToken("ci", ScopeWrite, nil)
	if err != nil {
		t.Fatalf("CreateToken() error = %v", err)
	}

	var gotScopes []string
	handler := Middleware(store, discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if info := sdkauth.TokenInfoFromContext(r.Context()); info != nil {
			gotScopes = info.Scopes
		}
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"no header", "", http.StatusUnauthorized},
		{"not bearer", "Basic abc", http.StatusUnauthorized},
		{"unknown token", "Bearer aops_missing", http.StatusUnauthorized},
		{"valid token", "Bearer " + tokenID, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}

	if !CanWrite(gotScopes) {
		t.Errorf("handler saw scopes %v, want write", gotScopes)
	}
}
