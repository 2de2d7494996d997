package auth

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStore_CreateAndValidateToken(t *testing.T) {
	store := newTestStore(t)

	token, tokenID, err := store.CreateToken("test-token", ScopeWrite, nil)
	if err != nil {
		t.Fatalf("CreateToken() error = %v", err)
	}

	if token.Name != "test-token" {
		t.Errorf("Token.Name = %v, want test-token", token.Name)
	}
	if token.Scope != ScopeWrite {
		t.Errorf("Token.Scope = %v, want write", token.Scope)
	}
	if !strings.HasPrefix(tokenID, "aops_") {
		t.Errorf("Token ID should have prefix 'aops_', got %v", MaskID(tokenID))
	}

	validated, err := store.ValidateToken(tokenID)
	if err != nil {
		t.Fatalf("ValidateToken() error = %v", err)
	}
	if validated.ID != tokenID {
		t.Errorf("Validated token ID = %v, want %v", validated.ID, tokenID)
	}
}

func TestStore_CreateToken_InvalidScope(t *testing.T) {
	store := newTestStore(t)

	for _, scope := range []string{"", "admin", "project:1"} {
		if _, _, err := store.CreateToken("t", scope, nil); !errors.Is(err, ErrInvalidScope) {
			t.Errorf("CreateToken(scope %q) error = %v, want ErrInvalidScope", scope, err)
		}
	}
}

func TestStore_ValidateToken_Errors(t *testing.T) {
	store := newTestStore(t)

	expiredAt := time.Now().Add(-time.Hour)
	_, expiredID, err := store.CreateToken("expired-token", ScopeRead, &expiredAt)
	if err != nil {
		t.Fatalf("CreateToken() error = %v", err)
	}

	tests := []struct {
		name    string
		tokenID string
		want    error
	}{
		{"bad prefix", "invalid-token", ErrInvalidToken},
		{"unknown", "aops_nonexistent", ErrTokenNotFound},
		{"expired", expiredID, ErrTokenExpired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := store.ValidateToken(tt.tokenID); !errors.Is(err, tt.want) {
				t.Errorf("ValidateToken() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestStore_ValidateToken_RecordsLastUsed(t *testing.T) {
	store := newTestStore(t)

	_, tokenID, err := store.CreateToken("t", ScopeRead, nil)
	if err != nil {
		t.Fatalf("CreateToken() error = %v", err)
	}

	first, err := store.ValidateToken(tokenID)
	if err != nil {
		t.Fatalf("ValidateToken() error = %v", err)
	}
	if first.LastUsedAt != nil {
		t.Errorf("first validation LastUsedAt = %v, want nil", first.LastUsedAt)
	}

	second, err := store.ValidateToken(tokenID)
	if err != nil {
		t.Fatalf("ValidateToken() error = %v", err)
	}
	if second.LastUsedAt == nil {
		t.Error("second validation should see the recorded LastUsedAt")
	}
}

func TestStore_ListAndRevoke(t *testing.T) {
	store := newTestStore(t)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return base }
	_, older, err := store.CreateToken("older", ScopeRead, nil)
	if err != nil {
		t.Fatalf("CreateToken() error = %v", err)
	}
	store.now = func() time.Time { return base.Add(time.Minute) }
	_, newer, err := store.CreateToken("newer", ScopeWrite, nil)
	if err != nil {
		t.Fatalf("CreateToken() error = %v", err)
	}

	tokens, err := store.ListTokens()
	if err != nil {
		t.Fatalf("ListTokens() error = %v", err)
	}
	if len(tokens) != 2 || tokens[0].ID != newer || tokens[1].ID != older {
		t.Fatalf("ListTokens() returned %d tokens, want newer then older", len(tokens))
	}

	if err := store.RevokeToken(older); err != nil {
		t.Fatalf("RevokeToken() error = %v", err)
	}
	if err := store.RevokeToken(older); !errors.Is(err, ErrTokenNotFound) {
		t.Errorf("second RevokeToken() error = %v, want ErrTokenNotFound", err)
	}
	if _, err := store.ValidateToken(older); !errors.Is(err, ErrTokenNotFound) {
		t.Errorf("ValidateToken(revoked) error = %v, want ErrTokenNotFound", err)
	}

	tokens, err = store.ListTokens()
	if err != nil {
		t.Fatalf("ListTokens() error = %v", err)
	}
	if len(tokens) != 1 {
		t.Errorf("ListTokens() after revoke returned %d tokens, want 1", len(tokens))
	}
}

func TestMaskID(t *testing.T) {
	tests := []struct {
		id   string
		want string
	}{
		{"short", "***"},
		{"aops_0123456789abcdef", "aops_012...cdef"},
	}
	for _, tt := range tests {
		if got := MaskID(tt.id); got != tt.want {
			t.Errorf("MaskID(%q) = %q, want %q", tt.id, got, tt.want)
		}
	}
}

func TestCanWrite(t *testing.T) {
	tests := []struct {
		scopes []string
		want   bool
	}{
		{[]string{ScopeWrite}, true},
		{[]string{ScopeRead}, false},
		{[]string{ScopeRead, ScopeWrite}, true},
		{nil, false},
	}
	for _, tt := range tests {
		if got := CanWrite(tt.scopes); got != tt.want {
			t.Errorf("CanWrite(%v) = %v, want %v", tt.scopes, got, tt.want)
		}
	}
}
