package auth

import (
	"slices"
	"time"
)

// Token is a bearer token granting access to the HTTP MCP endpoint
type Token struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Scope      string     `json:"scope"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

// Scope constants
const (
	ScopeWrite = "write" // every tool, including ones that start or cancel work
	ScopeRead  = "read"  // listing apps, reading executions and history
)

// ValidScope reports whether scope is one of the known scopes
func ValidScope(scope string) bool {
	return scope == ScopeWrite || scope == ScopeRead
}

// CanWrite reports whether any of scopes allows write tools
func CanWrite(scopes []string) bool {
	return slices.Contains(scopes, ScopeWrite)
}

// Expired reports whether the token has passed its expiry at now
func (t *Token) Expired(now time.Time) bool {
	return t.ExpiresAt != nil && now.After(*t.ExpiresAt)
}

// MaskID shortens a token id for display and logs
func MaskID(tokenID string) string {
	if len(tokenID) <= 12 {
		return "***"
	}
	return tokenID[:8] + "..." + tokenID[len(tokenID)-4:]
}
