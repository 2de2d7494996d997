package mcp

import (
	mcp_sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/HyphaGroup/airops-go/internal/auth"
)

// ToolAccess defines the access level required for a tool
type ToolAccess string

const (
	// AccessRead - read-only operation (history, results, schedule listing)
	AccessRead ToolAccess = "read"
	// AccessWrite - submits, cancels or changes state
	AccessWrite ToolAccess = "write"
)

// Allows reports whether a server running at level may expose a tool requiring required
func Allows(level, required ToolAccess) bool {
	switch level {
	case AccessWrite:
		return required == AccessRead || required == AccessWrite
	case AccessRead:
		return required == AccessRead
	default:
		return false
	}
}

// CallerAccess narrows level by the bearer token on the call, if any.
// Calls without a token (stdio, auth disabled) run at level.
func CallerAccess(req *mcp_sdk.CallToolRequest, level ToolAccess) ToolAccess {
	if req == nil || req.Extra == nil || req.Extra.TokenInfo == nil {
		return level
	}
	if auth.CanWrite(req.Extra.TokenInfo.Scopes) {
		return level
	}
	if Allows(level, AccessRead) {
		return AccessRead
	}
	return ""
}
