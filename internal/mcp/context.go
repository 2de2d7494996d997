package mcp

import (
	"context"

	"github.com/HyphaGroup/airops-go/internal/audit"
)

type contextKey string

const contextKeyRemoteAddr contextKey = "airops-remote-addr"

// WithRemoteAddr adds the remote address to context
func WithRemoteAddr(ctx context.Context, addr string) context.Context {
	return context.WithValue(ctx, contextKeyRemoteAddr, addr)
}

// GetRemoteAddr extracts the remote address from context
func GetRemoteAddr(ctx context.Context) string {
	if val, ok := ctx.Value(contextKeyRemoteAddr).(string); ok {
		return val
	}
	return ""
}

// recordAudit logs event with the caller's remote address when known
func (s *Server) recordAudit(ctx context.Context, event audit.Event, err error) {
	if event.RemoteAddr == "" {
		event.RemoteAddr = GetRemoteAddr(ctx)
	}
	s.audit.Record(ctx, event, err)
}
