package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	sdkauth "github.com/modelcontextprotocol/go-sdk/auth"
)

// noExpiry stands in for tokens created without an expiry; the MCP
// middleware rejects a zero expiration
var noExpiry = time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC)

// Verifier adapts the store to the MCP SDK's bearer token check. The
// token's scope becomes the only entry of TokenInfo.Scopes.
func Verifier(store *Store, logger *slog.Logger) sdkauth.TokenVerifier {
	return func(ctx context.Context, tokenID string, _ *http.Request) (*sdkauth.TokenInfo, error) {
		token, err := store.ValidateToken(tokenID)
		if err != nil {
			logger.InfoContext(ctx, "token validation failed", "token", MaskID(tokenID), "error", err)
			if errors.Is(err, ErrInvalidToken) || errors.Is(err, ErrTokenNotFound) || errors.Is(err, ErrTokenExpired) {
				return nil, fmt.Errorf("%w: %v", sdkauth.ErrInvalidToken, err)
			}
			return nil, err
		}

		expiration := noExpiry
		if token.ExpiresAt != nil {
			expiration = *token.ExpiresAt
		}
		logger.DebugContext(ctx, "authenticated", "token", MaskID(token.ID), "scope", token.Scope)
		return &sdkauth.TokenInfo{
			Scopes:     []string{token.Scope},
			Expiration: expiration,
			UserID:     token.ID,
			Extra:      map[string]any{"name": token.Name},
		}, nil
	}
}

// Middleware requires a valid bearer token on every request
func Middleware(store *Store, logger *slog.Logger) func(http.Handler) http.Handler {
	return sdkauth.RequireBearerToken(Verifier(store, logger), nil)
}
