package mcp

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/HyphaGroup/airops-go/apperr"
	"github.com/HyphaGroup/airops-go/internal/schedule"
	"github.com/HyphaGroup/airops-go/internal/store"
)

// sensitivePatterns contains substrings that indicate sensitive error details
var sensitivePatterns = []string{
	"hashed_user_id",
	"user_id_hashed",
	"api_key",
	"app_key",
	"password",
	"secret",
	"signature",
	"credential",
}

// internalErrorPatterns contains substrings that indicate internal errors
var internalErrorPatterns = []string{
	"connection refused",
	"no such host",
	"no such file",
	"permission denied",
	"database is locked",
	"sql:",
	"EOF",
}

// safeErrors are returned to the client as they are
var safeErrors = []error{
	apperr.ErrMissingParameter,
	apperr.ErrMissingCallback,
	apperr.ErrSubscription,
	apperr.ErrExecutionTimeout,
	apperr.ErrIdentityIncomplete,
	apperr.ErrInvalidPayload,
	store.ErrNotFound,
	schedule.ErrScheduleNotFound,
	schedule.ErrInvalidCron,
}

// SanitizeError returns a client-safe error message.
// Internal details are logged but not exposed to clients.
func SanitizeError(err error, operation string) error {
	if err == nil {
		return nil
	}

	for _, safe := range safeErrors {
		if errors.Is(err, safe) {
			return err
		}
	}
	var apiErr *apperr.APIError
	if errors.As(err, &apiErr) {
		return err
	}

	errStr := err.Error()
	lower := strings.ToLower(errStr)

	for _, pattern := range sensitivePatterns {
		if strings.Contains(lower, strings.ToLower(pattern)) {
			slog.Error("Tool failed (sensitive)", "operation", operation, "error", err)
			return fmt.Errorf("%s failed: internal configuration error", operation)
		}
	}

	for _, pattern := range internalErrorPatterns {
		if strings.Contains(lower, strings.ToLower(pattern)) {
			slog.Error("Tool failed (internal)", "operation", operation, "error", err)
			return fmt.Errorf("%s failed: internal error", operation)
		}
	}

	if isUserFacingError(errStr) {
		return err
	}

	slog.Error("Tool failed", "operation", operation, "error", err)
	return fmt.Errorf("%s failed: %s", operation, genericErrorMessage(errStr))
}

// isUserFacingError returns true if the error message is safe to show to users
func isUserFacingError(errStr string) bool {
	userFacingPatterns := []string{
		"not found",
		"already exists",
		"invalid",
		"required",
		"must be",
		"cannot be",
		"is not",
		"unknown",
		"exceeds",
		"not configured",
	}

	lower := strings.ToLower(errStr)
	for _, pattern := range userFacingPatterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}

// genericErrorMessage extracts a safe portion of the error or returns generic text
func genericErrorMessage(errStr string) string {
	if len(errStr) < 50 {
		return errStr
	}
	return "an unexpected error occurred"
}
