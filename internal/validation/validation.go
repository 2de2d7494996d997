// Package validation checks identifiers received from the CLI and MCP tools
// before they are placed in API paths.
package validation

import (
	"fmt"
	"regexp"
	"unicode/utf8"

	"github.com/HyphaGroup/airops-go/apperr"
)

// MaxMessageLength bounds a chat message in bytes
const MaxMessageLength = 32 * 1024

var (
	uuidRegex = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

	// numeric ids or slugs; no path separators
	identifierRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]{0,63}$`)

	// session ids are caller-chosen, so allow a little more
	sessionRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.:-]{0,127}$`)

	scheduleIDRegex = regexp.MustCompile(`^sched_[0-9a-f]{8}$`)
)

// ValidateUUID checks if the string is a valid UUID
func ValidateUUID(id string) error {
	if id == "" {
		return fmt.Errorf("ID cannot be empty")
	}
	if !uuidRegex.MatchString(id) {
		return fmt.Errorf("invalid UUID format: %s", id)
	}
	return nil
}

// ValidateAppID validates an app id or slug
func ValidateAppID(id string) error {
	if id == "" {
		return apperr.MissingParameter("appId")
	}
	if !identifierRegex.MatchString(id) {
		return fmt.Errorf("invalid app ID format: %q", id)
	}
	return nil
}

// ValidateExecutionID validates an execution id (numeric or UUID)
func ValidateExecutionID(id string) error {
	if id == "" {
		return apperr.MissingParameter("executionId")
	}
	if !identifierRegex.MatchString(id) {
		return fmt.Errorf("invalid execution ID format: %q", id)
	}
	return nil
}

// ValidateSessionID validates a chat session id
func ValidateSessionID(id string) error {
	if id == "" {
		return apperr.MissingParameter("sessionId")
	}
	if !sessionRegex.MatchString(id) {
		return fmt.Errorf("invalid session ID format: %q", id)
	}
	return nil
}

// ValidateChannelToken validates a stream channel token
func ValidateChannelToken(token string) error {
	if token == "" {
		return apperr.MissingParameter("streamChannelId")
	}
	return ValidateUUID(token)
}

// ValidateMessage validates a chat message
func ValidateMessage(msg string) error {
	if msg == "" {
		return apperr.MissingParameter("message")
	}
	if len(msg) > MaxMessageLength {
		return fmt.Errorf("message exceeds %d bytes", MaxMessageLength)
	}
	if !utf8.ValidString(msg) {
		return fmt.Errorf("message is not valid UTF-8")
	}
	return nil
}

// ValidateScheduleID validates a schedule id
func ValidateScheduleID(id string) error {
	if id == "" {
		return apperr.MissingParameter("scheduleId")
	}
	if !scheduleIDRegex.MatchString(id) {
		return fmt.Errorf("invalid schedule ID format: %q", id)
	}
	return nil
}
