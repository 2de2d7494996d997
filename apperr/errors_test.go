package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestSentinelMatching(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		target error
		want   bool
	}{
		{"missing parameter", MissingParameter("appId"), ErrMissingParameter, true},
		{"missing callback", MissingCallback("onChunk"), ErrMissingCallback, true},
		{"missing callback is not missing parameter", MissingCallback("onChunk"), ErrMissingParameter, false},
		{"subscription error", &SubscriptionError{Channel: "public-x", Reason: "denied"}, ErrSubscription, true},
		{"wrapped subscription error", fmt.Errorf("execute: %w", &SubscriptionError{Channel: "c"}), ErrSubscription, true},
		{"timeout error", &TimeoutError{AppID: "1", ExecutionID: "2"}, ErrExecutionTimeout, true},
		{"timeout is not subscription", &TimeoutError{}, ErrSubscription, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errors.Is(tt.err, tt.target); got != tt.want {
				t.Errorf("errors.Is(%v, %v) = %v, want %v", tt.err, tt.target, got, tt.want)
			}
		})
	}
}

func TestMissingParameterMessage(t *testing.T) {
	err := MissingParameter("appId")
	if !strings.Contains(err.Error(), "appId") {
		t.Errorf("Error() = %q, want it to name appId", err.Error())
	}
}

func TestStatusCode(t *testing.T) {
	err := fmt.Errorf("poll: %w", &APIError{Status: http.StatusNotFound, Message: "Not Found"})
	if got := StatusCode(err); got != http.StatusNotFound {
		t.Errorf("StatusCode() = %d, want %d", got, http.StatusNotFound)
	}
	if got := StatusCode(errors.New("plain")); got != 0 {
		t.Errorf("StatusCode(plain) = %d, want 0", got)
	}
}

func TestTimeoutErrorMessage(t *testing.T) {
	err := &TimeoutError{AppID: "42", ExecutionID: "7", Elapsed: 10 * time.Minute}
	msg := err.Error()
	for _, want := range []string{"42", "7", "10m0s"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Error() = %q, want it to contain %q", msg, want)
		}
	}
}
