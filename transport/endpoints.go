package transport

import (
	"fmt"
	"net/url"
	"strings"
)

// DefaultHost is the production API host
const DefaultHost = "https://app.airops.com"

// Endpoints builds API URLs for a host
type Endpoints struct {
	Host string
}

// NewEndpoints returns Endpoints for host, falling back to DefaultHost
func NewEndpoints(host string) Endpoints {
	host = strings.TrimRight(strings.TrimSpace(host), "/")
	if host == "" {
		host = DefaultHost
	}
	return Endpoints{Host: host}
}

func (e Endpoints) appBase(appID string) string {
	return fmt.Sprintf("%s/sdk_api/airops_apps/%s", e.Host, url.PathEscape(appID))
}

// AsyncExecute is the submit endpoint. version 0 targets the published version.
func (e Endpoints) AsyncExecute(appID string, version int) string {
	u := e.appBase(appID) + "/async_execute"
	if version > 0 {
		u += fmt.Sprintf("/v%d", version)
	}
	return u
}

// Execution is the fetch-results endpoint
func (e Endpoints) Execution(appID, executionID string) string {
	return e.appBase(appID) + "/executions/" + url.PathEscape(executionID)
}

// CancelExecution is the remote cancel endpoint
func (e Endpoints) CancelExecution(appID, executionID string) string {
	return e.Execution(appID, executionID) + "/cancel"
}

// ChatStream is the agent chat submit endpoint
func (e Endpoints) ChatStream(appID string) string {
	return fmt.Sprintf("%s/sdk_api/agent_apps/%s/chat_stream", e.Host, url.PathEscape(appID))
}

// ChannelAuth authorizes private realtime channels
func (e Endpoints) ChannelAuth() string {
	return e.Host + "/sdk_api/pusher/auth"
}
