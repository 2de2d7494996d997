package transport

import (
	"context"
	"errors"
	"fmt"
)

// ChannelAuthorizer signs private channel subscriptions
type ChannelAuthorizer struct {
	client   *Client
	endpoint string
}

// NewChannelAuthorizer returns an authorizer posting to endpoint
func NewChannelAuthorizer(client *Client, endpoint string) *ChannelAuthorizer {
	return &ChannelAuthorizer{client: client, endpoint: endpoint}
}

type channelAuthRequest struct {
	SocketID    string `json:"socket_id"`
	ChannelName string `json:"channel_name"`
}

type channelAuthResponse struct {
	Auth string `json:"auth"`
}

// Authorize returns the auth signature for socketID joining channel
func (a *ChannelAuthorizer) Authorize(ctx context.Context, socketID, channel string) (string, error) {
	var resp channelAuthResponse
	err := a.client.Post(ctx, a.endpoint, channelAuthRequest{SocketID: socketID, ChannelName: channel}, &resp)
	if err != nil {
		return "", fmt.Errorf("authorizing %s: %w", channel, err)
	}
	if resp.Auth == "" {
		return "", errors.New("authorizing " + channel + ": empty auth signature")
	}
	return resp.Auth, nil
}
