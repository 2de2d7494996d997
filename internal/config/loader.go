package config

import (
	"net/http"
	"path/filepath"
	"time"

	"github.com/HyphaGroup/airops-go"
	"github.com/HyphaGroup/airops-go/realtime"
)

// LoadedConfig holds all configuration loaded from airops.jsonc
type LoadedConfig struct {
	*UnifiedConfig
	Registry  *AppRegistry
	ConfigDir string // empty when running on defaults
}

// LoadAll loads configuration from airops.jsonc. A missing file is not an
// error when configDir is empty; defaults are used instead.
func LoadAll(configDir string) (*LoadedConfig, error) {
	var unified *UnifiedConfig
	var dir string

	configPath, err := FindConfigPath(configDir)
	switch {
	case err == nil:
		unified, err = LoadUnifiedConfig(configPath)
		if err != nil {
			return nil, err
		}
		dir = filepath.Dir(configPath)
	case configDir == "":
		unified = Default()
	default:
		return nil, err
	}

	apps, err := NewAppRegistry(unified.Apps)
	if err != nil {
		return nil, err
	}
	return &LoadedConfig{UnifiedConfig: unified, Registry: apps, ConfigDir: dir}, nil
}

// RealtimeConfig returns the socket.io settings for the client
func (c *LoadedConfig) RealtimeConfig() realtime.SocketIOConfig {
	var headers http.Header
	if len(c.Realtime.Headers) > 0 {
		headers = make(http.Header, len(c.Realtime.Headers))
		for k, v := range c.Realtime.Headers {
			headers.Set(k, v)
		}
	}
	return realtime.SocketIOConfig{
		URL:                c.Realtime.URL,
		Namespace:          c.Realtime.Namespace,
		AppKey:             c.Realtime.AppKey,
		Cluster:            c.Realtime.Cluster,
		Headers:            headers,
		InsecureSkipVerify: c.Realtime.InsecureSkipVerify,
		ConnectTimeout:     time.Duration(c.Realtime.ConnectTimeoutSeconds) * time.Second,
	}
}

// ClientOptions returns the options for an airops client built from the
// configuration. extra options are applied last.
func (c *LoadedConfig) ClientOptions(extra ...airops.Option) []airops.Option {
	opts := []airops.Option{
		airops.WithHost(c.API.Host),
		airops.WithHTTPClient(&http.Client{Timeout: time.Duration(c.API.TimeoutSeconds) * time.Second}),
		airops.WithPolling(c.Polling.PollInterval(), c.Polling.Timeout()),
		airops.WithValidator(c.Registry),
	}
	if c.Realtime.URL != "" {
		opts = append(opts, airops.WithRealtimeConfig(c.RealtimeConfig()))
	}
	if c.API.RateLimit > 0 {
		opts = append(opts, airops.WithRateLimit(c.API.RateLimit, c.API.RateBurst))
	}
	return append(opts, extra...)
}

// NewClient creates a client, identified when the identity section is set
func (c *LoadedConfig) NewClient(extra ...airops.Option) (*airops.Client, error) {
	opts := c.ClientOptions(extra...)
	if c.Identity.Empty() {
		return airops.New(opts...), nil
	}
	return airops.Identify(airops.IdentifyParams{
		UserID:       c.Identity.UserID,
		WorkspaceID:  c.Identity.WorkspaceID,
		HashedUserID: c.Identity.HashedUserID,
	}, opts...)
}
