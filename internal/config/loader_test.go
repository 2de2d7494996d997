package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/HyphaGroup/airops-go/apperr"
)

func TestLoadUnifiedConfig(t *testing.T) {
	tmpDir := t.TempDir()

	t.Run("valid unified config", func(t *testing.T) {
		configPath := filepath.Join(tmpDir, "valid.jsonc")
		configJSON := `{
			// Test config
			"api": {"host": "https://example.test", "rate_limit": 5, "rate_burst": 2},
			"identity": {"user_id": "u-1", "workspace_id": 42, "hashed_user_id": "abc"},
			"realtime": {"url": "wss://rt.example.test", "app_key": "key"},
			"polling": {"interval_ms": 250, "timeout_seconds": 30},
			"apps": {
				"summarize": {"id": "123", "version": 2}
			},
			"server": {"address": ":9000"}
		}`
		_ = os.WriteFile(configPath, []byte(configJSON), 0o644)

		cfg, err := LoadUnifiedConfig(configPath)
		if err != nil {
			t.Fatalf("LoadUnifiedConfig() error = %v", err)
		}
		if cfg.API.Host != "https://example.test" {
			t.Errorf("API.Host = %q, want %q", cfg.API.Host, "https://example.test")
		}
		if !cfg.Identity.Complete() {
			t.Error("Identity.Complete() = false, want true")
		}
		if cfg.Polling.PollInterval() != 250*time.Millisecond {
			t.Errorf("Polling.PollInterval() = %v, want 250ms", cfg.Polling.PollInterval())
		}
		if cfg.Polling.Timeout() != 30*time.Second {
			t.Errorf("Polling.Timeout() = %v, want 30s", cfg.Polling.Timeout())
		}
		if cfg.Apps["summarize"].Version != 2 {
			t.Errorf("Apps[summarize].Version = %d, want 2", cfg.Apps["summarize"].Version)
		}
		if cfg.Server.Address != ":9000" {
			t.Errorf("Server.Address = %q, want %q", cfg.Server.Address, ":9000")
		}
	})

	t.Run("JSONC comments are stripped", func(t *testing.T) {
		configPath := filepath.Join(tmpDir, "comments.jsonc")
		configJSON := `{
			// Line comment
			"api": {"host": "https://a.test/x//y"},
			/* Block comment */
			"server": {"address": ":8081"}
		}`
		_ = os.WriteFile(configPath, []byte(configJSON), 0o644)

		cfg, err := LoadUnifiedConfig(configPath)
		if err != nil {
			t.Fatalf("LoadUnifiedConfig() error = %v", err)
		}
		if cfg.API.Host != "https://a.test/x//y" {
			t.Errorf("API.Host = %q, want slashes inside strings kept", cfg.API.Host)
		}
	})

	t.Run("applies defaults for missing fields", func(t *testing.T) {
		configPath := filepath.Join(tmpDir, "minimal.jsonc")
		_ = os.WriteFile(configPath, []byte(`{}`), 0o644)

		cfg, err := LoadUnifiedConfig(configPath)
		if err != nil {
			t.Fatalf("LoadUnifiedConfig() error = %v", err)
		}
		if cfg.API.Host != "https://app.airops.com" {
			t.Errorf("API.Host = %q, want default", cfg.API.Host)
		}
		if cfg.Polling.PollInterval() != 500*time.Millisecond {
			t.Errorf("Polling.PollInterval() = %v, want default 500ms", cfg.Polling.PollInterval())
		}
		if cfg.Polling.Timeout() != 10*time.Minute {
			t.Errorf("Polling.Timeout() = %v, want default 10m", cfg.Polling.Timeout())
		}
		if cfg.Server.Address != ":8080" {
			t.Errorf("Server.Address = %q, want default %q", cfg.Server.Address, ":8080")
		}
		if cfg.Apps == nil {
			t.Error("Apps = nil, want empty map")
		}
		if cfg.Storage.Retention() != 30*24*time.Hour {
			t.Errorf("Storage.Retention() = %v, want default 30 days", cfg.Storage.Retention())
		}
		if cfg.Server.RequireAuth {
			t.Error("Server.RequireAuth = true, want false by default")
		}
	})

	t.Run("negative retention keeps forever", func(t *testing.T) {
		configPath := filepath.Join(tmpDir, "retention.jsonc")
		_ = os.WriteFile(configPath, []byte(`{"storage": {"retention_days": -1}, "server": {"require_auth": true}}`), 0o644)

		cfg, err := LoadUnifiedConfig(configPath)
		if err != nil {
			t.Fatalf("LoadUnifiedConfig() error = %v", err)
		}
		if cfg.Storage.Retention() != 0 {
			t.Errorf("Storage.Retention() = %v, want 0", cfg.Storage.Retention())
		}
		if !cfg.Server.RequireAuth {
			t.Error("Server.RequireAuth = false, want true")
		}
	})

	t.Run("partial identity is rejected", func(t *testing.T) {
		configPath := filepath.Join(tmpDir, "partial.jsonc")
		_ = os.WriteFile(configPath, []byte(`{"identity": {"user_id": "u-1"}}`), 0o644)

		if _, err := LoadUnifiedConfig(configPath); err == nil {
			t.Error("expected error for partial identity")
		}
	})

	t.Run("app without id is rejected", func(t *testing.T) {
		configPath := filepath.Join(tmpDir, "noid.jsonc")
		_ = os.WriteFile(configPath, []byte(`{"apps": {"x": {"version": 1}}}`), 0o644)

		if _, err := LoadUnifiedConfig(configPath); err == nil {
			t.Error("expected error for app without id")
		}
	})

	t.Run("invalid JSON returns error", func(t *testing.T) {
		configPath := filepath.Join(tmpDir, "invalid.jsonc")
		_ = os.WriteFile(configPath, []byte("not json"), 0o644)

		if _, err := LoadUnifiedConfig(configPath); err == nil {
			t.Error("expected error for invalid JSON")
		}
	})
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("AIROPS_APP_KEY", "env-key")
	t.Setenv("AIROPS_APP_CLUSTER", "eu")

	configPath := filepath.Join(t.TempDir(), FileName)
	_ = os.WriteFile(configPath, []byte(`{"realtime": {"app_key": "file-key", "cluster": "us"}}`), 0o644)

	cfg, err := LoadUnifiedConfig(configPath)
	if err != nil {
		t.Fatalf("LoadUnifiedConfig() error = %v", err)
	}
	if cfg.Realtime.AppKey != "env-key" {
		t.Errorf("Realtime.AppKey = %q, want %q", cfg.Realtime.AppKey, "env-key")
	}
	if cfg.Realtime.Cluster != "eu" {
		t.Errorf("Realtime.Cluster = %q, want %q", cfg.Realtime.Cluster, "eu")
	}
}

func TestFindConfigPath(t *testing.T) {
	tmpDir := t.TempDir()

	t.Run("finds config in specified dir", func(t *testing.T) {
		configDir := filepath.Join(tmpDir, "custom")
		_ = os.MkdirAll(configDir, 0o755)
		_ = os.WriteFile(filepath.Join(configDir, FileName), []byte("{}"), 0o644)

		path, err := FindConfigPath(configDir)
		if err != nil {
			t.Fatalf("FindConfigPath() error = %v", err)
		}
		if filepath.Base(path) != FileName {
			t.Errorf("FindConfigPath() = %q, want %s", path, FileName)
		}
	})

	t.Run("uses AIROPS_HOME", func(t *testing.T) {
		home := filepath.Join(tmpDir, "home")
		_ = os.MkdirAll(home, 0o755)
		_ = os.WriteFile(filepath.Join(home, FileName), []byte("{}"), 0o644)
		t.Setenv("AIROPS_HOME", home)

		path, err := FindConfigPath("")
		if err != nil {
			t.Fatalf("FindConfigPath() error = %v", err)
		}
		if filepath.Dir(path) != home {
			t.Errorf("FindConfigPath() = %q, want file in %q", path, home)
		}
	})

	t.Run("error when config not found", func(t *testing.T) {
		_, err := FindConfigPath(filepath.Join(tmpDir, "nonexistent"))
		if err == nil {
			t.Error("expected error when config not found")
		}
	})
}

func TestLoadAll(t *testing.T) {
	t.Run("loads config and registry", func(t *testing.T) {
		configDir := t.TempDir()
		configJSON := `{
			"apps": {
				"summarize": {
					"id": "123",
					"inputs_schema": {
						"type": "object",
						"properties": {"url": {"type": "string"}},
						"required": ["url"]
					}
				}
			}
		}`
		_ = os.WriteFile(filepath.Join(configDir, FileName), []byte(configJSON), 0o644)

		cfg, err := LoadAll(configDir)
		if err != nil {
			t.Fatalf("LoadAll() error = %v", err)
		}
		if cfg.ConfigDir != configDir {
			t.Errorf("ConfigDir = %q, want %q", cfg.ConfigDir, configDir)
		}
		if id, _ := cfg.Registry.Resolve("summarize"); id != "123" {
			t.Errorf("Registry.Resolve(summarize) = %q, want 123", id)
		}
		if len(cfg.ClientOptions()) == 0 {
			t.Error("ClientOptions() returned no options")
		}
	})

	t.Run("missing explicit dir is an error", func(t *testing.T) {
		if _, err := LoadAll(filepath.Join(t.TempDir(), "missing")); err == nil {
			t.Error("expected error for missing config dir")
		}
	})

	t.Run("falls back to defaults", func(t *testing.T) {
		t.Setenv("AIROPS_HOME", "")
		t.Setenv("HOME", t.TempDir())
		t.Chdir(t.TempDir())

		cfg, err := LoadAll("")
		if err != nil {
			t.Fatalf("LoadAll() error = %v", err)
		}
		if cfg.ConfigDir != "" {
			t.Errorf("ConfigDir = %q, want empty", cfg.ConfigDir)
		}
		if cfg.API.Host != "https://app.airops.com" {
			t.Errorf("API.Host = %q, want default", cfg.API.Host)
		}
	})
}

func TestNewClient(t *testing.T) {
	cfg := &LoadedConfig{UnifiedConfig: Default()}
	cfg.Registry, _ = NewAppRegistry(nil)

	client, err := cfg.NewClient()
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	if client.Identified() {
		t.Error("Identified() = true without identity section")
	}

	cfg.Identity = IdentitySection{UserID: "u", WorkspaceID: 1, HashedUserID: "h"}
	client, err = cfg.NewClient()
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	if !client.Identified() {
		t.Error("Identified() = false with identity section")
	}

	cfg.Identity = IdentitySection{UserID: "u"}
	if _, err := cfg.NewClient(); !errors.Is(err, apperr.ErrIdentityIncomplete) {
		t.Errorf("NewClient() error = %v, want ErrIdentityIncomplete", err)
	}
}

func TestRealtimeConfig(t *testing.T) {
	cfg := &LoadedConfig{UnifiedConfig: Default()}
	cfg.Realtime.URL = "https://ws.example.test"
	cfg.Realtime.Headers = map[string]string{"x-api-key": "k1"}
	cfg.Realtime.ConnectTimeoutSeconds = 3

	rc := cfg.RealtimeConfig()
	if got := rc.Headers.Get("X-Api-Key"); got != "k1" {
		t.Errorf("Headers.Get(X-Api-Key) = %q, want %q", got, "k1")
	}
	if rc.ConnectTimeout != 3*time.Second {
		t.Errorf("ConnectTimeout = %v, want 3s", rc.ConnectTimeout)
	}

	cfg.Realtime.Headers = nil
	if rc := cfg.RealtimeConfig(); rc.Headers != nil {
		t.Errorf("Headers = %v, want nil without configured headers", rc.Headers)
	}
}
