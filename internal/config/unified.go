package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// FileName is the name of the configuration file
const FileName = "airops.jsonc"

// UnifiedConfig is the single configuration file format for airops.jsonc
type UnifiedConfig struct {
	API      APISection               `json:"api"`
	Identity IdentitySection          `json:"identity"`
	Realtime RealtimeSection          `json:"realtime"`
	Polling  PollingSection           `json:"polling"`
	Apps     map[string]AppDefinition `json:"apps"`
	Storage  StorageSection           `json:"storage"`
	Server   ServerSection            `json:"server"`
	Logging  LoggingSection           `json:"logging"`
}

// APISection configures the HTTP API
type APISection struct {
	Host           string  `json:"host"`
	TimeoutSeconds int     `json:"timeout_seconds"`
	RateLimit      float64 `json:"rate_limit"` // requests per second, 0 disables
	RateBurst      int     `json:"rate_burst"`
}

// IdentitySection holds the end-user identity. All three fields or none.
type IdentitySection struct {
	UserID       string `json:"user_id"`
	WorkspaceID  int64  `json:"workspace_id"`
	HashedUserID string `json:"hashed_user_id"`
}

// RealtimeSection configures the socket.io connection
type RealtimeSection struct {
	URL                   string            `json:"url"`
	Namespace             string            `json:"namespace"`
	AppKey                string            `json:"app_key"`
	Cluster               string            `json:"cluster"`
	Headers               map[string]string `json:"headers"`
	InsecureSkipVerify    bool              `json:"insecure_skip_verify"`
	ConnectTimeoutSeconds int               `json:"connect_timeout_seconds"`
}

// PollingSection configures result polling
type PollingSection struct {
	IntervalMS     int `json:"interval_ms"`
	TimeoutSeconds int `json:"timeout_seconds"`
}

// StorageSection configures local persistence
type StorageSection struct {
	DataDir       string        `json:"data_dir"`
	RetentionDays int           `json:"retention_days"` // resolved history and schedule runs; negative keeps forever
	Backup        BackupSection `json:"backup"`
}

// BackupSection configures snapshots of the local databases
type BackupSection struct {
	Dir           string `json:"dir"`            // default <data_dir>/backups
	IntervalHours int    `json:"interval_hours"` // 0 disables automatic backups in the MCP server
	Retention     int    `json:"retention"`      // archives to keep
}

// Interval returns the automatic backup interval, 0 when disabled
func (s BackupSection) Interval() time.Duration {
	if s.IntervalHours <= 0 {
		return 0
	}
	return time.Duration(s.IntervalHours) * time.Hour
}

// Retention returns how long resolved records are kept, 0 meaning forever
func (s StorageSection) Retention() time.Duration {
	if s.RetentionDays <= 0 {
		return 0
	}
	return time.Duration(s.RetentionDays) * 24 * time.Hour
}

// ServerSection configures the MCP server
type ServerSection struct {
	Address     string  `json:"address"`
	RateLimit   float64 `json:"rate_limit"`
	RateBurst   int     `json:"rate_burst"`
	RequireAuth bool    `json:"require_auth"` // bearer tokens from "airops-mcp token" on /mcp
}

// LoggingSection configures the process logger
type LoggingSection struct {
	Level string `json:"level"`
	JSON  bool   `json:"json"`
	Dir   string `json:"dir"`
	Audit bool   `json:"audit"` // emit audit events for submits, cancels and schedule changes
}

// Complete reports whether all identity fields are set
func (s IdentitySection) Complete() bool {
	return s.UserID != "" && s.WorkspaceID != 0 && s.HashedUserID != ""
}

// Empty reports whether no identity field is set
func (s IdentitySection) Empty() bool {
	return s.UserID == "" && s.WorkspaceID == 0 && s.HashedUserID == ""
}

// PollInterval returns the poll interval
func (s PollingSection) PollInterval() time.Duration {
	return time.Duration(s.IntervalMS) * time.Millisecond
}

// Timeout returns the result deadline
func (s PollingSection) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

// FindConfigPath returns the path to airops.jsonc using precedence:
// 1. configDir + /airops.jsonc (if configDir specified)
// 2. $AIROPS_HOME/airops.jsonc
// 3. ./config/airops.jsonc (project-local)
// 4. ~/.airops/config/airops.jsonc (user global)
func FindConfigPath(configDir string) (string, error) {
	if configDir != "" {
		path := filepath.Join(configDir, FileName)
		if _, err := os.Stat(path); err != nil {
			return "", fmt.Errorf("%s not found in %s", FileName, configDir)
		}
		return absPath(path), nil
	}

	var candidates []string
	if home := os.Getenv("AIROPS_HOME"); home != "" {
		candidates = append(candidates, filepath.Join(home, FileName))
	}
	candidates = append(candidates, filepath.Join("config", FileName))
	if homeDir, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(homeDir, ".airops", "config", FileName))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return absPath(path), nil
		}
	}

	return "", fmt.Errorf("%s not found; tried: %v", FileName, candidates)
}

func absPath(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return abs
}

// LoadUnifiedConfig loads configuration from a single airops.jsonc file
func LoadUnifiedConfig(configPath string) (*UnifiedConfig, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", configPath, err)
	}

	var cfg UnifiedConfig
	if err := json.Unmarshal(StripJSONComments(data), &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", configPath, err)
	}

	applyEnvOverrides(&cfg)
	applyUnifiedDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", configPath, err)
	}
	return &cfg, nil
}

// Default returns a configuration with every default applied, used when
// no file is present
func Default() *UnifiedConfig {
	var cfg UnifiedConfig
	applyEnvOverrides(&cfg)
	applyUnifiedDefaults(&cfg)
	return &cfg
}

func applyEnvOverrides(cfg *UnifiedConfig) {
	if key := os.Getenv("AIROPS_APP_KEY"); key != "" {
		cfg.Realtime.AppKey = key
	}
	if cluster := os.Getenv("AIROPS_APP_CLUSTER"); cluster != "" {
		cfg.Realtime.Cluster = cluster
	}
}

func applyUnifiedDefaults(cfg *UnifiedConfig) {
	if cfg.API.Host == "" {
		cfg.API.Host = "https://app.airops.com"
	}
	if cfg.API.TimeoutSeconds == 0 {
		cfg.API.TimeoutSeconds = 30
	}

	if cfg.Realtime.ConnectTimeoutSeconds == 0 {
		cfg.Realtime.ConnectTimeoutSeconds = 15
	}

	if cfg.Polling.IntervalMS == 0 {
		cfg.Polling.IntervalMS = 500
	}
	if cfg.Polling.TimeoutSeconds == 0 {
		cfg.Polling.TimeoutSeconds = 600
	}

	if cfg.Apps == nil {
		cfg.Apps = make(map[string]AppDefinition)
	}

	if cfg.Storage.DataDir == "" {
		if homeDir, err := os.UserHomeDir(); err == nil {
			cfg.Storage.DataDir = filepath.Join(homeDir, ".airops", "data")
		} else {
			cfg.Storage.DataDir = "data"
		}
	}

	if cfg.Storage.Backup.Dir == "" {
		cfg.Storage.Backup.Dir = filepath.Join(cfg.Storage.DataDir, "backups")
	}
	if cfg.Storage.Backup.Retention == 0 {
		cfg.Storage.Backup.Retention = 7
	}
	if cfg.Storage.RetentionDays == 0 {
		cfg.Storage.RetentionDays = 30
	}

	if cfg.Server.Address == "" {
		cfg.Server.Address = ":8080"
	}
	if cfg.Server.RateLimit == 0 {
		cfg.Server.RateLimit = 10
	}
	if cfg.Server.RateBurst == 0 {
		cfg.Server.RateBurst = 20
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

// Validate checks that required configuration is consistent
func (u *UnifiedConfig) Validate() error {
	if !u.Identity.Empty() && !u.Identity.Complete() {
		return fmt.Errorf("identity requires user_id, workspace_id and hashed_user_id together")
	}
	for name, app := range u.Apps {
		if app.ID == "" {
			return fmt.Errorf("app %q has no id", name)
		}
		if app.Version < 0 {
			return fmt.Errorf("app %q has negative version", name)
		}
	}
	return nil
}
