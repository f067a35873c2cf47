// Package agentconfig persists the device agent's local configuration: a
// flat struct with sentinel validation errors, read from and written back
// to disk.
package agentconfig

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var (
	ErrMissingServerURL = errors.New("server_url is required")
	ErrMissingDeviceID  = errors.New("device_id is required")
	ErrInvalidInterval  = errors.New("interval must be positive")
)

const (
	defaultHeartbeatInterval = 60 * time.Second
	defaultRulePollInterval  = 300 * time.Second
	defaultMonitorInterval   = 2 * time.Second
	defaultAPIPrefix         = ""
	fileName                 = "agent-config.json"
	dirName                  = "heimdall-agent"
)

// Config is the device agent's on-disk record. Durations are stored in
// seconds so the file stays hand-editable.
type Config struct {
	ServerURL         string            `json:"server_url"`
	APIPrefix         string            `json:"api_prefix"`
	DeviceToken       string            `json:"device_token"`
	DeviceID          string            `json:"device_id"`
	ChildID           string            `json:"child_id"`
	DeviceName        string            `json:"device_name"`
	HeartbeatInterval durationSeconds   `json:"heartbeat_interval_seconds"`
	RulePollInterval  durationSeconds   `json:"rule_poll_interval_seconds"`
	MonitorInterval   durationSeconds   `json:"monitor_interval_seconds"`
	AppGroupMap       map[string]string `json:"app_group_map"`
}

// durationSeconds marshals a time.Duration as a number of seconds
// (fractional when the duration is not a whole second).
type durationSeconds time.Duration

func (d durationSeconds) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).Seconds())
}

func (d *durationSeconds) UnmarshalJSON(data []byte) error {
	var seconds float64
	if err := json.Unmarshal(data, &seconds); err != nil {
		return err
	}
	*d = durationSeconds(time.Duration(seconds * float64(time.Second)))
	return nil
}

func (d durationSeconds) Duration() time.Duration { return time.Duration(d) }

// DefaultConfig returns a config populated with the agent's defaults.
func DefaultConfig() *Config {
	return &Config{
		APIPrefix:         defaultAPIPrefix,
		HeartbeatInterval: durationSeconds(defaultHeartbeatInterval),
		RulePollInterval:  durationSeconds(defaultRulePollInterval),
		MonitorInterval:   durationSeconds(defaultMonitorInterval),
		AppGroupMap:       map[string]string{},
	}
}

// IsRegistered reports whether the agent has a device token.
func (c *Config) IsRegistered() bool {
	return c.DeviceToken != ""
}

// Validate checks the fields the agent cannot operate without.
func (c *Config) Validate() error {
	if c.ServerURL == "" {
		return ErrMissingServerURL
	}
	if c.DeviceID == "" {
		return ErrMissingDeviceID
	}
	if c.HeartbeatInterval.Duration() <= 0 || c.RulePollInterval.Duration() <= 0 || c.MonitorInterval.Duration() <= 0 {
		return ErrInvalidInterval
	}
	return nil
}

// GroupForExecutable resolves an app group id for a foreground executable
// name, matching case-insensitively.
func (c *Config) GroupForExecutable(executable string) string {
	return c.AppGroupMap[strings.ToLower(executable)]
}

// Dir returns the platform-appropriate per-machine config directory.
func Dir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve config directory: %w", err)
	}
	return filepath.Join(base, dirName), nil
}

// Path returns the full path to the config file.
func Path() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, fileName), nil
}

// Load reads the config file at path, applies environment overrides, and
// returns it. If the file does not exist, a fresh DefaultConfig is
// returned instead (the caller is expected to register the device before
// use).
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := DefaultConfig()
			applyEnvOverrides(cfg)
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read agent config: %w", err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse agent config: %w", err)
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

// Save writes the config to path, creating its parent directory as
// needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode agent config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write agent config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies URL/token environment overrides on load, so a
// provisioning script can inject credentials without editing the file on
// disk.
func applyEnvOverrides(cfg *Config) {
	if url := os.Getenv("HEIMDALL_SERVER_URL"); url != "" {
		cfg.ServerURL = url
	}
	if token := os.Getenv("HEIMDALL_DEVICE_TOKEN"); token != "" {
		cfg.DeviceToken = token
	}
}
