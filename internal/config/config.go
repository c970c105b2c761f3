package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// DeviceNameEnv overrides device_name when set.
const DeviceNameEnv = "BLE_DEVICE_NAME"

// Config holds all application configuration.
type Config struct {
	DeviceName     string        `yaml:"device_name"`
	ServiceUUID    string        `yaml:"service_uuid"`
	WriteCharUUID  string        `yaml:"write_char_uuid"`
	NotifyCharUUID string        `yaml:"notify_char_uuid"`
	MTU            int           `yaml:"mtu"`
	NonceTTL       time.Duration `yaml:"nonce_ttl"`
	Arming         ArmingConfig  `yaml:"arming"`
	Secret         SecretConfig  `yaml:"secret"`
	Input          InputConfig   `yaml:"input"`
	LogLevel       string        `yaml:"log_level"`
}

// ArmingConfig holds the tap-to-arm settings.
type ArmingConfig struct {
	RequiredTaps int           `yaml:"required_taps"`
	Window       time.Duration `yaml:"window"`
	DisarmAfter  time.Duration `yaml:"disarm_after"`
	Mode         string        `yaml:"mode"` // "arm_execute" or "tap_to_send"
}

// SecretConfig locates the sealed shared secret.
type SecretConfig struct {
	Path string `yaml:"path"`
}

// InputConfig selects where taps come from.
type InputConfig struct {
	Mode        string   `yaml:"mode"` // "stdin" or "hotkey"
	OpenKeys    []string `yaml:"open_keys"`
	CloseKeys   []string `yaml:"close_keys"`
	ExecuteKeys []string `yaml:"execute_keys"`
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "bleremote")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	cfg := &Config{
		DeviceName:     "BtBridge",
		ServiceUUID:    "4fafc201-1fb5-459e-8fcc-c5c9c331914b",
		WriteCharUUID:  "beb5483e-36e1-4688-b7f5-ea07361b26a8",
		NotifyCharUUID: "beb5483f-36e1-4688-b7f5-ea07361b26a8",
		MTU:            247,
		NonceTTL:       10 * time.Second,
		Arming: ArmingConfig{
			RequiredTaps: 3,
			Window:       2500 * time.Millisecond,
			DisarmAfter:  5 * time.Second,
			Mode:         "arm_execute",
		},
		Secret: SecretConfig{
			Path: filepath.Join(DefaultConfigDir(), "secret.bin"),
		},
		Input: InputConfig{
			Mode:        "stdin",
			OpenKeys:    []string{"ctrl", "shift", "o"},
			CloseKeys:   []string{"ctrl", "shift", "c"},
			ExecuteKeys: []string{"ctrl", "shift", "x"},
		},
		LogLevel: "info",
	}
	if name := os.Getenv(DeviceNameEnv); name != "" {
		cfg.DeviceName = name
	}
	return cfg
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults. Tilde (~) in secret.path is expanded to the user's home directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.Secret.Path = expandTilde(cfg.Secret.Path)
	if name := os.Getenv(DeviceNameEnv); name != "" {
		cfg.DeviceName = name
	}

	return cfg, nil
}

// Save writes the config to path as YAML, creating the directory if needed.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DeviceName) == "" {
		return fmt.Errorf("device_name must not be empty")
	}

	for _, f := range []struct {
		key, value string
	}{
		{"service_uuid", c.ServiceUUID},
		{"write_char_uuid", c.WriteCharUUID},
		{"notify_char_uuid", c.NotifyCharUUID},
	} {
		if _, err := uuid.Parse(f.value); err != nil {
			return fmt.Errorf("%s must be a UUID, got %q: %w", f.key, f.value, err)
		}
	}

	// 23 is the ATT minimum, 517 the largest MTU BLE allows.
	if c.MTU < 23 || c.MTU > 517 {
		return fmt.Errorf("mtu must be between 23 and 517, got %d", c.MTU)
	}

	if c.NonceTTL <= 0 {
		return fmt.Errorf("nonce_ttl must be > 0")
	}

	if c.Arming.RequiredTaps < 1 {
		return fmt.Errorf("arming.required_taps must be >= 1, got %d", c.Arming.RequiredTaps)
	}
	if c.Arming.Window <= 0 {
		return fmt.Errorf("arming.window must be > 0")
	}
	if c.Arming.DisarmAfter <= 0 {
		return fmt.Errorf("arming.disarm_after must be > 0")
	}
	switch c.Arming.Mode {
	case "arm_execute", "tap_to_send":
	default:
		return fmt.Errorf("arming.mode must be \"arm_execute\" or \"tap_to_send\", got %q", c.Arming.Mode)
	}

	if c.Secret.Path == "" {
		return fmt.Errorf("secret.path must not be empty")
	}

	switch c.Input.Mode {
	case "stdin":
	case "hotkey":
		if len(c.Input.OpenKeys) == 0 || len(c.Input.CloseKeys) == 0 {
			return fmt.Errorf("input.open_keys and input.close_keys must not be empty in hotkey mode")
		}
		if c.Arming.Mode == "arm_execute" && len(c.Input.ExecuteKeys) == 0 {
			return fmt.Errorf("input.execute_keys must not be empty in arm_execute mode")
		}
	default:
		return fmt.Errorf("input.mode must be \"stdin\" or \"hotkey\", got %q", c.Input.Mode)
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	return nil
}

// ParseLogLevel maps a log_level string to a slog.Level, defaulting to info.
func ParseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

const defaultConfigTemplate = `# bleremote configuration
# Docs: edit values below and restart bleremote.

# Advertised name of the remote peripheral. BLE_DEVICE_NAME overrides it.
device_name: BtBridge

# GATT layout of the peripheral.
service_uuid: 4fafc201-1fb5-459e-8fcc-c5c9c331914b
write_char_uuid: beb5483e-36e1-4688-b7f5-ea07361b26a8
notify_char_uuid: beb5483f-36e1-4688-b7f5-ea07361b26a8
mtu: 247

# How long a received nonce may be used to sign a command.
nonce_ttl: 10s

arming:
  required_taps: 3
  window: 2.5s
  disarm_after: 5s
  mode: arm_execute # arm_execute or tap_to_send

secret:
  path: ~/.config/bleremote/secret.bin

input:
  mode: stdin # stdin or hotkey
  open_keys: ["ctrl", "shift", "o"]
  close_keys: ["ctrl", "shift", "c"]
  execute_keys: ["ctrl", "shift", "x"]

log_level: info # debug, info, warn, error
`

// WriteDefault writes the commented default config to DefaultConfigPath.
// It returns the written path, or "" if a config file already exists.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(defaultConfigTemplate), 0o644); err != nil {
		return "", fmt.Errorf("writing default config: %w", err)
	}
	return path, nil
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
