// Package config provides configuration management for deepdbg.
//
// Configuration controls:
//   - Logging: shared log file and verbosity
//   - Launch defaults: handshake timeout, hierarchy tracking, binary extensions
//   - Hook variables: names the per-language hook commands are exported under
//   - Relay limits: dial and stop timeouts
//
// Settings come from an optional deepdbg.{yaml,json,toml} file and from
// DEEPDEBUGGER_* environment variables. Per-launch DAP arguments override
// both for that launch.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ctagard/deepdbg/internal/controller"
	"github.com/ctagard/deepdbg/internal/hook"
	"github.com/ctagard/deepdbg/internal/relay"
)

// EnvPrefix starts every environment variable deepdbg reads settings from.
const EnvPrefix = "DEEPDEBUGGER"

// Config holds the deepdbg settings
type Config struct {
	LogFile  string `mapstructure:"logFile"`
	LogLevel string `mapstructure:"logLevel"`

	HandshakeTimeout time.Duration `mapstructure:"handshakeTimeout"`
	TrackHierarchy   bool          `mapstructure:"trackHierarchy"`
	BinaryExtensions bool          `mapstructure:"binaryExtensions"`

	// QueueDir is where launcher queues and block channels are created.
	QueueDir string `mapstructure:"queueDir"`

	HookVars HookVarsConfig `mapstructure:"hookVars"`

	Workspace  string `mapstructure:"workspace"`
	LaunchJSON string `mapstructure:"launchJSON"`

	// DriverRoot is where python drivers are cloned.
	DriverRoot string `mapstructure:"driverRoot"`

	RelayStopTimeout time.Duration `mapstructure:"relayStopTimeout"`
	DialTimeout      time.Duration `mapstructure:"dialTimeout"`
}

// HookVarsConfig names the hook command variables
type HookVarsConfig struct {
	Python string `mapstructure:"python"`
	Cpp    string `mapstructure:"cpp"`
	Bash   string `mapstructure:"bash"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	vars := hook.DefaultHookVars()
	return &Config{
		LogLevel:         "info",
		HandshakeTimeout: controller.DefaultHandshakeTimeout,
		TrackHierarchy:   true,
		QueueDir:         os.TempDir(),
		HookVars: HookVarsConfig{
			Python: vars.Python,
			Cpp:    vars.Cpp,
			Bash:   vars.Bash,
		},
		DriverRoot:       controller.DefaultDriverRoot(),
		RelayStopTimeout: relay.DefaultStopTimeout,
		DialTimeout:      relay.DefaultDialTimeout,
	}
}

// envBindings maps each key to its environment variable suffix.
var envBindings = map[string]string{
	"logFile":          "LOG_FILE",
	"logLevel":         "LOG_LEVEL",
	"handshakeTimeout": "HANDSHAKE_TIMEOUT",
	"trackHierarchy":   "TRACK_HIERARCHY",
	"binaryExtensions": "BINARY_EXTENSIONS",
	"queueDir":         "QUEUE_DIR",
	"hookVars.python":  "PYTHON_HOOK_VAR",
	"hookVars.cpp":     "CPP_HOOK_VAR",
	"hookVars.bash":    "BASH_HOOK_VAR",
	"workspace":        "WORKSPACE",
	"launchJSON":       "LAUNCH_JSON",
	"driverRoot":       "DRIVER_ROOT",
	"relayStopTimeout": "RELAY_STOP_TIMEOUT",
	"dialTimeout":      "DIAL_TIMEOUT",
}

// LoadConfig loads configuration from path, or from the standard locations
// when path is empty. A missing file in the standard locations is not an
// error.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("deepdbg")
		if configDir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(configDir, "deepdbg"))
		}
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".deepdbg"))
		}
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for key, suffix := range envBindings {
		if err := v.BindEnv(key, EnvPrefix+"_"+suffix); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	cfg := DefaultConfig()
	v.SetDefault("logLevel", cfg.LogLevel)
	v.SetDefault("handshakeTimeout", cfg.HandshakeTimeout)
	v.SetDefault("trackHierarchy", cfg.TrackHierarchy)
	v.SetDefault("binaryExtensions", cfg.BinaryExtensions)
	v.SetDefault("queueDir", cfg.QueueDir)
	v.SetDefault("hookVars.python", cfg.HookVars.Python)
	v.SetDefault("hookVars.cpp", cfg.HookVars.Cpp)
	v.SetDefault("hookVars.bash", cfg.HookVars.Bash)
	v.SetDefault("driverRoot", cfg.DriverRoot)
	v.SetDefault("relayStopTimeout", cfg.RelayStopTimeout)
	v.SetDefault("dialTimeout", cfg.DialTimeout)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail much later
func (c *Config) Validate() error {
	for name, d := range map[string]time.Duration{
		"handshakeTimeout": c.HandshakeTimeout,
		"relayStopTimeout": c.RelayStopTimeout,
		"dialTimeout":      c.DialTimeout,
	} {
		if d < 0 {
			return fmt.Errorf("%s must not be negative, got %s", name, d)
		}
	}
	for name, v := range map[string]string{
		"hookVars.python": c.HookVars.Python,
		"hookVars.cpp":    c.HookVars.Cpp,
		"hookVars.bash":   c.HookVars.Bash,
	} {
		if v == "" || strings.ContainsAny(v, "= \t") {
			return fmt.Errorf("%s must be a variable name, got %q", name, v)
		}
	}
	return nil
}

// ControllerOptions returns the launch defaults for a controller. exe is
// the deepdbg binary hooks run through.
func (c *Config) ControllerOptions(exe string) controller.Options {
	return controller.Options{
		WorkspaceFolder: c.Workspace,
		LaunchJSON:      c.LaunchJSON,
		HookVars: hook.HookVars{
			Python: c.HookVars.Python,
			Cpp:    c.HookVars.Cpp,
			Bash:   c.HookVars.Bash,
		},
		TrackHierarchy:   c.TrackHierarchy,
		BinaryExtensions: c.BinaryExtensions,
		HandshakeTimeout: c.HandshakeTimeout,
		DialTimeout:      c.DialTimeout,
		Executable:       exe,
		DriverRoot:       c.DriverRoot,
	}
}

// RelayOptions returns how relay server processes are started.
func (c *Config) RelayOptions(exe string) relay.ProcessOptions {
	opts := relay.ProcessOptions{
		Executable:  exe,
		StopTimeout: c.RelayStopTimeout,
		DialTimeout: c.DialTimeout,
	}
	if c.LogFile != "" {
		opts.ExtraArgs = []string{"--log-file", c.LogFile}
	}
	return opts
}
