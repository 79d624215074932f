package launchconfig

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/samber/lo"
	"github.com/tailscale/hujson"
)

const (
	// LaunchJSONFileName is the standard name for VS Code launch configuration file.
	LaunchJSONFileName = "launch.json"
	// VSCodeDirName is the VS Code configuration directory name.
	VSCodeDirName = ".vscode"
)

// LoadFromPath loads a launch.json file from an explicit path. Comments and
// trailing commas are accepted, as VS Code writes them.
func LoadFromPath(path string) (*LaunchJSON, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read launch.json: %w", err)
	}

	standard, err := hujson.Standardize(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse launch.json: %w", err)
	}

	var lj LaunchJSON
	if err := json.Unmarshal(standard, &lj); err != nil {
		return nil, fmt.Errorf("failed to parse launch.json: %w", err)
	}

	return &lj, nil
}

// ErrNoLaunchJSON is returned by Discover when no launch.json is found.
var ErrNoLaunchJSON = errors.New("no " + VSCodeDirName + "/" + LaunchJSONFileName + " found")

// Discover returns the .vscode/launch.json nearest to workspace, looking in
// workspace first and then in each of its parents. An empty workspace means
// the current directory.
func Discover(workspace string) (string, error) {
	dir, err := filepath.Abs(lo.Ternary(workspace == "", ".", workspace))
	if err != nil {
		return "", fmt.Errorf("failed to resolve workspace folder: %w", err)
	}
	if info, err := os.Stat(dir); err != nil {
		return "", fmt.Errorf("failed to stat workspace folder: %w", err)
	} else if !info.IsDir() {
		dir = filepath.Dir(dir)
	}

	for {
		candidate := filepath.Join(dir, VSCodeDirName, LaunchJSONFileName)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
		up := filepath.Dir(dir)
		if up == dir {
			return "", fmt.Errorf("%w in %s or its parents", ErrNoLaunchJSON, workspace)
		}
		dir = up
	}
}

// LoadAndDiscover finds a launch.json from the start path and loads it.
func LoadAndDiscover(startPath string) (*LaunchJSON, string, error) {
	path, err := Discover(startPath)
	if err != nil {
		return nil, "", err
	}

	lj, err := LoadFromPath(path)
	if err != nil {
		return nil, "", err
	}

	return lj, path, nil
}

// FindConfiguration finds a configuration by name and returns a copy of it,
// so callers can mutate the result freely.
func FindConfiguration(lj *LaunchJSON, name string) (*Configuration, error) {
	found, ok := lo.Find(lj.Configurations, func(c Configuration) bool { return c.Name == name })
	if !ok {
		return nil, fmt.Errorf("configuration %q not found", name)
	}
	return found.Clone()
}

// ListConfigurationNames returns a list of all configuration names.
func ListConfigurationNames(lj *LaunchJSON) []string {
	return lo.Map(lj.Configurations, func(c Configuration, _ int) string { return c.Name })
}

// GetWorkspaceFolder derives the workspace folder from the launch.json path.
// The workspace folder is the parent of the .vscode directory.
func GetWorkspaceFolder(launchJSONPath string) string {
	return filepath.Dir(filepath.Dir(launchJSONPath))
}

// ValidateConfiguration performs basic validation on a configuration.
func ValidateConfiguration(cfg *Configuration) error {
	if cfg.Name == "" {
		return fmt.Errorf("configuration name is required")
	}
	if cfg.Request != "" && cfg.Request != "launch" && cfg.Request != "attach" {
		return fmt.Errorf("configuration request must be 'launch' or 'attach', got %q", cfg.Request)
	}
	return nil
}
