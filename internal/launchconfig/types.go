// Package launchconfig provides the launch configuration model shared by the
// hook, the codec and the session controller, plus VS Code launch.json
// discovery for named configurations.
package launchconfig

import (
	"encoding/json"
	"strconv"

	"github.com/ctagard/deepdbg/pkg/types"
)

// Relay-private configuration keys.
const (
	KeySessionID       = "deepDbgSessionID"
	KeyParentSessionID = "deepDbgParentSessionID"
	KeyHookPipe        = "deepDbgHookPipe"
)

// LaunchJSON represents a VS Code launch.json file structure.
type LaunchJSON struct {
	Version        string          `json:"version"`
	Configurations []Configuration `json:"configurations"`
}

// EnvEntry is one environment variable in list form.
type EnvEntry struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// SetupCommand is a debugger command run before launch (cppdbg).
type SetupCommand struct {
	Description    string `json:"description,omitempty"`
	Text           string `json:"text"`
	IgnoreFailures bool   `json:"ignoreFailures,omitempty"`
}

// Configuration describes how to start one debug session.
type Configuration struct {
	// Required fields
	Type    types.BackendType `json:"type,omitempty"`
	Request string            `json:"request,omitempty"`
	Name    string            `json:"name,omitempty"`

	// Common optional fields
	Program     string            `json:"program,omitempty"`
	Args        []string          `json:"args,omitempty"`
	Cwd         string            `json:"cwd,omitempty"`
	Env         map[string]string `json:"env,omitempty"`         // env-as-object backends
	Environment []EnvEntry        `json:"environment,omitempty"` // env-as-list backends
	StopAtEntry *bool             `json:"stopAtEntry,omitempty"`
	StopOnEntry *bool             `json:"stopOnEntry,omitempty"`
	Console     string            `json:"console,omitempty"`

	// cppdbg specific
	MIMode        string         `json:"MIMode,omitempty"`
	SetupCommands []SetupCommand `json:"setupCommands,omitempty"`

	// Python specific
	Python     string `json:"python,omitempty"`
	PythonPath string `json:"pythonPath,omitempty"`

	// Relay-private fields
	SessionID       string `json:"deepDbgSessionID,omitempty"`
	ParentSessionID string `json:"deepDbgParentSessionID,omitempty"`
	HookPipe        string `json:"deepDbgHookPipe,omitempty"`

	// All other properties not explicitly defined (backend-specific extras)
	Extra map[string]interface{} `json:"-"`
}

var knownFields = map[string]bool{
	"type": true, "request": true, "name": true,
	"program": true, "args": true, "cwd": true, "env": true, "environment": true,
	"stopAtEntry": true, "stopOnEntry": true, "console": true,
	"MIMode": true, "setupCommands": true,
	"python": true, "pythonPath": true,
	KeySessionID: true, KeyParentSessionID: true, KeyHookPipe: true,
}

// UnmarshalJSON implements custom unmarshaling to capture unknown fields.
func (c *Configuration) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	type Alias Configuration
	var alias Alias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	*c = Configuration(alias)

	c.Extra = make(map[string]interface{})
	for key, value := range raw {
		if knownFields[key] {
			continue
		}
		var v interface{}
		if err := json.Unmarshal(value, &v); err != nil {
			return err
		}
		c.Extra[key] = v
	}

	return nil
}

// MarshalJSON implements custom marshaling to include Extra fields.
func (c Configuration) MarshalJSON() ([]byte, error) {
	type Alias Configuration
	data, err := json.Marshal(Alias(c))
	if err != nil {
		return nil, err
	}

	if len(c.Extra) == 0 {
		return data, nil
	}

	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	for k, v := range c.Extra {
		if _, known := m[k]; !known {
			m[k] = v
		}
	}

	return json.Marshal(m)
}

// ToMap converts the configuration into the generic form a host front-end consumes.
func (c *Configuration) ToMap() (map[string]interface{}, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// FromMap builds a configuration from its generic form.
func FromMap(m map[string]interface{}) (*Configuration, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var c Configuration
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// Clone returns a deep copy of the configuration.
func (c *Configuration) Clone() (*Configuration, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	var clone Configuration
	if err := json.Unmarshal(data, &clone); err != nil {
		return nil, err
	}
	return &clone, nil
}

// SessionNumber parses the relay session id, returning 0 when unset or invalid.
func (c *Configuration) SessionNumber() int {
	return parseSessionID(c.SessionID)
}

// ParentSessionNumber parses the relay parent session id, returning 0 when unset or invalid.
func (c *Configuration) ParentSessionNumber() int {
	return parseSessionID(c.ParentSessionID)
}

func parseSessionID(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// BoolPtr returns a pointer to b, for the optional boolean fields.
func BoolPtr(b bool) *bool {
	return &b
}
