// Package types defines shared data types used across deepdbg.
//
// This package provides type definitions for:
//   - BackendType: debugger backend tags a host front-end recognizes
//   - ControllerState: lifecycle of one top-level relayed launch
//   - SessionInfo: what the controller knows about a relayed session
package types

// BackendType is the `type` tag of a launch configuration.
type BackendType string

const (
	// BackendBinary is the platform-neutral tag for native executables.
	// It is replaced by the platform's native debugger tag before dispatch.
	BackendBinary   BackendType = "binary"
	BackendCppdbg   BackendType = "cppdbg"
	BackendCppvsdbg BackendType = "cppvsdbg"
	BackendPython   BackendType = "python"
	BackendDebugpy  BackendType = "debugpy"
	BackendNode     BackendType = "node"
	BackendPwaNode  BackendType = "pwa-node"
	BackendBashdb   BackendType = "bashdb"

	// BackendDeepDebugger is the adapter type of deepdbg itself.
	BackendDeepDebugger BackendType = "deepdbg"
)

// ControllerState represents where a session controller is in its lifecycle
type ControllerState string

const (
	StateIdle                      ControllerState = "idle"
	StateAwaitingConfigurationDone ControllerState = "awaitingConfigurationDone"
	StateLauncherQueueOpen         ControllerState = "launcherQueueOpen"
	StateRunning                   ControllerState = "running"
	StateTerminated                ControllerState = "terminated"
)

// SessionInfo represents information about a relayed debug session
type SessionInfo struct {
	SessionID       int         `json:"sessionId"`
	ParentSessionID int         `json:"parentSessionId,omitempty"`
	Name            string      `json:"name"`
	Type            BackendType `json:"type,omitempty"`
	Program         string      `json:"program,omitempty"`
	HookPipe        string      `json:"hookPipe,omitempty"`
}
