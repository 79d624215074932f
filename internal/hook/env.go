package hook

import (
	"github.com/ctagard/deepdbg/internal/launchconfig"
	"github.com/ctagard/deepdbg/internal/platform"
	"github.com/ctagard/deepdbg/pkg/types"
)

// Environment variables shared by the controller and its hooks.
const (
	// EnvLauncherQueue names the relay server socket of the session tree.
	EnvLauncherQueue = "DEEPDEBUGGER_LAUNCHER_QUEUE"

	// EnvSessionID is the relay session id of the process that spawns children.
	EnvSessionID = "DEEPDEBUGGER_SESSION_ID"

	// Default names of the per-language hook command variables.
	EnvPythonHook = "DEEPDBG_PYTHON_HOOK"
	EnvCppHook    = "DEEPDBG_CPP_HOOK"
	EnvBashHook   = "DEEPDBG_BASH_HOOK"
)

// HookVars names the variables the hook commands are exported under.
type HookVars struct {
	Python string
	Cpp    string
	Bash   string
}

// DefaultHookVars returns the standard variable names.
func DefaultHookVars() HookVars {
	return HookVars{Python: EnvPythonHook, Cpp: EnvCppHook, Bash: EnvBashHook}
}

// Command returns the command line that runs the hook for backend typ.
func Command(caps platform.Capabilities, exe string, typ types.BackendType) string {
	return caps.Quote(exe) + " hook --type " + string(typ) + " --"
}

// Entries returns the environment a debuggee needs so that its children
// report to the launcher queue through deepdbg at exe.
func (v HookVars) Entries(caps platform.Capabilities, exe, queue string) []launchconfig.EnvEntry {
	return []launchconfig.EnvEntry{
		{Name: EnvLauncherQueue, Value: queue},
		{Name: v.Python, Value: Command(caps, exe, types.BackendPython)},
		{Name: v.Cpp, Value: Command(caps, exe, types.BackendBinary)},
		{Name: v.Bash, Value: Command(caps, exe, types.BackendBashdb)},
	}
}

func lookup(env []launchconfig.EnvEntry, caps platform.Capabilities, name string) string {
	want := caps.EnvName(name)
	for i := len(env) - 1; i >= 0; i-- {
		if caps.EnvName(env[i].Name) == want {
			return env[i].Value
		}
	}
	return ""
}
