package codec

import "strings"

// Reserved switches let a hook or driver pass metadata through channels that
// only carry an argument list. They always trail the real arguments.
const (
	SwitchPrefix      = "--deep-debugger-"
	SwitchSessionName = SwitchPrefix + "session-name"
	SwitchSessionCwd  = SwitchPrefix + "session-cwd"
	SwitchLogFile     = SwitchPrefix + "log-file"
	SwitchBinaryHook  = SwitchPrefix + "binary-hook"
	SwitchNodePath    = SwitchPrefix + "nodejs-path"
	SwitchPythonPath  = SwitchPrefix + "python-path"

	// SwitchConnect asks a python driver to report instead of run.
	SwitchConnect = "--connect"
)

// Switches holds the values of the reserved switches found in an argument list.
type Switches struct {
	// Present is true when at least one reserved switch was found.
	Present bool

	Connect     bool
	SessionName string
	SessionCwd  string
	LogFile     string
	BinaryHook  string
	NodePath    string
	PythonPath  string
}

// StripSwitches cuts the argument list at the first reserved switch and
// parses the tail. Running it on its own output is a no-op.
func StripSwitches(args []string) ([]string, Switches) {
	var sw Switches

	pos := -1
	for i, a := range args {
		if strings.HasPrefix(a, SwitchPrefix) {
			pos = i
			break
		}
	}
	if pos < 0 {
		return args, sw
	}

	sw.Present = true
	tail := args[pos:]
	for i := 0; i < len(tail); i++ {
		if tail[i] == SwitchConnect {
			sw.Connect = true
			continue
		}
		if !strings.HasPrefix(tail[i], SwitchPrefix) {
			continue
		}

		name, value := tail[i], ""
		if i+1 < len(tail) && !strings.HasPrefix(tail[i+1], SwitchPrefix) && tail[i+1] != SwitchConnect {
			value = Unquote(tail[i+1])
			i++
		}

		switch name {
		case SwitchSessionName:
			sw.SessionName = value
		case SwitchSessionCwd:
			sw.SessionCwd = value
		case SwitchLogFile:
			sw.LogFile = value
		case SwitchBinaryHook:
			sw.BinaryHook = value
		case SwitchNodePath:
			sw.NodePath = value
		case SwitchPythonPath:
			sw.PythonPath = value
		}
	}

	return args[:pos:pos], sw
}

// Args renders the non-empty switches back into an argument tail.
func (s Switches) Args() []string {
	var out []string
	add := func(name, value string) {
		if value != "" {
			out = append(out, name, value)
		}
	}
	add(SwitchSessionCwd, s.SessionCwd)
	add(SwitchSessionName, s.SessionName)
	add(SwitchLogFile, s.LogFile)
	add(SwitchBinaryHook, s.BinaryHook)
	add(SwitchNodePath, s.NodePath)
	add(SwitchPythonPath, s.PythonPath)
	return out
}

// Unquote removes one level of matching single or double quotes.
func Unquote(s string) string {
	if len(s) < 2 {
		return s
	}
	q := s[0]
	if (q != '"' && q != '\'') || s[len(s)-1] != q {
		return s
	}
	inner := s[1 : len(s)-1]
	if q == '"' {
		inner = strings.ReplaceAll(inner, `\"`, `"`)
	}
	return inner
}
