package launchconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// ResolutionContext provides context for variable resolution.
type ResolutionContext struct {
	WorkspaceFolder string            // Root folder of the workspace
	EnvOverrides    map[string]string // Override environment variables
}

// Variable pattern matches ${...} expressions
var variablePattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// ResolveVariables replaces all ${...} variables in the given text.
// Unknown variables are left in place and reported through the error.
func ResolveVariables(text string, ctx *ResolutionContext) (string, error) {
	if ctx == nil {
		ctx = &ResolutionContext{}
	}

	var lastErr error
	result := variablePattern.ReplaceAllStringFunc(text, func(match string) string {
		expr := match[2 : len(match)-1]

		resolved, err := resolveVariable(expr, ctx)
		if err != nil {
			lastErr = err
			return match
		}
		return resolved
	})

	return result, lastErr
}

func resolveVariable(expr string, ctx *ResolutionContext) (string, error) {
	switch {
	case expr == "workspaceFolder" || expr == "workspaceRoot":
		return ctx.WorkspaceFolder, nil

	case expr == "workspaceFolderBasename":
		return filepath.Base(ctx.WorkspaceFolder), nil

	case expr == "userHome":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get user home: %w", err)
		}
		return home, nil

	case expr == "cwd":
		if ctx.WorkspaceFolder != "" {
			return ctx.WorkspaceFolder, nil
		}
		cwd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("failed to get cwd: %w", err)
		}
		return cwd, nil

	case expr == "pathSeparator" || expr == "/":
		return string(os.PathSeparator), nil

	case strings.HasPrefix(expr, "env:"):
		varName := strings.TrimPrefix(expr, "env:")
		if v, ok := ctx.EnvOverrides[varName]; ok {
			return v, nil
		}
		return os.Getenv(varName), nil
	}

	return "", fmt.Errorf("unsupported variable: ${%s}", expr)
}

// ResolveConfiguration resolves variables in every string field the relay
// reads. Extra properties are passed through to the backend untouched.
func ResolveConfiguration(cfg *Configuration, ctx *ResolutionContext) error {
	var errs []error
	resolve := func(s *string) {
		if !strings.Contains(*s, "${") {
			return
		}
		out, err := ResolveVariables(*s, ctx)
		if err != nil {
			errs = append(errs, err)
		}
		*s = out
	}

	resolve(&cfg.Name)
	resolve(&cfg.Program)
	resolve(&cfg.Cwd)
	resolve(&cfg.Python)
	resolve(&cfg.PythonPath)
	for i := range cfg.Args {
		resolve(&cfg.Args[i])
	}
	for k, v := range cfg.Env {
		resolve(&v)
		cfg.Env[k] = v
	}
	for i := range cfg.Environment {
		resolve(&cfg.Environment[i].Value)
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration %q: %w", cfg.Name, errs[0])
	}
	return nil
}
