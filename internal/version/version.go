// Package version provides version information.
package version

import (
	"fmt"
	"runtime"
)

// Version is the current version of deepdbg. Release builds override it with
// -ldflags "-X github.com/ctagard/deepdbg/internal/version.Version=...".
var Version = "0.1.0"

// GetVersion returns the current version
func GetVersion() string {
	return Version
}

// String returns the version line printed by `deepdbg version`.
func String() string {
	return fmt.Sprintf("deepdbg version %s (%s/%s)", Version, runtime.GOOS, runtime.GOARCH)
}
