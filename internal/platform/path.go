package platform

import (
	"os"
	"path/filepath"
	"strings"
)

// IsBareName reports whether program has no directory component.
func IsBareName(program string) bool {
	return program != "" && !strings.ContainsAny(program, `/\`)
}

// FileExists reports whether path names an existing non-directory file.
func FileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// SearchPath looks for name in every entry of pathValue and returns the
// first existing file, or "" when none matches.
func (c Capabilities) SearchPath(name, pathValue string) string {
	candidates := []string{name}
	if c.OS == "windows" && filepath.Ext(name) == "" {
		candidates = append(candidates, name+".exe")
	}

	for _, dir := range c.SplitList(pathValue) {
		if dir == "" {
			continue
		}
		for _, candidate := range candidates {
			full := filepath.Join(dir, candidate)
			if FileExists(full) {
				return full
			}
		}
	}
	return ""
}
