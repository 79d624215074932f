package launchconfig

import (
	"sort"
	"strings"

	"github.com/samber/lo"
)

// EnvShape is how a backend expects the environment to be represented.
type EnvShape int

const (
	// EnvAsMap stores variables in the `env` object.
	EnvAsMap EnvShape = iota
	// EnvAsList stores variables in the `environment` array of name/value pairs.
	EnvAsList
)

// SetEnv sets one variable in the given shape, overwriting an existing entry
// of the same name instead of adding a duplicate.
func (c *Configuration) SetEnv(shape EnvShape, name, value string) {
	if shape == EnvAsList {
		for i := range c.Environment {
			if c.Environment[i].Name == name {
				c.Environment[i].Value = value
				return
			}
		}
		c.Environment = append(c.Environment, EnvEntry{Name: name, Value: value})
		return
	}

	if c.Env == nil {
		c.Env = make(map[string]string)
	}
	c.Env[name] = value
}

// Reshape moves every variable into the given representation.
func (c *Configuration) Reshape(shape EnvShape) {
	entries := c.EnvList()
	c.Env = nil
	c.Environment = nil
	if len(entries) == 0 {
		return
	}
	c.InjectEnv(shape, entries)
}

// InjectEnv sets every entry in the given shape.
func (c *Configuration) InjectEnv(shape EnvShape, entries []EnvEntry) {
	for _, e := range entries {
		c.SetEnv(shape, e.Name, e.Value)
	}
}

// LookupEnv finds a variable in either representation. The list form wins
// since hooks forward their snapshot there.
func (c *Configuration) LookupEnv(name string, fold bool) (string, bool) {
	match := func(candidate string) bool {
		if fold {
			return strings.EqualFold(candidate, name)
		}
		return candidate == name
	}

	if e, ok := lo.Find(c.Environment, func(e EnvEntry) bool { return match(e.Name) }); ok {
		return e.Value, true
	}
	for k, v := range c.Env {
		if match(k) {
			return v, true
		}
	}
	return "", false
}

// EnvList returns the environment as a list, merging both representations.
// Map entries are sorted by name for a stable order.
func (c *Configuration) EnvList() []EnvEntry {
	out := append([]EnvEntry(nil), c.Environment...)
	seen := lo.SliceToMap(out, func(e EnvEntry) (string, bool) { return e.Name, true })

	keys := lo.Keys(c.Env)
	sort.Strings(keys)
	for _, k := range keys {
		if !seen[k] {
			out = append(out, EnvEntry{Name: k, Value: c.Env[k]})
		}
	}
	return out
}

// EnvFromOS converts os.Environ-style "NAME=value" strings into entries.
func EnvFromOS(environ []string) []EnvEntry {
	return lo.FilterMap(environ, func(kv string, _ int) (EnvEntry, bool) {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || name == "" {
			return EnvEntry{}, false
		}
		return EnvEntry{Name: name, Value: value}, true
	})
}
