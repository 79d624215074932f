// Package backend describes the debugger backends a host front-end
// recognizes and what a launch configuration must look like for each.
//
// The relay never talks to a backend itself. It only picks the `type` tag,
// the environment representation and a few fixed attributes, then hands the
// configuration to the host.
package backend

import (
	"fmt"
	"sort"

	"github.com/ctagard/deepdbg/internal/launchconfig"
	"github.com/ctagard/deepdbg/internal/platform"
	"github.com/ctagard/deepdbg/pkg/types"
)

// Backend defines what the relay needs to know about one debugger backend
type Backend interface {
	// Type returns the configuration `type` tag
	Type() types.BackendType

	// EnvShape returns how the backend expects the environment
	EnvShape() launchconfig.EnvShape

	// Stamp fills backend-specific attributes that are not already set
	Stamp(cfg *launchconfig.Configuration)
}

// Registry holds all registered backends
type Registry struct {
	backends map[types.BackendType]Backend
	native   types.BackendType
}

// NewRegistry creates a registry with every backend deepdbg can dispatch to.
// The neutral BackendBinary tag resolves to the platform's native debugger.
func NewRegistry(caps platform.Capabilities) *Registry {
	r := &Registry{
		backends: make(map[types.BackendType]Backend),
		native:   caps.NativeBackend,
	}

	r.Register(gdbBackend{})
	r.Register(simple{typ: types.BackendCppvsdbg, shape: launchconfig.EnvAsList})
	r.Register(simple{typ: types.BackendPython, shape: launchconfig.EnvAsMap})
	r.Register(simple{typ: types.BackendDebugpy, shape: launchconfig.EnvAsMap})
	r.Register(simple{typ: types.BackendNode, shape: launchconfig.EnvAsMap})
	r.Register(simple{typ: types.BackendPwaNode, shape: launchconfig.EnvAsMap})
	r.Register(simple{typ: types.BackendBashdb, shape: launchconfig.EnvAsMap})

	return r
}

// Register registers a backend, overriding any existing one with the same tag
func (r *Registry) Register(b Backend) {
	r.backends[b.Type()] = b
}

// Resolve maps BackendBinary to the native backend and returns other tags unchanged
func (r *Registry) Resolve(t types.BackendType) types.BackendType {
	if t == types.BackendBinary {
		return r.native
	}
	return t
}

// Get returns the backend for a tag, after resolving BackendBinary
func (r *Registry) Get(t types.BackendType) (Backend, error) {
	b, ok := r.backends[r.Resolve(t)]
	if !ok {
		return nil, fmt.Errorf("no backend registered for type: %q", t)
	}
	return b, nil
}

// Known reports whether a tag is one the host front-end recognizes
func (r *Registry) Known(t types.BackendType) bool {
	_, err := r.Get(t)
	return err == nil
}

// EnvShape returns the environment shape for a tag. Unknown tags use a map,
// which is what most front-end debuggers accept.
func (r *Registry) EnvShape(t types.BackendType) launchconfig.EnvShape {
	if b, err := r.Get(t); err == nil {
		return b.EnvShape()
	}
	return launchconfig.EnvAsMap
}

// Types returns all registered tags, sorted
func (r *Registry) Types() []types.BackendType {
	out := make([]types.BackendType, 0, len(r.backends))
	for t := range r.backends {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

type simple struct {
	typ   types.BackendType
	shape launchconfig.EnvShape
}

func (s simple) Type() types.BackendType               { return s.typ }
func (s simple) EnvShape() launchconfig.EnvShape       { return s.shape }
func (s simple) Stamp(cfg *launchconfig.Configuration) {}

// gdbBackend is cpptools' cppdbg driving gdb through the MI interface.
type gdbBackend struct{}

func (gdbBackend) Type() types.BackendType         { return types.BackendCppdbg }
func (gdbBackend) EnvShape() launchconfig.EnvShape { return launchconfig.EnvAsList }

func (gdbBackend) Stamp(cfg *launchconfig.Configuration) {
	if cfg.MIMode == "" {
		cfg.MIMode = "gdb"
	}
	if len(cfg.SetupCommands) == 0 {
		cfg.SetupCommands = []launchconfig.SetupCommand{
			{
				Description:    "Enable pretty-printing for gdb",
				Text:           "-enable-pretty-printing",
				IgnoreFailures: true,
			},
		}
	}
}
