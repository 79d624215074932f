// Package controller owns one top-level relayed launch: it runs the relay
// server, turns hook messages into child debug sessions through the host
// front-end, tracks the session hierarchy and releases blocked hooks when
// their sessions end.
package controller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/ctagard/deepdbg/internal/codec"
	"github.com/ctagard/deepdbg/internal/hook"
	"github.com/ctagard/deepdbg/internal/launchconfig"
	"github.com/ctagard/deepdbg/internal/platform"
	"github.com/ctagard/deepdbg/internal/relay"
	"github.com/ctagard/deepdbg/internal/wire"
	"github.com/ctagard/deepdbg/pkg/types"
)

const (
	// DefaultHandshakeTimeout bounds the wait for configurationDone.
	DefaultHandshakeTimeout = 1000 * time.Millisecond

	// QueuePrefix starts every generated launcher queue name.
	QueuePrefix = "deepdbg-lque-"

	readBufferSize = 4096
)

// Host is the debugging front-end that actually runs sessions.
type Host interface {
	// StartDebugging starts a session for cfg. parent is nil for top-level
	// sessions.
	StartDebugging(ctx context.Context, cfg *launchconfig.Configuration, parent *Session) error

	// RunInTerminal runs a command in a terminal visible to the user.
	RunInTerminal(ctx context.Context, req TerminalRequest) error
}

// TerminalRequest is a command line for Host.RunInTerminal.
type TerminalRequest struct {
	Title   string
	Cwd     string
	Command string
}

// Relay is a running relay server.
type Relay interface {
	// Channel returns the launcher queue socket path.
	Channel() string

	// Output returns the stream of forwarded hook messages. It ends when
	// the relay server exits.
	Output() io.Reader

	// Stop shuts the relay server down.
	Stop(ctx context.Context) error
}

// RelayStarter starts a relay server listening on channel.
type RelayStarter func(ctx context.Context, channel string) (Relay, error)

// ProcessRelayStarter starts relay servers as `deepdbg relay serve` children.
func ProcessRelayStarter(opts relay.ProcessOptions, log logr.Logger) RelayStarter {
	return func(_ context.Context, channel string) (Relay, error) {
		o := opts
		o.Channel = channel
		return relay.StartProcess(o, log)
	}
}

// Options configures one launch.
type Options struct {
	// Launch names a launch.json configuration, or is a command line given
	// as a string or a list of strings.
	Launch interface{}

	// WorkspaceFolder is where launch.json is discovered from.
	WorkspaceFolder string

	// LaunchJSON is an explicit launch.json path.
	LaunchJSON string

	// Queue is the launcher queue name; generated when empty.
	Queue string

	HookVars hook.HookVars

	// TrackHierarchy parents child sessions under the session that spawned them.
	TrackHierarchy bool

	// BinaryExtensions routes python sessions through a native driver.
	BinaryExtensions bool

	HandshakeTimeout time.Duration
	DialTimeout      time.Duration

	// Executable is the deepdbg binary hooks and drivers run.
	Executable string

	// DriverRoot is where python drivers are cloned.
	DriverRoot string
}

// Deps are the collaborators of a controller.
type Deps struct {
	Caps       platform.Capabilities
	Codec      *codec.Codec
	Host       Host
	StartRelay RelayStarter
	Clock      clock.Clock
}

// Controller drives one relayed launch through
// idle → awaitingConfigurationDone → launcherQueueOpen → running → terminated.
type Controller struct {
	deps Deps
	log  logr.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	state types.ControllerState
	opts  Options
	relay Relay

	configDone     chan struct{}
	configDoneOnce sync.Once

	lastID   atomic.Int64
	sessions *SessionMap
	tasks    *TaskGroup

	// released holds the block channels already sent "stopped".
	released map[string]struct{}

	readDone chan struct{}
}

// New creates an idle controller.
func New(deps Deps, log logr.Logger) *Controller {
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	log = log.WithName("controller")
	ctx, cancel := context.WithCancel(context.Background())

	c := &Controller{
		deps:       deps,
		log:        log,
		ctx:        ctx,
		cancel:     cancel,
		state:      types.StateIdle,
		configDone: make(chan struct{}),
		sessions:   NewSessionMap(),
		released:   make(map[string]struct{}),
		tasks:      NewTaskGroup(log),
	}
	return c
}

// State returns the current lifecycle state.
func (c *Controller) State() types.ControllerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) setState(s types.ControllerState) {
	c.mu.Lock()
	prev := c.state
	c.state = s
	c.mu.Unlock()
	c.log.V(1).Info("State changed", "from", prev, "to", s)
}

func (c *Controller) options() Options {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opts
}

// Channel returns the launcher queue path, or "" before it is open.
func (c *Controller) Channel() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.relay == nil {
		return ""
	}
	return c.relay.Channel()
}

// Sessions returns the live sessions ordered by id.
func (c *Controller) Sessions() []types.SessionInfo {
	list := c.sessions.List()
	out := make([]types.SessionInfo, len(list))
	for i, s := range list {
		out[i] = s.Info()
	}
	return out
}

// Tasks returns every background task started so far.
func (c *Controller) Tasks() []*Task {
	return c.tasks.Tasks()
}

// ConfigurationDone records the end of the front-end's configuration
// handshake. Extra calls are ignored.
func (c *Controller) ConfigurationDone() {
	c.configDoneOnce.Do(func() { close(c.configDone) })
}

// Launch opens the launcher queue and starts the primary debuggee.
func (c *Controller) Launch(ctx context.Context, opts Options) error {
	c.mu.Lock()
	if c.state != types.StateIdle {
		c.mu.Unlock()
		return fmt.Errorf("launch in state %s", c.state)
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if opts.HookVars == (hook.HookVars{}) {
		opts.HookVars = hook.DefaultHookVars()
	}
	if opts.Executable == "" {
		if exe, err := os.Executable(); err == nil {
			opts.Executable = exe
		}
	}
	c.opts = opts
	c.mu.Unlock()

	c.awaitConfigurationDone(ctx)

	if err := c.openQueue(ctx); err != nil {
		return err
	}

	if err := c.launchPrimary(ctx); err != nil {
		return err
	}

	c.setState(types.StateRunning)
	return nil
}

// awaitConfigurationDone waits a bounded time for the handshake to end.
// Running out of time is not an error.
func (c *Controller) awaitConfigurationDone(ctx context.Context) {
	timer := c.deps.Clock.Timer(c.opts.HandshakeTimeout)
	defer timer.Stop()
	c.setState(types.StateAwaitingConfigurationDone)

	select {
	case <-c.configDone:
	case <-timer.C:
		c.log.Info("No configurationDone received, continuing", "timeout", c.opts.HandshakeTimeout)
	case <-ctx.Done():
	}
}

func (c *Controller) openQueue(ctx context.Context) error {
	name := c.opts.Queue
	if name == "" {
		name = QueuePrefix + uuid.NewString()[:8]
	}
	path := c.deps.Caps.ChannelPath(name)

	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		c.log.Error(err, "Failed to remove stale launcher queue", "queue", path)
	}

	r, err := c.deps.StartRelay(ctx, path)
	if err != nil {
		return fmt.Errorf("failed to start relay server: %w", err)
	}

	c.mu.Lock()
	c.relay = r
	c.readDone = make(chan struct{})
	c.mu.Unlock()
	c.setState(types.StateLauncherQueueOpen)

	go c.readLoop(r.Output())
	return nil
}

// readLoop reassembles hook messages from the relay stream and dispatches
// them one at a time.
func (c *Controller) readLoop(r io.Reader) {
	defer close(c.readDone)

	asm := wire.Assembler{Malformed: func(payload []byte) {
		c.log.Error(errors.New("malformed start message"), "Dropping hook message", "payload", string(payload))
		c.releaseHook(wire.HookPipeOf(payload))
	}}
	buf := make([]byte, readBufferSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			for _, msg := range asm.Write(buf[:n]) {
				c.handleMessage(c.ctx, msg)
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && c.ctx.Err() == nil {
				c.log.Error(err, "Relay stream failed")
			}
			return
		}
	}
}

// handleMessage starts a child session for one hook message. Errors drop
// the message and never stop the loop.
func (c *Controller) handleMessage(ctx context.Context, msg wire.Message) {
	opts := c.options()
	id := c.nextSessionID()
	inject := c.hookEnv(id)

	cfg, err := c.deps.Codec.Decode(ctx, msg, inject)
	if err != nil {
		c.log.Error(err, "Dropping hook message")
		c.releaseHook(wire.HookPipeOf(msg.Payload))
		return
	}
	cfg.SessionID = strconv.Itoa(id)

	if opts.BinaryExtensions && isPython(cfg.Type) {
		if err := c.rewritePython(ctx, cfg); err != nil {
			c.log.Error(err, "Binary extension debugging unavailable", "program", cfg.Program)
		}
	}

	var parent *Session
	if opts.TrackHierarchy {
		if pid := cfg.ParentSessionNumber(); pid > 0 {
			parent, _ = c.sessions.Get(pid)
		}
	}

	c.log.Info("Starting child session", "session", id, "name", cfg.Name, "type", cfg.Type, "parent", cfg.ParentSessionID)
	if err := c.deps.Host.StartDebugging(ctx, cfg, parent); err != nil {
		c.log.Error(err, "Host did not start child session", "session", id)
		c.releaseHook(cfg.HookPipe)
	}
}

// releaseHook sends "stopped" to a hook's block channel once. It returns
// nil when pipe is empty or was already released.
func (c *Controller) releaseHook(pipe string) *Task {
	if pipe == "" {
		return nil
	}
	c.mu.Lock()
	if _, done := c.released[pipe]; done {
		c.mu.Unlock()
		return nil
	}
	c.released[pipe] = struct{}{}
	dialTimeout := c.opts.DialTimeout
	c.mu.Unlock()

	return c.tasks.Go(c.ctx, "unblock "+pipe, func(ctx context.Context) error {
		return relay.Unblock(ctx, pipe, dialTimeout)
	})
}

func (c *Controller) nextSessionID() int {
	return int(c.lastID.Add(1))
}

// hookEnv is what every session's debuggee needs to report its children.
func (c *Controller) hookEnv(sessionID int) []launchconfig.EnvEntry {
	opts := c.options()
	entries := opts.HookVars.Entries(c.deps.Caps, opts.Executable, c.Channel())
	return append(entries, launchconfig.EnvEntry{Name: hook.EnvSessionID, Value: strconv.Itoa(sessionID)})
}

// SessionStarted records a session the host has started.
func (c *Controller) SessionStarted(cfg *launchconfig.Configuration) {
	if !c.options().TrackHierarchy {
		return
	}
	id := cfg.SessionNumber()
	if id == 0 {
		return
	}
	c.sessions.Add(&Session{
		ID:            id,
		ParentID:      cfg.ParentSessionNumber(),
		Configuration: cfg,
		StartedAt:     c.deps.Clock.Now(),
	})
	c.log.V(1).Info("Session started", "session", id, "parent", cfg.ParentSessionNumber())
}

// SessionTerminated releases the hook blocked on the session, if any, and
// forgets the session. The returned task is nil when nothing was blocked or
// the hook was already released.
func (c *Controller) SessionTerminated(cfg *launchconfig.Configuration) *Task {
	t := c.releaseHook(cfg.HookPipe)

	if id := cfg.SessionNumber(); id != 0 {
		c.sessions.Remove(id)
		c.log.V(1).Info("Session terminated", "session", id)
	}
	return t
}

// Close stops the relay server and waits for outstanding tasks.
func (c *Controller) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.state == types.StateTerminated {
		c.mu.Unlock()
		return nil
	}
	r := c.relay
	readDone := c.readDone
	c.mu.Unlock()
	c.setState(types.StateTerminated)

	var errs []error
	if r != nil {
		stop := c.tasks.Go(ctx, "stop relay", r.Stop)
		if err := stop.Err(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := c.tasks.Wait(ctx); err != nil {
		errs = append(errs, err)
	}

	c.cancel()
	if readDone != nil {
		select {
		case <-readDone:
		case <-ctx.Done():
		}
	}
	return errors.Join(errs...)
}

func isPython(t types.BackendType) bool {
	return t == types.BackendPython || t == types.BackendDebugpy
}
