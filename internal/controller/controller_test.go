package controller

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctagard/deepdbg/internal/backend"
	"github.com/ctagard/deepdbg/internal/codec"
	"github.com/ctagard/deepdbg/internal/errors"
	"github.com/ctagard/deepdbg/internal/hook"
	"github.com/ctagard/deepdbg/internal/launchconfig"
	"github.com/ctagard/deepdbg/internal/platform"
	"github.com/ctagard/deepdbg/internal/relay"
	"github.com/ctagard/deepdbg/pkg/types"
)

type startCall struct {
	cfg    *launchconfig.Configuration
	parent *Session
}

type fakeHost struct {
	mu        sync.Mutex
	starts    []startCall
	terminals []TerminalRequest
	startErr  error
}

func (h *fakeHost) StartDebugging(_ context.Context, cfg *launchconfig.Configuration, parent *Session) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.starts = append(h.starts, startCall{cfg: cfg, parent: parent})
	return h.startErr
}

func (h *fakeHost) RunInTerminal(_ context.Context, req TerminalRequest) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.terminals = append(h.terminals, req)
	return nil
}

func (h *fakeHost) startCalls() []startCall {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]startCall(nil), h.starts...)
}

func (h *fakeHost) terminalCalls() []TerminalRequest {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]TerminalRequest(nil), h.terminals...)
}

type fakeRelay struct {
	channel string
	r       *io.PipeReader
	w       *io.PipeWriter
	stopped atomic.Bool
}

func (f *fakeRelay) Channel() string   { return f.channel }
func (f *fakeRelay) Output() io.Reader { return f.r }

func (f *fakeRelay) Stop(context.Context) error {
	f.stopped.Store(true)
	return f.w.Close()
}

type harness struct {
	c     *Controller
	host  *fakeHost
	relay *fakeRelay
	clock *clock.Mock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	caps := platform.For("linux")
	runner := platform.RunnerFunc(func(context.Context, string, ...string) (string, error) {
		return "ELF 64-bit LSB pie executable, x86-64", nil
	})

	h := &harness{host: &fakeHost{}, clock: clock.NewMock()}
	start := func(_ context.Context, channel string) (Relay, error) {
		r, w := io.Pipe()
		h.relay = &fakeRelay{channel: channel, r: r, w: w}
		return h.relay, nil
	}

	h.c = New(Deps{
		Caps:       caps,
		Codec:      codec.New(caps, backend.NewRegistry(caps), runner, logr.Discard()),
		Host:       h.host,
		StartRelay: start,
		Clock:      h.clock,
	}, logr.Discard())

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = h.c.Close(ctx)
	})
	return h
}

func baseOptions(t *testing.T) Options {
	return Options{
		Queue:          filepath.Join(t.TempDir(), "q"),
		TrackHierarchy: true,
		Executable:     "/opt/deepdbg/deepdbg",
		DialTimeout:    time.Second,
	}
}

// launchTerminal runs a launch whose primary is a plain command line.
func (h *harness) launchTerminal(t *testing.T, opts Options) {
	t.Helper()
	opts.Launch = []string{"./run.sh"}
	h.c.ConfigurationDone()
	require.NoError(t, h.c.Launch(context.Background(), opts))
	require.Equal(t, types.StateRunning, h.c.State())
}

func (h *harness) send(t *testing.T, chunks ...string) {
	t.Helper()
	for _, chunk := range chunks {
		_, err := h.relay.w.Write([]byte(chunk))
		require.NoError(t, err)
	}
}

func writeProgram(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o755))
	return path
}

func TestFragmentedMessagesStartOneSessionEach(t *testing.T) {
	h := newHarness(t)
	h.launchTerminal(t, baseOptions(t))

	dir := t.TempDir()
	writeProgram(t, dir, "app")
	first := `start|{"cwd":"` + dir + `","program":"app","args":["1"]}|end`
	second := `start|{"cwd":"` + dir + `","program":"app","args":["2"]}|end`
	stream := first + second

	h.send(t, stream[:3], stream[3:len(first)+5], stream[len(first)+5:])

	require.Eventually(t, func() bool { return len(h.host.startCalls()) == 2 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	calls := h.host.startCalls()
	require.Len(t, calls, 2)
	assert.Equal(t, []string{"1"}, calls[0].cfg.Args)
	assert.Equal(t, []string{"2"}, calls[1].cfg.Args)
	assert.Equal(t, types.BackendCppdbg, calls[0].cfg.Type)
}

func TestSessionIDsStrictlyIncrease(t *testing.T) {
	h := newHarness(t)
	h.launchTerminal(t, baseOptions(t))

	dir := t.TempDir()
	writeProgram(t, dir, "app")
	msg := `start|{"cwd":"` + dir + `","program":"app"}|end`
	for i := 0; i < 5; i++ {
		h.send(t, msg)
	}

	require.Eventually(t, func() bool { return len(h.host.startCalls()) == 5 }, 2*time.Second, 10*time.Millisecond)
	prev := 0
	for _, call := range h.host.startCalls() {
		id := call.cfg.SessionNumber()
		assert.Greater(t, id, prev)
		prev = id

		v, ok := call.cfg.LookupEnv(hook.EnvSessionID, false)
		require.True(t, ok)
		assert.Equal(t, strconv.Itoa(id), v)
	}
}

func TestBadMessageIsDroppedAndLoopContinues(t *testing.T) {
	h := newHarness(t)
	h.launchTerminal(t, baseOptions(t))

	dir := t.TempDir()
	writeProgram(t, dir, "app")
	h.send(t,
		`start|{"v":9,"program":"eA=="}|end`,
		`start|{"cwd":"`+dir+`","program":"missing"}|end`,
		`start|{"cwd":"`+dir+`","program":"app"}|end`,
	)

	require.Eventually(t, func() bool { return len(h.host.startCalls()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, filepath.Join(dir, "app"), h.host.startCalls()[0].cfg.Program)
}

func TestChildIsParentedWhenTracked(t *testing.T) {
	h := newHarness(t)
	h.launchTerminal(t, baseOptions(t))

	parentCfg := &launchconfig.Configuration{Name: "parent", SessionID: "7"}
	h.c.SessionStarted(parentCfg)

	dir := t.TempDir()
	writeProgram(t, dir, "app")
	h.send(t, `start|{"cwd":"`+dir+`","program":"app","deepDbgParentSessionID":"7"}|end`)

	require.Eventually(t, func() bool { return len(h.host.startCalls()) == 1 }, 2*time.Second, 10*time.Millisecond)
	call := h.host.startCalls()[0]
	require.NotNil(t, call.parent)
	assert.Equal(t, 7, call.parent.ID)
	assert.Equal(t, "7", call.cfg.ParentSessionID)
}

func TestNamedPythonConfiguration(t *testing.T) {
	workspace := t.TempDir()
	script := writeProgram(t, workspace, "main.py")
	require.NoError(t, os.MkdirAll(filepath.Join(workspace, ".vscode"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(workspace, ".vscode", "launch.json"), []byte(`{
		"version": "0.2.0",
		"configurations": [
			// type intentionally left out
			{"name": "App", "program": "${workspaceFolder}/main.py"},
		],
	}`), 0o644))

	h := newHarness(t)
	opts := baseOptions(t)
	opts.Launch = "App"
	opts.WorkspaceFolder = workspace
	h.c.ConfigurationDone()
	require.NoError(t, h.c.Launch(context.Background(), opts))

	calls := h.host.startCalls()
	require.Len(t, calls, 1)
	cfg := calls[0].cfg
	assert.Nil(t, calls[0].parent)
	assert.Equal(t, types.BackendPython, cfg.Type)
	assert.Equal(t, "launch", cfg.Request)
	require.NotNil(t, cfg.StopAtEntry)
	assert.False(t, *cfg.StopAtEntry)
	assert.Equal(t, script, cfg.Program)
	assert.Equal(t, script, cfg.Name)
	assert.Equal(t, "1", cfg.SessionID)
	assert.Equal(t, opts.Queue, cfg.Env[hook.EnvLauncherQueue])
	assert.Equal(t, `/opt/deepdbg/deepdbg hook --type python --`, cfg.Env[hook.EnvPythonHook])
	assert.Empty(t, h.host.terminalCalls())
}

func TestCommandLineRunsInTerminal(t *testing.T) {
	h := newHarness(t)
	opts := baseOptions(t)
	opts.Launch = []interface{}{"./run.sh", "a b"}
	opts.WorkspaceFolder = "/work"
	h.c.ConfigurationDone()
	require.NoError(t, h.c.Launch(context.Background(), opts))

	terms := h.host.terminalCalls()
	require.Len(t, terms, 1)
	assert.Equal(t, "/work", terms[0].Cwd)
	assert.True(t, strings.HasPrefix(terms[0].Command, "export "+hook.EnvLauncherQueue+"="+opts.Queue+" && "), terms[0].Command)
	assert.Contains(t, terms[0].Command, `export DEEPDBG_CPP_HOOK='/opt/deepdbg/deepdbg hook --type binary --'`)
	assert.True(t, strings.HasSuffix(terms[0].Command, ` && ./run.sh "a b"`), terms[0].Command)
	assert.Empty(t, h.host.startCalls())
}

func TestUnresolvableLaunch(t *testing.T) {
	h := newHarness(t)
	h.c.ConfigurationDone()
	err := h.c.Launch(context.Background(), baseOptions(t))
	require.Error(t, err)
	assert.Equal(t, errors.CodeConfigNotFound, errors.CodeOf(err))
	assert.Empty(t, h.host.startCalls())
	assert.Empty(t, h.host.terminalCalls())
}

func TestHandshakeTimeoutProceeds(t *testing.T) {
	h := newHarness(t)
	opts := baseOptions(t)
	opts.Launch = []string{"./run.sh"}

	done := make(chan error, 1)
	go func() { done <- h.c.Launch(context.Background(), opts) }()

	require.Eventually(t, func() bool {
		return h.c.State() == types.StateAwaitingConfigurationDone
	}, 2*time.Second, time.Millisecond)

	h.clock.Add(DefaultHandshakeTimeout - time.Millisecond)
	select {
	case <-done:
		t.Fatal("launch proceeded before the timeout")
	case <-time.After(20 * time.Millisecond):
	}

	h.clock.Add(time.Millisecond)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("launch did not proceed after the timeout")
	}
	assert.Equal(t, types.StateRunning, h.c.State())
	assert.Len(t, h.host.terminalCalls(), 1)
}

func TestConfigurationDoneEndsWait(t *testing.T) {
	h := newHarness(t)
	opts := baseOptions(t)
	opts.Launch = []string{"./run.sh"}

	done := make(chan error, 1)
	go func() { done <- h.c.Launch(context.Background(), opts) }()

	require.Eventually(t, func() bool {
		return h.c.State() == types.StateAwaitingConfigurationDone
	}, 2*time.Second, time.Millisecond)
	h.c.ConfigurationDone()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("launch did not proceed after configurationDone")
	}
}

// recorder keeps every Write as a separate chunk.
type recorder struct {
	mu     sync.Mutex
	chunks []string
}

func (r *recorder) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chunks = append(r.chunks, string(p))
	return len(p), nil
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.chunks...)
}

func TestTerminationReleasesHookOnce(t *testing.T) {
	out := &recorder{}
	pipe := relay.NewServer(filepath.Join(t.TempDir(), "q.1.abc"), out, logr.Discard())
	require.NoError(t, pipe.Listen())
	go func() { _ = pipe.Serve(context.Background()) }()
	defer pipe.Shutdown(context.Background())

	h := newHarness(t)
	h.launchTerminal(t, baseOptions(t))

	cfg := &launchconfig.Configuration{Name: "child", SessionID: "4", HookPipe: pipe.Path()}
	h.c.SessionStarted(cfg)
	require.Len(t, h.c.Sessions(), 1)

	task := h.c.SessionTerminated(cfg)
	require.NotNil(t, task)
	require.NoError(t, task.Err())
	assert.Nil(t, h.c.SessionTerminated(cfg), "a repeated termination must not dial again")

	require.Eventually(t, func() bool { return len(out.snapshot()) == 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, []string{"stopped"}, out.snapshot())
	assert.Empty(t, h.c.Sessions())
}

func TestTerminationWithoutHookPipe(t *testing.T) {
	h := newHarness(t)
	h.launchTerminal(t, baseOptions(t))

	cfg := &launchconfig.Configuration{SessionID: "2"}
	h.c.SessionStarted(cfg)
	assert.Nil(t, h.c.SessionTerminated(cfg))
	assert.Empty(t, h.c.Sessions())
}

func TestHierarchyTrackingDisabled(t *testing.T) {
	h := newHarness(t)
	opts := baseOptions(t)
	opts.TrackHierarchy = false
	h.launchTerminal(t, opts)

	h.c.SessionStarted(&launchconfig.Configuration{SessionID: "3"})
	assert.Empty(t, h.c.Sessions())
}

func TestCloseStopsRelay(t *testing.T) {
	h := newHarness(t)
	h.launchTerminal(t, baseOptions(t))

	require.NoError(t, h.c.Close(context.Background()))
	assert.True(t, h.relay.stopped.Load())
	assert.Equal(t, types.StateTerminated, h.c.State())
	require.NoError(t, h.c.Close(context.Background()))

	names := make([]string, 0)
	for _, task := range h.c.Tasks() {
		names = append(names, task.Name)
	}
	assert.Contains(t, names, "stop relay")
}

func TestBinaryExtensionsRewritesPython(t *testing.T) {
	workspace := t.TempDir()
	writeProgram(t, workspace, "main.py")
	require.NoError(t, os.MkdirAll(filepath.Join(workspace, ".vscode"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(workspace, ".vscode", "launch.json"), []byte(`{
		"configurations": [
			{"name": "App", "type": "python", "program": "${workspaceFolder}/main.py", "python": "/usr/bin/python3"}
		]
	}`), 0o644))

	exe := writeProgram(t, t.TempDir(), "deepdbg")
	root := t.TempDir()

	h := newHarness(t)
	opts := baseOptions(t)
	opts.Launch = "App"
	opts.WorkspaceFolder = workspace
	opts.BinaryExtensions = true
	opts.Executable = exe
	opts.DriverRoot = root
	h.c.ConfigurationDone()
	require.NoError(t, h.c.Launch(context.Background(), opts))

	calls := h.host.startCalls()
	require.Len(t, calls, 1)
	cfg := calls[0].cfg

	require.True(t, strings.HasPrefix(cfg.Python, root), cfg.Python)
	assert.Equal(t, "python3", filepath.Base(cfg.Python))
	assert.FileExists(t, cfg.Python)

	python, ok := hook.ReadParentConfig(filepath.Dir(cfg.Python))
	require.True(t, ok)
	assert.Equal(t, "/usr/bin/python3", python)

	n := len(cfg.Args)
	require.GreaterOrEqual(t, n, 4)
	assert.Equal(t, []string{
		codec.SwitchSessionCwd, workspace,
		codec.SwitchSessionName, `"` + cfg.Name + ` (binary extensions)"`,
	}, cfg.Args[n-4:])

	// A second clone of the same interpreter reuses the driver.
	again, err := h.c.cloneDriver(context.Background(), "/usr/bin/python3")
	require.NoError(t, err)
	assert.Equal(t, cfg.Python, again)
	same, err := h.c.cloneDriver(context.Background(), cfg.Python)
	require.NoError(t, err)
	assert.Equal(t, cfg.Python, same)
}

func TestSessionMapListAndRemove(t *testing.T) {
	m := NewSessionMap()
	m.Add(&Session{ID: 1})
	m.Add(&Session{ID: 3, ParentID: 1})
	m.Add(&Session{ID: 2, ParentID: 1})

	list := m.List()
	require.Len(t, list, 3)
	assert.Equal(t, []int{1, 2, 3}, []int{list[0].ID, list[1].ID, list[2].ID})

	_, ok := m.Remove(3)
	assert.True(t, ok)
	_, ok = m.Remove(3)
	assert.False(t, ok)
	assert.Equal(t, 2, m.Len())
}

func TestTaskGroupRecordsOutcome(t *testing.T) {
	g := NewTaskGroup(logr.Discard())
	ok := g.Go(context.Background(), "ok", func(context.Context) error { return nil })
	bad := g.Go(context.Background(), "bad", func(context.Context) error { return assert.AnError })

	require.NoError(t, g.Wait(context.Background()))
	assert.NoError(t, ok.Err())
	assert.ErrorIs(t, bad.Err(), assert.AnError)
	assert.Len(t, g.Tasks(), 2)
}

// listenBlockChannel serves a block channel and records what reaches it.
func listenBlockChannel(t *testing.T) (string, *recorder) {
	t.Helper()
	out := &recorder{}
	srv := relay.NewServer(filepath.Join(t.TempDir(), "q.1.abc"), out, logr.Discard())
	require.NoError(t, srv.Listen())
	go func() { _ = srv.Serve(context.Background()) }()
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return srv.Path(), out
}

func TestMalformedMessageDoesNotHoldBackSiblings(t *testing.T) {
	h := newHarness(t)
	h.launchTerminal(t, baseOptions(t))

	dir := t.TempDir()
	writeProgram(t, dir, "app")
	writeProgram(t, dir, "other")
	h.send(t,
		`start|{"program":"/bin/a",|end`,
		`start|{"cwd":"`+dir+`","program":"app"}|end`,
		`start|{"cwd":"`+dir+`","program":"other"}|end`,
	)

	require.Eventually(t, func() bool { return len(h.host.startCalls()) == 2 }, 2*time.Second, 10*time.Millisecond)
	calls := h.host.startCalls()
	assert.Equal(t, filepath.Join(dir, "app"), calls[0].cfg.Program)
	assert.Equal(t, filepath.Join(dir, "other"), calls[1].cfg.Program)
}

func TestUnresolvableMessageReleasesHook(t *testing.T) {
	pipe, out := listenBlockChannel(t)
	h := newHarness(t)
	h.launchTerminal(t, baseOptions(t))

	h.send(t, `start|{"cwd":"/nonexistent","program":"missing","deepDbgHookPipe":"`+pipe+`"}|end`)

	require.Eventually(t, func() bool { return len(out.snapshot()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"stopped"}, out.snapshot())
	assert.Empty(t, h.host.startCalls())
}

func TestMalformedMessageReleasesHook(t *testing.T) {
	pipe, out := listenBlockChannel(t)
	h := newHarness(t)
	h.launchTerminal(t, baseOptions(t))

	dir := t.TempDir()
	writeProgram(t, dir, "app")
	h.send(t,
		`start|{"deepDbgHookPipe":"`+pipe+`","program":|end`,
		`start|{"cwd":"`+dir+`","program":"app"}|end`,
	)

	require.Eventually(t, func() bool { return len(out.snapshot()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"stopped"}, out.snapshot())
	require.Eventually(t, func() bool { return len(h.host.startCalls()) == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestRejectedStartReleasesHook(t *testing.T) {
	pipe, out := listenBlockChannel(t)
	h := newHarness(t)
	h.host.startErr = errors.HostRejected("startDebugging", "no such debugger")
	h.launchTerminal(t, baseOptions(t))

	dir := t.TempDir()
	writeProgram(t, dir, "app")
	h.send(t, `start|{"cwd":"`+dir+`","program":"app","deepDbgHookPipe":"`+pipe+`"}|end`)

	require.Eventually(t, func() bool { return len(out.snapshot()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"stopped"}, out.snapshot())
	assert.Len(t, h.host.startCalls(), 1)
}
