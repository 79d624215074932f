package hook

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctagard/deepdbg/internal/codec"
	"github.com/ctagard/deepdbg/internal/platform"
	"github.com/ctagard/deepdbg/internal/relay"
	"github.com/ctagard/deepdbg/internal/wire"
	"github.com/ctagard/deepdbg/pkg/types"
)

type recorder struct {
	mu   sync.Mutex
	data []byte
}

func (r *recorder) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data = append(r.data, p...)
	return len(p), nil
}

func (r *recorder) bytes() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]byte(nil), r.data...)
}

type execCall struct {
	program string
	args    []string
}

type fakeExec struct {
	mu    sync.Mutex
	calls []execCall
}

func (f *fakeExec) exec(program string, args []string, _ []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, execCall{program: program, args: args})
	return nil
}

func startQueue(t *testing.T) (string, *recorder) {
	t.Helper()
	out := &recorder{}
	srv := relay.NewServer(filepath.Join(t.TempDir(), "q"), out, logr.Discard())
	require.NoError(t, srv.Listen())
	go func() { _ = srv.Serve(context.Background()) }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
	return srv.Path(), out
}

func decodeOne(t *testing.T, data []byte) *wire.Payload {
	t.Helper()
	var a wire.Assembler
	msgs := a.Write(data)
	require.Len(t, msgs, 1)
	p, err := wire.DecodePayload(msgs[0].Payload)
	require.NoError(t, err)
	return p
}

func TestHookWithoutQueueSendsNothing(t *testing.T) {
	queue, out := startQueue(t)
	_ = queue
	h := New(platform.For("linux"), (&fakeExec{}).exec, logr.Discard())

	res, err := h.Run(context.Background(), Options{
		Program: "foo.py",
		Args:    []string{"--x"},
		Cwd:     "/tmp",
		Environ: []string{"PATH=/usr/bin"},
	})
	require.NoError(t, err)
	assert.False(t, res.Reported)

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, out.bytes())
}

func TestHookPathMissIsSilent(t *testing.T) {
	queue, out := startQueue(t)
	h := New(platform.For("linux"), nil, logr.Discard())

	res, err := h.Run(context.Background(), Options{
		Program: "no-such-tool",
		Cwd:     t.TempDir(),
		Environ: []string{EnvLauncherQueue + "=" + queue, "PATH=" + t.TempDir()},
	})
	require.NoError(t, err)
	assert.False(t, res.Reported)

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, out.bytes())
}

func TestHookNonBlockingReports(t *testing.T) {
	queue, out := startQueue(t)
	bin := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(bin, "tool"), []byte("x"), 0o755))
	h := New(platform.For("linux"), nil, logr.Discard())

	res, err := h.Run(context.Background(), Options{
		Type:    types.BackendBashdb,
		NoBlock: true,
		Program: "tool",
		Args:    []string{"a b", "c"},
		Cwd:     t.TempDir(),
		Environ: []string{EnvLauncherQueue + "=" + queue, "PATH=" + bin, EnvSessionID + "=4"},
	})
	require.NoError(t, err)
	assert.True(t, res.Reported)
	assert.Empty(t, res.BlockChannel)

	require.Eventually(t, func() bool { return len(out.bytes()) > 0 }, 2*time.Second, 10*time.Millisecond)
	p := decodeOne(t, out.bytes())
	assert.Equal(t, filepath.Join(bin, "tool"), p.Program)
	assert.Equal(t, string(types.BackendBashdb), p.Type)
	assert.Equal(t, []string{"a b", "c"}, p.Args)
	assert.Equal(t, "4", p.ParentSessionID)
	assert.Empty(t, p.HookPipe)
	assert.NotEmpty(t, p.Environment)
}

func TestHookBlocksUntilStopped(t *testing.T) {
	queue, out := startQueue(t)
	cwd := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(cwd, "foo.py"), []byte("print(1)"), 0o644))
	h := New(platform.For("linux"), nil, logr.Discard())

	type outcome struct {
		res Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := h.Run(context.Background(), Options{
			Type:    types.BackendPython,
			Program: "foo.py",
			Args:    []string{"--x"},
			Cwd:     cwd,
			Environ: []string{EnvLauncherQueue + "=" + queue, EnvSessionID + "=2"},
		})
		done <- outcome{res, err}
	}()

	require.Eventually(t, func() bool { return len(out.bytes()) > 0 }, 2*time.Second, 10*time.Millisecond)
	p := decodeOne(t, out.bytes())
	assert.Equal(t, filepath.Join(cwd, "foo.py"), p.Program)
	assert.True(t, strings.HasPrefix(p.HookPipe, queue+".2."), p.HookPipe)

	select {
	case <-done:
		t.Fatal("hook returned before release")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, relay.Unblock(context.Background(), p.HookPipe, time.Second))
	select {
	case o := <-done:
		require.NoError(t, o.err)
		assert.True(t, o.res.Reported)
		assert.Equal(t, p.HookPipe, o.res.BlockChannel)
	case <-time.After(2 * time.Second):
		t.Fatal("hook was not released")
	}

	_, err := os.Stat(p.HookPipe)
	assert.True(t, os.IsNotExist(err))
}

func TestHookPassThroughExecsWithoutQueue(t *testing.T) {
	fe := &fakeExec{}
	h := New(platform.For("linux"), fe.exec, logr.Discard())

	_, err := h.Run(context.Background(), Options{
		Exec:    true,
		Program: "/bin/true",
		Args:    []string{"x"},
		Environ: nil,
	})
	require.NoError(t, err)
	require.Len(t, fe.calls, 1)
	assert.Equal(t, "/bin/true", fe.calls[0].program)
	assert.Equal(t, []string{"x"}, fe.calls[0].args)
}

func TestBlockChannelPathIsUniquePerSibling(t *testing.T) {
	a := BlockChannelPath("/tmp/q", "3")
	b := BlockChannelPath("/tmp/q", "3")
	assert.True(t, strings.HasPrefix(a, "/tmp/q.3."))
	assert.NotEqual(t, a, b)
	assert.True(t, strings.HasPrefix(BlockChannelPath("/tmp/q", ""), "/tmp/q.0."))
}

func TestHookVarsEntries(t *testing.T) {
	caps := platform.For("linux")
	entries := DefaultHookVars().Entries(caps, "/opt/deep dbg/deepdbg", "/tmp/q")
	require.Len(t, entries, 4)
	assert.Equal(t, EnvLauncherQueue, entries[0].Name)
	assert.Equal(t, "/tmp/q", entries[0].Value)
	assert.Equal(t, EnvPythonHook, entries[1].Name)
	assert.Equal(t, `'/opt/deep dbg/deepdbg' hook --type python --`, entries[1].Value)
	assert.Equal(t, `'/opt/deep dbg/deepdbg' hook --type binary --`, entries[2].Value)
}

func TestParentConfig(t *testing.T) {
	dir := t.TempDir()
	_, ok := ReadParentConfig(dir)
	assert.False(t, ok)

	require.NoError(t, WriteParentConfig(dir, "/usr/bin/python3"))
	python, ok := ReadParentConfig(dir)
	require.True(t, ok)
	assert.Equal(t, "/usr/bin/python3", python)
}

func TestDriverRunsInterpreterWithoutQueue(t *testing.T) {
	fe := &fakeExec{}
	h := New(platform.For("linux"), fe.exec, logr.Discard())

	args := []string{"-m", "app", codec.SwitchConnect, codec.SwitchSessionName, `"x (binary extensions)"`}
	require.NoError(t, h.RunDriver(context.Background(), "/usr/bin/python3", args, "/tmp", []string{"PATH=/usr/bin"}))

	require.Len(t, fe.calls, 1)
	assert.Equal(t, "/usr/bin/python3", fe.calls[0].program)
	assert.Equal(t, []string{"-m", "app"}, fe.calls[0].args)
}

func TestDriverReportsInterpreterAsNative(t *testing.T) {
	queue, out := startQueue(t)
	python := filepath.Join(t.TempDir(), "python3")
	require.NoError(t, os.WriteFile(python, []byte("x"), 0o755))
	fe := &fakeExec{}
	h := New(platform.For("linux"), fe.exec, logr.Discard())

	args := []string{"main.py", codec.SwitchSessionCwd, "/work", codec.SwitchSessionName, `"main (binary extensions)"`}
	done := make(chan error, 1)
	go func() {
		done <- h.RunDriver(context.Background(), python, args, "/work", []string{EnvLauncherQueue + "=" + queue})
	}()

	require.Eventually(t, func() bool { return len(out.bytes()) > 0 }, 2*time.Second, 10*time.Millisecond)
	p := decodeOne(t, out.bytes())
	assert.Equal(t, python, p.Program)
	assert.Equal(t, string(types.BackendBinary), p.Type)
	assert.Equal(t, []string{"main.py", codec.SwitchSessionCwd, "/work", codec.SwitchSessionName, "main (binary extensions)"}, p.Args)

	require.NoError(t, relay.Unblock(context.Background(), p.HookPipe, time.Second))
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("driver was not released")
	}
	assert.Empty(t, fe.calls)
}

func TestHookPrefersPathForBareNames(t *testing.T) {
	queue, out := startQueue(t)
	bin, cwd := t.TempDir(), t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(bin, "python3"), []byte("x"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(cwd, "python3"), []byte("x"), 0o755))
	h := New(platform.For("linux"), nil, logr.Discard())

	res, err := h.Run(context.Background(), Options{
		NoBlock: true,
		Program: "python3",
		Cwd:     cwd,
		Environ: []string{EnvLauncherQueue + "=" + queue, "PATH=" + bin},
	})
	require.NoError(t, err)
	require.True(t, res.Reported)
	assert.Equal(t, filepath.Join(bin, "python3"), res.Program)

	require.Eventually(t, func() bool { return len(out.bytes()) > 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, filepath.Join(bin, "python3"), decodeOne(t, out.bytes()).Program)
}
