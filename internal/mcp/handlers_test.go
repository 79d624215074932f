package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctagard/deepdbg/internal/backend"
	"github.com/ctagard/deepdbg/internal/codec"
	"github.com/ctagard/deepdbg/internal/platform"
	"github.com/ctagard/deepdbg/internal/relay"
	"github.com/ctagard/deepdbg/internal/wire"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	caps := platform.For("linux")
	runner := platform.RunnerFunc(func(context.Context, string, ...string) (string, error) {
		return "ELF 64-bit LSB executable", nil
	})
	c := codec.New(caps, backend.NewRegistry(caps), runner, logr.Discard())
	return NewServer(c, caps, time.Second, logr.Discard())
}

func call(args map[string]interface{}) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, res)
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok, "got %T", res.Content[0])
	return text.Text
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func startRelay(t *testing.T) (*relay.Server, *syncBuffer) {
	t.Helper()
	out := &syncBuffer{}
	srv := relay.NewServer(filepath.Join(t.TempDir(), "q"), out, logr.Discard())
	require.NoError(t, srv.Listen())
	go func() { _ = srv.Serve(context.Background()) }()
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return srv, out
}

func TestRelayDecode(t *testing.T) {
	s := newTestServer(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tool"), []byte("x"), 0o755))

	res, err := s.handleRelayDecode(context.Background(), call(map[string]interface{}{
		"message": `start|{"cwd":"` + dir + `","program":"tool","args":["-q"]}|end`,
		"queue":   "/tmp/deepdbg-lque-1",
	}))
	require.NoError(t, err)
	require.False(t, res.IsError, resultText(t, res))

	var cfg map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &cfg))
	assert.Equal(t, "cppdbg", cfg["type"])
	assert.Equal(t, filepath.Join(dir, "tool"), cfg["program"])
	assert.Equal(t, "tool", cfg["name"])
	assert.Contains(t, resultText(t, res), "/tmp/deepdbg-lque-1")
}

func TestRelayDecodeReportsCode(t *testing.T) {
	s := newTestServer(t)

	res, err := s.handleRelayDecode(context.Background(), call(map[string]interface{}{
		"message": `start|{"v":7}|end`,
	}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(t, res), "UNSUPPORTED_VERSION")

	res, err = s.handleRelayDecode(context.Background(), call(map[string]interface{}{
		"message": `start|{oops`,
	}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(t, res), "MESSAGE_MALFORMED")
}

func TestRelaySendDeliversStartMessage(t *testing.T) {
	s := newTestServer(t)
	srv, out := startRelay(t)

	res, err := s.handleRelaySend(context.Background(), call(map[string]interface{}{
		"queue":   srv.Path(),
		"program": "/usr/bin/env",
		"cwd":     "/tmp",
		"args":    []interface{}{"a", "b c"},
	}))
	require.NoError(t, err)
	require.False(t, res.IsError, resultText(t, res))

	require.Eventually(t, func() bool { return out.String() != "" }, 2*time.Second, 10*time.Millisecond)
	msg, err := wire.Parse([]byte(out.String()))
	require.NoError(t, err)
	require.True(t, msg.IsStart())

	p, err := wire.DecodePayload(msg.Payload)
	require.NoError(t, err)
	assert.Equal(t, "/usr/bin/env", p.Program)
	assert.Equal(t, "/tmp", p.Cwd)
	assert.Equal(t, []string{"a", "b c"}, p.Args)
}

func TestRelaySendUnavailableQueue(t *testing.T) {
	caps := platform.For("linux")
	c := codec.New(caps, backend.NewRegistry(caps), platform.ExecRunner{}, logr.Discard())
	s := NewServer(c, caps, 50*time.Millisecond, logr.Discard())

	res, err := s.handleRelaySend(context.Background(), call(map[string]interface{}{
		"queue":   filepath.Join(t.TempDir(), "nobody"),
		"program": "/bin/true",
	}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(t, res), "CHANNEL_UNAVAILABLE")
}

func TestRelayUnblockAndStop(t *testing.T) {
	s := newTestServer(t)
	srv, out := startRelay(t)

	res, err := s.handleRelayUnblock(context.Background(), call(map[string]interface{}{"channel": srv.Path()}))
	require.NoError(t, err)
	require.False(t, res.IsError, resultText(t, res))
	require.Eventually(t, func() bool { return out.String() == "stopped" }, 2*time.Second, 10*time.Millisecond)

	res, err = s.handleRelayStop(context.Background(), call(map[string]interface{}{"queue": srv.Path()}))
	require.NoError(t, err)
	require.False(t, res.IsError, resultText(t, res))

	select {
	case <-srv.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("relay server did not stop")
	}
}

func TestLaunchConfigurations(t *testing.T) {
	s := newTestServer(t)
	workspace := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(workspace, ".vscode"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(workspace, ".vscode", "launch.json"), []byte(`{
		// comments are allowed
		"configurations": [
			{"name": "Server", "type": "cppdbg", "request": "launch", "program": "a.out"},
			{"name": "Tests", "type": "python", "request": "launch", "program": "t.py"},
		]
	}`), 0o644))

	res, err := s.handleLaunchConfigurations(context.Background(), call(map[string]interface{}{"workspace": workspace}))
	require.NoError(t, err)
	require.False(t, res.IsError, resultText(t, res))

	var out struct {
		Path           string `json:"path"`
		Configurations []struct {
			Name string `json:"name"`
			Type string `json:"type"`
		} `json:"configurations"`
	}
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &out))
	assert.Equal(t, filepath.Join(workspace, ".vscode", "launch.json"), out.Path)
	require.Len(t, out.Configurations, 2)
	assert.Equal(t, "Server", out.Configurations[0].Name)
	assert.Equal(t, "python", out.Configurations[1].Type)
}
