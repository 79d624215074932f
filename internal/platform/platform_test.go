package platform

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctagard/deepdbg/pkg/types"
)

func TestForSelectsPlatformValues(t *testing.T) {
	win := For("windows")
	assert.Equal(t, ".exe", win.ExeSuffix)
	assert.Equal(t, "set", win.EnvSetCommand)
	assert.Equal(t, ";", win.ListSeparator)
	assert.Equal(t, types.BackendCppvsdbg, win.NativeBackend)

	linux := For("linux")
	assert.Empty(t, linux.ExeSuffix)
	assert.Equal(t, "export", linux.EnvSetCommand)
	assert.Equal(t, ":", linux.ListSeparator)
	assert.Equal(t, types.BackendCppdbg, linux.NativeBackend)
}

func TestQuotePosix(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"plain", "plain"},
		{"/usr/bin/python3", "/usr/bin/python3"},
		{"a=b,c:d@e%f+g", "a=b,c:d@e%f+g"},
		{"with space", `'with space'`},
		{`say "hi"`, `'say "hi"'`},
		{"$HOME", `'$HOME'`},
		{"`id` \\n", "'`id` \\n'"},
		{"it's", `'it'\''s'`},
	}

	quote := For("linux").Quote
	for _, tt := range tests {
		assert.Equal(t, tt.want, quote(tt.in), "quote(%q)", tt.in)
	}
}

func TestClassifySignature(t *testing.T) {
	assert.Equal(t, types.BackendBinary, ClassifySignature("ELF 64-bit LSB shared object, x86-64, version 1 (SYSV), dynamically linked"))
	assert.Equal(t, types.BackendBinary, ClassifySignature("ELF 64-bit LSB pie executable, x86-64"))
	assert.Equal(t, types.BackendBinary, ClassifySignature("ELF 32-bit LSB executable, Intel 80386, version 1 (SYSV)"))
	assert.Equal(t, types.BackendBinary, ClassifySignature("ELF 64-bit MSB executable, IBM S/390, version 1 (SYSV)"))
	assert.Equal(t, types.BackendBinary, ClassifySignature("ELF 32-bit MSB shared object, MIPS, MIPS32 rel2"))
	assert.Equal(t, types.BackendType(""), ClassifySignature("ELF 64-bit LSB relocatable, x86-64"))
	assert.Equal(t, types.BackendType(""), ClassifySignature("ELF 64-bit LSB core file, x86-64"))
	assert.Equal(t, types.BackendBashdb, ClassifySignature("POSIX shell script, ASCII text executable"))
	assert.Equal(t, types.BackendBashdb, ClassifySignature("Bourne-Again shell script, ASCII text executable\n"))
	assert.Equal(t, types.BackendType(""), ClassifySignature("Python script, ASCII text executable"))
}

func TestClassifyBinaryUsesRunner(t *testing.T) {
	var gotArgs []string
	run := RunnerFunc(func(_ context.Context, name string, args ...string) (string, error) {
		gotArgs = append([]string{name}, args...)
		return "POSIX shell script, ASCII text executable", nil
	})

	caps := For("linux")
	assert.Equal(t, types.BackendBashdb, caps.ClassifyBinary(context.Background(), "/opt/run.sh", run))
	assert.Equal(t, []string{"file", "-b", "/opt/run.sh"}, gotArgs)

	failing := RunnerFunc(func(context.Context, string, ...string) (string, error) {
		return "", errors.New("file: not found")
	})
	assert.Equal(t, types.BackendType(""), caps.ClassifyBinary(context.Background(), "/opt/run", failing))
}

func TestClassifyByExtensionOnWindows(t *testing.T) {
	caps := For("windows")
	ctx := context.Background()
	assert.Equal(t, types.BackendBinary, caps.ClassifyBinary(ctx, `C:\tools\App.EXE`, nil))
	assert.Equal(t, types.BackendBashdb, caps.ClassifyBinary(ctx, `C:\tools\build.sh`, nil))
	assert.Equal(t, types.BackendType(""), caps.ClassifyBinary(ctx, `C:\tools\readme.txt`, nil))
}

func TestSearchPath(t *testing.T) {
	first := t.TempDir()
	second := t.TempDir()
	target := filepath.Join(second, "tool")
	require.NoError(t, os.WriteFile(target, []byte("#!/bin/sh\n"), 0o755))
	require.NoError(t, os.Mkdir(filepath.Join(first, "tool"), 0o755))

	caps := For("linux")
	pathValue := strings.Join([]string{"", first, second}, ":")
	assert.Equal(t, target, caps.SearchPath("tool", pathValue))
	assert.Empty(t, caps.SearchPath("missing", pathValue))
	assert.Empty(t, caps.SearchPath("tool", ""))
}

func TestSetEnvCommand(t *testing.T) {
	assert.Equal(t, `export DEEPDBG_PYTHON_HOOK='/opt/deepdbg hook'`, For("linux").SetEnvCommand("DEEPDBG_PYTHON_HOOK", "/opt/deepdbg hook"))
	assert.Equal(t, `set QUEUE=C:\tmp\q`, For("windows").SetEnvCommand("QUEUE", `C:\tmp\q`))
}

func TestIsBareName(t *testing.T) {
	assert.True(t, IsBareName("python3"))
	assert.False(t, IsBareName("./python3"))
	assert.False(t, IsBareName(`bin\python.exe`))
	assert.False(t, IsBareName(""))
}
