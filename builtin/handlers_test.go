package builtin_test

import (
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/imnotlistening/rsh/builtin"
	"github.com/imnotlistening/rsh/fat"
	"github.com/imnotlistening/rsh/process"
	"github.com/imnotlistening/rsh/rshtest"
	"github.com/imnotlistening/rsh/vfs"
)

func newRegistry(t *testing.T) (*builtin.Registry, *vfs.Dispatcher) {
	t.Helper()
	_, e := rshtest.NewScratchImage(t, 10*1024*1024, 8192)
	v := vfs.New(e, "image.img", false)
	procs := process.NewEngine(0)
	return builtin.New(builtin.Context{VFS: v, Procs: procs, Engine: e}), v
}

// captureStdout runs a handler with its stdout bound to a pipe and returns
// everything written to it. The handler is responsible for closing the
// write end itself (every handler's CloseExtra call does this for any
// descriptor greater than 2), so the caller never closes w directly.
func captureStdout(t *testing.T, run func(stdout int) int) (int, string) {
	t.Helper()
	r, w, err := os.Pipe()
	require.NoError(t, err)

	status := run(int(w.Fd()))

	out, err := io.ReadAll(r)
	require.NoError(t, err)
	return status, string(out)
}

func TestPwd_ReportsCwd(t *testing.T) {
	reg, _ := newRegistry(t)
	h, ok := reg.Lookup("pwd")
	require.True(t, ok)

	status, out := captureStdout(t, func(stdout int) int {
		return h([]string{"pwd"}, 0, stdout, 2)
	})
	require.Equal(t, 0, status)
	require.Equal(t, "/\n", out)
}

func TestCd_ChangesVfsCwd(t *testing.T) {
	reg, v := newRegistry(t)
	require.Nil(t, v.Mkdir("/image.img/sub", 0))

	h, ok := reg.Lookup("cd")
	require.True(t, ok)
	status := h([]string{"cd", "/image.img/sub"}, 0, 1, 2)
	require.Equal(t, 0, status)
	require.Equal(t, "/sub", v.Getcwd())
}

func TestCd_TooManyArgsIsUsageError(t *testing.T) {
	reg, _ := newRegistry(t)
	h, ok := reg.Lookup("cd")
	require.True(t, ok)

	status, out := captureStdout(t, func(stdout int) int {
		return h([]string{"cd", "/a", "/b"}, 0, 1, stdout)
	})
	_ = out
	require.Equal(t, 1, status)
}

func TestEcho_JoinsArgsWithSpaces(t *testing.T) {
	reg, _ := newRegistry(t)
	h, ok := reg.Lookup("echo")
	require.True(t, ok)

	status, out := captureStdout(t, func(stdout int) int {
		return h([]string{"echo", "hello", "world"}, 0, stdout, 2)
	})
	require.Equal(t, 0, status)
	require.Equal(t, "hello world\n", out)
}

func TestCat_StreamsNamedFile(t *testing.T) {
	reg, v := newRegistry(t)
	fd, err := v.Open("/image.img/greeting.txt", fat.Creat, 0)
	require.Nil(t, err)
	_, err = v.Write(fd, []byte("hi there"))
	require.Nil(t, err)
	require.Nil(t, v.Close(fd))

	h, ok := reg.Lookup("cat")
	require.True(t, ok)

	status, out := captureStdout(t, func(stdout int) int {
		return h([]string{"cat", "/image.img/greeting.txt"}, 0, stdout, 2)
	})
	require.Equal(t, 0, status)
	require.Equal(t, "hi there", out)
}

func TestCat_MissingFileReportsErrorOnStderr(t *testing.T) {
	reg, _ := newRegistry(t)
	h, ok := reg.Lookup("cat")
	require.True(t, ok)

	status, out := captureStdout(t, func(stderr int) int {
		return h([]string{"cat", "/nope.txt"}, 0, 1, stderr)
	})
	require.Equal(t, 1, status)
	require.Contains(t, out, "nope.txt")
}

func TestDfsinfo_ReportsGeometry(t *testing.T) {
	reg, _ := newRegistry(t)
	h, ok := reg.Lookup("dfsinfo")
	require.True(t, ok)

	status, out := captureStdout(t, func(stdout int) int {
		return h([]string{"dfsinfo"}, 0, stdout, 2)
	})
	require.Equal(t, 0, status)
	require.Contains(t, out, "FAT16 Header")
}

func TestDproc_ExitsZeroWithNoJobs(t *testing.T) {
	reg, _ := newRegistry(t)
	h, ok := reg.Lookup("dproc")
	require.True(t, ok)

	status, _ := captureStdout(t, func(stdout int) int {
		return h([]string{"dproc"}, 0, stdout, 2)
	})
	require.Equal(t, 0, status)
}

func TestFg_NoStoppedProcessIsANoop(t *testing.T) {
	reg, _ := newRegistry(t)
	h, ok := reg.Lookup("fg")
	require.True(t, ok)

	status, out := captureStdout(t, func(stdout int) int {
		return h([]string{"fg"}, 0, stdout, 2)
	})
	require.Equal(t, 0, status)
	require.Contains(t, out, "No process to foreground")
}
