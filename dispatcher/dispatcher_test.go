package dispatcher_test

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/imnotlistening/rsh/builtin"
	"github.com/imnotlistening/rsh/dispatcher"
	"github.com/imnotlistening/rsh/fat"
	"github.com/imnotlistening/rsh/internal/contract"
	"github.com/imnotlistening/rsh/process"
	"github.com/imnotlistening/rsh/rshtest"
	"github.com/imnotlistening/rsh/vfs"
)

func newShell(t *testing.T) (*dispatcher.Dispatcher, *vfs.Dispatcher) {
	t.Helper()
	_, e := rshtest.NewScratchImage(t, 10*1024*1024, 8192)
	v := vfs.New(e, "image.img", false)
	procs := process.NewEngine(int(os.Stdin.Fd()))
	reg := builtin.New(builtin.Context{VFS: v, Procs: procs, Engine: e})
	return dispatcher.New(v, procs, reg, false), v
}

func TestRun_DispatchesBuiltinWord(t *testing.T) {
	d, _ := newShell(t)

	status, err := d.Run(contract.Tokenize("pwd"))
	require.NoError(t, err)
	require.Equal(t, 0, status)
}

func TestRun_RedirectOutWritesToVfsFile(t *testing.T) {
	d, v := newShell(t)

	status, err := d.Run(contract.Tokenize("echo hello > /image.img/out.txt"))
	require.NoError(t, err)
	require.Equal(t, 0, status)

	fd, oerr := v.Open("/image.img/out.txt", 0, 0)
	require.Nil(t, oerr)
	buf := make([]byte, 64)
	n, oerr := v.Read(fd, buf)
	require.Nil(t, oerr)
	require.Equal(t, "hello\n", string(buf[:n]))
	require.Nil(t, v.Close(fd))
}

func TestRun_AppendOutAddsToExistingFile(t *testing.T) {
	d, v := newShell(t)

	_, err := d.Run(contract.Tokenize("echo first > /image.img/log.txt"))
	require.NoError(t, err)
	_, err = d.Run(contract.Tokenize("echo second >> /image.img/log.txt"))
	require.NoError(t, err)

	fd, oerr := v.Open("/image.img/log.txt", 0, 0)
	require.Nil(t, oerr)
	buf := make([]byte, 64)
	n, oerr := v.Read(fd, buf)
	require.Nil(t, oerr)
	require.Equal(t, "first\nsecond\n", string(buf[:n]))
	require.Nil(t, v.Close(fd))
}

func TestRun_PipeConnectsTwoCommands(t *testing.T) {
	d, v := newShell(t)

	fd, err := v.Open("/image.img/src.txt", fat.Creat, 0)
	require.Nil(t, err)
	_, err = v.Write(fd, []byte("piped payload"))
	require.Nil(t, err)
	require.Nil(t, v.Close(fd))

	status, rerr := d.Run(contract.Tokenize("cat /image.img/src.txt | cat > /image.img/dst.txt"))
	require.NoError(t, rerr)
	require.Equal(t, 0, status)

	outFd, oerr := v.Open("/image.img/dst.txt", 0, 0)
	require.Nil(t, oerr)
	buf := make([]byte, 64)
	n, oerr := v.Read(outFd, buf)
	require.Nil(t, oerr)
	require.Equal(t, "piped payload", string(buf[:n]))
	require.Nil(t, v.Close(outFd))
}

func TestRun_BackgroundExecReturnsWithoutWaiting(t *testing.T) {
	d, _ := newShell(t)

	status, err := d.Run(contract.Tokenize("/bin/sleep 0.05 &"))
	require.NoError(t, err)
	require.Equal(t, -1, status)
}

func TestRun_ExternalCommandExitStatus(t *testing.T) {
	d, _ := newShell(t)

	status, err := d.Run(contract.Tokenize("/bin/false"))
	require.NoError(t, err)
	require.Equal(t, 1, status)
}

func TestRun_SymdefTokenIsConsumedWithoutDispatch(t *testing.T) {
	d, _ := newShell(t)

	status, err := d.Run(contract.Tokenize("x=1"))
	require.NoError(t, err)
	require.Equal(t, -1, status)
}

func TestRun_RedirectMissingTargetIsSyntaxError(t *testing.T) {
	d, _ := newShell(t)

	tokens := []contract.Token{
		{Kind: contract.Word, Lexeme: "echo"},
		{Kind: contract.RedirectOut},
		{Kind: contract.Null},
	}
	_, err := d.Run(tokens)
	require.Error(t, err)
}
