package vfs_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/imnotlistening/rsh/fat"
	"github.com/imnotlistening/rsh/rshtest"
	"github.com/imnotlistening/rsh/vfs"
)

func newDispatcher(t *testing.T) *vfs.Dispatcher {
	t.Helper()
	_, e := rshtest.NewScratchImage(t, 10*1024*1024, 8192)
	return vfs.New(e, "image.img", false)
}

func TestOpen_TagsBuiltinDescriptor(t *testing.T) {
	v := newDispatcher(t)

	fd, err := v.Open("/image.img/a.txt", fat.Creat, 0)
	require.Nil(t, err)
	require.True(t, fd&vfs.BuiltinTag != 0)
}

func TestWriteReadRoundTrip(t *testing.T) {
	v := newDispatcher(t)

	fd, err := v.Open("/image.img/a.txt", fat.Creat, 0)
	require.Nil(t, err)

	n, err := v.Write(fd, []byte("payload"))
	require.Nil(t, err)
	require.Equal(t, 7, n)
	require.Nil(t, v.Close(fd))

	fd2, err := v.Open("/image.img/a.txt", 0, 0)
	require.Nil(t, err)
	buf := make([]byte, 7)
	n, err = v.Read(fd2, buf)
	require.Nil(t, err)
	require.Equal(t, 7, n)
	require.Equal(t, "payload", string(buf))
	require.Nil(t, v.Close(fd2))
}

func TestClose_FreesSlotOnlyAtZeroRefCount(t *testing.T) {
	v := newDispatcher(t)

	fd, err := v.Open("/image.img/a.txt", fat.Creat, 0)
	require.Nil(t, err)

	dupFd, err := v.Dup(fd)
	require.Nil(t, err)
	require.Equal(t, fd, dupFd)

	require.Nil(t, v.Close(fd))
	// Still one reference outstanding: a second write through the
	// "duplicate" must still succeed.
	_, err = v.Write(fd, []byte("x"))
	require.Nil(t, err)

	require.Nil(t, v.Close(fd))
}

func TestMkdirUnlink(t *testing.T) {
	v := newDispatcher(t)

	require.Nil(t, v.Mkdir("/image.img/sub", 0))
	err := v.Mkdir("/image.img/sub", 0)
	require.NotNil(t, err)

	require.Nil(t, v.Unlink("/image.img/sub"))
}

func TestChdir_RejectsHostPaths(t *testing.T) {
	v := newDispatcher(t)

	err := v.Chdir("/tmp")
	require.NotNil(t, err)
}

func TestChdir_UpdatesGetcwd(t *testing.T) {
	v := newDispatcher(t)

	require.Nil(t, v.Mkdir("/image.img/sub", 0))
	require.Nil(t, v.Chdir("/image.img/sub"))
	require.Equal(t, "/sub", v.Getcwd())
}

func TestReaddir_ListsCreatedEntries(t *testing.T) {
	v := newDispatcher(t)

	require.Nil(t, v.Mkdir("/image.img/dir", 0))
	fd, err := v.Open("/image.img/dir/file.txt", fat.Creat, 0)
	require.Nil(t, err)
	require.Nil(t, v.Close(fd))

	dirFd, err := v.Open("/image.img/dir", 0, 0)
	require.Nil(t, err)
	entries, err := v.Readdir(dirFd)
	require.Nil(t, err)

	names := map[string]bool{}
	for _, e := range entries {
		names[e.Name] = true
	}
	require.True(t, names["file.txt"])
	require.True(t, names["."])
	require.True(t, names[".."])
}

func TestCloseAll_ClosesEveryOpenDescriptor(t *testing.T) {
	v := newDispatcher(t)

	_, err := v.Open("/image.img/a.txt", fat.Creat, 0)
	require.Nil(t, err)
	_, err = v.Open("/image.img/b.txt", fat.Creat, 0)
	require.Nil(t, err)

	require.NoError(t, v.CloseAll())
}
