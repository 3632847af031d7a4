package fat_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/imnotlistening/rsh/fat"
	"github.com/imnotlistening/rsh/rsherr"
	"github.com/imnotlistening/rsh/rshtest"
)

func TestOpen_CreateWriteReread(t *testing.T) {
	_, e := rshtest.NewScratchImage(t, 10*1024*1024, 8192)

	d, ref, err := e.Open([]string{"a.txt"}, fat.Creat, 1000)
	require.Nil(t, err)
	require.True(t, d.IsFile())

	n, d, err := e.WriteAt(ref, d, 0, []byte("hello world"))
	require.Nil(t, err)
	require.Equal(t, 11, n)
	require.Equal(t, uint32(11), d.Size)
	require.NoError(t, e.CloseFile(d))

	reopened, _, err := e.Open([]string{"a.txt"}, 0, 0)
	require.Nil(t, err)
	require.Equal(t, uint32(11), reopened.Size)

	buf := make([]byte, 11)
	n, err = e.ReadAt(reopened, 0, buf)
	require.Nil(t, err)
	require.Equal(t, 11, n)
	require.Equal(t, "hello world", string(buf))
}

func TestWriteAt_SpansClusterBoundary(t *testing.T) {
	_, e := rshtest.NewScratchImage(t, 10*1024*1024, 8192)

	d, ref, err := e.Open([]string{"b.bin"}, fat.Creat, 0)
	require.Nil(t, err)

	first := make([]byte, 8190)
	for i := range first {
		first[i] = 'a'
	}
	n, d, err := e.WriteAt(ref, d, 0, first)
	require.Nil(t, err)
	require.Equal(t, 8190, n)

	second := make([]byte, 10)
	for i := range second {
		second[i] = 'b'
	}
	n, d, err = e.WriteAt(ref, d, 8190, second)
	require.Nil(t, err)
	require.Equal(t, 10, n)
	require.Equal(t, uint32(8200), d.Size)

	tail := make([]byte, 10)
	n, err = e.ReadAt(d, 8190, tail)
	require.Nil(t, err)
	require.Equal(t, 10, n)
	require.Equal(t, second, tail)

	// Chain must be exactly two clusters: the head plus one extension for
	// the cluster-spanning tail.
	afterHead, ferr := e.Follow(d.FirstCluster, 1)
	require.Nil(t, ferr)
	require.NotEqual(t, d.FirstCluster, afterHead)
	tailCluster, ferr := e.Follow(afterHead, fat.ToTail)
	require.Nil(t, ferr)
	require.Equal(t, afterHead, tailCluster)
}

func TestMkdir_IdempotenceAndBootstrapEntries(t *testing.T) {
	_, e := rshtest.NewScratchImage(t, 10*1024*1024, 8192)

	require.Nil(t, e.Mkdir([]string{"sub"}, 5))

	err := e.Mkdir([]string{"sub"}, 5)
	require.NotNil(t, err)
	require.True(t, errors.Is(err, rsherr.ErrExists))

	dirent, _, rerr := e.Resolve([]string{"sub"})
	require.Nil(t, rerr)
	require.True(t, dirent.IsDir())

	it, rerr := e.Readdir(dirent)
	require.Nil(t, rerr)

	self, ok, ferr := it.Next()
	require.Nil(t, ferr)
	require.True(t, ok)
	require.Equal(t, ".", self.Name)

	parent, ok, ferr := it.Next()
	require.Nil(t, ferr)
	require.True(t, ok)
	require.Equal(t, "..", parent.Name)
}

func TestUnlink_LeavesHoleInvisibleToReaddirOnly(t *testing.T) {
	_, e := rshtest.NewScratchImage(t, 10*1024*1024, 8192)

	require.Nil(t, e.Mkdir([]string{"first"}, 0))
	_, _, err := e.Open([]string{"second.txt"}, fat.Creat, 0)
	require.Nil(t, err)

	require.Nil(t, e.Unlink([]string{"first"}))

	_, _, rerr := e.Resolve([]string{"first"})
	require.NotNil(t, rerr)
	require.True(t, errors.Is(rerr, rsherr.ErrNoEnt))

	root, _, rerr := e.Resolve(nil)
	require.Nil(t, rerr)
	it, rerr := e.Readdir(root)
	require.Nil(t, rerr)

	names := map[string]bool{}
	for {
		d, ok, ferr := it.Next()
		require.Nil(t, ferr)
		if !ok {
			break
		}
		names[d.Name] = true
	}
	require.False(t, names["first"])
	// second.txt sits in the slot after the one Unlink cleared; DirIter.Next
	// stops at the first empty slot, so it never gets there.
	require.False(t, names["second.txt"])
}

func TestReadAt_PastEOFReturnsZero(t *testing.T) {
	_, e := rshtest.NewScratchImage(t, 10*1024*1024, 8192)

	d, ref, err := e.Open([]string{"c.txt"}, fat.Creat, 0)
	require.Nil(t, err)
	_, d, err = e.WriteAt(ref, d, 0, []byte("abc"))
	require.Nil(t, err)

	buf := make([]byte, 10)
	n, err := e.ReadAt(d, 3, buf)
	require.Nil(t, err)
	require.Equal(t, 0, n)
}
