// Package rshtest provides test-only helpers for building throwaway FAT16
// images. NewScratchImage creates a real backing file under a t.TempDir(),
// since the engine under test owns a live mmap rather than a bare byte
// buffer.
package rshtest

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/imnotlistening/rsh/fat"
	"github.com/imnotlistening/rsh/image"
)

// NewScratchImage creates a fresh FAT16 image of the given size and cluster
// size in t.TempDir(), binds an Engine to it, and registers a cleanup to
// close the image when the test finishes.
func NewScratchImage(t *testing.T, size, clusterSize uint32) (*image.Handle, *fat.Engine) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "scratch.img")
	h, created, err := image.Open(path, size, clusterSize, true)
	require.Nil(t, err, "image.Open failed: %v", err)
	require.True(t, created, "expected a freshly created image")

	e, ferr := fat.New(h, created)
	require.Nil(t, ferr, "fat.New failed: %v", ferr)

	t.Cleanup(func() {
		_ = h.Close()
	})

	return h, e
}

// OpenScratchImage reopens an existing image path with an Engine trusting
// its on-disk structures, for tests of the create-then-reopen path.
func OpenScratchImage(t *testing.T, path string) (*image.Handle, *fat.Engine) {
	t.Helper()

	h, created, err := image.Open(path, 0, 0, true)
	require.Nil(t, err, "image.Open failed: %v", err)
	require.False(t, created, "expected to reopen an existing image")

	e, ferr := fat.New(h, created)
	require.Nil(t, ferr, "fat.New failed: %v", ferr)

	t.Cleanup(func() {
		_ = h.Close()
	})

	return h, e
}
