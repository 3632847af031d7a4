// Package image implements the memory-mapped backing store for the rsh
// built-in FAT16-style file system: creating or opening the single image
// file described by spec.md §4.1 and §3 ("FAT image layout"), and exposing
// it as a contiguous byte slice plus an io.ReadWriteSeeker view of the same
// bytes. Package fat indexes the byte slice directly.
//
// Grounded on ostafen-digler/internal/mmap (syscall.Mmap/Msync/Munmap usage)
// and the original C implementation's rsh_fat16_fs.fs_io (mmap'd pointer),
// _examples/original_source/include/rshfs.h.
package image

import (
	"os"

	"github.com/xaionaro-go/bytesextra"
	"golang.org/x/sys/unix"

	"github.com/imnotlistening/rsh/rsherr"
)

// Geometry bounds enforced by Open unless the caller passes override=true.
// See spec.md §4.1 "Preconditions".
const (
	MinClusterSize = 8 * 1024
	MaxClusterSize = 16 * 1024
	MinImageSize   = 5 * 1024 * 1024
	MaxImageSize   = 50 * 1024 * 1024

	// DirentSize is the on-disk size of a directory entry, in bytes (spec.md §3).
	DirentSize = 128

	// MinClusterSizeFloor is the smallest cluster that holds three dirents
	// (384 bytes), enforced regardless of override (spec.md §4.1).
	// CheckGeometry separately requires a multiple of 1024, so the smallest
	// cluster size it accepts is 1024.
	MinClusterSizeFloor = 3 * DirentSize
)

// BootRecord is cluster 0 of the image: four little-endian uint32 fields.
type BootRecord struct {
	ClusterSize uint32
	ImageLength uint32
	RootCluster uint32
	FATStart    uint32
}

// Handle is a live memory mapping of an rsh FAT16-style image file.
//
// Handle owns the mmap'd region for the shell's lifetime (spec.md §3
// Lifecycles: "The FAT image is memory-mapped for the shell's lifetime").
type Handle struct {
	file *os.File
	data []byte

	// Stream presents Data as an io.ReadWriteSeeker over the mapped bytes.
	// Package fat does not use it; it addresses clusters through Data.
	Stream *bytesextra.ReadWriteSeeker

	Boot BootRecord
}

// CheckGeometry validates cluster/image sizes against the policy in
// spec.md §4.1, unless override is set (in which case only the absolute
// floor needed for correctness -- three dirents per cluster, 1024-alignment
// -- is enforced).
func CheckGeometry(size, clusterSize uint32, override bool) *rsherr.Error {
	if clusterSize < MinClusterSizeFloor {
		return rsherr.ErrInvalid.WithMessage("cluster size too small to hold 3 dirents")
	}
	if clusterSize%1024 != 0 {
		return rsherr.ErrInvalid.WithMessage("cluster size must be a multiple of 1024")
	}
	if !override {
		if clusterSize < MinClusterSize || clusterSize > MaxClusterSize {
			return rsherr.ErrInvalid.WithMessage("cluster size outside [8KiB, 16KiB]")
		}
		if size < MinImageSize || size > MaxImageSize {
			return rsherr.ErrInvalid.WithMessage("image size outside [5MiB, 50MiB]")
		}
	}
	return nil
}

// Data returns the raw mapped bytes of the image. Callers in package fat
// index into this directly, matching spec.md's addr_of(idx) = base + idx *
// cluster_size addressing.
func (h *Handle) Data() []byte { return h.data }

// Sync flushes all dirty pages of the mapping back to the backing file
// (spec.md §3: "msynced on every directory-modifying operation and on file
// close").
func (h *Handle) Sync() error {
	return unix.Msync(h.data, unix.MS_SYNC)
}

// Close syncs and unmaps the image, then closes the backing file.
func (h *Handle) Close() error {
	syncErr := h.Sync()
	mapErr := unix.Munmap(h.data)
	closeErr := h.file.Close()
	if syncErr != nil {
		return syncErr
	}
	if mapErr != nil {
		return mapErr
	}
	return closeErr
}
