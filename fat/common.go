// Package fat implements the FAT16-style engine described in spec.md §4.2:
// cluster allocation, FAT chain traversal, directory-table management, path
// resolution, and file I/O over a single memory-mapped image.
//
// The cluster/chain bookkeeping collapses a generic block-device-over-
// cluster-device layering (built for file systems with independent sector
// and cluster sizes) down to the single-level, single-image model spec.md
// describes: one mmap'd image, clusters are the only unit, and there is
// exactly one driver, not a pluggable registry.
package fat

import (
	"github.com/boljen/go-bitmap"

	"github.com/imnotlistening/rsh/image"
	"github.com/imnotlistening/rsh/rsherr"
)

// ClusterID identifies a cluster by its 32-bit index, per spec.md's
// GLOSSARY.
type ClusterID uint32

// FAT slot sentinels (spec.md §3).
const (
	FATFree     uint32 = 0x00000000
	FATReserved uint32 = 0x0000FFFE
	FATTerm     uint32 = 0x0000FFFF
)

// ToTail tells Engine.Follow to walk all the way to the chain's terminal
// cluster, per spec.md §4.2: "Passing a negative or maximal n... means 'walk
// to the tail'."
const ToTail uint32 = 0xFFFFFFFF

// Dirent type tags (spec.md §3).
const (
	TypeFile uint32 = 0x00
	TypeDir  uint32 = 0xFF
)

// OpenFlags mirror the three flags spec.md §4.2 Open recognizes.
type OpenFlags uint8

const (
	Creat OpenFlags = 1 << iota
	Trunc
	Append
)

// Engine is the live FAT16-style driver bound to a single mapped image.
type Engine struct {
	img *image.Handle

	clusterSize       uint32
	totalClusters      uint32
	fatStartCluster    uint32
	fatClusterCount    uint32
	slotsPerFATCluster uint32
	direntsPerCluster  int
	rootCluster        ClusterID

	// freeBitmap accelerates the mandated linear FAT scan (spec.md §4.2
	// "Cluster allocation: linear scan of the FAT for the first FREE slot")
	// by caching allocation state instead of rescanning the FAT on every
	// call. It is advisory only: Engine.AllocateCluster still walks slots in
	// order and consults the FAT itself as ground truth, using the bitmap
	// purely to skip runs that are already known-occupied.
	freeBitmap bitmap.Bitmap
}

// New binds an Engine to an already-opened image. If created is true the
// image is freshly made and must be laid out from scratch (boot record is
// already written by package image; this call adds the FAT chain and root
// directory). If false, the engine trusts the existing on-disk structures.
func New(img *image.Handle, created bool) (*Engine, *rsherr.Error) {
	e := &Engine{
		img:         img,
		clusterSize: img.Boot.ClusterSize,
		rootCluster: ClusterID(img.Boot.RootCluster),
	}
	e.totalClusters = img.Boot.ImageLength / e.clusterSize
	e.slotsPerFATCluster = e.clusterSize / 4
	e.fatClusterCount = ceilDiv(e.totalClusters*4, e.clusterSize)
	e.fatStartCluster = img.Boot.FATStart
	e.direntsPerCluster = int(e.clusterSize / image.DirentSize)
	e.freeBitmap = bitmap.New(int(e.totalClusters))

	if created {
		if err := e.layout(); err != nil {
			return nil, err
		}
	} else {
		e.rebuildFreeBitmap()
	}
	return e, nil
}

func ceilDiv(a, b uint32) uint32 {
	return (a + b - 1) / b
}

// clusterAddr returns the byte slice for cluster idx within the mapped
// image: addr_of(idx) = base + idx * cluster_size (spec.md §4.2).
func (e *Engine) clusterAddr(idx ClusterID) []byte {
	start := uint32(idx) * e.clusterSize
	return e.img.Data()[start : start+e.clusterSize]
}

// fatSlotLocation computes which cluster holds the FAT slot for idx, and the
// byte offset of that 32-bit slot within that cluster (spec.md §4.2 "FAT
// slot lookup").
func (e *Engine) fatSlotLocation(idx ClusterID) (ClusterID, uint32) {
	cluster := uint32(idx) / e.slotsPerFATCluster
	offset := (uint32(idx) % e.slotsPerFATCluster) * 4
	return ClusterID(e.fatStartCluster + cluster), offset
}

// GetFAT reads the FAT slot for idx. Reading an out-of-range index returns
// RESERVED rather than erroring (spec.md §4.2).
func (e *Engine) GetFAT(idx ClusterID) uint32 {
	if uint32(idx) >= e.totalClusters {
		return FATReserved
	}
	cluster, offset := e.fatSlotLocation(idx)
	return leUint32(e.clusterAddr(cluster)[offset : offset+4])
}

// SetFAT writes the FAT slot for idx. Setting an out-of-range index is a
// no-op (spec.md §4.2).
func (e *Engine) SetFAT(idx ClusterID, value uint32) {
	if uint32(idx) >= e.totalClusters {
		return
	}
	cluster, offset := e.fatSlotLocation(idx)
	putLeUint32(e.clusterAddr(cluster)[offset:offset+4], value)

	switch value {
	case FATFree:
		e.freeBitmap.Set(int(idx), false)
	default:
		e.freeBitmap.Set(int(idx), true)
	}
}

// Follow walks n links starting at head, stopping early at TERM. Passing
// ToTail walks to the chain's last cluster (spec.md §4.2 "Chain follow").
// Encountering FREE or RESERVED mid-chain is a corruption (spec.md §4.2,
// §7): the caller gets back a plain *rsherr.Error carrying ErrCorrupt,
// which rsherr.IsFatal recognizes at the top level.
func (e *Engine) Follow(head ClusterID, n uint32) (ClusterID, *rsherr.Error) {
	current := head
	for i := uint32(0); n == ToTail || i < n; i++ {
		next := e.GetFAT(current)
		if next == FATTerm {
			return current, nil
		}
		if next == FATFree || next == FATReserved {
			return 0, rsherr.ErrCorrupt.WithMessage(
				"encountered FREE/RESERVED slot while walking a live chain")
		}
		current = ClusterID(next)
	}
	return current, nil
}

// AllocateCluster performs the linear scan of spec.md §4.2 "Cluster
// allocation", zeroes the cluster's data bytes, and returns its index.
func (e *Engine) AllocateCluster() (ClusterID, *rsherr.Error) {
	dataStart := e.fatStartCluster + e.fatClusterCount
	for idx := dataStart; idx < e.totalClusters; idx++ {
		if e.freeBitmap.Get(int(idx)) {
			continue
		}
		if e.GetFAT(ClusterID(idx)) != FATFree {
			// Bitmap said free but the FAT disagrees; trust the FAT and
			// correct the cache, then keep scanning.
			e.freeBitmap.Set(int(idx), true)
			continue
		}
		e.SetFAT(ClusterID(idx), FATTerm)
		addr := e.clusterAddr(ClusterID(idx))
		for i := range addr {
			addr[i] = 0
		}
		return ClusterID(idx), nil
	}
	return 0, rsherr.ErrNoSpace.Err()
}

// FreeChain frees every cluster in a chain starting at head. When
// keepHead is true, head itself is left allocated (and reset to TERM)
// instead of being freed -- used by Truncate semantics in Open.
func (e *Engine) FreeChain(head ClusterID, keepHead bool) {
	if keepHead {
		tail := e.GetFAT(head)
		e.SetFAT(head, FATTerm)
		if tail == FATTerm || tail == FATFree || tail == FATReserved {
			return
		}
		head = ClusterID(tail)
	}

	current := head
	for {
		next := e.GetFAT(current)
		e.SetFAT(current, FATFree)
		if next == FATTerm || next == FATFree || next == FATReserved {
			return
		}
		current = ClusterID(next)
	}
}

// rebuildFreeBitmap scans the whole FAT once at startup for an existing
// image so AllocateCluster's cache is warm from the first call.
func (e *Engine) rebuildFreeBitmap() {
	for idx := uint32(0); idx < e.totalClusters; idx++ {
		if e.GetFAT(ClusterID(idx)) != FATFree {
			e.freeBitmap.Set(int(idx), true)
		}
	}
}

// Sync flushes the image's mapped pages, per spec.md §3 Lifecycles.
func (e *Engine) Sync() error {
	return e.img.Sync()
}

// ClusterSize returns the configured cluster size in bytes.
func (e *Engine) ClusterSize() uint32 { return e.clusterSize }

// RootCluster returns the first cluster of the root directory.
func (e *Engine) RootCluster() ClusterID { return e.rootCluster }

func leUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func putLeUint32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}
