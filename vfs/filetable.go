// Package vfs implements the descriptor-multiplexing dispatcher of spec.md
// §4.3: a single global built-in file-table plus the "native" relative-path
// flag, routing every I/O wrapper to either the built-in FAT16 engine
// (package fat) or the host operating system based on the tag bit of a
// descriptor or the native_path classification of a path.
package vfs

import (
	"time"

	"github.com/boljen/go-bitmap"

	"github.com/imnotlistening/rsh/fat"
)

// BuiltinTag is the high-order bit that marks a descriptor as a built-in
// file-table index rather than a host descriptor (spec.md §3 "Descriptor
// tagging").
const BuiltinTag = 0x8000

// MaxBuiltinFDs is the concurrency ceiling the tag bit leaves room for
// (spec.md §3: "the shell guarantees it will not issue more than 32 767
// built-in descriptors concurrently").
const MaxBuiltinFDs = 0x7FFF

// growthIncrement is how many slots the table grows by when full, and never
// shrinks (spec.md §4.3).
const growthIncrement = 8

// FileTableEntry is one open built-in descriptor (spec.md §3 "File-table
// entry"). A zero-value entry is an unused slot.
type FileTableEntry struct {
	Used     bool
	RefCount int
	Offset   int64
	Path     string

	Dirent    fat.Dirent
	DirentRef fat.DirentRef

	iter *fat.DirIter
}

// Stat is the OS-compatible stat structure fstat fills from the cached
// file-table fields (spec.md §4.3).
type Stat struct {
	Mode       uint32
	Size       int64
	BlockSize  int64
	BlockCount int64
	ModTime    time.Time
}

// DirEntry is one entry returned by Readdir, built-in or host.
type DirEntry struct {
	Name  string
	IsDir bool
}

func modeOf(d fat.Dirent) uint32 {
	if d.IsDir() {
		return 0o040755
	}
	return 0o100644
}

// allocSlot finds the first unused file-table slot via the free-slot
// bitmap, growing the table by growthIncrement when none is free (spec.md
// §4.3: "The file-table grows by 8 slots whenever it is full; it never
// shrinks.").
func (d *Dispatcher) allocSlot() int {
	for i := 0; i < len(d.table); i++ {
		if !d.usedBitmap.Get(i) {
			d.usedBitmap.Set(i, true)
			return i
		}
	}
	old := len(d.table)
	d.table = append(d.table, make([]FileTableEntry, growthIncrement)...)
	d.usedBitmap = bitmap.New(len(d.table))
	for i := 0; i < old; i++ {
		if d.table[i].Used {
			d.usedBitmap.Set(i, true)
		}
	}
	d.usedBitmap.Set(old, true)
	return old
}

func (d *Dispatcher) freeSlot(slot int) {
	d.table[slot] = FileTableEntry{}
	d.usedBitmap.Set(slot, false)
}
