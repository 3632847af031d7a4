package fat

import (
	"strings"

	"github.com/imnotlistening/rsh/image"
	"github.com/imnotlistening/rsh/rsherr"
)

// nameSize is the length, in bytes, of the NUL-padded name field of a
// directory entry (spec.md §3: "112-byte NUL-padded name").
const nameSize = 112

// DirentRef identifies a directory entry by its slot's physical location:
// the cluster holding it and its index within that cluster, rather than a
// raw pointer into the mapped image (spec.md §9 design notes), since a
// remap would invalidate a pointer but not a (cluster, slot) pair.
type DirentRef struct {
	Cluster ClusterID
	Slot    int
}

// Dirent is the parsed, in-memory form of a 128-byte on-disk directory
// entry (spec.md §3).
type Dirent struct {
	Name         string
	FirstCluster ClusterID
	Size         uint32
	Type         uint32
	ModTime      uint32 // epoch seconds
}

func (d Dirent) IsDir() bool  { return d.Type == TypeDir }
func (d Dirent) IsFile() bool { return d.Type == TypeFile }

// direntBytes returns the 128-byte on-disk slice for ref.
func (e *Engine) direntBytes(ref DirentRef) []byte {
	cluster := e.clusterAddr(ref.Cluster)
	offset := ref.Slot * image.DirentSize
	return cluster[offset : offset+image.DirentSize]
}

// slotEmpty reports whether a slot is free: its first name byte is NUL
// (spec.md §3: "An empty slot is one whose first name byte is NUL").
func (e *Engine) slotEmpty(ref DirentRef) bool {
	return e.direntBytes(ref)[0] == 0
}

// readDirent parses the dirent at ref. ok is false if the slot is empty.
func (e *Engine) readDirent(ref DirentRef) (Dirent, bool) {
	raw := e.direntBytes(ref)
	if raw[0] == 0 {
		return Dirent{}, false
	}

	nameEnd := 0
	for nameEnd < nameSize && raw[nameEnd] != 0 {
		nameEnd++
	}

	d := Dirent{
		Name:         string(raw[:nameEnd]),
		FirstCluster: ClusterID(leUint32(raw[nameSize : nameSize+4])),
		Size:         leUint32(raw[nameSize+4 : nameSize+8]),
		Type:         leUint32(raw[nameSize+8 : nameSize+12]),
		ModTime:      leUint32(raw[nameSize+12 : nameSize+16]),
	}
	return d, true
}

// writeDirent serializes d into the slot at ref, overwriting it entirely.
func (e *Engine) writeDirent(ref DirentRef, d Dirent) *rsherr.Error {
	if len(d.Name) >= nameSize {
		return rsherr.ErrInvalid.WithMessage("name too long for a directory entry")
	}

	raw := e.direntBytes(ref)
	for i := range raw {
		raw[i] = 0
	}
	copy(raw[:nameSize], d.Name)
	putLeUint32(raw[nameSize:nameSize+4], uint32(d.FirstCluster))
	putLeUint32(raw[nameSize+4:nameSize+8], d.Size)
	putLeUint32(raw[nameSize+8:nameSize+12], d.Type)
	putLeUint32(raw[nameSize+12:nameSize+16], d.ModTime)
	return nil
}

// clearDirent marks a slot empty by zeroing its name byte, per spec.md §9
// design note (a): "unlink leaves the dirent slot's non-name bytes intact."
// This module takes the note's described behavior as the intended one.
func (e *Engine) clearDirent(ref DirentRef) {
	e.direntBytes(ref)[0] = 0
}

// eachSlotInChain calls fn for every directory-entry slot across every
// cluster of the chain starting at head, including empty ones, stopping
// only when fn returns true (found) or the chain is exhausted. This is used
// by path resolution and slot allocation, which -- unlike Readdir -- must
// not stop at the first empty slot, since spec.md §9 design note (b)
// documents that unlinking a non-tail entry leaves a hole that the
// directory table does not compact.
func (e *Engine) eachSlotInChain(head ClusterID, fn func(DirentRef) bool) (DirentRef, bool, *rsherr.Error) {
	cluster := head
	for {
		for slot := 0; slot < e.direntsPerCluster; slot++ {
			ref := DirentRef{Cluster: cluster, Slot: slot}
			if fn(ref) {
				return ref, true, nil
			}
		}

		next := e.GetFAT(cluster)
		if next == FATTerm {
			return DirentRef{}, false, nil
		}
		if next == FATFree || next == FATReserved {
			return DirentRef{}, false, rsherr.ErrCorrupt.WithMessage(
				"directory chain references a free/reserved cluster")
		}
		cluster = ClusterID(next)
	}
}

// findInDir looks up name as an immediate child of the directory whose
// first cluster is head.
func (e *Engine) findInDir(head ClusterID, name string) (Dirent, DirentRef, bool, *rsherr.Error) {
	var found Dirent
	ref, ok, ferr := e.eachSlotInChain(head, func(r DirentRef) bool {
		d, present := e.readDirent(r)
		if !present {
			return false
		}
		if d.Name == name {
			found = d
			return true
		}
		return false
	})
	return found, ref, ok, ferr
}

// allocateDirentSlot finds the first empty slot in the directory's chain,
// expanding the chain by one cluster if none is free (spec.md §4.2 Open:
// "growing the table by appending a new cluster to its chain when full").
func (e *Engine) allocateDirentSlot(head ClusterID) (DirentRef, *rsherr.Error) {
	ref, ok, ferr := e.eachSlotInChain(head, func(r DirentRef) bool {
		return e.slotEmpty(r)
	})
	if ferr != nil {
		return DirentRef{}, ferr
	}
	if ok {
		return ref, nil
	}

	tail, ferr := e.Follow(head, ToTail)
	if ferr != nil {
		return DirentRef{}, ferr
	}
	newCluster, err := e.AllocateCluster()
	if err != nil {
		return DirentRef{}, err
	}
	e.SetFAT(tail, uint32(newCluster))
	e.SetFAT(newCluster, FATTerm)

	return DirentRef{Cluster: newCluster, Slot: 0}, nil
}

// initDirectory writes the "." and ".." bootstrap entries as the first two
// slots of a freshly allocated directory cluster (spec.md §3 & §4.2 Mkdir).
func (e *Engine) initDirectory(selfCluster, parentCluster ClusterID, mtime uint32) {
	e.writeDirent(DirentRef{Cluster: selfCluster, Slot: 0}, Dirent{
		Name: ".", FirstCluster: selfCluster, Type: TypeDir, ModTime: mtime,
	})
	e.writeDirent(DirentRef{Cluster: selfCluster, Slot: 1}, Dirent{
		Name: "..", FirstCluster: parentCluster, Type: TypeDir, ModTime: mtime,
	})
}

// layout initializes a freshly created image: marks the reserved boot/root/
// FAT clusters TERM, links the FAT's own clusters into a chain, and creates
// the root directory's "." and ".." entries (spec.md §4.1).
func (e *Engine) layout() *rsherr.Error {
	e.SetFAT(0, FATTerm)
	e.SetFAT(ClusterID(e.img.Boot.RootCluster), FATTerm)

	for i := uint32(0); i < e.fatClusterCount; i++ {
		cluster := ClusterID(e.fatStartCluster + i)
		if i+1 < e.fatClusterCount {
			e.SetFAT(cluster, uint32(e.fatStartCluster+i+1))
		} else {
			e.SetFAT(cluster, FATTerm)
		}
	}

	root := ClusterID(e.img.Boot.RootCluster)
	e.initDirectory(root, root, 0)
	return nil
}

// trimDotDot strips trailing NUL padding from a raw directory name.
func trimDotDot(name string) string {
	return strings.TrimRight(name, "\x00")
}
