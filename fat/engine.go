package fat

import (
	"github.com/noxer/bytewriter"

	"github.com/imnotlistening/rsh/rsherr"
)

// Resolve walks path components from the root, matching spec.md §4.2 "Path
// → dirent": a non-terminal FILE match is NotDir, a missing component is
// NoEnt, and an unrecognized dirent type is a corruption.
func (e *Engine) Resolve(components []string) (Dirent, DirentRef, *rsherr.Error) {
	cluster := e.rootCluster
	current := Dirent{Name: "/", FirstCluster: e.rootCluster, Type: TypeDir}
	ref := DirentRef{Cluster: e.rootCluster, Slot: 0}

	for i, name := range components {
		d, r, ok, ferr := e.findInDir(cluster, name)
		if ferr != nil {
			return Dirent{}, DirentRef{}, ferr
		}
		if !ok {
			return Dirent{}, DirentRef{}, rsherr.ErrNoEnt.WithMessage(name)
		}

		isLast := i == len(components)-1
		if !isLast && d.Type == TypeFile {
			return Dirent{}, DirentRef{}, rsherr.ErrNotDir.WithMessage(name)
		}
		if d.Type != TypeFile && d.Type != TypeDir {
			return Dirent{}, DirentRef{}, rsherr.ErrCorrupt.WithMessage("unknown dirent type")
		}

		current, ref, cluster = d, r, d.FirstCluster
	}
	return current, ref, nil
}

// Open implements spec.md §4.2 Open. mtime is the current epoch seconds,
// supplied by the caller so the engine stays free of a wall-clock
// dependency.
func (e *Engine) Open(components []string, flags OpenFlags, mtime uint32) (Dirent, DirentRef, *rsherr.Error) {
	if flags&Append != 0 && flags&Trunc != 0 {
		return Dirent{}, DirentRef{}, rsherr.ErrInvalid.WithMessage("APPEND with TRUNC")
	}

	parentComponents, leaf := splitParent(components)
	var parentCluster ClusterID
	if len(parentComponents) == 0 {
		parentCluster = e.rootCluster
	} else {
		parentDirent, _, err := e.Resolve(parentComponents)
		if err != nil {
			return Dirent{}, DirentRef{}, err
		}
		if !parentDirent.IsDir() {
			return Dirent{}, DirentRef{}, rsherr.ErrNotDir.Err()
		}
		parentCluster = parentDirent.FirstCluster
	}

	d, ref, ok, ferr := e.findInDir(parentCluster, leaf)
	if ferr != nil {
		return Dirent{}, DirentRef{}, ferr
	}

	if !ok {
		if flags&Creat == 0 {
			return Dirent{}, DirentRef{}, rsherr.ErrNoEnt.Err()
		}
		slot, err := e.allocateDirentSlot(parentCluster)
		if err != nil {
			return Dirent{}, DirentRef{}, err
		}
		firstCluster, err := e.AllocateCluster()
		if err != nil {
			return Dirent{}, DirentRef{}, err
		}
		d = Dirent{Name: leaf, FirstCluster: firstCluster, Size: 0, Type: TypeFile, ModTime: mtime}
		if werr := e.writeDirent(slot, d); werr != nil {
			return Dirent{}, DirentRef{}, werr
		}
		return d, slot, nil
	}

	if d.IsDir() {
		// A directory may be opened (for Readdir); it cannot be truncated or
		// appended to.
		if flags&(Trunc|Append) != 0 {
			return Dirent{}, DirentRef{}, rsherr.ErrInvalid.WithMessage("cannot truncate or append to a directory")
		}
		return d, ref, nil
	}

	if flags&Trunc != 0 {
		e.FreeChain(d.FirstCluster, true)
		d.Size = 0
		d.ModTime = mtime
		e.writeDirent(ref, d)
	}

	return d, ref, nil
}

func splitParent(components []string) ([]string, string) {
	if len(components) == 0 {
		return nil, ""
	}
	return components[:len(components)-1], components[len(components)-1]
}

// clusterIndexForOffset returns which cluster (0-based within the chain)
// holds byte offset.
func (e *Engine) clusterIndexForOffset(offset int64) uint32 {
	return uint32(offset / int64(e.clusterSize))
}

// clusterAtChainIndex walks n clusters into the chain starting at head.
func (e *Engine) clusterAtChainIndex(head ClusterID, n uint32) (ClusterID, *rsherr.Error) {
	return e.Follow(head, n)
}

// ReadAt implements spec.md §4.2 Read: copies bytes starting at offset,
// cluster by cluster, returning the number of bytes transferred (0 at EOF).
func (e *Engine) ReadAt(d Dirent, offset int64, buf []byte) (int, *rsherr.Error) {
	if offset >= int64(d.Size) || len(buf) == 0 {
		return 0, nil
	}
	remaining := int64(d.Size) - offset
	if int64(len(buf)) > remaining {
		buf = buf[:remaining]
	}

	total := 0
	for total < len(buf) {
		curOffset := offset + int64(total)
		clusterIdx := e.clusterIndexForOffset(curOffset)
		cluster, ferr := e.clusterAtChainIndex(d.FirstCluster, clusterIdx)
		if ferr != nil {
			return total, ferr
		}

		inClusterOffset := uint32(curOffset) % e.clusterSize
		chunk := min3(e.clusterSize-inClusterOffset, uint32(len(buf)-total), uint32(int64(d.Size)-curOffset))
		src := e.clusterAddr(cluster)[inClusterOffset : inClusterOffset+chunk]
		copy(buf[total:total+int(chunk)], src)
		total += int(chunk)
	}
	return total, nil
}

// WriteAt implements spec.md §4.2 Write: extends the chain as needed,
// overlays partial-cluster writes onto the existing bytes via bytewriter so
// unwritten data in the destination cluster survives, and updates size to
// max(size, offset_after_write).
func (e *Engine) WriteAt(ref DirentRef, d Dirent, offset int64, data []byte) (int, Dirent, *rsherr.Error) {
	total := 0
	for total < len(data) {
		curOffset := offset + int64(total)
		clusterIdx := e.clusterIndexForOffset(curOffset)

		cluster, err := e.ensureClusterAtChainIndex(d.FirstCluster, clusterIdx)
		if err != nil {
			return total, d, err
		}

		inClusterOffset := uint32(curOffset) % e.clusterSize
		chunk := e.clusterSize - inClusterOffset
		if remaining := uint32(len(data) - total); chunk > remaining {
			chunk = remaining
		}

		// bytewriter.New wraps the destination sub-slice as an io.Writer
		// that writes sequentially starting at its first byte; by slicing
		// the cluster down to exactly [inClusterOffset, inClusterOffset+
		// chunk) first, every byte outside that window is left untouched
		// -- the "copy into scratch, overlay, copy back" step of spec.md
		// §4.2 Write, without a manual three-step buffer dance.
		dest := e.clusterAddr(cluster)[inClusterOffset : inClusterOffset+chunk]
		writer := bytewriter.New(dest)
		if _, werr := writer.Write(data[total : total+int(chunk)]); werr != nil {
			return total, d, rsherr.ErrHostIo.Wrap(werr)
		}

		total += int(chunk)
	}

	newSize := offset + int64(total)
	if newSize > int64(d.Size) {
		d.Size = uint32(newSize)
	}
	if werr := e.writeDirent(ref, d); werr != nil {
		return total, d, werr
	}
	return total, d, nil
}

// ensureClusterAtChainIndex walks to chain index n, extending the chain
// with freshly allocated clusters if it's not long enough yet (spec.md
// §4.2 Write: "when the computed cluster index exceeds the existing chain,
// extend: walk to the tail, allocate a new cluster... link the tail to
// it.").
func (e *Engine) ensureClusterAtChainIndex(head ClusterID, n uint32) (ClusterID, *rsherr.Error) {
	current := head
	for i := uint32(0); i < n; i++ {
		next := e.GetFAT(current)
		if next == FATTerm {
			newCluster, err := e.AllocateCluster()
			if err != nil {
				return 0, err
			}
			e.SetFAT(current, uint32(newCluster))
			current = newCluster
			continue
		}
		if next == FATFree || next == FATReserved {
			return 0, rsherr.ErrCorrupt.WithMessage("chain references free/reserved cluster")
		}
		current = ClusterID(next)
	}
	return current, nil
}

// Mkdir implements spec.md §4.2 Mkdir.
func (e *Engine) Mkdir(components []string, mtime uint32) *rsherr.Error {
	parentComponents, leaf := splitParent(components)
	var parentCluster ClusterID
	var parentRef DirentRef
	var parentDirent Dirent
	if len(parentComponents) == 0 {
		parentCluster = e.rootCluster
		parentRef = DirentRef{Cluster: e.rootCluster, Slot: 0}
	} else {
		d, r, err := e.Resolve(parentComponents)
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return rsherr.ErrNotDir.Err()
		}
		parentDirent, parentCluster, parentRef = d, d.FirstCluster, r
	}

	_, _, ok, ferr := e.findInDir(parentCluster, leaf)
	if ferr != nil {
		return ferr
	}
	if ok {
		return rsherr.ErrExists.Err()
	}

	slot, err := e.allocateDirentSlot(parentCluster)
	if err != nil {
		return err
	}
	newCluster, err := e.AllocateCluster()
	if err != nil {
		return err
	}
	e.initDirectory(newCluster, parentCluster, mtime)

	d := Dirent{Name: leaf, FirstCluster: newCluster, Type: TypeDir, ModTime: mtime}
	if werr := e.writeDirent(slot, d); werr != nil {
		return werr
	}

	if len(parentComponents) != 0 {
		parentDirent.Type = TypeDir
		e.writeDirent(parentRef, parentDirent)
	}
	return nil
}

// Unlink implements spec.md §4.2 Unlink. Per spec.md §9 design note (b), the
// dirent slot is not compacted -- only the name byte is cleared -- so
// entries after it in the same cluster remain reachable by Resolve/Mkdir
// (which scan past empty slots) but invisible to Readdir (which stops at
// the first one).
func (e *Engine) Unlink(components []string) *rsherr.Error {
	d, ref, err := e.Resolve(components)
	if err != nil {
		return err
	}
	e.FreeChain(d.FirstCluster, false)
	e.clearDirent(ref)
	return nil
}

// CloseFile implements spec.md §4.2 Close: msync every cluster of the
// file's chain. Because the whole image lives in a single mapping, this
// syncs the mapping as a whole -- equivalent in effect to msync'ing each
// cluster's range individually, without requiring page-aligned sub-ranges
// that spec-chosen cluster sizes (8-16 KiB) aren't guaranteed to produce on
// every platform.
func (e *Engine) CloseFile(d Dirent) error {
	return e.Sync()
}

func min3(a, b, c uint32) uint32 {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}

// DirIter is the stateful readdir iterator of spec.md §4.2 Readdir. It is
// not reentrant: callers must drain one directory before opening another.
type DirIter struct {
	e       *Engine
	cluster ClusterID
	slot    int
	done    bool
}

// Readdir returns a fresh iterator over dir's entries.
func (e *Engine) Readdir(dir Dirent) (*DirIter, *rsherr.Error) {
	if !dir.IsDir() {
		return nil, rsherr.ErrNotDir.Err()
	}
	return &DirIter{e: e, cluster: dir.FirstCluster}, nil
}

// Next returns the next directory entry, or ok=false when the iterator has
// hit an empty slot (spec.md §4.2: "stops when it encounters a slot whose
// first name byte is NUL -- an empty slot terminates the directory").
func (it *DirIter) Next() (Dirent, bool, *rsherr.Error) {
	if it.done {
		return Dirent{}, false, nil
	}

	for {
		if it.slot >= it.e.direntsPerCluster {
			next := it.e.GetFAT(it.cluster)
			if next == FATTerm {
				it.done = true
				return Dirent{}, false, nil
			}
			if next == FATFree || next == FATReserved {
				it.done = true
				return Dirent{}, false, rsherr.ErrCorrupt.WithMessage(
					"directory chain references a free/reserved cluster")
			}
			it.cluster = ClusterID(next)
			it.slot = 0
			continue
		}

		ref := DirentRef{Cluster: it.cluster, Slot: it.slot}
		d, ok := it.e.readDirent(ref)
		if !ok {
			it.done = true
			return Dirent{}, false, nil
		}
		it.slot++
		return d, true, nil
	}
}
