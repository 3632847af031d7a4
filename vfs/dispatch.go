package vfs

import (
	"os"
	"strings"
	"time"

	"github.com/boljen/go-bitmap"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/sys/unix"

	"github.com/imnotlistening/rsh/fat"
	"github.com/imnotlistening/rsh/internal/rshpath"
	"github.com/imnotlistening/rsh/rsherr"
)

// Dispatcher is the shell's single global VFS context (spec.md §4.3 and §9
// "Mutable globals ... must be captured in explicit context structures").
type Dispatcher struct {
	table      []FileTableEntry
	usedBitmap bitmap.Bitmap

	hostFiles map[int]*os.File

	engine   *fat.Engine
	rootName string

	cwd    string
	native bool
}

// New returns a Dispatcher bound to engine, mounted under rootName (the
// path component that makes a path built-in, e.g. "image.img"). native is
// the initial value of the process-wide native-path flag.
func New(engine *fat.Engine, rootName string, native bool) *Dispatcher {
	return &Dispatcher{
		table:      make([]FileTableEntry, growthIncrement),
		usedBitmap: bitmap.New(growthIncrement),
		hostFiles:  make(map[int]*os.File),
		engine:     engine,
		rootName:   rootName,
		cwd:        "/",
		native:     native,
	}
}

// SetNative toggles the process-wide "native" flag a relative path without
// a leading slash is classified against (spec.md §4.3).
func (d *Dispatcher) SetNative(native bool) { d.native = native }

// Native reports the current value of the native-path flag.
func (d *Dispatcher) Native() bool { return d.native }

// nativePath classifies p per spec.md §4.3 / scenario 6 and returns true
// when p belongs to the built-in engine: an absolute path starting with
// "/<rootName>" is built-in, any other absolute path is host, and a relative
// path is host when the native flag is set and built-in when it is not.
func (d *Dispatcher) nativePath(p string) bool {
	if strings.HasPrefix(p, "/") {
		return rshpath.IsBuiltinRoot(p, d.rootName)
	}
	return !d.native
}

func hostFlags(flags fat.OpenFlags) int {
	osFlags := os.O_RDWR
	if flags&fat.Creat != 0 {
		osFlags |= os.O_CREATE
	}
	if flags&fat.Trunc != 0 {
		osFlags |= os.O_TRUNC
	}
	if flags&fat.Append != 0 {
		osFlags |= os.O_APPEND
	}
	return osFlags
}

// Open implements spec.md §4.3 Open: dispatches to the built-in engine or
// the host, returning a tagged descriptor in the former case and a raw host
// descriptor in the latter.
func (d *Dispatcher) Open(path string, flags fat.OpenFlags, mtime uint32) (int, *rsherr.Error) {
	if d.nativePath(path) {
		components := rshpath.Resolve(d.cwd, stripRoot(path, d.rootName))
		dirent, ref, err := d.engine.Open(components, flags, mtime)
		if err != nil {
			return 0, err
		}

		slot := d.allocSlot()
		offset := int64(0)
		if flags&fat.Append != 0 {
			offset = int64(dirent.Size)
		}
		d.table[slot] = FileTableEntry{
			Used:      true,
			RefCount:  1,
			Offset:    offset,
			Path:      rshpath.Abs(components),
			Dirent:    dirent,
			DirentRef: ref,
		}
		return slot | BuiltinTag, nil
	}

	f, oserr := os.OpenFile(path, hostFlags(flags), 0o644)
	if oserr != nil {
		return 0, rsherr.ErrHostIo.Wrap(oserr)
	}
	fd := int(f.Fd())
	d.hostFiles[fd] = f
	return fd, nil
}

// stripRoot removes a leading "/<rootName>" mount prefix so the remainder
// can be resolved against the built-in CWD like any other path.
func stripRoot(path, rootName string) string {
	if rootName == "" || !strings.HasPrefix(path, "/") {
		return path
	}
	prefix := "/" + rootName
	if path == prefix {
		return "/"
	}
	if strings.HasPrefix(path, prefix+"/") {
		return path[len(prefix):]
	}
	return path
}

func (d *Dispatcher) entry(fd int) (*FileTableEntry, bool) {
	if fd&BuiltinTag == 0 {
		return nil, false
	}
	slot := fd &^ BuiltinTag
	if slot < 0 || slot >= len(d.table) || !d.table[slot].Used {
		return nil, false
	}
	return &d.table[slot], true
}

// Read implements spec.md §4.3 Read.
func (d *Dispatcher) Read(fd int, buf []byte) (int, *rsherr.Error) {
	if e, ok := d.entry(fd); ok {
		n, err := d.engine.ReadAt(e.Dirent, e.Offset, buf)
		e.Offset += int64(n)
		return n, err
	}
	if f, ok := d.hostFiles[fd]; ok {
		n, oserr := f.Read(buf)
		if oserr != nil && n == 0 {
			return 0, nil
		}
		return n, nil
	}
	// Any other integer is a raw host descriptor passed through unchanged
	// (spec.md §3: "All other integers are host descriptors... passed
	// through unchanged") -- typically 0/1/2 or a pipe end inherited from
	// the dispatcher, neither of which this process opened itself.
	n, oserr := unix.Read(fd, buf)
	if oserr != nil {
		return 0, rsherr.ErrHostIo.Wrap(oserr)
	}
	return n, nil
}

// Write implements spec.md §4.3 Write.
func (d *Dispatcher) Write(fd int, data []byte) (int, *rsherr.Error) {
	if e, ok := d.entry(fd); ok {
		n, newDirent, err := d.engine.WriteAt(e.DirentRef, e.Dirent, e.Offset, data)
		e.Dirent = newDirent
		e.Offset += int64(n)
		return n, err
	}
	if f, ok := d.hostFiles[fd]; ok {
		n, oserr := f.Write(data)
		if oserr != nil {
			return n, rsherr.ErrHostIo.Wrap(oserr)
		}
		return n, nil
	}
	n, oserr := unix.Write(fd, data)
	if oserr != nil {
		return n, rsherr.ErrHostIo.Wrap(oserr)
	}
	return n, nil
}

// Close implements spec.md §4.3 Close and the reference-counted duplication
// decision recorded in SPEC_FULL.md's Open Questions: a slot is freed only
// when its reference count drops to zero.
func (d *Dispatcher) Close(fd int) *rsherr.Error {
	if e, ok := d.entry(fd); ok {
		e.RefCount--
		if e.RefCount > 0 {
			return nil
		}
		if err := d.engine.CloseFile(e.Dirent); err != nil {
			return rsherr.ErrHostIo.Wrap(err)
		}
		d.freeSlot(fd &^ BuiltinTag)
		return nil
	}
	if f, ok := d.hostFiles[fd]; ok {
		delete(d.hostFiles, fd)
		if oserr := f.Close(); oserr != nil {
			return rsherr.ErrHostIo.Wrap(oserr)
		}
		return nil
	}
	if oserr := unix.Close(fd); oserr != nil {
		return rsherr.ErrHostIo.Wrap(oserr)
	}
	return nil
}

// Dup implements the reference-count duplication decided for dup2 (§9.c):
// it increments the existing entry's reference count and returns the same
// descriptor value, since both names address one file-table slot.
func (d *Dispatcher) Dup(fd int) (int, *rsherr.Error) {
	if e, ok := d.entry(fd); ok {
		e.RefCount++
		return fd, nil
	}
	if f, ok := d.hostFiles[fd]; ok {
		dup, oserr := dupHostFile(f)
		if oserr != nil {
			return 0, rsherr.ErrHostIo.Wrap(oserr)
		}
		newFd := int(dup.Fd())
		d.hostFiles[newFd] = dup
		return newFd, nil
	}
	newFd, oserr := unix.Dup(fd)
	if oserr != nil {
		return 0, rsherr.ErrHostIo.Wrap(oserr)
	}
	return newFd, nil
}

// Readdir implements spec.md §4.2/§4.3 Readdir over a directory descriptor.
func (d *Dispatcher) Readdir(fd int) ([]DirEntry, *rsherr.Error) {
	e, ok := d.entry(fd)
	if !ok {
		f, hostOk := d.hostFiles[fd]
		if !hostOk {
			return nil, rsherr.ErrBadFd.Err()
		}
		names, oserr := f.Readdirnames(0)
		if oserr != nil {
			return nil, rsherr.ErrHostIo.Wrap(oserr)
		}
		out := make([]DirEntry, len(names))
		for i, n := range names {
			out[i] = DirEntry{Name: n}
		}
		return out, nil
	}

	if e.iter == nil {
		iter, err := d.engine.Readdir(e.Dirent)
		if err != nil {
			return nil, err
		}
		e.iter = iter
	}

	var out []DirEntry
	for {
		dirent, ok, ferr := e.iter.Next()
		if ferr != nil {
			return out, ferr
		}
		if !ok {
			break
		}
		out = append(out, DirEntry{Name: dirent.Name, IsDir: dirent.IsDir()})
	}
	e.iter = nil
	return out, nil
}

// Fstat implements spec.md §4.3 fstat: "fills an OS-compatible stat
// structure from the cached fields in the file-table entry."
func (d *Dispatcher) Fstat(fd int) (Stat, *rsherr.Error) {
	if e, ok := d.entry(fd); ok {
		return Stat{
			Mode:       modeOf(e.Dirent),
			Size:       int64(e.Dirent.Size),
			BlockSize:  int64(d.engine.ClusterSize()),
			BlockCount: (int64(e.Dirent.Size) + int64(d.engine.ClusterSize()) - 1) / int64(d.engine.ClusterSize()),
			ModTime:    time.Unix(int64(e.Dirent.ModTime), 0),
		}, nil
	}
	if f, ok := d.hostFiles[fd]; ok {
		info, oserr := f.Stat()
		if oserr != nil {
			return Stat{}, rsherr.ErrHostIo.Wrap(oserr)
		}
		return Stat{
			Mode:    uint32(info.Mode()),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		}, nil
	}
	var st unix.Stat_t
	if oserr := unix.Fstat(fd, &st); oserr != nil {
		return Stat{}, rsherr.ErrHostIo.Wrap(oserr)
	}
	return Stat{
		Mode:    uint32(st.Mode),
		Size:    st.Size,
		ModTime: time.Unix(st.Mtim.Sec, st.Mtim.Nsec),
	}, nil
}

// Mkdir implements spec.md §4.3 path-based dispatch for mkdir.
func (d *Dispatcher) Mkdir(path string, mtime uint32) *rsherr.Error {
	if d.nativePath(path) {
		components := rshpath.Resolve(d.cwd, stripRoot(path, d.rootName))
		return d.engine.Mkdir(components, mtime)
	}
	if oserr := os.Mkdir(path, 0o755); oserr != nil {
		return rsherr.ErrHostIo.Wrap(oserr)
	}
	return nil
}

// Unlink implements spec.md §4.3 path-based dispatch for unlink.
func (d *Dispatcher) Unlink(path string) *rsherr.Error {
	if d.nativePath(path) {
		components := rshpath.Resolve(d.cwd, stripRoot(path, d.rootName))
		return d.engine.Unlink(components)
	}
	if oserr := os.Remove(path); oserr != nil {
		return rsherr.ErrHostIo.Wrap(oserr)
	}
	return nil
}

// Chdir implements spec.md §4.3 chdir: "open the target, stat it, require
// DIR, then atomically replace the built-in CWD string." It operates on
// the built-in CWD only; host directory changes are out of scope because
// the shell never changes its OS-level working directory (spec.md §5
// "Shared resources": the CWD string is process-local built-in state).
func (d *Dispatcher) Chdir(path string) *rsherr.Error {
	if !d.nativePath(path) {
		return rsherr.ErrNotSup.WithMessage("chdir targets only the built-in namespace")
	}
	components := rshpath.Resolve(d.cwd, stripRoot(path, d.rootName))
	dirent, _, err := d.engine.Resolve(components)
	if err != nil {
		return err
	}
	if !dirent.IsDir() {
		return rsherr.ErrNotDir.Err()
	}
	d.cwd = rshpath.Abs(components)
	return nil
}

// Getcwd implements spec.md §4.3 getcwd: copies the CWD string, trimming a
// trailing slash unless it is the root. rshpath.Abs already produces that
// form.
func (d *Dispatcher) Getcwd() string {
	return d.cwd
}

// CloseAll closes every open built-in and host descriptor, aggregating any
// failures with go-multierror (grounded on the original's rsh_close_fds,
// _examples/original_source/include/rsh.h). Supplements spec.md for
// graceful shutdown.
func (d *Dispatcher) CloseAll() error {
	var result *multierror.Error
	for slot := range d.table {
		if !d.table[slot].Used {
			continue
		}
		fd := slot | BuiltinTag
		if err := d.Close(fd); err != nil {
			result = multierror.Append(result, err)
		}
	}
	for fd := range d.hostFiles {
		if err := d.Close(fd); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
