package vfs

import (
	"os"

	"golang.org/x/sys/unix"
)

// dupHostFile duplicates a host descriptor via dup(2), returning a new
// *os.File wrapping the duplicate so it can be tracked and closed
// independently, matching the reference-count semantics Dup gives built-in
// descriptors.
func dupHostFile(f *os.File) (*os.File, error) {
	newFd, err := unix.Dup(int(f.Fd()))
	if err != nil {
		return nil, err
	}
	return os.NewFile(uintptr(newFd), f.Name()), nil
}
