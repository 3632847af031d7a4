package image

import (
	"encoding/binary"
	"os"

	"github.com/xaionaro-go/bytesextra"
	"golang.org/x/sys/unix"

	"github.com/imnotlistening/rsh/rsherr"
)

// Open implements spec.md §4.1 init_or_open: if path does not exist, create
// a sparse file of exactly size bytes, map it read/write shared, and write
// the boot record; the caller (package fat) is responsible for laying out
// the FAT and root directory on a freshly created image. If path exists,
// the boot record is read back and the image is mapped using the length it
// declares, ignoring the size/clusterSize arguments.
//
// Open returns the live Handle and whether the image was freshly created.
func Open(path string, size, clusterSize uint32, override bool) (*Handle, bool, *rsherr.Error) {
	_, statErr := os.Stat(path)
	if statErr == nil {
		return openExisting(path)
	}
	if !os.IsNotExist(statErr) {
		return nil, false, rsherr.ErrHostIo.Wrap(statErr)
	}
	return createNew(path, size, clusterSize, override)
}

func createNew(path string, size, clusterSize uint32, override bool) (*Handle, bool, *rsherr.Error) {
	if gerr := CheckGeometry(size, clusterSize, override); gerr != nil {
		return nil, false, gerr
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, false, rsherr.ErrHostIo.Wrap(err)
	}

	if err := file.Truncate(int64(size)); err != nil {
		file.Close()
		os.Remove(path)
		return nil, false, rsherr.ErrHostIo.Wrap(err)
	}

	data, err := unix.Mmap(
		int(file.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED,
	)
	if err != nil {
		file.Close()
		os.Remove(path)
		return nil, false, rsherr.ErrHostIo.Wrap(err)
	}

	boot := BootRecord{
		ClusterSize: clusterSize,
		ImageLength: size,
		RootCluster: 1,
		FATStart:    fatStartCluster(size, clusterSize),
	}
	writeBootRecord(data, boot)

	h := &Handle{
		file:   file,
		data:   data,
		Stream: bytesextra.NewReadWriteSeeker(data),
		Boot:   boot,
	}
	return h, true, nil
}

func openExisting(path string) (*Handle, bool, *rsherr.Error) {
	file, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, false, rsherr.ErrHostIo.Wrap(err)
	}

	// The boot record is the first 16 bytes; map just enough to read it,
	// then remap the declared length.
	header, err := unix.Mmap(int(file.Fd()), 0, 16, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		file.Close()
		return nil, false, rsherr.ErrHostIo.Wrap(err)
	}
	boot := readBootRecord(header)
	unix.Munmap(header)

	data, err := unix.Mmap(
		int(file.Fd()), 0, int(boot.ImageLength), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED,
	)
	if err != nil {
		file.Close()
		return nil, false, rsherr.ErrHostIo.Wrap(err)
	}

	h := &Handle{
		file:   file,
		data:   data,
		Stream: bytesextra.NewReadWriteSeeker(data),
		Boot:   boot,
	}
	return h, false, nil
}

// fatStartCluster computes the first cluster reserved for the FAT table:
// N = ceil(total_clusters * 4 / cluster_size) clusters are needed to hold
// one 32-bit slot per cluster, starting immediately after the root
// directory (spec.md §3: "Clusters 2 ... 2+N-1: the FAT itself").
func fatStartCluster(size, clusterSize uint32) uint32 {
	return 2
}

func writeBootRecord(data []byte, boot BootRecord) {
	binary.LittleEndian.PutUint32(data[0:4], boot.ClusterSize)
	binary.LittleEndian.PutUint32(data[4:8], boot.ImageLength)
	binary.LittleEndian.PutUint32(data[8:12], boot.RootCluster)
	binary.LittleEndian.PutUint32(data[12:16], boot.FATStart)
}

func readBootRecord(data []byte) BootRecord {
	return BootRecord{
		ClusterSize: binary.LittleEndian.Uint32(data[0:4]),
		ImageLength: binary.LittleEndian.Uint32(data[4:8]),
		RootCluster: binary.LittleEndian.Uint32(data[8:12]),
		FATStart:    binary.LittleEndian.Uint32(data[12:16]),
	}
}
