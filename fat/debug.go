package fat

import (
	"fmt"

	"github.com/imnotlistening/rsh/rsherr"
)

// FSInfo is the read-only snapshot returned by Describe, backing the
// dfsinfo builtin. Field names follow the original builtin_fatinfo dump
// (_examples/original_source/src/fs_fat16.c): cluster size, image length,
// root/FAT offsets, plus the derived counts it prints under "Internal
// info".
type FSInfo struct {
	ClusterSize     uint32
	ImageLength     uint32
	RootCluster     uint32
	FATStart        uint32
	FATClusterCount uint32
	SlotsPerCluster uint32
	TotalClusters   uint32
}

// Describe reports the engine's layout, mirroring builtin_fatinfo's "FAT16
// Header" / "Internal info" dump.
func (e *Engine) Describe() FSInfo {
	return FSInfo{
		ClusterSize:     e.clusterSize,
		ImageLength:     e.img.Boot.ImageLength,
		RootCluster:     uint32(e.rootCluster),
		FATStart:        e.fatStartCluster,
		FATClusterCount: e.fatClusterCount,
		SlotsPerCluster: e.slotsPerFATCluster,
		TotalClusters:   e.totalClusters,
	}
}

// DumpFAT renders every FAT slot from 0 to totalClusters, one line
// per cluster, grouped by the FAT cluster that holds it -- the Go
// equivalent of _rsh_fat16_display_fat's "FAT Cluster: N" / "  idx: 0xVALUE"
// listing (_examples/original_source/src/fs_fat16.c).
func (e *Engine) DumpFAT() string {
	out := ""
	for idx := uint32(0); idx < e.totalClusters; idx++ {
		if idx%e.slotsPerFATCluster == 0 {
			fatCluster, _ := e.fatSlotLocation(ClusterID(idx))
			out += fmt.Sprintf("FAT Cluster: %d\n", fatCluster)
		}
		out += fmt.Sprintf("  %5d:   0x%04x\n", idx, e.GetFAT(ClusterID(idx)))
	}
	return out
}

// DumpDir renders every occupied slot of dir's chain, the equivalent of
// _rsh_fat16_display_dir's "Entry N / name / index / size / type" listing.
// Unlike Readdir, this walks past cleared slots instead of stopping at them,
// so live entries after a hole left by Unlink still appear; the cleared
// slots themselves are not rendered.
func (e *Engine) DumpDir(dir Dirent) (string, *rsherr.Error) {
	out := ""
	index := 0
	_, _, ferr := e.eachSlotInChain(dir.FirstCluster, func(ref DirentRef) bool {
		d, ok := e.readDirent(ref)
		if !ok {
			return false
		}
		out += fmt.Sprintf("Entry %d\n name  %s\n cluster %d\n size  %d\n type  0x%02x\n",
			index, d.Name, d.FirstCluster, d.Size, d.Type)
		index++
		return false
	})
	return out, ferr
}
