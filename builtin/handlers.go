package builtin

import (
	"os"
	"strconv"
	"strings"

	"github.com/gocarina/gocsv"

	"github.com/imnotlistening/rsh/fat"
)

func (r *Registry) writeString(stdout int, s string) {
	data := []byte(s)
	for len(data) > 0 {
		n, err := r.ctx.VFS.Write(stdout, data)
		if err != nil || n == 0 {
			return
		}
		data = data[n:]
	}
}

// cd mirrors the original builtin_cd: one argument changes the built-in
// CWD; zero falls back to $HOME; more is a usage error.
func (r *Registry) cd(argv []string, stdin, stdout, stderr int) int {
	defer CloseExtra(r.ctx.VFS, stdin, stdout, stderr)

	args := argv[1:]
	var target string
	switch len(args) {
	case 0:
		target = os.Getenv("HOME")
	case 1:
		target = args[0]
	default:
		r.writeString(stderr, "cd: invalid usage.\n")
		return 1
	}

	if err := r.ctx.VFS.Chdir(target); err != nil {
		r.writeString(stderr, "cd: "+err.Error()+"\n")
		return 1
	}
	return 0
}

func (r *Registry) pwd(argv []string, stdin, stdout, stderr int) int {
	defer CloseExtra(r.ctx.VFS, stdin, stdout, stderr)
	r.writeString(stdout, r.ctx.VFS.Getcwd()+"\n")
	return 0
}

func (r *Registry) echo(argv []string, stdin, stdout, stderr int) int {
	defer CloseExtra(r.ctx.VFS, stdin, stdout, stderr)
	r.writeString(stdout, strings.Join(argv[1:], " ")+"\n")
	return 0
}

// cat streams stdin to stdout when given no files, otherwise each named
// file in turn, matching the pipeline role "cat" plays in scenario 4.
func (r *Registry) cat(argv []string, stdin, stdout, stderr int) int {
	defer CloseExtra(r.ctx.VFS, stdin, stdout, stderr)

	files := argv[1:]
	if len(files) == 0 {
		r.copyFd(stdin, stdout)
		return 0
	}

	status := 0
	for _, name := range files {
		fd, err := r.ctx.VFS.Open(name, 0, 0)
		if err != nil {
			r.writeString(stderr, "cat: "+name+": "+err.Error()+"\n")
			status = 1
			continue
		}
		r.copyFd(fd, stdout)
		r.ctx.VFS.Close(fd)
	}
	return status
}

func (r *Registry) copyFd(in, out int) {
	buf := make([]byte, 8192)
	for {
		n, err := r.ctx.VFS.Read(in, buf)
		if err != nil || n == 0 {
			return
		}
		r.writeString(out, string(buf[:n]))
	}
}

// fg mirrors builtin_fg: resume the last stopped job in the process table
// (process.Engine.LastStopped) and wait on it in the foreground.
func (r *Registry) fg(argv []string, stdin, stdout, stderr int) int {
	defer CloseExtra(r.ctx.VFS, stdin, stdout, stderr)

	proc := r.ctx.Procs.LastStopped()
	if proc == nil {
		r.writeString(stdout, "No process to foreground.\n")
		return 0
	}
	status, err := r.ctx.Procs.Foreground(proc)
	if err != nil {
		return 1
	}
	return status
}

// bg mirrors builtin_bg.
func (r *Registry) bg(argv []string, stdin, stdout, stderr int) int {
	defer CloseExtra(r.ctx.VFS, stdin, stdout, stderr)

	proc := r.ctx.Procs.LastStopped()
	if proc == nil {
		r.writeString(stdout, "No process to background.\n")
		return 0
	}
	r.ctx.Procs.Background(proc)
	return 0
}

// dproc mirrors builtin_dproc's process-table dump. Passing "-v" serializes
// the table as CSV via gocsv instead of the human-readable listing,
// grounded in the original's debug dump (_examples/original_source/src/builtin.c).
func (r *Registry) dproc(argv []string, stdin, stdout, stderr int) int {
	defer CloseExtra(r.ctx.VFS, stdin, stdout, stderr)

	procs := r.ctx.Procs.List()
	if len(argv) > 1 && argv[1] == "-v" {
		out, err := gocsv.MarshalString(&procs)
		if err != nil {
			r.writeString(stderr, "dproc: "+err.Error()+"\n")
			return 1
		}
		r.writeString(stdout, out)
		return 0
	}

	for _, p := range procs {
		state := "background"
		if !p.Background {
			state = "foreground"
		}
		r.writeString(stdout, "pid "+strconv.Itoa(p.Pid)+" ("+p.State+", "+state+"): "+p.Name+"\n")
	}
	return 0
}

// dfsinfo mirrors builtin_fatinfo's "FAT16 Header" / "Internal info" dump.
func (r *Registry) dfsinfo(argv []string, stdin, stdout, stderr int) int {
	defer CloseExtra(r.ctx.VFS, stdin, stdout, stderr)

	info := r.ctx.Engine.Describe()
	r.writeString(stdout, formatFSInfo(info))
	return 0
}

func formatFSInfo(info fat.FSInfo) string {
	return "FAT16 Header:\n" +
		"  csize:           " + strconv.Itoa(int(info.ClusterSize)) + "\n" +
		"  length:          " + strconv.Itoa(int(info.ImageLength)) + "\n" +
		"  root_offset:     " + strconv.Itoa(int(info.RootCluster)) + "\n" +
		"  fat_offset:      " + strconv.Itoa(int(info.FATStart)) + "\n" +
		"Internal info:\n" +
		"  fat_clusters:    " + strconv.Itoa(int(info.FATClusterCount)) + "\n" +
		"  slots_per_fat:   " + strconv.Itoa(int(info.SlotsPerCluster)) + "\n" +
		"  total_clusters:  " + strconv.Itoa(int(info.TotalClusters)) + "\n"
}
