// Command rsh is the shell entry point described in spec.md §6: parse the
// CLI, mount the built-in filesystem image, wire the VFS/process engine/
// built-in registry/dispatcher chain, source $HOME/.rshrc if present, then
// either run a script non-interactively or drop into an interactive REPL.
package main

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/imnotlistening/rsh/builtin"
	"github.com/imnotlistening/rsh/dispatcher"
	"github.com/imnotlistening/rsh/fat"
	"github.com/imnotlistening/rsh/image"
	"github.com/imnotlistening/rsh/internal/contract"
	"github.com/imnotlistening/rsh/process"
	"github.com/imnotlistening/rsh/rsherr"
	"github.com/imnotlistening/rsh/utilities/compression"
	"github.com/imnotlistening/rsh/vfs"
)

const defaultGeometry = "10485760:8192"

func main() {
	app := &cli.App{
		Name:      "rsh",
		Usage:     "a FAT16-backed unified-namespace shell",
		ArgsUsage: "[SCRIPT [ARG ...]]",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "debug", Aliases: []string{"d"}, Usage: "log each dispatched command"},
			&cli.BoolFlag{Name: "login", Aliases: []string{"l"}, Usage: "accepted; has no effect"},
			&cli.StringFlag{Name: "filesystem", Aliases: []string{"f"}, Value: "rsh.img", Usage: "path to the built-in filesystem image (a .gz suffix is decompressed to a temp file before mounting)"},
			&cli.StringFlag{Name: "geometry", Aliases: []string{"g"}, Value: defaultGeometry, Usage: "SIZE:CLUSTER for a freshly created image"},
			&cli.BoolFlag{Name: "override", Aliases: []string{"o"}, Usage: "allow a geometry outside the default image-size and cluster-size bounds"},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("rsh: %s", err.Error())
	}
}

func run(c *cli.Context) error {
	size, clusterSize, err := parseGeometry(c.String("geometry"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "rsh: %s\n", err)
		os.Exit(1)
	}

	imgPath, rootName, cleanup, err := resolveImagePath(c.String("filesystem"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "rsh: %s\n", err)
		os.Exit(1)
	}
	defer cleanup()

	img, created, ferr := image.Open(imgPath, size, clusterSize, c.Bool("override"))
	if ferr != nil {
		fmt.Fprintf(os.Stderr, "rsh: %s\n", ferr)
		os.Exit(1)
	}
	defer img.Close()

	engine, ferr := fat.New(img, created)
	if ferr != nil {
		fmt.Fprintf(os.Stderr, "rsh: %s\n", ferr)
		os.Exit(1)
	}

	interactive := c.Args().Len() == 0
	v := vfs.New(engine, rootName, false)
	procs := process.NewEngine(0)
	if interactive {
		process.IgnoreJobControlSignals()
	}
	reg := builtin.New(builtin.Context{VFS: v, Procs: procs, Engine: engine})
	disp := dispatcher.New(v, procs, reg, interactive)

	if home := os.Getenv("HOME"); home != "" {
		sourceRC(disp, home+"/.rshrc", c.Bool("debug"))
	}

	if !interactive {
		status := runScript(disp, c.Args().First(), c.Bool("debug"))
		os.Exit(status)
	}

	runInteractive(disp, c.Bool("debug"))
	return nil
}

// parseGeometry splits a "SIZE:CLUSTER" argument per spec.md §6's
// --geometry flag.
func parseGeometry(s string) (uint32, uint32, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("geometry must be SIZE:CLUSTER, got %q", s)
	}
	size, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("bad geometry size: %w", err)
	}
	cluster, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("bad geometry cluster size: %w", err)
	}
	return uint32(size), uint32(cluster), nil
}

// resolveImagePath handles a -f path ending in .gz: it decompresses the
// fixture (utilities/compression.DecompressImage, the RLE8+gzip pipeline
// cmd/unzipimage also drives) into a temp file and returns that path for
// image.Open to mount, so a compressed fixture can be checked in without
// committing the inflated image bytes. rootName is the path with .gz
// stripped, so the built-in-root-prefix classification in package vfs keys
// off the original image name rather than the scratch temp path. For an
// uncompressed path, both returns are just path unchanged and cleanup is a
// no-op.
func resolveImagePath(path string) (imgPath, rootName string, cleanup func(), err error) {
	if !strings.HasSuffix(path, ".gz") {
		return path, path, func() {}, nil
	}

	rootName = strings.TrimSuffix(path, ".gz")

	src, err := os.Open(path)
	if err != nil {
		return "", "", nil, fmt.Errorf("opening compressed image %s: %w", path, err)
	}
	defer src.Close()

	tmp, err := os.CreateTemp("", "rsh-image-*.img")
	if err != nil {
		return "", "", nil, fmt.Errorf("creating scratch image for %s: %w", path, err)
	}
	cleanup = func() { os.Remove(tmp.Name()) }

	if _, err := compression.DecompressImage(src, tmp); err != nil {
		tmp.Close()
		cleanup()
		return "", "", nil, fmt.Errorf("decompressing %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return "", "", nil, fmt.Errorf("flushing decompressed image for %s: %w", path, err)
	}

	return tmp.Name(), rootName, cleanup, nil
}

func sourceRC(disp *dispatcher.Dispatcher, path string, debug bool) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()
	runLines(disp, bufio.NewScanner(f), debug)
}

func runScript(disp *dispatcher.Dispatcher, path string, debug bool) int {
	f, err := os.Open(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rsh: %s: %s\n", path, err)
		return 1
	}
	defer f.Close()
	return runLines(disp, bufio.NewScanner(f), debug)
}

func runInteractive(disp *dispatcher.Dispatcher, debug bool) {
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Fprint(os.Stdout, "rsh$ ")
		if !scanner.Scan() {
			return
		}
		runOne(disp, scanner.Text(), debug)
		// spec.md §4.4: check_processes runs once per prompt cycle so a
		// backgrounded job that's never explicitly fg'd still gets reaped.
		disp.Procs.Reap()
	}
}

func runLines(disp *dispatcher.Dispatcher, scanner *bufio.Scanner, debug bool) int {
	status := 0
	for scanner.Scan() {
		status = runOne(disp, scanner.Text(), debug)
	}
	return status
}

// runOne tokenizes and dispatches a single line, per spec.md §7's
// propagation policy: a syntax or dispatch error prints a diagnostic and
// does not abort the caller's loop. A Corrupt error (rsherr.IsFatal) is the
// exception: it is logged once and the process exits.
func runOne(disp *dispatcher.Dispatcher, line string, debug bool) int {
	if strings.TrimSpace(line) == "" {
		return 0
	}
	if debug {
		fmt.Fprintf(os.Stderr, "[%s] %s\n", time.Now().Format(time.RFC3339), line)
	}
	tokens := contract.Tokenize(line)
	status, err := disp.Run(tokens)
	if err != nil {
		if rsherr.IsFatal(err) {
			log.Fatalf("rsh: %s", err)
		}
		fmt.Fprintf(os.Stderr, "rsh: %s\n", err)
		return 1
	}
	if status < 0 {
		return 0
	}
	return status
}
