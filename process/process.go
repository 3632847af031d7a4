// Package process implements the job-control execution engine of spec.md
// §4.4: process-group membership, foreground/background transitions,
// terminal ownership handoff, pipe descriptor lifecycle, and reaping.
// Grounded directly on _examples/original_source/include/exec.h
// (struct rsh_process, struct rsh_process_group) and src/exec.c.
package process

import (
	"os/exec"

	"golang.org/x/sys/unix"
)

// PipeLane identifies which of a process's three descriptors is the pipe
// end (spec.md §3 "pipe descriptor pair plus 'which lane' enum").
type PipeLane int

const (
	LaneNone PipeLane = iota
	LaneIn
	LaneOut
	LaneErr
)

// State is the job-control state machine of spec.md §4.4.
type State int

const (
	StateRunningFG State = iota
	StateRunningBG
	StateStoppedFG
	StateStoppedBG
	StateReaped
)

func (s State) String() string {
	switch s {
	case StateRunningFG:
		return "running-fg"
	case StateRunningBG:
		return "running-bg"
	case StateStoppedFG:
		return "stopped-fg"
	case StateStoppedBG:
		return "stopped-bg"
	case StateReaped:
		return "reaped"
	default:
		return "unknown"
	}
}

// Process is one process record (spec.md §3 "Process record").
type Process struct {
	Pid  int
	Pgid int

	Stdin, Stdout, Stderr int

	Background bool
	Running    bool
	Name       string

	Pipe     [2]int
	PipeUsed bool
	PipeLane PipeLane

	SavedTermios *unix.Termios

	Command string
	Argv    []string

	State State

	cmd *exec.Cmd
}

// ExecRequest is the argument bundle to Engine.Exec, mirroring rsh_exec's
// parameter list (command, argv, three descriptors, background flag, pipe
// kind, pipe pair).
type ExecRequest struct {
	Command     string
	Argv        []string
	Stdin       int
	Stdout      int
	Stderr      int
	Background  bool
	PipeLane    PipeLane
	Pipe        [2]int
	Interactive bool
}

// ProcessSnapshot is the read-only view Engine.List returns, backing the
// dproc builtin's CSV dump.
type ProcessSnapshot struct {
	Pid        int    `csv:"pid"`
	Pgid       int    `csv:"pgid"`
	Name       string `csv:"name"`
	Background bool   `csv:"background"`
	State      string `csv:"state"`
}

func truncateName(command string) string {
	const max = 127
	if len(command) > max {
		return command[:max]
	}
	return command
}
