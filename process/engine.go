package process

import (
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/imnotlistening/rsh/rsherr"
)

// jobControlSignals is the five signals spec.md §4.4 step 3 resets to
// default before exec, and §5 says the shell itself ignores while
// interactive.
var jobControlSignals = []os.Signal{
	unix.SIGINT, unix.SIGQUIT, unix.SIGTSTP, unix.SIGTTIN, unix.SIGTTOU,
}

const growthIncrement = 8

// Engine is the process-group table of spec.md §3 "Process-group table":
// slot 0 is always the shell itself and is immutable until shutdown; other
// slots hold *Process or nil; the table grows by 8 and never shrinks.
type Engine struct {
	table  []*Process
	termFd int

	shellPid  int
	shellPgid int
}

// NewEngine creates the process-group table with slot 0 describing the
// shell itself, bound to the controlling terminal at termFd (ordinarily 0).
func NewEngine(termFd int) *Engine {
	e := &Engine{
		table:     make([]*Process, growthIncrement),
		termFd:    termFd,
		shellPid:  os.Getpid(),
		shellPgid: unix.Getpgrp(),
	}
	e.table[0] = &Process{
		Pid:     e.shellPid,
		Pgid:    e.shellPgid,
		Name:    "rsh",
		Running: true,
		State:   StateRunningFG,
	}
	return e
}

// IgnoreJobControlSignals installs SIG_IGN for the five job-control
// signals, matching spec.md §5: "The shell itself ignores INT/QUIT/TSTP/
// TTIN/TTOU while interactive."
func IgnoreJobControlSignals() {
	signal.Ignore(jobControlSignals...)
}

func (e *Engine) reserveSlot() int {
	for i := 1; i < len(e.table); i++ {
		if e.table[i] == nil {
			return i
		}
	}
	old := len(e.table)
	e.table = append(e.table, make([]*Process, growthIncrement)...)
	return old
}

// Exec implements spec.md §4.4 rsh_exec: reserve a record, fork+exec via
// os/exec with SysProcAttr{Setpgid: true} for interactive process-group
// creation, wire the three descriptors, and -- for a foreground launch --
// hand over the controlling terminal and block until the child terminates
// or stops.
//
// Go's exec.Cmd gives no hook to run code between fork and exec in the
// child, so the signal-reset step of spec.md §4.4 step 3 is applied around
// the fork instead of inside it: job-control signals are set back to
// default in the parent immediately before Start, then restored to ignored
// immediately after, so the child inherits SIG_DFL the way POSIX carries
// ignored dispositions across exec.
func (e *Engine) Exec(req ExecRequest) (*Process, int, *rsherr.Error) {
	slot := e.reserveSlot()
	proc := &Process{
		Stdin: req.Stdin, Stdout: req.Stdout, Stderr: req.Stderr,
		Background: req.Background,
		Name:       truncateName(req.Command),
		Pipe:       req.Pipe,
		PipeUsed:   req.PipeLane != LaneNone,
		PipeLane:   req.PipeLane,
		Command:    req.Command,
		Argv:       req.Argv,
		Running:    true,
	}

	cmd := exec.Command(req.Command, req.Argv...)
	cmd.Stdin = os.NewFile(uintptr(req.Stdin), "stdin")
	cmd.Stdout = os.NewFile(uintptr(req.Stdout), "stdout")
	cmd.Stderr = os.NewFile(uintptr(req.Stderr), "stderr")
	if req.Interactive {
		cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	}

	if req.Interactive {
		signal.Reset(jobControlSignals...)
	}
	startErr := cmd.Start()
	if req.Interactive {
		IgnoreJobControlSignals()
	}
	if startErr != nil {
		e.table[slot] = nil
		return nil, -1, rsherr.ErrHostIo.Wrap(startErr)
	}

	proc.Pid = cmd.Process.Pid
	proc.Pgid = proc.Pid
	proc.cmd = cmd
	e.table[slot] = proc

	if req.Interactive {
		unix.Setpgid(proc.Pid, proc.Pid)
	}
	closePipeEnd(req)

	if req.Background {
		proc.Background = true
		proc.State = StateRunningBG
		return proc, 0, nil
	}

	return e.waitForeground(proc)
}

// closePipeEnd drops the shell's own copy of whichever pipe end this
// process was just handed, now that Start has duplicated it into the
// child's descriptor table, per spec.md §4.4 step 4. The other end of the
// pipe is left open -- it belongs to the pipeline's next stage, which the
// dispatcher has not launched yet.
func closePipeEnd(req ExecRequest) {
	switch req.PipeLane {
	case LaneOut, LaneErr:
		unix.Close(req.Pipe[1])
	case LaneIn:
		unix.Close(req.Pipe[0])
	}
}

// waitForeground implements spec.md §4.4 step 4's foreground path: hand the
// terminal to the child's group, wait with WUNTRACED, and handle the three
// termination modes.
func (e *Engine) waitForeground(proc *Process) (*Process, int, *rsherr.Error) {
	proc.State = StateRunningFG
	unix.Tcsetpgrp(e.termFd, proc.Pgid)

	var ws unix.WaitStatus
	_, err := unix.Wait4(proc.Pid, &ws, unix.WUNTRACED, nil)
	unix.Tcsetpgrp(e.termFd, e.shellPgid)
	if err != nil {
		return proc, -1, rsherr.ErrHostIo.Wrap(err)
	}

	switch {
	case ws.Exited():
		proc.State = StateReaped
		proc.Running = false
		e.freeSlotFor(proc)
		return proc, ws.ExitStatus(), nil
	case ws.Signaled():
		proc.State = StateReaped
		proc.Running = false
		e.freeSlotFor(proc)
		return proc, 128 + int(ws.Signal()), nil
	case ws.Stopped():
		proc.State = StateStoppedFG
		proc.Running = false
		return proc, -1, nil
	default:
		return proc, -1, nil
	}
}

func (e *Engine) freeSlotFor(proc *Process) {
	for i := 1; i < len(e.table); i++ {
		if e.table[i] == proc {
			e.table[i] = nil
			return
		}
	}
}

// Foreground implements spec.md §4.4 foreground(): the interactive wait
// path, resuming a stopped process with SIGCONT first.
func (e *Engine) Foreground(proc *Process) (int, *rsherr.Error) {
	if proc.State == StateStoppedFG || proc.State == StateStoppedBG {
		unix.Kill(-proc.Pgid, unix.SIGCONT)
	}
	_, status, err := e.waitForeground(proc)
	return status, err
}

// Background implements spec.md §4.4 background(): resumes a stopped
// process with SIGCONT and marks it running in the background, per the
// state-machine table (Stopped-* + bg -> Running-BG).
func (e *Engine) Background(proc *Process) {
	if proc.State == StateStoppedFG || proc.State == StateStoppedBG {
		unix.Kill(-proc.Pgid, unix.SIGCONT)
	}
	proc.Background = true
	proc.Running = true
	proc.State = StateRunningBG
}

// LastStopped returns the last non-running process in the table, mirroring
// the original builtin_fg/builtin_bg scan ("get_next_proc... if (!
// proc->running) fg_proc = proc"), or nil if none is stopped.
func (e *Engine) LastStopped() *Process {
	var last *Process
	for i := 1; i < len(e.table); i++ {
		if p := e.table[i]; p != nil && !p.Running {
			last = p
		}
	}
	return last
}

// List returns a snapshot of every non-shell, non-empty table slot, backing
// the dproc builtin (original builtin_dproc).
func (e *Engine) List() []ProcessSnapshot {
	var out []ProcessSnapshot
	for i := 1; i < len(e.table); i++ {
		p := e.table[i]
		if p == nil {
			continue
		}
		out = append(out, ProcessSnapshot{
			Pid: p.Pid, Pgid: p.Pgid, Name: p.Name,
			Background: p.Background, State: p.State.String(),
		})
	}
	return out
}
