package process

import (
	"github.com/hashicorp/go-multierror"
	"golang.org/x/sys/unix"
)

// Reap implements spec.md §4.4 check_processes: scans the table once per
// interactive prompt cycle, non-blocking-waits every background process,
// reclaiming exited/signaled slots and marking stopped ones as such.
// Multiple children may change state in one pass, so wait failures from
// unrelated slots are aggregated with go-multierror rather than aborting
// the scan early.
func (e *Engine) Reap() error {
	var result *multierror.Error

	for i := 1; i < len(e.table); i++ {
		p := e.table[i]
		if p == nil || !p.Background {
			continue
		}

		var ws unix.WaitStatus
		wpid, err := unix.Wait4(p.Pid, &ws, unix.WNOHANG|unix.WUNTRACED, nil)
		if err != nil {
			if err == unix.ECHILD {
				e.table[i] = nil
				continue
			}
			result = multierror.Append(result, err)
			continue
		}
		if wpid == 0 {
			continue
		}

		switch {
		case ws.Exited() || ws.Signaled():
			p.State = StateReaped
			p.Running = false
			e.table[i] = nil
		case ws.Stopped():
			p.State = StateStoppedBG
			p.Running = false
		}
	}

	return result.ErrorOrNil()
}
