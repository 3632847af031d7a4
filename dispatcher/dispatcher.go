// Package dispatcher implements the command dispatcher of spec.md §4.5:
// walking a preprocessed token sequence, maintaining the pending-command
// state, and flushing it to either the built-in registry or the process
// engine on a terminator token.
package dispatcher

import (
	"fmt"
	"os"

	"github.com/imnotlistening/rsh/fat"
	"github.com/imnotlistening/rsh/internal/contract"
	"github.com/imnotlistening/rsh/process"
	"github.com/imnotlistening/rsh/rsherr"
	"github.com/imnotlistening/rsh/vfs"
)

// pending is the mutable state spec.md §4.5 describes: "current command
// name, argv builder, three descriptors (default 0/1/2), pipe kind
// (NONE/IN/OUT/ERR), and a reusable pipe pair."
type pending struct {
	name     string
	argv     []string
	stdin    int
	stdout   int
	stderr   int
	pipeKind process.PipeLane
	pipe     [2]int
}

func freshPending() pending {
	return pending{stdin: 0, stdout: 1, stderr: 2}
}

// Dispatcher walks a token sequence and drives the VFS and process engine.
type Dispatcher struct {
	VFS         *vfs.Dispatcher
	Procs       *process.Engine
	Builtins    contract.BuiltinLookup
	Interactive bool

	cur pending
}

// New returns a Dispatcher over the given VFS, process engine, and
// built-in registry.
func New(v *vfs.Dispatcher, p *process.Engine, b contract.BuiltinLookup, interactive bool) *Dispatcher {
	return &Dispatcher{VFS: v, Procs: p, Builtins: b, Interactive: interactive, cur: freshPending()}
}

// Run walks tokens per spec.md §4.5's per-token semantics, returning the
// exit status of the last foreground command dispatched (the NULL
// terminator's return value), or -1 if nothing was dispatched.
func (d *Dispatcher) Run(tokens []contract.Token) (int, error) {
	status := -1
	i := 0
	for i < len(tokens) {
		tok := tokens[i]
		switch tok.Kind {
		case contract.Word:
			d.word(tok.Lexeme)
			i++

		case contract.Symdef:
			i++ // symbol-table recording is out of scope (spec.md §1); only
			// consumes an inline/following value per spec.md §4.5.
			if len(tok.Lexeme) > 0 && tok.Lexeme[len(tok.Lexeme)-1] != '=' {
				// inline "name=value" form: nothing further to consume.
				break
			}
			if i < len(tokens) && tokens[i].Kind == contract.Word {
				i++
			}

		case contract.RedirectIn, contract.RedirectOut, contract.RedirectErr,
			contract.AppendOut, contract.AppendErr:
			i++
			if i >= len(tokens) || tokens[i].Kind != contract.Word {
				return status, fmt.Errorf("syntax error: redirection missing target")
			}
			if err := d.redirect(tok.Kind, tokens[i].Lexeme); err != nil {
				return status, err
			}
			i++

		case contract.Pipe, contract.PipeErr:
			if err := d.pipe(tok.Kind); err != nil {
				return status, err
			}
			i++

		case contract.Background:
			if d.cur.pipeKind == process.LaneOut || d.cur.pipeKind == process.LaneErr {
				d.cur.pipeKind = process.LaneIn
			}
			if d.cur.name != "" {
				if _, _, err := d.dispatch(true); err != nil {
					return status, err
				}
			}
			d.cur = freshPending()
			i++

		case contract.Null:
			if d.cur.name != "" {
				s, _, err := d.dispatch(false)
				if err != nil {
					return status, err
				}
				status = s
			}
			d.cur = freshPending()
			i++

		default:
			i++
		}
	}
	return status, nil
}

func (d *Dispatcher) word(lexeme string) {
	if d.cur.name == "" {
		d.cur.name = lexeme
	}
	d.cur.argv = append(d.cur.argv, lexeme)
}

func (d *Dispatcher) redirect(kind contract.TokenKind, target string) error {
	var flags fat.OpenFlags
	switch kind {
	case contract.RedirectIn:
		flags = 0
	case contract.RedirectOut:
		flags = fat.Creat | fat.Trunc
	case contract.AppendOut, contract.AppendErr:
		flags = fat.Creat | fat.Append
	case contract.RedirectErr:
		flags = fat.Creat | fat.Trunc
	}

	fd, err := d.VFS.Open(target, flags, 0)
	if err != nil {
		return fmt.Errorf("%s: %w", target, err)
	}

	switch kind {
	case contract.RedirectIn:
		d.cur.stdin = fd
	case contract.RedirectOut, contract.AppendOut:
		d.cur.stdout = fd
	case contract.RedirectErr, contract.AppendErr:
		d.cur.stderr = fd
	}
	return nil
}

// pipe implements spec.md §4.5 PIPE/PIPE_ERR: allocate an OS pipe, bind the
// current command's stdout (or stderr) to the write end, dispatch it
// backgrounded, then prime the next command's stdin from the read end.
func (d *Dispatcher) pipe(kind contract.TokenKind) error {
	r, w, oserr := os.Pipe()
	if oserr != nil {
		return fmt.Errorf("pipe: %w", oserr)
	}
	pair := [2]int{int(r.Fd()), int(w.Fd())}

	if kind == contract.PipeErr {
		d.cur.stderr = pair[1]
		d.cur.pipeKind = process.LaneErr
	} else {
		d.cur.stdout = pair[1]
		d.cur.pipeKind = process.LaneOut
	}
	d.cur.pipe = pair

	if _, _, err := d.dispatch(true); err != nil {
		return err
	}

	d.cur = freshPending()
	d.cur.stdin = pair[0]
	d.cur.pipeKind = process.LaneIn
	d.cur.pipe = pair
	return nil
}

// dispatch resolves the pending command against the built-in registry
// before handing off to the process engine (spec.md §4.5).
func (d *Dispatcher) dispatch(background bool) (int, *process.Process, error) {
	if handler, ok := d.Builtins.Lookup(d.cur.name); ok {
		status := handler(d.cur.argv, d.cur.stdin, d.cur.stdout, d.cur.stderr)
		return status, nil, nil
	}

	// argv[0] is the command name itself; ExecRequest.Argv carries only the
	// arguments that follow it.
	var args []string
	if len(d.cur.argv) > 1 {
		args = d.cur.argv[1:]
	}
	proc, status, err := d.Procs.Exec(process.ExecRequest{
		Command:     d.cur.name,
		Argv:        args,
		Stdin:       d.cur.stdin,
		Stdout:      d.cur.stdout,
		Stderr:      d.cur.stderr,
		Background:  background,
		PipeLane:    d.cur.pipeKind,
		Pipe:        d.cur.pipe,
		Interactive: d.Interactive,
	})
	if err != nil {
		return status, proc, asError(err)
	}
	return status, proc, nil
}

func asError(err *rsherr.Error) error {
	if err == nil {
		return nil
	}
	return err
}
