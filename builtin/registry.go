// Package builtin implements the built-in registry of spec.md §4.5/§6: a
// name-to-handler table sharing the VFS/process-engine contracts used by
// spawned children. Mirrors the original's builtins[] table and
// rsh_identify_builtin (_examples/original_source/src/builtin.c) without
// porting its full command surface -- only enough handlers to exercise the
// registry and the VFS/process contracts end to end (spec.md §1 places the
// built-in command implementations themselves out of scope).
package builtin

import (
	"github.com/imnotlistening/rsh/fat"
	"github.com/imnotlistening/rsh/internal/contract"
	"github.com/imnotlistening/rsh/process"
	"github.com/imnotlistening/rsh/vfs"
)

// Context bundles the collaborators a handler needs.
type Context struct {
	VFS    *vfs.Dispatcher
	Procs  *process.Engine
	Engine *fat.Engine
}

// Registry is a name->handler table (spec.md §6: "the built-in registry
// exposes lookup(name) -> handler?").
type Registry struct {
	ctx      Context
	handlers map[string]contract.Handler
}

// New builds a Registry with the standard handler set registered.
func New(ctx Context) *Registry {
	r := &Registry{ctx: ctx, handlers: make(map[string]contract.Handler)}
	r.register("cd", r.cd)
	r.register("pwd", r.pwd)
	r.register("echo", r.echo)
	r.register("cat", r.cat)
	r.register("fg", r.fg)
	r.register("bg", r.bg)
	r.register("dproc", r.dproc)
	r.register("dfsinfo", r.dfsinfo)
	return r
}

func (r *Registry) register(name string, h contract.Handler) {
	r.handlers[name] = h
}

// Lookup implements contract.BuiltinLookup.
func (r *Registry) Lookup(name string) (contract.Handler, bool) {
	h, ok := r.handlers[name]
	return h, ok
}

// CloseExtra closes any of the three descriptors a built-in was handed
// that is greater than 2, per spec.md §4.5: "the handler must close any
// descriptor greater than 2 before returning (guaranteed by a shared close
// helper)."
func CloseExtra(v *vfs.Dispatcher, stdin, stdout, stderr int) {
	for _, fd := range []int{stdin, stdout, stderr} {
		if fd > 2 {
			v.Close(fd)
		}
	}
}
